package pipeline

import (
	"image"
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Fallback region for pages where no QR code is detected. The guide
// template prints the payment code in the bottom-right quadrant, so a
// fixed crop anchored there is still useful to the operator. Values are
// pixels at renderDPI.
const (
	fallbackSide        = 460
	fallbackRightInset  = 70
	fallbackBottomInset = 110
)

type CodeCorners struct {
	TopLeft     image.Point
	TopRight    image.Point
	BottomLeft  image.Point
	BottomRight image.Point
}

// LocateCode scans the bitmap for a QR payment code. Not finding one is a
// normal outcome, never an error: the caller falls back to FallbackRegion.
func LocateCode(img image.Image) (CodeCorners, bool) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return CodeCorners{}, false
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return CodeCorners{}, false
	}

	points := result.GetResultPoints()
	if len(points) == 0 {
		return CodeCorners{}, false
	}

	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, p := range points {
		minX = math.Min(minX, p.GetX())
		minY = math.Min(minY, p.GetY())
		maxX = math.Max(maxX, p.GetX())
		maxY = math.Max(maxY, p.GetY())
	}

	return CodeCorners{
		TopLeft:     image.Pt(int(minX), int(minY)),
		TopRight:    image.Pt(int(maxX), int(minY)),
		BottomLeft:  image.Pt(int(minX), int(maxY)),
		BottomRight: image.Pt(int(maxX), int(maxY)),
	}, true
}

// FallbackRegion is the deterministic bottom-right crop used when no code
// was located, clamped to the page.
func FallbackRegion(bounds image.Rectangle) image.Rectangle {
	x1 := bounds.Max.X - fallbackRightInset
	y1 := bounds.Max.Y - fallbackBottomInset
	region := image.Rect(x1-fallbackSide, y1-fallbackSide, x1, y1)
	region = region.Intersect(bounds)
	if region.Empty() {
		return bounds
	}
	return region
}
