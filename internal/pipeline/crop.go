package pipeline

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
)

// The guide template prints a dashed separator rule above the payment
// code; the top margin is kept larger so the crop boundary lands between
// the two instead of slicing through either.
const (
	cropPadTop  = 28
	cropPadSide = 12
)

// CropArtifact produces the padded PNG crop of the payment code region.
// With no detected corners it crops the fallback region, so the result is
// always a non-empty buffer.
func CropArtifact(img image.Image, corners CodeCorners, found bool) []byte {
	bounds := img.Bounds()

	var box image.Rectangle
	if found {
		box = image.Rect(
			corners.TopLeft.X-cropPadSide,
			corners.TopLeft.Y-cropPadTop,
			corners.BottomRight.X+cropPadSide,
			corners.BottomRight.Y+cropPadSide,
		)
	} else {
		box = FallbackRegion(bounds)
	}

	box = box.Intersect(bounds)
	if box.Empty() {
		box = FallbackRegion(bounds)
	}

	crop := imaging.Crop(img, box)

	var buf bytes.Buffer
	_ = imaging.Encode(&buf, crop, imaging.PNG)
	return buf.Bytes()
}
