package pipeline

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func TestFallbackRegionWithinPage(t *testing.T) {
	bounds := image.Rect(0, 0, 1240, 1754)
	region := FallbackRegion(bounds)

	if region.Empty() {
		t.Fatal("fallback region must not be empty")
	}
	if !region.In(bounds) {
		t.Fatalf("fallback region %v escapes page bounds %v", region, bounds)
	}
	if region.Max.X != bounds.Max.X-fallbackRightInset || region.Max.Y != bounds.Max.Y-fallbackBottomInset {
		t.Fatalf("fallback region not anchored bottom-right: %v", region)
	}
}

func TestFallbackRegionTinyPage(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	if region := FallbackRegion(bounds); region != bounds {
		t.Fatalf("tiny page must fall back to full bounds, got %v", region)
	}
}

func TestCropArtifactFallback(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1240, 1754))

	data := CropArtifact(img, CodeCorners{}, false)
	if len(data) == 0 {
		t.Fatal("fallback crop must yield a non-empty artifact")
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("artifact is not a PNG: %v", err)
	}
	size := decoded.Bounds().Size()
	if size.X != fallbackSide || size.Y != fallbackSide {
		t.Fatalf("fallback crop size: got %v", size)
	}
}

func TestCropArtifactPadding(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 600, 800))
	corners := CodeCorners{
		TopLeft:     image.Pt(100, 100),
		TopRight:    image.Pt(300, 100),
		BottomLeft:  image.Pt(100, 300),
		BottomRight: image.Pt(300, 300),
	}

	data := CropArtifact(img, corners, true)
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("artifact is not a PNG: %v", err)
	}

	size := decoded.Bounds().Size()
	wantW := 200 + 2*cropPadSide
	wantH := 200 + cropPadTop + cropPadSide
	if size.X != wantW || size.Y != wantH {
		t.Fatalf("padded crop size: got %v, want %dx%d", size, wantW, wantH)
	}
}

func TestCropArtifactCornersOutsidePage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 600, 800))
	corners := CodeCorners{
		TopLeft:     image.Pt(900, 900),
		BottomRight: image.Pt(1100, 1100),
	}

	data := CropArtifact(img, corners, true)
	if len(data) == 0 {
		t.Fatal("out-of-page corners must still yield the fallback artifact")
	}
}
