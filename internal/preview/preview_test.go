package preview

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
	"time"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestGenerate_LargeImageIsFitted(t *testing.T) {
	info, err := Generate(bytes.NewReader(encodePNG(t, 800, 200)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if info.Format != "png" || info.Width != 800 || info.Height != 200 {
		t.Errorf("info = %s %dx%d", info.Format, info.Width, info.Height)
	}
	if info.ThumbWidth != ThumbMaxSize || info.ThumbHeight != 100 {
		t.Errorf("thumbnail = %dx%d, want 400x100", info.ThumbWidth, info.ThumbHeight)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(info.Thumbnail))
	if err != nil {
		t.Fatalf("thumbnail is not a JPEG: %v", err)
	}
	if cfg.Width != info.ThumbWidth {
		t.Errorf("encoded width %d != %d", cfg.Width, info.ThumbWidth)
	}
	if info.Exif == nil || info.Exif.Orientation != 1 || info.Exif.Summary() != "" {
		t.Errorf("PNG without EXIF should give an empty summary: %+v", info.Exif)
	}
}

func TestGenerate_SmallImageKeepsSize(t *testing.T) {
	info, err := Generate(bytes.NewReader(encodePNG(t, 40, 30)))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if info.ThumbWidth != 40 || info.ThumbHeight != 30 {
		t.Errorf("thumbnail = %dx%d, want 40x30", info.ThumbWidth, info.ThumbHeight)
	}
}

// 1x1 lossless WebP.
const tinyWebP = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func TestGenerate_WebP(t *testing.T) {
	data, err := base64.StdEncoding.DecodeString(tinyWebP)
	if err != nil {
		t.Fatal(err)
	}
	info, err := Generate(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if info.Format != "webp" || info.Width != 1 || info.Height != 1 {
		t.Errorf("got %s %dx%d, want webp 1x1", info.Format, info.Width, info.Height)
	}
	if len(info.Thumbnail) == 0 {
		t.Error("no thumbnail")
	}
}

func TestGenerate_NotAnImage(t *testing.T) {
	if _, err := Generate(strings.NewReader("plain text")); err == nil {
		t.Error("expected decode error")
	}
}

func TestApplyOrientation(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	tests := []struct {
		orientation int
		w, h        int
	}{
		{1, 4, 2},
		{3, 4, 2},
		{6, 2, 4},
		{8, 2, 4},
	}
	for _, tt := range tests {
		b := applyOrientation(img, tt.orientation).Bounds()
		if b.Dx() != tt.w || b.Dy() != tt.h {
			t.Errorf("orientation %d: %dx%d, want %dx%d", tt.orientation, b.Dx(), b.Dy(), tt.w, tt.h)
		}
	}
}

func TestExifSummary(t *testing.T) {
	taken := time.Date(2024, 5, 1, 14, 3, 0, 0, time.UTC)
	d := &ExifData{
		CameraMake:   "Canon",
		CameraModel:  "EOS R6",
		Aperture:     2.8,
		ShutterSpeed: "1/200",
		ISO:          400,
		DateTaken:    &taken,
	}
	want := "Canon EOS R6, f/2.8, 1/200, ISO 400, 2024-05-01 14:03"
	if got := d.Summary(); got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
	var nilData *ExifData
	if nilData.Summary() != "" {
		t.Error("nil summary should be empty")
	}
}
