// Package preview builds the inline view of an image file: its
// dimensions, an EXIF summary and a small JPEG thumbnail.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	ThumbMaxSize = 400
	ThumbQuality = 80
)

// Info describes a previewed image.
type Info struct {
	Format      string
	Width       int
	Height      int
	Exif        *ExifData
	Thumbnail   []byte // JPEG
	ThumbWidth  int
	ThumbHeight int
}

// Generate decodes the image in r and returns its preview. r is read
// twice, once for EXIF and once for pixels.
func Generate(r io.ReadSeeker) (*Info, error) {
	x := ExtractExif(r)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img = applyOrientation(img, x.Orientation)
	bounds := img.Bounds()

	thumb, tw, th, err := thumbnail(img)
	if err != nil {
		return nil, err
	}
	return &Info{
		Format:      format,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Exif:        x,
		Thumbnail:   thumb,
		ThumbWidth:  tw,
		ThumbHeight: th,
	}, nil
}

// thumbnail fits img within ThumbMaxSize x ThumbMaxSize preserving the
// aspect ratio and returns JPEG bytes.
func thumbnail(img image.Image) ([]byte, int, int, error) {
	thumb := imaging.Fit(img, ThumbMaxSize, ThumbMaxSize, imaging.Lanczos)
	b := thumb.Bounds()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: ThumbQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}

// applyOrientation transforms an image according to EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
