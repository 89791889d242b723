package preview

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// ExifData holds the EXIF fields shown in a preview.
type ExifData struct {
	CameraMake   string
	CameraModel  string
	LensModel    string
	FocalLength  float32
	Aperture     float32
	ShutterSpeed string
	ISO          int
	DateTaken    *time.Time
	Latitude     *float64
	Longitude    *float64
	Orientation  int
}

// ExtractExif reads EXIF data from an image reader.
// Images without EXIF yield an empty ExifData with orientation 1.
func ExtractExif(r io.Reader) *ExifData {
	d := &ExifData{Orientation: 1}
	x, err := exif.Decode(r)
	if err != nil {
		return d
	}

	d.CameraMake = getTagString(x, exif.Make)
	d.CameraModel = getTagString(x, exif.Model)
	d.LensModel = getTagString(x, exif.LensModel)

	if fl, err := x.Get(exif.FocalLength); err == nil {
		if nums, denom, err := fl.Rat2(0); err == nil && denom != 0 {
			d.FocalLength = float32(nums) / float32(denom)
		}
	}
	if ap, err := x.Get(exif.FNumber); err == nil {
		if nums, denom, err := ap.Rat2(0); err == nil && denom != 0 {
			d.Aperture = float32(nums) / float32(denom)
		}
	}
	if ss, err := x.Get(exif.ExposureTime); err == nil {
		if nums, denom, err := ss.Rat2(0); err == nil {
			if denom == 1 {
				d.ShutterSpeed = fmt.Sprintf("%ds", nums)
			} else {
				d.ShutterSpeed = fmt.Sprintf("%d/%d", nums, denom)
			}
		}
	}
	if iso, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if v, err := iso.Int(0); err == nil {
			d.ISO = v
		}
	}
	if dt, err := x.DateTime(); err == nil {
		d.DateTaken = &dt
	}
	if lat, lon, err := x.LatLong(); err == nil && !math.IsNaN(lat) && !math.IsNaN(lon) {
		d.Latitude = &lat
		d.Longitude = &lon
	}
	if orient, err := x.Get(exif.Orientation); err == nil {
		if v, err := orient.Int(0); err == nil && v >= 1 && v <= 8 {
			d.Orientation = v
		}
	}
	return d
}

// Summary renders the non-empty fields on one line, e.g.
// "Canon EOS R6, f/2.8, 1/200, ISO 400, 2024-05-01 14:03".
func (d *ExifData) Summary() string {
	if d == nil {
		return ""
	}
	var parts []string
	camera := strings.TrimSpace(d.CameraMake + " " + d.CameraModel)
	if camera != "" {
		parts = append(parts, camera)
	}
	if d.LensModel != "" {
		parts = append(parts, d.LensModel)
	}
	if d.FocalLength > 0 {
		parts = append(parts, fmt.Sprintf("%.0fmm", d.FocalLength))
	}
	if d.Aperture > 0 {
		parts = append(parts, fmt.Sprintf("f/%.1f", d.Aperture))
	}
	if d.ShutterSpeed != "" {
		parts = append(parts, d.ShutterSpeed)
	}
	if d.ISO > 0 {
		parts = append(parts, fmt.Sprintf("ISO %d", d.ISO))
	}
	if d.DateTaken != nil {
		parts = append(parts, d.DateTaken.Format("2006-01-02 15:04"))
	}
	if d.Latitude != nil && d.Longitude != nil {
		parts = append(parts, fmt.Sprintf("%.5f,%.5f", *d.Latitude, *d.Longitude))
	}
	return strings.Join(parts, ", ")
}

func getTagString(x *exif.Exif, f exif.FieldName) string {
	tag, err := x.Get(f)
	if err != nil {
		return ""
	}
	if tag.Format() == tiff.StringVal {
		s, _ := tag.StringVal()
		return strings.TrimRight(s, "\x00 ")
	}
	return tag.String()
}
