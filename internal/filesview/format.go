package filesview

import (
	"math"
	"strconv"
	"strings"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count with a binary unit and at most two
// decimals: 0 -> "0 Bytes", 1536 -> "1.5 KB".
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	v := float64(bytes) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}

// TypeLabel returns a short label for a MIME type.
func TypeLabel(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "Image"
	case mimeType == "application/pdf":
		return "PDF"
	case strings.HasPrefix(mimeType, "text/"):
		return "Text"
	default:
		return "File"
	}
}
