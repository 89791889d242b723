package upload

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/fruitsalade/stash/internal/validate"
)

// MaxFileSize is the default per-file upload limit.
const MaxFileSize = 10 << 20

// DefaultAllowedTypes are the MIME types accepted by default. A trailing
// "/*" matches a whole top-level type.
var DefaultAllowedTypes = []string{"image/*", "application/pdf", "text/plain"}

// Policy is the client-side filter applied before anything is sent.
type Policy struct {
	MaxSize      int64
	AllowedTypes []string
}

// DefaultPolicy returns the 10 MB images/PDF/text policy.
func DefaultPolicy() Policy {
	return Policy{MaxSize: MaxFileSize, AllowedTypes: DefaultAllowedTypes}
}

// Check returns a *validate.Error describing why c is not accepted.
func (p Policy) Check(c Candidate) error {
	if p.MaxSize > 0 && c.Size > p.MaxSize {
		return validate.New("file", "%s: file is larger than %s", c.Name, formatLimit(p.MaxSize))
	}
	if !p.allows(c.MimeType) {
		return validate.New("file", "%s: file type %s is not allowed", c.Name, displayType(c.MimeType))
	}
	return nil
}

func (p Policy) allows(mimeType string) bool {
	mt := baseType(mimeType)
	if mt == "" {
		return false
	}
	for _, allowed := range p.AllowedTypes {
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(mt, prefix+"/") {
				return true
			}
			continue
		}
		if mt == allowed {
			return true
		}
	}
	return false
}

// Candidate is a local file offered for upload.
type Candidate struct {
	Name     string
	Size     int64
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// CandidateFromPath stats path and detects its MIME type from the
// extension, falling back to content sniffing.
func CandidateFromPath(path string) (Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, err
	}
	if info.IsDir() {
		return Candidate{}, fmt.Errorf("%s is a directory", path)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType, err = sniff(path)
		if err != nil {
			return Candidate{}, err
		}
	}

	return Candidate{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: baseType(mimeType),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

// baseType strips parameters such as "; charset=utf-8".
func baseType(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt
}

func displayType(mimeType string) string {
	if mimeType == "" {
		return "(unknown)"
	}
	return mimeType
}

func formatLimit(n int64) string {
	if n%(1<<20) == 0 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
