// Package filesview implements the commands available on a listed file:
// delete, download and preview.
package filesview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fruitsalade/stash/internal/cache"
	"github.com/fruitsalade/stash/internal/logging"
	"github.com/fruitsalade/stash/internal/metrics"
	"github.com/fruitsalade/stash/internal/preview"
	"github.com/fruitsalade/stash/pkg/client"
	"github.com/fruitsalade/stash/pkg/models"
)

// ErrFileNotFound is returned for an ID that is not in the collection.
var ErrFileNotFound = errors.New("file not in current listing")

// Backend is the part of the REST client the view needs.
type Backend interface {
	DeleteFile(ctx context.Context, fileID string) error
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
}

// Collection is the rendered file list. *navigator.Navigator implements it.
type Collection interface {
	FindFile(id string) (models.FileRecord, bool)
	RemoveFile(id string) bool
	Refresh(ctx context.Context) error
}

// PreviewResult is returned by Preview. For images Info and ThumbPath are
// set; other files are downloaded and only Downloaded is set.
type PreviewResult struct {
	File       models.FileRecord
	Info       *preview.Info
	ThumbPath  string
	Downloaded string
}

// View runs file commands against the backend and keeps the collection
// in sync.
type View struct {
	backend Backend
	files   Collection
	cache   *cache.Cache
	log     *zap.Logger

	fills singleflight.Group
}

// New creates a View. Downloads are kept in c.
func New(backend Backend, files Collection, c *cache.Cache) *View {
	return &View{
		backend: backend,
		files:   files,
		cache:   c,
		log:     logging.Named("files"),
	}
}

// Delete removes a file on the backend. A file the backend no longer
// knows counts as deleted. The file leaves the collection before the
// listing is refreshed.
func (v *View) Delete(ctx context.Context, fileID string) error {
	if err := v.backend.DeleteFile(ctx, fileID); err != nil && !errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("delete file: %w", err)
	}
	v.files.RemoveFile(fileID)
	v.cache.Evict(fileID)
	v.cache.Evict("thumb_" + fileID + ".jpg")
	v.log.Info("file deleted", zap.String("id", fileID))

	if err := v.files.Refresh(ctx); err != nil {
		v.log.Warn("refresh after delete failed", zap.Error(err))
	}
	return nil
}

// Download saves a file into dir under its original name and returns
// the written path. Content comes from the cache when present.
func (v *View) Download(ctx context.Context, fileID, dir string) (string, error) {
	rec, ok := v.files.FindFile(fileID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	content, err := v.open(ctx, rec)
	if err != nil {
		return "", err
	}
	defer content.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	dst := uniquePath(filepath.Join(dir, SafeName(rec)))
	if err := writeFile(dst, content); err != nil {
		return "", err
	}
	v.log.Info("file downloaded", zap.String("id", rec.ID), zap.String("path", dst))
	return dst, nil
}

// Preview shows images inline and downloads everything else into dir.
func (v *View) Preview(ctx context.Context, fileID, dir string) (*PreviewResult, error) {
	rec, ok := v.files.FindFile(fileID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	if !rec.IsImage() {
		path, err := v.Download(ctx, fileID, dir)
		if err != nil {
			return nil, err
		}
		return &PreviewResult{File: rec, Downloaded: path}, nil
	}

	content, err := v.open(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer content.Close()
	rs, cleanup, err := seekable(content)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	info, err := preview.Generate(rs)
	if err != nil {
		return nil, fmt.Errorf("preview %s: %w", rec.OriginalName, err)
	}
	thumbPath, err := v.cache.Put("thumb_"+rec.ID+".jpg", bytes.NewReader(info.Thumbnail), int64(len(info.Thumbnail)))
	if errors.Is(err, cache.ErrTooLarge) {
		if err = os.MkdirAll(dir, 0755); err == nil {
			ext := filepath.Ext(SafeName(rec))
			thumbPath = uniquePath(filepath.Join(dir, strings.TrimSuffix(SafeName(rec), ext)+".thumb.jpg"))
			err = writeFile(thumbPath, bytes.NewReader(info.Thumbnail))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("store thumbnail: %w", err)
	}
	return &PreviewResult{File: rec, Info: info, ThumbPath: thumbPath}, nil
}

// open returns the content of a file. On a cache miss the file is
// downloaded into the cache; content larger than the cache is streamed
// from the backend instead.
func (v *View) open(ctx context.Context, rec models.FileRecord) (io.ReadCloser, error) {
	if path, ok := v.cache.Get(rec.ID); ok {
		v.log.Debug("cache hit", zap.String("id", rec.ID))
		return os.Open(path)
	}

	if v.cache.Fits(rec.Size) {
		res, err, _ := v.fills.Do(rec.ID, func() (any, error) {
			return v.fill(ctx, rec)
		})
		if err != nil {
			return nil, err
		}
		if path := res.(string); path != "" {
			return os.Open(path)
		}
	}

	v.log.Debug("streaming file larger than cache", zap.String("id", rec.ID), zap.Int64("size", rec.Size))
	body, _, err := v.download(ctx, rec)
	return body, err
}

// fill downloads a file into the cache and returns its path, or "" when
// the content turned out too large to cache.
func (v *View) fill(ctx context.Context, rec models.FileRecord) (string, error) {
	body, size, err := v.download(ctx, rec)
	if err != nil {
		return "", err
	}
	defer body.Close()

	if size < 0 && rec.Size > 0 {
		size = rec.Size
	}
	if !v.cache.Fits(size) {
		return "", nil
	}
	path, err := v.cache.Put(rec.ID, body, size)
	if errors.Is(err, cache.ErrTooLarge) {
		return "", nil
	}
	return path, err
}

func (v *View) download(ctx context.Context, rec models.FileRecord) (io.ReadCloser, int64, error) {
	body, size, err := v.backend.DownloadFile(ctx, rec.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", rec.OriginalName, err)
	}
	return &countingReader{ReadCloser: body}, size, nil
}

// countingReader records the bytes read from a download when closed.
type countingReader struct {
	io.ReadCloser
	n    int64
	once sync.Once
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *countingReader) Close() error {
	r.once.Do(func() { metrics.RecordDownload(r.n) })
	return r.ReadCloser.Close()
}

// seekable returns r as a ReadSeeker, spilling it to a temp file when it
// is not already a file. cleanup removes the temp file.
func seekable(r io.Reader) (io.ReadSeeker, func(), error) {
	if f, ok := r.(*os.File); ok {
		return f, func() {}, nil
	}
	tmp, err := os.CreateTemp("", "stash-preview-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("buffer content: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, err
	}
	return tmp, cleanup, nil
}

// SafeName returns the file's original name reduced to a single path
// element.
func SafeName(rec models.FileRecord) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(rec.OriginalName)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "file-" + cache.Key(rec.ID)
	}
	return name
}

// uniquePath appends " (n)" before the extension until path is unused.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		p := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}

func writeFile(dst string, r io.Reader) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return out.Close()
}
