package client

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/fruitsalade/stash/pkg/models"
	"github.com/fruitsalade/stash/pkg/protocol"
	"github.com/fruitsalade/stash/pkg/retry"
)

// UserFiles lists every file owned by the user.
func (c *Client) UserFiles(ctx context.Context, userID string) ([]models.FileRecord, error) {
	var files []models.FileRecord
	if err := c.doJSON(ctx, http.MethodGet, "/files/user/"+url.PathEscape(userID), nil, &files, true); err != nil {
		return nil, err
	}
	return files, nil
}

// FolderFiles lists the files stored directly in a folder.
func (c *Client) FolderFiles(ctx context.Context, folderID string) ([]models.FileRecord, error) {
	var files []models.FileRecord
	if err := c.doJSON(ctx, http.MethodGet, "/files/folder/"+url.PathEscape(folderID), nil, &files, true); err != nil {
		return nil, err
	}
	return files, nil
}

// UploadRequest describes one file to send to POST /files/upload.
type UploadRequest struct {
	Name     string
	MimeType string
	Content  io.Reader
	FolderID string // empty uploads to the root
}

// UploadFile streams a multipart upload. Uploads are never retried.
func (c *Client) UploadFile(ctx context.Context, up UploadRequest) (*models.FileRecord, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, up))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req, true)
	if err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	defer resp.Body.Close()

	var record models.FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &record, nil
}

func writeUploadForm(mw *multipart.Writer, up UploadRequest) error {
	if up.FolderID != "" {
		if err := mw.WriteField(protocol.UploadFolderField, up.FolderID); err != nil {
			return err
		}
	}

	mimeType := up.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		protocol.UploadFileField, escapeQuotes(up.Name)))
	h.Set("Content-Type", mimeType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, up.Content); err != nil {
		return fmt.Errorf("read %s: %w", up.Name, err)
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// DownloadFile fetches a file's content. The caller must close the reader.
// The returned size is -1 when the server does not announce it.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	type download struct {
		body io.ReadCloser
		size int64
	}

	d, err := retry.DoWithResult(ctx, c.retryConfig, func() (download, error) {
		path := "/files/" + url.PathEscape(fileID) + "/download"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return download{}, err
		}
		req.Header.Set("Accept-Encoding", "gzip")

		resp, err := c.send(req, true)
		if err != nil {
			if isTransient(err) {
				return download{}, retry.Retryable(err)
			}
			return download{}, err
		}

		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				resp.Body.Close()
				return download{}, err
			}
			return download{body: &gzipReadCloser{gr: gr, body: resp.Body}, size: -1}, nil
		}
		return download{body: resp.Body, size: resp.ContentLength}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return d.body, d.size, nil
}

type gzipReadCloser struct {
	gr   *gzip.Reader
	body io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.gr.Read(p)
}

func (g *gzipReadCloser) Close() error {
	g.gr.Close()
	return g.body.Close()
}

// DeleteFile deletes a file. A file that is already gone counts as deleted.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/files/"+url.PathEscape(fileID), nil, nil, true)
	if errors.Is(err, ErrNotFound) {
		return nil // Already deleted
	}
	return err
}
