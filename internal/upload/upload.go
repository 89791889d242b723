// Package upload sends batches of local files to the backend one at a
// time and tracks the status of each.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fruitsalade/stash/internal/logging"
	"github.com/fruitsalade/stash/internal/metrics"
	"github.com/fruitsalade/stash/pkg/client"
	"github.com/fruitsalade/stash/pkg/models"
)

// DefaultCloseDelay is how long a fully successful batch stays visible
// before the orchestrator closes.
const DefaultCloseDelay = time.Second

var (
	// ErrNothingToUpload is returned by Upload when every item is done.
	ErrNothingToUpload = errors.New("No files to upload")
	// ErrBusy is returned while another Upload call is running.
	ErrBusy = errors.New("upload already in progress")
)

// Status is the lifecycle state of an item.
type Status int

const (
	StatusPending Status = iota
	StatusUploading
	StatusUploaded
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUploading:
		return "uploading"
	case StatusUploaded:
		return "uploaded"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Item is one file in the batch.
type Item struct {
	LocalID  string
	Name     string
	Size     int64
	MimeType string
	Status   Status
	Error    string
	Remote   *models.FileRecord

	candidate Candidate
}

// Rejection is a candidate refused by the policy.
type Rejection struct {
	Candidate Candidate
	Err       error
}

// Progress is reported after each item finishes.
type Progress struct {
	Completed int
	Total     int
	Item      Item
}

// Percent returns completed/total as a percentage.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return p.Completed * 100 / p.Total
}

// Result summarizes one Upload call.
type Result struct {
	Uploaded []Item
	Failed   []Item
	// Err combines the failures of the batch, nil when all succeeded.
	Err error
}

// Uploader sends one file. *client.Client implements it.
type Uploader interface {
	UploadFile(ctx context.Context, up client.UploadRequest) (*models.FileRecord, error)
}

// FolderSource supplies the destination folder. *navigator.Navigator
// implements it.
type FolderSource interface {
	CurrentFolderID() string
}

// Refresher reloads the listing after uploads land.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Config configures an Orchestrator.
type Config struct {
	Policy     Policy
	CloseDelay time.Duration
	OnProgress func(Progress)
}

// Orchestrator holds a batch of items. It is safe for concurrent use,
// but only one Upload runs at a time.
type Orchestrator struct {
	uploader  Uploader
	folders   FolderSource
	refresher Refresher
	cfg       Config
	log       *zap.Logger

	mu        sync.Mutex
	items     []*Item
	uploading bool
}

// New creates an Orchestrator. A zero Policy selects DefaultPolicy.
func New(uploader Uploader, folders FolderSource, refresher Refresher, cfg Config) *Orchestrator {
	if cfg.Policy.MaxSize == 0 && len(cfg.Policy.AllowedTypes) == 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.CloseDelay < 0 {
		cfg.CloseDelay = 0
	}
	return &Orchestrator{
		uploader:  uploader,
		folders:   folders,
		refresher: refresher,
		cfg:       cfg,
		log:       logging.Named("upload"),
	}
}

// Add queues the accepted candidates as pending items and returns the
// rejected ones with their reasons.
func (o *Orchestrator) Add(candidates ...Candidate) []Rejection {
	var rejected []Rejection
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range candidates {
		if err := o.cfg.Policy.Check(c); err != nil {
			metrics.RecordUploadRejected()
			o.log.Debug("rejected", zap.String("name", c.Name), zap.Error(err))
			rejected = append(rejected, Rejection{Candidate: c, Err: err})
			continue
		}
		o.items = append(o.items, &Item{
			LocalID:   uuid.NewString(),
			Name:      c.Name,
			Size:      c.Size,
			MimeType:  c.MimeType,
			Status:    StatusPending,
			candidate: c,
		})
	}
	return rejected
}

// Remove drops an item that is not being uploaded.
func (o *Orchestrator) Remove(localID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, it := range o.items {
		if it.LocalID == localID && it.Status != StatusUploading {
			o.items = append(o.items[:i:i], o.items[i+1:]...)
			return true
		}
	}
	return false
}

// Items returns a snapshot of the batch.
func (o *Orchestrator) Items() []Item {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Item, len(o.items))
	for i, it := range o.items {
		out[i] = *it
	}
	return out
}

// Close discards every item.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = nil
}

// Upload sends every item that is not yet uploaded, strictly one after
// the other. When the whole batch succeeds the listing is refreshed and,
// after the close delay, the batch is discarded. Failed items keep their
// error; calling Upload again retries them.
func (o *Orchestrator) Upload(ctx context.Context) (*Result, error) {
	o.mu.Lock()
	if o.uploading {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	finished := append([]*Item(nil), o.items...)
	var batch []*Item
	for _, it := range o.items {
		if it.Status != StatusUploaded {
			batch = append(batch, it)
		}
	}
	if len(batch) == 0 {
		o.mu.Unlock()
		return nil, ErrNothingToUpload
	}
	o.uploading = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.uploading = false
		o.mu.Unlock()
	}()

	folderID := o.folders.CurrentFolderID()
	o.log.Info("upload started", zap.Int("files", len(batch)), zap.String("folder_id", folderID))

	result := &Result{}
	for i, it := range batch {
		o.setStatus(it, StatusUploading, "")
		remote, err := o.send(ctx, it, folderID)

		o.mu.Lock()
		if err != nil {
			it.Status = StatusError
			it.Error = client.Message(err, "Upload failed")
			result.Failed = append(result.Failed, *it)
			result.Err = multierr.Append(result.Err, fmt.Errorf("%s: %w", it.Name, err))
		} else {
			it.Status = StatusUploaded
			it.Error = ""
			it.Remote = remote
			result.Uploaded = append(result.Uploaded, *it)
		}
		snapshot := *it
		o.mu.Unlock()

		metrics.RecordUpload(it.Size, err == nil)
		if err != nil {
			o.log.Warn("upload failed", zap.String("name", it.Name), zap.Error(err))
		}
		if o.cfg.OnProgress != nil {
			o.cfg.OnProgress(Progress{Completed: i + 1, Total: len(batch), Item: snapshot})
		}
	}

	o.log.Info("upload finished",
		zap.Int("uploaded", len(result.Uploaded)),
		zap.Int("failed", len(result.Failed)))

	if len(result.Uploaded) > 0 && o.refresher != nil {
		if err := o.refresher.Refresh(ctx); err != nil {
			o.log.Warn("refresh after upload failed", zap.Error(err))
		}
	}
	if result.Err == nil {
		o.closeAfterDelay(ctx, finished)
	}
	return result, nil
}

func (o *Orchestrator) send(ctx context.Context, it *Item, folderID string) (*models.FileRecord, error) {
	if it.candidate.Open == nil {
		return nil, fmt.Errorf("no content for %s", it.Name)
	}
	rc, err := it.candidate.Open()
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer rc.Close()

	return o.uploader.UploadFile(ctx, client.UploadRequest{
		Name:     it.Name,
		MimeType: it.MimeType,
		Content:  rc,
		FolderID: folderID,
	})
}

func (o *Orchestrator) setStatus(it *Item, s Status, msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	it.Status = s
	it.Error = msg
}

// closeAfterDelay waits for the close delay, then drops the items of the
// finished batch. Items added in the meantime stay.
func (o *Orchestrator) closeAfterDelay(ctx context.Context, finished []*Item) {
	if o.cfg.CloseDelay > 0 {
		t := time.NewTimer(o.cfg.CloseDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}

	done := make(map[*Item]bool, len(finished))
	for _, it := range finished {
		done[it] = true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.items[:0:0]
	for _, it := range o.items {
		if !done[it] {
			kept = append(kept, it)
		}
	}
	o.items = kept
}
