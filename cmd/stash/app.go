package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/fruitsalade/stash/internal/admin"
	"github.com/fruitsalade/stash/internal/cache"
	"github.com/fruitsalade/stash/internal/config"
	"github.com/fruitsalade/stash/internal/filesview"
	"github.com/fruitsalade/stash/internal/kvstore"
	"github.com/fruitsalade/stash/internal/logging"
	"github.com/fruitsalade/stash/internal/metrics"
	"github.com/fruitsalade/stash/internal/navigator"
	"github.com/fruitsalade/stash/internal/session"
	"github.com/fruitsalade/stash/internal/upload"
	"github.com/fruitsalade/stash/pkg/client"
	"github.com/fruitsalade/stash/pkg/models"
	"github.com/fruitsalade/stash/pkg/retry"
)

var errNotLoggedIn = errors.New("not logged in, run 'stash login' first")

// app wires the components together for one CLI invocation.
type app struct {
	cfg     *config.Config
	client  *client.Client
	store   kvstore.Store
	cache   *cache.Cache
	session *session.Manager
	nav     *navigator.Navigator
	files   *filesview.View
	admin   *admin.Editor
}

type appOption uint8

const (
	needLogin appOption = 1 << iota
	needCache
)

// withApp starts the app, runs fn and always closes the app before
// returning, so error exits still flush logs and close the store.
func withApp(opts appOption, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if opts&needCache != 0 {
		if err := a.openCache(); err != nil {
			return err
		}
	}
	if opts&needLogin != 0 {
		if _, err := a.requireLogin(); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

// newApp loads configuration, sets up logging and restores the saved
// session.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogFile,
	}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	store, err := kvstore.Open(cfg.Store, cfg.StorePath)
	if err != nil {
		logging.Sync()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	c := client.New(client.Config{
		BaseURL:     cfg.Server,
		Timeout:     cfg.Timeout,
		RetryConfig: retry.Attempts(cfg.ReadRetries),
		Transport:   metrics.NewTransport(logging.NewTransport(client.DefaultTransport())),
	})

	a := &app{cfg: cfg, client: c, store: store}
	a.session = session.New(c, store)
	a.nav = navigator.New(c, a.session)
	a.admin = admin.New(c, a.session)

	if err := a.session.Restore(ctx); err != nil {
		var ae *session.AuthError
		if !errors.As(err, &ae) {
			a.close()
			return nil, fmt.Errorf("restore session: %w", err)
		}
		fmt.Fprintln(os.Stderr, ae.Message)
	}
	return a, nil
}

// openCache opens the download cache and the file view on top of it.
func (a *app) openCache() error {
	if a.cache != nil {
		return nil
	}
	c, err := cache.New(a.cfg.CacheDir, a.cfg.MaxCache)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	a.cache = c
	a.files = filesview.New(a.client, a.nav, c)
	return nil
}

func (a *app) uploader(onProgress func(upload.Progress)) *upload.Orchestrator {
	policy := upload.DefaultPolicy()
	policy.MaxSize = a.cfg.UploadMaxSize
	return upload.New(a.client, a.nav, a.nav, upload.Config{
		Policy:     policy,
		CloseDelay: a.cfg.UploadCloseDelay,
		OnProgress: onProgress,
	})
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		logging.L().Warn("close store", zap.Error(err))
	}
	logging.Sync()
}

func (a *app) requireLogin() (*models.User, error) {
	u, err := a.session.RequireAuth()
	if err != nil {
		return nil, errNotLoggedIn
	}
	return u, nil
}

// openFolder positions the navigator on folderID, or the root when empty.
func (a *app) openFolder(ctx context.Context, folderID string) error {
	if folderID == "" {
		return a.nav.BackToRoot(ctx)
	}
	return a.nav.OpenByID(ctx, folderID)
}

// resolveFile finds a file of the current view by ID or original name.
func (a *app) resolveFile(ref string) (models.FileRecord, error) {
	if f, ok := a.nav.FindFile(ref); ok {
		return f, nil
	}
	var match []models.FileRecord
	for _, f := range a.nav.Files() {
		if f.OriginalName == ref {
			match = append(match, f)
		}
	}
	switch len(match) {
	case 0:
		return models.FileRecord{}, fmt.Errorf("no file %q here", ref)
	case 1:
		return match[0], nil
	default:
		return models.FileRecord{}, fmt.Errorf("%d files are named %q, use the file ID", len(match), ref)
	}
}

// cached reports whether a file is in the download cache; nil when the
// cache is not open.
func (a *app) cached() func(id string) bool {
	if a.cache == nil {
		return nil
	}
	return a.cache.IsCached
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// describe turns an error into a message for the terminal.
func describe(err error) string {
	var ae *session.AuthError
	if errors.As(err, &ae) {
		return ae.Message
	}
	switch {
	case errors.Is(err, client.ErrUnauthorized):
		return "session expired, please log in again"
	case errors.Is(err, client.ErrForbidden), errors.Is(err, session.ErrForbidden):
		return "permission denied"
	case client.IsNetwork(err):
		return "cannot reach server: " + err.Error()
	}
	if se, ok := client.AsStatus(err); ok && se.Message != "" {
		return strings.TrimSpace(se.Message)
	}
	return err.Error()
}
