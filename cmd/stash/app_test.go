package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fruitsalade/stash/internal/kvstore"
)

// isolate points configuration at a temp dir with a bolt session store
// and returns the store path.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, nil, 0600); err != nil {
		t.Fatal(err)
	}
	storePath := filepath.Join(dir, "session.db")
	t.Setenv("STASH_CONFIG", cfgPath)
	t.Setenv("STASH_SERVER", "http://127.0.0.1:1")
	t.Setenv("STASH_STORE", kvstore.BackendBolt)
	t.Setenv("STASH_STORE_PATH", storePath)
	t.Setenv("STASH_CACHE_DIR", filepath.Join(dir, "cache"))
	t.Setenv("STASH_LOG_FILE", filepath.Join(dir, "stash.log"))
	return storePath
}

// assertStoreReleased fails when the bolt file is still locked by an app
// that was never closed.
func assertStoreReleased(t *testing.T, path string) {
	t.Helper()
	s, err := kvstore.Open(kvstore.BackendBolt, path)
	if err != nil {
		t.Fatalf("session store still held: %v", err)
	}
	s.Close()
}

func TestWithApp_ErrorsCloseStore(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name    string
		opts    appOption
		fn      func(context.Context, *app) error
		wantErr error
		called  bool
	}{
		{"not logged in", needLogin, nil, errNotLoggedIn, false},
		{"command fails", needCache, func(context.Context, *app) error { return errBoom }, errBoom, true},
		{"command succeeds", 0, func(context.Context, *app) error { return nil }, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storePath := isolate(t)

			called := false
			err := withApp(tt.opts, func(ctx context.Context, a *app) error {
				called = true
				if tt.fn == nil {
					return nil
				}
				return tt.fn(ctx, a)
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if called != tt.called {
				t.Errorf("command called = %v, want %v", called, tt.called)
			}
			assertStoreReleased(t, storePath)
		})
	}
}

func TestUsageError(t *testing.T) {
	err := usageError("mkdir")
	if !strings.HasPrefix(err.Error(), "usage: stash mkdir") {
		t.Errorf("unexpected usage message %q", err)
	}
}
