// Package kvstore provides the small key-value persistence used for the
// client session: string keys, byte values, per-key expiry.
package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Store persists values with an optional time-to-live.
type Store interface {
	// Get returns the value for key. Expired keys are reported as missing.
	Get(key string) ([]byte, bool, error)
	// Set stores value under key. ttl <= 0 means no expiry.
	Set(key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Clear removes every key.
	Clear() error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// entry is the stored form of a value. A nil ExpiresAt never expires.
type entry struct {
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func newEntry(value []byte, ttl time.Duration, now time.Time) entry {
	e := entry{Value: append([]byte(nil), value...)}
	if ttl > 0 {
		at := now.Add(ttl)
		e.ExpiresAt = &at
	}
	return e
}

func (e entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Open opens a store of the given backend. An empty path selects DefaultPath.
func Open(backend, path string) (Store, error) {
	if path == "" && backend != BackendMemory {
		path = DefaultPath(backend)
	}
	switch backend {
	case BackendFile, "":
		return NewFileStore(path)
	case BackendBolt:
		return NewBoltStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// ConfigDir returns the per-user configuration directory for stash.
func ConfigDir() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Stash")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "stash")
}

// DefaultPath returns the default location of a backend's data file.
func DefaultPath(backend string) string {
	if backend == BackendBolt {
		return filepath.Join(ConfigDir(), "session.db")
	}
	return filepath.Join(ConfigDir(), "session.json")
}
