// Package admin implements the user role editor available to
// administrators.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/stash/internal/logging"
	"github.com/fruitsalade/stash/pkg/models"
)

// ErrUnknownUser is returned for an ID that is not in the loaded list.
var ErrUnknownUser = errors.New("unknown user")

// Backend is the part of the REST client the editor needs.
type Backend interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserRoles(ctx context.Context, userID string, roles []string) (*models.User, error)
}

// Authorizer reports whether the current session may administer users.
// *session.Manager implements it.
type Authorizer interface {
	RequireAdmin() (*models.User, error)
}

// Editor holds the user list and unsaved role edits. Edits stay local
// until Save is called for that user.
type Editor struct {
	backend Backend
	auth    Authorizer
	log     *zap.Logger

	mu     sync.Mutex
	loaded bool
	users  []models.User
	saved  map[string][]string // roles as last seen on the server
}

// New creates an Editor.
func New(backend Backend, auth Authorizer) *Editor {
	return &Editor{
		backend: backend,
		auth:    auth,
		log:     logging.Named("admin"),
		saved:   make(map[string][]string),
	}
}

// Load fetches the user list the first time it is called.
func (e *Editor) Load(ctx context.Context) error {
	e.mu.Lock()
	loaded := e.loaded
	e.mu.Unlock()
	if loaded {
		return nil
	}
	return e.Reload(ctx)
}

// Reload fetches the user list and discards unsaved edits.
func (e *Editor) Reload(ctx context.Context) error {
	if _, err := e.auth.RequireAdmin(); err != nil {
		return err
	}
	users, err := e.backend.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	saved := make(map[string][]string, len(users))
	for i := range users {
		users[i].Roles = normalize(users[i].Roles)
		saved[users[i].ID] = users[i].Roles
	}

	e.mu.Lock()
	e.users = users
	e.saved = saved
	e.loaded = true
	e.mu.Unlock()
	e.log.Debug("users loaded", zap.Int("count", len(users)))
	return nil
}

// Users returns the list including unsaved edits.
func (e *Editor) Users() []models.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.User, len(e.users))
	for i, u := range e.users {
		u.Roles = append([]string(nil), u.Roles...)
		out[i] = u
	}
	return out
}

// SetRoles replaces a user's roles locally.
func (e *Editor) SetRoles(userID string, roles []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.index(userID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	e.users[i].Roles = normalize(roles)
	return nil
}

// Dirty returns the IDs of users with unsaved edits, in list order.
func (e *Editor) Dirty() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, u := range e.users {
		if !equal(u.Roles, e.saved[u.ID]) {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

// Save persists one user's roles. Other users' edits are untouched.
func (e *Editor) Save(ctx context.Context, userID string) error {
	if _, err := e.auth.RequireAdmin(); err != nil {
		return err
	}

	e.mu.Lock()
	i := e.index(userID)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	roles := append([]string(nil), e.users[i].Roles...)
	clean := equal(roles, e.saved[userID])
	e.mu.Unlock()

	if clean {
		return nil
	}

	updated, err := e.backend.UpdateUserRoles(ctx, userID, roles)
	if err != nil {
		return fmt.Errorf("save roles for %s: %w", userID, err)
	}
	if updated != nil && updated.Roles != nil {
		roles = normalize(updated.Roles)
	}

	e.mu.Lock()
	if i := e.index(userID); i >= 0 {
		e.users[i].Roles = roles
	}
	e.saved[userID] = roles
	e.mu.Unlock()

	e.log.Info("roles saved", zap.String("user_id", userID), zap.Strings("roles", roles))
	return nil
}

func (e *Editor) index(userID string) int {
	for i, u := range e.users {
		if u.ID == userID {
			return i
		}
	}
	return -1
}

// normalize trims, drops empty and duplicate roles and sorts the result.
func normalize(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
