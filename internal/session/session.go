// Package session owns the authenticated state of the client: the current
// user, the bearer token, and their persisted copies.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/stash/internal/kvstore"
	"github.com/fruitsalade/stash/internal/logging"
	"github.com/fruitsalade/stash/internal/metrics"
	"github.com/fruitsalade/stash/internal/validate"
	"github.com/fruitsalade/stash/pkg/client"
	"github.com/fruitsalade/stash/pkg/models"
	"github.com/fruitsalade/stash/pkg/protocol"
)

// Persisted keys.
const (
	KeyToken = "auth_token"
	KeyUser  = "user_data"
)

// TTL is the lifetime of a persisted session.
const TTL = 24 * time.Hour

var (
	// ErrNotAuthenticated is returned by RequireAuth without a session.
	ErrNotAuthenticated = errors.New("not logged in")
	// ErrForbidden is returned by RequireAdmin for non-admin sessions.
	ErrForbidden = errors.New("admin role required")
)

// Backend is the part of the REST client the session needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (*protocol.AuthResponse, error)
	Register(ctx context.Context, email, name, password string) (*protocol.AuthResponse, error)
	Profile(ctx context.Context) (*models.User, error)
	UpdateProfile(ctx context.Context, update protocol.ProfileUpdate) (*models.User, error)
	SetAuthToken(token string)
}

// unauthorizedNotifier is implemented by *client.Client.
type unauthorizedNotifier interface {
	OnUnauthorized(fn func())
}

// AuthError is a login, registration or profile failure carrying a
// message fit for the user.
type AuthError struct {
	Op      string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// RegisterForm is the input of Register.
type RegisterForm struct {
	Email           string
	Name            string
	Password        string
	ConfirmPassword string
}

// Manager holds the current session. It is safe for concurrent use.
type Manager struct {
	backend Backend
	store   kvstore.Store
	log     *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	current *models.Session
}

// New creates a Manager. If backend can report 401 replies (as
// *client.Client does), the manager logs out when one arrives.
func New(backend Backend, store kvstore.Store) *Manager {
	m := &Manager{
		backend: backend,
		store:   store,
		log:     logging.Named("session"),
		now:     time.Now,
	}
	if n, ok := backend.(unauthorizedNotifier); ok {
		n.OnUnauthorized(m.HandleUnauthorized)
	}
	return m
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	s := *m.current
	s.User.Roles = append([]string(nil), m.current.User.Roles...)
	return &s
}

// IsAuthenticated reports whether a session is active.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil
}

// User returns the current user, or nil.
func (m *Manager) User() *models.User {
	s := m.Current()
	if s == nil {
		return nil
	}
	return &s.User
}

// IsAdmin reports whether the current user has the admin role.
func (m *Manager) IsAdmin() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current != nil && m.current.User.IsAdmin()
}

// RequireAuth returns the current user or ErrNotAuthenticated.
func (m *Manager) RequireAuth() (*models.User, error) {
	u := m.User()
	if u == nil {
		return nil, ErrNotAuthenticated
	}
	return u, nil
}

// RequireAdmin returns the current user if it has the admin role.
func (m *Manager) RequireAdmin() (*models.User, error) {
	u, err := m.RequireAuth()
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin() {
		return nil, ErrForbidden
	}
	return u, nil
}

// Login authenticates and persists the new session.
func (m *Manager) Login(ctx context.Context, email, password string) (*models.User, error) {
	resp, err := m.backend.Login(ctx, email, password)
	if err != nil {
		metrics.RecordAuthAttempt("login", false)
		m.log.Warn("login failed", zap.String("email", email), zap.Error(err))
		return nil, &AuthError{Op: "login", Message: client.Message(err, "Login failed"), Err: err}
	}
	if err := m.establish(resp); err != nil {
		metrics.RecordAuthAttempt("login", false)
		return nil, &AuthError{Op: "login", Message: "Login failed", Err: err}
	}
	metrics.RecordAuthAttempt("login", true)
	m.log.Info("logged in", zap.String("user_id", resp.User.ID))
	return m.User(), nil
}

// Register validates form, creates the account and persists the new
// session. Validation failures are returned before any request is sent.
func (m *Manager) Register(ctx context.Context, form RegisterForm) (*models.User, error) {
	if err := validate.Registration(form.Email, form.Name, form.Password, form.ConfirmPassword); err != nil {
		return nil, err
	}
	resp, err := m.backend.Register(ctx, form.Email, form.Name, form.Password)
	if err != nil {
		metrics.RecordAuthAttempt("register", false)
		m.log.Warn("registration failed", zap.String("email", form.Email), zap.Error(err))
		return nil, &AuthError{Op: "register", Message: client.Message(err, "Registration failed"), Err: err}
	}
	if err := m.establish(resp); err != nil {
		metrics.RecordAuthAttempt("register", false)
		return nil, &AuthError{Op: "register", Message: "Registration failed", Err: err}
	}
	metrics.RecordAuthAttempt("register", true)
	m.log.Info("registered", zap.String("user_id", resp.User.ID))
	return m.User(), nil
}

// UpdateProfile changes the non-empty fields of update and refreshes the
// cached profile.
func (m *Manager) UpdateProfile(ctx context.Context, update protocol.ProfileUpdate) (*models.User, error) {
	cur := m.Current()
	if cur == nil {
		return nil, ErrNotAuthenticated
	}
	if update.IsEmpty() {
		return &cur.User, nil
	}
	if update.Password != "" {
		if err := validate.Password(update.Password); err != nil {
			return nil, err
		}
	}
	if update.Email != "" {
		if err := validate.Email(update.Email); err != nil {
			return nil, err
		}
	}

	user, err := m.backend.UpdateProfile(ctx, update)
	if err != nil {
		return nil, &AuthError{Op: "update", Message: client.Message(err, "Profile update failed"), Err: err}
	}
	if user.ID == "" {
		user.ID = cur.User.ID
	}
	if user.Roles == nil {
		user.Roles = cur.User.Roles
	}

	data, err := json.Marshal(user)
	if err != nil {
		return nil, &AuthError{Op: "update", Message: "Profile update failed", Err: err}
	}
	if err := m.store.Set(KeyUser, data, m.remaining(cur.ExpiresAt)); err != nil {
		return nil, &AuthError{Op: "update", Message: "Profile update failed", Err: err}
	}

	m.mu.Lock()
	if m.current != nil && m.current.Token == cur.Token {
		m.current.User = *user
	}
	m.mu.Unlock()
	return user, nil
}

// Logout clears the persisted and in-memory session. It never fails;
// storage errors are logged.
func (m *Manager) Logout() {
	if err := m.store.Delete(KeyToken); err != nil {
		m.log.Warn("failed to remove token", zap.Error(err))
	}
	if err := m.store.Delete(KeyUser); err != nil {
		m.log.Warn("failed to remove cached profile", zap.Error(err))
	}
	m.backend.SetAuthToken("")

	m.mu.Lock()
	was := m.current != nil
	m.current = nil
	m.mu.Unlock()

	if was {
		m.log.Info("logged out")
	}
}

// HandleUnauthorized is called when the backend answers 401 to an
// authenticated request.
func (m *Manager) HandleUnauthorized() {
	if !m.IsAuthenticated() {
		return
	}
	m.log.Warn("token rejected by server, logging out")
	metrics.RecordForcedLogout()
	m.Logout()
}

// Restore loads a persisted session. When both the token and the cached
// profile exist the session becomes active from cache and the token is
// then checked against the backend: a rejection logs out, while a
// transport failure keeps the cached session.
func (m *Manager) Restore(ctx context.Context) error {
	token, okToken, err := m.store.Get(KeyToken)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	userData, okUser, err := m.store.Get(KeyUser)
	if err != nil {
		return fmt.Errorf("read cached profile: %w", err)
	}
	if !okToken || !okUser || len(token) == 0 {
		return nil
	}

	var user models.User
	if err := json.Unmarshal(userData, &user); err != nil {
		m.log.Warn("cached profile unreadable, logging out", zap.Error(err))
		m.Logout()
		return nil
	}

	restored := &models.Session{
		User:      user,
		Token:     string(token),
		ExpiresAt: tokenExpiry(string(token), m.now().Add(TTL)),
	}
	if restored.IsExpired(m.now()) {
		m.log.Info("persisted token expired")
		m.Logout()
		return nil
	}

	m.backend.SetAuthToken(string(token))
	m.mu.Lock()
	m.current = restored
	m.mu.Unlock()

	profile, err := m.backend.Profile(ctx)
	if err != nil {
		if !client.IsRejected(err) {
			m.log.Warn("could not verify session, keeping cached profile", zap.Error(err))
			return nil
		}
		m.log.Info("persisted token rejected", zap.Error(err))
		m.Logout()
		return &AuthError{Op: "restore", Message: "Session expired, please log in again", Err: err}
	}

	m.mu.Lock()
	if m.current != nil && m.current.Token == string(token) {
		if profile.ID == "" {
			profile.ID = user.ID
		}
		m.current.User = *profile
	}
	m.mu.Unlock()
	m.log.Debug("session restored", zap.String("user_id", user.ID))
	return nil
}

// establish persists resp and installs it as the current session. Both
// keys are written before memory changes; if the second write fails the
// first is rolled back.
func (m *Manager) establish(resp *protocol.AuthResponse) error {
	if resp.AccessToken == "" {
		return errors.New("server returned no access token")
	}
	now := m.now()
	expiresAt := tokenExpiry(resp.AccessToken, now.Add(TTL))
	ttl := expiresAt.Sub(now)

	data, err := json.Marshal(resp.User)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := m.store.Set(KeyToken, []byte(resp.AccessToken), ttl); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}
	if err := m.store.Set(KeyUser, data, ttl); err != nil {
		if rbErr := m.store.Delete(KeyToken); rbErr != nil {
			m.log.Error("rollback of persisted token failed", zap.Error(rbErr))
		}
		return fmt.Errorf("persist profile: %w", err)
	}

	m.backend.SetAuthToken(resp.AccessToken)
	m.mu.Lock()
	m.current = &models.Session{User: resp.User, Token: resp.AccessToken, ExpiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *Manager) remaining(expiresAt time.Time) time.Duration {
	d := expiresAt.Sub(m.now())
	if d <= 0 || d > TTL {
		return TTL
	}
	return d
}

// tokenExpiry returns the earlier of fallback and the token's exp claim.
// Tokens that are not JWTs keep fallback.
func tokenExpiry(token string, fallback time.Time) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return fallback
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	if exp.Time.Before(fallback) {
		return exp.Time
	}
	return fallback
}
