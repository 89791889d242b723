package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fruitsalade/stash/internal/kvstore"
	"github.com/fruitsalade/stash/internal/validate"
	"github.com/fruitsalade/stash/pkg/client"
	"github.com/fruitsalade/stash/pkg/models"
	"github.com/fruitsalade/stash/pkg/protocol"
)

// fakeBackend records calls and returns canned results.
type fakeBackend struct {
	loginResp  *protocol.AuthResponse
	loginErr   error
	profile    *models.User
	profileErr error
	updated    *models.User

	calls int
	token string
}

func (f *fakeBackend) Login(ctx context.Context, email, password string) (*protocol.AuthResponse, error) {
	f.calls++
	return f.loginResp, f.loginErr
}

func (f *fakeBackend) Register(ctx context.Context, email, name, password string) (*protocol.AuthResponse, error) {
	f.calls++
	return f.loginResp, f.loginErr
}

func (f *fakeBackend) Profile(ctx context.Context) (*models.User, error) {
	f.calls++
	return f.profile, f.profileErr
}

func (f *fakeBackend) UpdateProfile(ctx context.Context, update protocol.ProfileUpdate) (*models.User, error) {
	f.calls++
	return f.updated, nil
}

func (f *fakeBackend) SetAuthToken(token string) {
	f.token = token
}

// failingStore fails every Set of one key.
type failingStore struct {
	kvstore.Store
	failKey string
}

func (s *failingStore) Set(key string, value []byte, ttl time.Duration) error {
	if key == s.failKey {
		return errors.New("disk full")
	}
	return s.Store.Set(key, value, ttl)
}

func persist(t *testing.T, store kvstore.Store, token string, user models.User) {
	t.Helper()
	data, _ := json.Marshal(user)
	if err := store.Set(KeyToken, []byte(token), TTL); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(KeyUser, data, TTL); err != nil {
		t.Fatal(err)
	}
}

func TestLogin_PersistsToken(t *testing.T) {
	backend := &fakeBackend{loginResp: &protocol.AuthResponse{
		AccessToken: "t1",
		User:        models.User{ID: "u1", Email: "a@b.com"},
	}}
	store := kvstore.NewMemoryStore()
	m := New(backend, store)

	user, err := m.Login(context.Background(), "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("expected u1, got %s", user.ID)
	}
	if !m.IsAuthenticated() {
		t.Error("expected authenticated session")
	}
	if tok, ok, _ := store.Get(KeyToken); !ok || string(tok) != "t1" {
		t.Errorf("persisted token = %q, %v", tok, ok)
	}
	if _, ok, _ := store.Get(KeyUser); !ok {
		t.Error("profile not persisted")
	}
	if backend.token != "t1" {
		t.Errorf("client token = %q", backend.token)
	}
}

func TestLogin_FailureMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"server message", &client.StatusError{Code: 401, Message: "Invalid credentials"}, "Invalid credentials"},
		{"no message", &client.NetworkError{Op: "POST /auth/login", Err: errors.New("refused")}, "Login failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(&fakeBackend{loginErr: tt.err}, kvstore.NewMemoryStore())
			_, err := m.Login(context.Background(), "a@b.com", "bad")
			var ae *AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("expected *AuthError, got %T", err)
			}
			if ae.Message != tt.want {
				t.Errorf("message = %q, want %q", ae.Message, tt.want)
			}
			if m.IsAuthenticated() {
				t.Error("session should stay unauthenticated")
			}
		})
	}
}

func TestLogin_RollsBackOnPartialPersist(t *testing.T) {
	backend := &fakeBackend{loginResp: &protocol.AuthResponse{AccessToken: "t1", User: models.User{ID: "u1"}}}
	mem := kvstore.NewMemoryStore()
	m := New(backend, &failingStore{Store: mem, failKey: KeyUser})

	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok, _ := mem.Get(KeyToken); ok {
		t.Error("token should have been rolled back")
	}
	if m.IsAuthenticated() {
		t.Error("memory state must not change on failed persist")
	}
	if backend.token != "" {
		t.Error("client token must not be installed")
	}
}

func TestRegister_PasswordMismatch(t *testing.T) {
	backend := &fakeBackend{}
	m := New(backend, kvstore.NewMemoryStore())

	_, err := m.Register(context.Background(), RegisterForm{
		Email:           "a@b.com",
		Name:            "A",
		Password:        "secret1",
		ConfirmPassword: "secret2",
	})
	ve, ok := validate.As(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Message != "Passwords do not match" {
		t.Errorf("message = %q", ve.Message)
	}
	if backend.calls != 0 {
		t.Errorf("expected no request, got %d", backend.calls)
	}
}

func TestRegister_DefaultMessage(t *testing.T) {
	m := New(&fakeBackend{loginErr: &client.StatusError{Code: 500}}, kvstore.NewMemoryStore())
	_, err := m.Register(context.Background(), RegisterForm{
		Email: "a@b.com", Name: "A", Password: "secret1", ConfirmPassword: "secret1",
	})
	if err == nil || err.Error() != "Registration failed" {
		t.Errorf("expected \"Registration failed\", got %v", err)
	}
}

func TestLogout_ClearsEverything(t *testing.T) {
	backend := &fakeBackend{loginResp: &protocol.AuthResponse{AccessToken: "t1", User: models.User{ID: "u1"}}}
	store := kvstore.NewMemoryStore()
	m := New(backend, store)
	m.Login(context.Background(), "a@b.com", "secret1")

	m.Logout()

	if m.IsAuthenticated() || m.User() != nil {
		t.Error("session still active")
	}
	for _, k := range []string{KeyToken, KeyUser} {
		if _, ok, _ := store.Get(k); ok {
			t.Errorf("%s still persisted", k)
		}
	}
	if backend.token != "" {
		t.Error("client token not cleared")
	}
	m.Logout()
}

func TestRestore(t *testing.T) {
	user := models.User{ID: "u1", Name: "A", Roles: []string{"admin"}}

	t.Run("valid token", func(t *testing.T) {
		store := kvstore.NewMemoryStore()
		persist(t, store, "t1", user)
		backend := &fakeBackend{profile: &models.User{ID: "u1", Name: "A2", Roles: []string{"admin"}}}
		m := New(backend, store)

		if err := m.Restore(context.Background()); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if !m.IsAdmin() {
			t.Error("expected admin session")
		}
		if m.User().Name != "A2" {
			t.Errorf("profile not refreshed: %q", m.User().Name)
		}
		if backend.token != "t1" {
			t.Errorf("client token = %q", backend.token)
		}
	})

	t.Run("rejected token", func(t *testing.T) {
		store := kvstore.NewMemoryStore()
		persist(t, store, "stale", user)
		m := New(&fakeBackend{profileErr: &client.StatusError{Code: 401}}, store)

		err := m.Restore(context.Background())
		var ae *AuthError
		if !errors.As(err, &ae) {
			t.Fatalf("expected *AuthError, got %v", err)
		}
		if m.IsAuthenticated() {
			t.Error("expected logout")
		}
		if _, ok, _ := store.Get(KeyToken); ok {
			t.Error("token still persisted")
		}
	})

	t.Run("network failure keeps cache", func(t *testing.T) {
		store := kvstore.NewMemoryStore()
		persist(t, store, "t1", user)
		m := New(&fakeBackend{profileErr: &client.NetworkError{Op: "GET /auth/profile", Err: errors.New("refused")}}, store)

		if err := m.Restore(context.Background()); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if !m.IsAuthenticated() {
			t.Error("cached session should survive a network failure")
		}
	})

	t.Run("nothing persisted", func(t *testing.T) {
		backend := &fakeBackend{}
		m := New(backend, kvstore.NewMemoryStore())
		if err := m.Restore(context.Background()); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if m.IsAuthenticated() || backend.calls != 0 {
			t.Error("expected no session and no request")
		}
	})

	t.Run("expired jwt", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(-time.Minute).Unix(),
		})
		signed, err := tok.SignedString([]byte("k"))
		if err != nil {
			t.Fatal(err)
		}
		store := kvstore.NewMemoryStore()
		persist(t, store, signed, user)
		backend := &fakeBackend{}
		m := New(backend, store)

		m.Restore(context.Background())
		if m.IsAuthenticated() || backend.calls != 0 {
			t.Error("expired token should log out without a request")
		}
	})
}

func TestTokenExpiry(t *testing.T) {
	fallback := time.Now().Add(TTL)
	soon := time.Now().Add(time.Hour).Truncate(time.Second)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": soon.Unix()})
	signed, _ := tok.SignedString([]byte("k"))

	if got := tokenExpiry(signed, fallback); !got.Equal(soon) {
		t.Errorf("expected exp claim %v, got %v", soon, got)
	}
	if got := tokenExpiry("t1", fallback); !got.Equal(fallback) {
		t.Errorf("opaque token should keep fallback, got %v", got)
	}
}

func TestUpdateProfile(t *testing.T) {
	backend := &fakeBackend{
		loginResp: &protocol.AuthResponse{AccessToken: "t1", User: models.User{ID: "u1", Name: "A", Roles: []string{"user"}}},
		updated:   &models.User{ID: "u1", Name: "B"},
	}
	store := kvstore.NewMemoryStore()
	m := New(backend, store)
	m.Login(context.Background(), "a@b.com", "secret1")

	if _, err := m.UpdateProfile(context.Background(), protocol.ProfileUpdate{Password: "123"}); err == nil {
		t.Error("short password should be rejected")
	}

	user, err := m.UpdateProfile(context.Background(), protocol.ProfileUpdate{Name: "B"})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Name != "B" || m.User().Name != "B" {
		t.Errorf("name not updated: %+v", m.User())
	}
	if len(m.User().Roles) != 1 {
		t.Error("roles should be kept when the reply omits them")
	}
	data, _, _ := store.Get(KeyUser)
	var cached models.User
	json.Unmarshal(data, &cached)
	if cached.Name != "B" {
		t.Errorf("cached profile not updated: %+v", cached)
	}
}

func TestRequireAdmin(t *testing.T) {
	m := New(&fakeBackend{loginResp: &protocol.AuthResponse{AccessToken: "t1", User: models.User{ID: "u1"}}}, kvstore.NewMemoryStore())
	if _, err := m.RequireAuth(); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
	m.Login(context.Background(), "a@b.com", "secret1")
	if _, err := m.RequireAdmin(); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestForcedLogoutOn401(t *testing.T) {
	var profileCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(protocol.AuthResponse{AccessToken: "t1", User: models.User{ID: "u1"}})
	})
	mux.HandleFunc("/auth/profile", func(w http.ResponseWriter, r *http.Request) {
		profileCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"message": "Unauthorized", "statusCode": 401})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := client.New(client.Config{BaseURL: server.URL})
	store := kvstore.NewMemoryStore()
	m := New(c, store)

	if _, err := m.Login(context.Background(), "a@b.com", "secret1"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := c.Profile(context.Background()); !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if m.IsAuthenticated() {
		t.Error("401 should force a logout")
	}
	if c.AuthToken() != "" {
		t.Error("client token should be cleared")
	}
	if _, ok, _ := store.Get(KeyToken); ok {
		t.Error("persisted token should be removed")
	}
}
