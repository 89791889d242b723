package client

import (
	"context"
	"net/http"

	"github.com/fruitsalade/stash/pkg/models"
	"github.com/fruitsalade/stash/pkg/protocol"
)

// Login authenticates with email/password. The returned token is not
// installed on the client; the session layer does that once it has
// persisted it.
func (c *Client) Login(ctx context.Context, email, password string) (*protocol.AuthResponse, error) {
	var result protocol.AuthResponse
	req := protocol.LoginRequest{Email: email, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", req, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// Register creates an account and returns its first token.
func (c *Client) Register(ctx context.Context, email, name, password string) (*protocol.AuthResponse, error) {
	var result protocol.AuthResponse
	req := protocol.RegisterRequest{Email: email, Name: name, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", req, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// Profile returns the user owning the current token.
func (c *Client) Profile(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodGet, "/auth/profile", nil, &user, true); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile changes the non-empty fields of update and returns the updated user.
func (c *Client) UpdateProfile(ctx context.Context, update protocol.ProfileUpdate) (*models.User, error) {
	var result protocol.ProfileResponse
	if err := c.doJSON(ctx, http.MethodPatch, "/auth/profile", update, &result, true); err != nil {
		return nil, err
	}
	return &result.User, nil
}
