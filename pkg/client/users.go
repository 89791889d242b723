package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fruitsalade/stash/pkg/models"
	"github.com/fruitsalade/stash/pkg/protocol"
)

// ListUsers returns every account. Admin only.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.doJSON(ctx, http.MethodGet, "/users", nil, &users, true); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateUserRoles replaces a user's role set. Admin only.
func (c *Client) UpdateUserRoles(ctx context.Context, userID string, roles []string) (*models.User, error) {
	if roles == nil {
		roles = []string{}
	}
	var user models.User
	path := "/users/" + url.PathEscape(userID)
	if err := c.doJSON(ctx, http.MethodPatch, path, protocol.UpdateUserRequest{Roles: roles}, &user, true); err != nil {
		return nil, err
	}
	return &user, nil
}
