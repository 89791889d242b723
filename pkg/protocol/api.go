// Package protocol defines the REST request/response types of the storage backend.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/fruitsalade/stash/pkg/models"
)

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// AuthResponse is returned by POST /auth/login and POST /auth/register.
type AuthResponse struct {
	AccessToken string      `json:"access_token"`
	User        models.User `json:"user"`
}

// ProfileUpdate is the body for PATCH /auth/profile. Empty fields are left unchanged.
type ProfileUpdate struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// IsEmpty reports whether the update carries no field.
func (p ProfileUpdate) IsEmpty() bool {
	return p.Name == "" && p.Email == "" && p.Password == ""
}

// ProfileResponse is returned by PATCH /auth/profile.
type ProfileResponse struct {
	User models.User `json:"user"`
}

// CreateFolderRequest is the body for POST /folders. A nil ParentID
// creates the folder at the root.
type CreateFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parentId"`
}

// RenameFolderRequest is the body for PATCH /folders/{id}.
type RenameFolderRequest struct {
	Name string `json:"name"`
}

// UpdateUserRequest is the body for PATCH /users/{id}.
type UpdateUserRequest struct {
	Roles []string `json:"roles"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Message    Message `json:"message"`
	Error      string  `json:"error,omitempty"`
	StatusCode int     `json:"statusCode,omitempty"`
}

// Message is an error message sent either as a string or as a list of
// validation messages.
type Message string

// UnmarshalJSON joins list messages with "; ".
func (m *Message) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = Message(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*m = Message(strings.Join(list, "; "))
	return nil
}

// Upload form field names for POST /files/upload.
const (
	UploadFileField   = "file"
	UploadFolderField = "folderId"
)
