// Package models contains the data types shared by the client and its components.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// RoleAdmin grants access to user management.
const RoleAdmin = "admin"

// User is an account as returned by the backend.
type User struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Roles []string `json:"roles,omitempty"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// UnmarshalJSON accepts both "id" and the legacy "_id" key.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var aux struct {
		plain
		LegacyID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = User(aux.plain)
	if u.ID == "" {
		u.ID = aux.LegacyID
	}
	return nil
}

// Session is the authenticated state of the client.
type Session struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the session is past its expiry at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Folder is a node in the user's folder hierarchy. An empty ParentID
// means the folder sits at the root.
type Folder struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ParentID  string `json:"parentId,omitempty"`
	FileCount int    `json:"fileCount"`
}

// UnmarshalJSON accepts both "id" and the legacy "_id" key, and a null parent.
func (f *Folder) UnmarshalJSON(data []byte) error {
	type plain Folder
	var aux struct {
		plain
		LegacyID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*f = Folder(aux.plain)
	if f.ID == "" {
		f.ID = aux.LegacyID
	}
	return nil
}

// FileRecord is the metadata of a stored file.
type FileRecord struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	URL          string    `json:"url,omitempty"`
	FolderID     string    `json:"folderId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsImage reports whether the file has an image/* MIME type.
func (f *FileRecord) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// UnmarshalJSON accepts both "id" and the legacy "_id" key.
func (f *FileRecord) UnmarshalJSON(data []byte) error {
	type plain FileRecord
	var aux struct {
		plain
		LegacyID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*f = FileRecord(aux.plain)
	if f.ID == "" {
		f.ID = aux.LegacyID
	}
	return nil
}

// CacheEntry represents a downloaded file held in the local cache.
type CacheEntry struct {
	FileID     string    `json:"file_id"`
	LocalPath  string    `json:"local_path"`
	Size       int64     `json:"size"`
	LastAccess time.Time `json:"last_access"`
}
