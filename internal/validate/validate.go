// Package validate contains client-side input checks run before any request is sent.
package validate

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// Error is a client-side validation failure with a user-facing message.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New returns a validation error for field.
func New(field, format string, args ...any) *Error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// As checks if an error is a validation Error and returns it.
func As(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Email checks that s looks like a single address.
func Email(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return New("email", "Email is required")
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return New("email", "Invalid email address")
	}
	return nil
}

// Password checks the minimum password length.
func Password(pw string) error {
	if len(pw) < MinPasswordLength {
		return New("password", "Password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// Registration checks a sign-up form. The confirmation is compared first
// so a mismatch is reported even when the password is also too short.
func Registration(email, name, password, confirm string) error {
	if password != confirm {
		return New("confirmPassword", "Passwords do not match")
	}
	if err := Password(password); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return New("name", "Name is required")
	}
	return Email(email)
}

// FolderName checks a folder name before create or rename.
func FolderName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return New("name", "Folder name is required")
	}
	if strings.ContainsAny(name, "/\\") {
		return New("name", "Folder name cannot contain slashes")
	}
	return nil
}
