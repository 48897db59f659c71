package auth

import (
	"errors"
	"regexp"
	"slices"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// MinPasswordLength is enforced for every password the service sets.
const MinPasswordLength = 8

// weakPasswords are rejected outright regardless of length.
var weakPasswords = []string{"admin123", "password", "password1", "12345678"}

// ValidatePassword rejects passwords that are too short or well known.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if slices.Contains(weakPasswords, password) {
		return ErrWeakPassword
	}
	return nil
}

// User is a person who can log in and own fingerprint slots.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never serialised
	IsAdmin      bool      `json:"is_admin"`
	Slots        []int     `json:"slots"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrWeakPassword       = errors.New("password too weak")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrAdminNameTaken     = errors.New("a non-admin user holds the admin username")
)
