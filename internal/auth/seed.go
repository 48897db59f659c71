package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SeedAdmin makes sure an admin account with the given credentials exists.
//
// Weak passwords are rejected. A non-admin user holding the username is
// never promoted; that case returns ErrAdminNameTaken. An existing admin
// is left untouched. It reports whether an account was created.
func SeedAdmin(ctx context.Context, userRepo UserRepository, username, password string, logger *slog.Logger) (bool, error) {
	if username == "" || password == "" {
		return false, fmt.Errorf("%w: admin username and password must both be set", ErrInvalidCredentials)
	}
	if !IsValidUsername(username) {
		return false, ErrInvalidUsername
	}
	if err := ValidatePassword(password); err != nil {
		return false, fmt.Errorf("admin password: %w", err)
	}

	existing, err := userRepo.GetByUsername(ctx, username)
	switch {
	case err == nil && existing.IsAdmin:
		logger.Info("admin user already exists", "username", username)
		return false, nil
	case err == nil:
		return false, fmt.Errorf("%w: %s", ErrAdminNameTaken, username)
	case !errors.Is(err, ErrUserNotFound):
		return false, fmt.Errorf("looking up admin user: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hashing admin password: %w", err)
	}

	admin := &User{
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      true,
	}
	if err := userRepo.Create(ctx, admin); err != nil {
		return false, fmt.Errorf("creating admin user: %w", err)
	}

	logger.Warn("admin user created", "username", username, "id", admin.ID)
	return true, nil
}
