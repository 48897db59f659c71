package auth

import (
	"context"
	"database/sql"
	"testing"

	"github.com/nerrad567/biolock-core/internal/infrastructure/database"
	"github.com/nerrad567/biolock-core/migrations"
)

// testDB creates an in-memory SQLite database with the full schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

// seedTestUser inserts a user with a throwaway password hash.
func seedTestUser(t *testing.T, repo UserRepository, username string, admin bool) *User {
	t.Helper()

	u := &User{Username: username, PasswordHash: "$argon2id$test", IsAdmin: admin}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("creating test user %s: %v", username, err)
	}
	return u
}
