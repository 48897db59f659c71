package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CredentialRepository persists runtime device registrations.
type CredentialRepository interface {
	// Upsert inserts the credential or replaces the digest of an existing
	// device, keeping its original CreatedAt.
	Upsert(ctx context.Context, cred Credential) error

	// List returns every persisted credential.
	List(ctx context.Context) ([]Credential, error)
}

// SQLiteRepository implements CredentialRepository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed credential repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert inserts or rotates a device credential.
func (r *SQLiteRepository) Upsert(ctx context.Context, cred Credential) error {
	query := `
		INSERT INTO device_credentials (device_id, key_digest, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			key_digest = excluded.key_digest,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		cred.DeviceID,
		cred.KeyDigest,
		cred.CreatedAt.UTC().Format(time.RFC3339),
		cred.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting device credential: %w", err)
	}
	return nil
}

// List returns every persisted credential ordered by device ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, key_digest, created_at, updated_at
		FROM device_credentials
		ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("querying device credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		var c Credential
		var createdAt, updatedAt string
		if err := rows.Scan(&c.DeviceID, &c.KeyDigest, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning device credential: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by Upsert
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by Upsert
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device credentials: %w", err)
	}
	return creds, nil
}
