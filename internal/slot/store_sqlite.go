package slot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using the slots table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed slot store.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert adds a slot record; a duplicate number wraps ErrSlotTaken.
func (s *SQLiteStore) Insert(ctx context.Context, sl Slot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slots (number, owner_id, created_at) VALUES (?, ?, ?)`,
		sl.Number,
		sl.OwnerID,
		sl.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %d", ErrSlotTaken, sl.Number)
		}
		return fmt.Errorf("inserting slot: %w", err)
	}
	return nil
}

// Get returns the record for a number.
func (s *SQLiteStore) Get(ctx context.Context, number int) (Slot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT number, owner_id, created_at FROM slots WHERE number = ?`, number)
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Slot{}, ErrSlotNotFound
	}
	if err != nil {
		return Slot{}, fmt.Errorf("querying slot: %w", err)
	}
	return sl, nil
}

// Delete removes the record matching both number and owner.
func (s *SQLiteStore) Delete(ctx context.Context, number int, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM slots WHERE number = ? AND owner_id = ?`, number, ownerID)
	if err != nil {
		return false, fmt.Errorf("deleting slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByOwner returns an owner's records in ascending order.
func (s *SQLiteStore) ListByOwner(ctx context.Context, ownerID string) ([]Slot, error) {
	return s.query(ctx,
		`SELECT number, owner_id, created_at FROM slots WHERE owner_id = ? ORDER BY number`, ownerID)
}

// List returns every record in ascending order.
func (s *SQLiteStore) List(ctx context.Context) ([]Slot, error) {
	return s.query(ctx, `SELECT number, owner_id, created_at FROM slots ORDER BY number`)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying slots: %w", err)
	}
	defer rows.Close()

	slots := []Slot{}
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		slots = append(slots, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating slots: %w", err)
	}
	return slots, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (Slot, error) {
	var sl Slot
	var createdAt string
	if err := row.Scan(&sl.Number, &sl.OwnerID, &createdAt); err != nil {
		return Slot{}, err
	}
	sl.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by Insert
	return sl, nil
}

// isUniqueViolation reports a primary key or unique constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SQLiteStore)(nil)
