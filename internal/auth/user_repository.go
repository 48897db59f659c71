package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/biolock-core/internal/slot"
)

// UserRepository defines user persistence. It is also the owner directory
// the slot allocator writes through: every user carries the set of slot
// numbers it owns.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetBySlot(ctx context.Context, number int) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)

	slot.Owners
}

const userColumns = "id, username, password_hash, is_admin, slots, created_at, updated_at"

// SQLiteUserRepository implements UserRepository using SQLite. Owner sets
// are a JSON array column edited in place, so every set operation is a
// single statement.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new SQLite-backed user repository.
func NewUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts a new user. The ID is generated if empty; Slots starts empty.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	user.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	user.UpdatedAt = user.CreatedAt
	user.Slots = []int{}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, is_admin, slots, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '[]', ?, ?)`,
		user.ID, user.Username, user.PasswordHash, boolToInt(user.IsAdmin), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// GetByUsername retrieves a user by username.
func (r *SQLiteUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

// GetBySlot returns the user whose set contains number.
func (r *SQLiteUserRepository) GetBySlot(ctx context.Context, number int) (*User, error) {
	return r.getUser(ctx,
		"SELECT "+userColumns+` FROM users
		 WHERE EXISTS (SELECT 1 FROM json_each(users.slots) WHERE value = ?)
		 ORDER BY created_at, id LIMIT 1`, number)
}

// List returns all users ordered by creation date.
func (r *SQLiteUserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, username")
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}
	return users, nil
}

// Update changes the username and admin flag. The slot set is owned by
// the allocator and never written here.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *User) error {
	now := time.Now().UTC().Format(time.RFC3339)
	user.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = ?, is_admin = ?, updated_at = ? WHERE id = ?`,
		user.Username, boolToInt(user.IsAdmin), now, user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("updating user: %w", err)
	}
	return expectRow(result)
}

// UpdatePassword changes a user's password hash.
func (r *SQLiteUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return expectRow(result)
}

// Delete removes a user. Slot records are released separately.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return expectRow(result)
}

// Count returns the total number of users.
func (r *SQLiteUserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// OwnerExists reports whether a user with the ID exists.
func (r *SQLiteUserRepository) OwnerExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking user: %w", err)
	}
	return true, nil
}

// AddSlotToOwner adds number to the user's set if it is not already there.
func (r *SQLiteUserRepository) AddSlotToOwner(ctx context.Context, id string, number int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
		   slots = CASE
		     WHEN EXISTS (SELECT 1 FROM json_each(users.slots) WHERE value = ?) THEN slots
		     ELSE json_insert(slots, '$[#]', ?)
		   END,
		   updated_at = ?
		 WHERE id = ?`,
		number, number, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("adding slot to user: %w", err)
	}
	return ownerRow(result)
}

// RemoveSlotFromOwner drops number from the user's set.
func (r *SQLiteUserRepository) RemoveSlotFromOwner(ctx context.Context, id string, number int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET
		   slots = (SELECT json_group_array(value) FROM json_each(users.slots) WHERE value != ?),
		   updated_at = ?
		 WHERE id = ?`,
		number, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("removing slot from user: %w", err)
	}
	return ownerRow(result)
}

// ClearOwnerSlots empties the user's set.
func (r *SQLiteUserRepository) ClearOwnerSlots(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET slots = '[]', updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("clearing user slots: %w", err)
	}
	return ownerRow(result)
}

// ListOwnersOfSlot returns the IDs of users whose set contains number.
func (r *SQLiteUserRepository) ListOwnersOfSlot(ctx context.Context, number int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM users
		 WHERE EXISTS (SELECT 1 FROM json_each(users.slots) WHERE value = ?)
		 ORDER BY id`, number)
	if err != nil {
		return nil, fmt.Errorf("listing slot owners: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning slot owner: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating slot owners: %w", err)
	}
	return ids, nil
}

// OwnerSlots returns every user's set, including empty ones.
func (r *SQLiteUserRepository) OwnerSlots(ctx context.Context) (map[string][]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, slots FROM users")
	if err != nil {
		return nil, fmt.Errorf("listing user slots: %w", err)
	}
	defer rows.Close()

	sets := make(map[string][]int)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning user slots: %w", err)
		}
		nums, err := decodeSlots(raw)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", id, err)
		}
		sets[id] = nums
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user slots: %w", err)
	}
	return sets, nil
}

func (r *SQLiteUserRepository) getUser(ctx context.Context, query string, args ...any) (*User, error) {
	return scanUser(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var u User
	var isAdmin int
	var slots, createdAt, updatedAt string

	err := s.Scan(&u.ID, &u.Username, &u.PasswordHash, &isAdmin, &slots, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.IsAdmin = isAdmin != 0
	if u.Slots, err = decodeSlots(slots); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &u, nil
}

func decodeSlots(raw string) ([]int, error) {
	nums := []int{}
	if raw == "" {
		return nums, nil
	}
	if err := json.Unmarshal([]byte(raw), &nums); err != nil {
		return nil, fmt.Errorf("decoding slot set: %w", err)
	}
	sort.Ints(nums)
	return nums, nil
}

func expectRow(result sql.Result) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ownerRow is expectRow for the slot.Owners methods, whose callers match
// on slot.ErrOwnerNotFound.
func ownerRow(result sql.Result) error {
	if err := expectRow(result); err != nil {
		return fmt.Errorf("%w: %w", slot.ErrOwnerNotFound, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ UserRepository = (*SQLiteUserRepository)(nil)
