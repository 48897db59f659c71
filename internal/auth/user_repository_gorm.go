package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/nerrad567/biolock-core/internal/slot"
)

type userModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	Username     string    `gorm:"column:username;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	IsAdmin      bool      `gorm:"column:is_admin;not null;default:false"`
	Slots        string    `gorm:"column:slots;type:jsonb;not null;default:'[]'"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

func (userModel) TableName() string { return "users" }

func (m userModel) toUser() (*User, error) {
	nums, err := decodeSlots(m.Slots)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", m.ID, err)
	}
	return &User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		IsAdmin:      m.IsAdmin,
		Slots:        nums,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}, nil
}

// GormUserRepository implements UserRepository on Postgres. Owner sets
// live in a jsonb array and are edited with jsonb operators.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates the repository and migrates the users table.
func NewGormUserRepository(ctx context.Context, db *gorm.DB) (*GormUserRepository, error) {
	if err := db.WithContext(ctx).AutoMigrate(&userModel{}); err != nil {
		return nil, fmt.Errorf("migrating users: %w", err)
	}
	return &GormUserRepository{db: db}, nil
}

// Create inserts a new user. The ID is generated if empty; Slots starts empty.
func (r *GormUserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Slots = []int{}

	row := userModel{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		IsAdmin:      user.IsAdmin,
		Slots:        "[]",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isPgUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByUsername retrieves a user by username.
func (r *GormUserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.first(ctx, "username = ?", username)
}

// GetBySlot returns the user whose set contains number.
func (r *GormUserRepository) GetBySlot(ctx context.Context, number int) (*User, error) {
	return r.first(ctx, "slots @> ?::jsonb", slotArray(number))
}

func (r *GormUserRepository) first(ctx context.Context, query string, args ...any) (*User, error) {
	var row userModel
	err := r.db.WithContext(ctx).Where(query, args...).Order("created_at, id").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return row.toUser()
}

// List returns all users ordered by creation date.
func (r *GormUserRepository) List(ctx context.Context) ([]User, error) {
	var rows []userModel
	if err := r.db.WithContext(ctx).Order("created_at, username").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	users := make([]User, 0, len(rows))
	for _, row := range rows {
		u, err := row.toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, nil
}

// Update changes the username and admin flag.
func (r *GormUserRepository) Update(ctx context.Context, user *User) error {
	user.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	res := r.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", user.ID).Updates(map[string]any{
		"username":   user.Username,
		"is_admin":   user.IsAdmin,
		"updated_at": user.UpdatedAt,
	})
	if res.Error != nil {
		if isPgUniqueViolation(res.Error) {
			return ErrUsernameExists
		}
		return fmt.Errorf("updating user: %w", res.Error)
	}
	return affected(res)
}

// UpdatePassword changes a user's password hash.
func (r *GormUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.update(ctx, id, "updating password", map[string]any{"password_hash": passwordHash})
}

// Delete removes a user.
func (r *GormUserRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&userModel{})
	if res.Error != nil {
		return fmt.Errorf("deleting user: %w", res.Error)
	}
	return affected(res)
}

// Count returns the total number of users.
func (r *GormUserRepository) Count(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&userModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return int(n), nil
}

// OwnerExists reports whether a user with the ID exists.
func (r *GormUserRepository) OwnerExists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, fmt.Errorf("checking user: %w", err)
	}
	return n > 0, nil
}

// AddSlotToOwner adds number to the user's set if it is not already there.
func (r *GormUserRepository) AddSlotToOwner(ctx context.Context, id string, number int) error {
	arr := slotArray(number)
	return r.ownerUpdate(ctx, id, "adding slot to user", map[string]any{
		"slots": gorm.Expr("CASE WHEN slots @> ?::jsonb THEN slots ELSE slots || ?::jsonb END", arr, arr),
	})
}

// RemoveSlotFromOwner drops number from the user's set.
func (r *GormUserRepository) RemoveSlotFromOwner(ctx context.Context, id string, number int) error {
	return r.ownerUpdate(ctx, id, "removing slot from user", map[string]any{
		"slots": gorm.Expr(
			"COALESCE((SELECT jsonb_agg(e) FROM jsonb_array_elements(slots) e WHERE e <> to_jsonb(?::int)), '[]'::jsonb)",
			number,
		),
	})
}

// ClearOwnerSlots empties the user's set.
func (r *GormUserRepository) ClearOwnerSlots(ctx context.Context, id string) error {
	return r.ownerUpdate(ctx, id, "clearing user slots", map[string]any{"slots": gorm.Expr("'[]'::jsonb")})
}

// ListOwnersOfSlot returns the IDs of users whose set contains number.
func (r *GormUserRepository) ListOwnersOfSlot(ctx context.Context, number int) ([]string, error) {
	ids := []string{}
	err := r.db.WithContext(ctx).Model(&userModel{}).
		Where("slots @> ?::jsonb", slotArray(number)).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing slot owners: %w", err)
	}
	return ids, nil
}

// OwnerSlots returns every user's set, including empty ones.
func (r *GormUserRepository) OwnerSlots(ctx context.Context) (map[string][]int, error) {
	var rows []userModel
	if err := r.db.WithContext(ctx).Select("id", "slots").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing user slots: %w", err)
	}
	sets := make(map[string][]int, len(rows))
	for _, row := range rows {
		nums, err := decodeSlots(row.Slots)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", row.ID, err)
		}
		sets[row.ID] = nums
	}
	return sets, nil
}

func (r *GormUserRepository) update(ctx context.Context, id, op string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC().Truncate(time.Second)
	res := r.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	return affected(res)
}

func (r *GormUserRepository) ownerUpdate(ctx context.Context, id, op string, fields map[string]any) error {
	if err := r.update(ctx, id, op, fields); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fmt.Errorf("%w: %w", slot.ErrOwnerNotFound, err)
		}
		return err
	}
	return nil
}

func affected(res *gorm.DB) error {
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// slotArray renders a one-element JSON array for jsonb containment.
func slotArray(number int) string {
	return "[" + strconv.Itoa(number) + "]"
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ UserRepository = (*GormUserRepository)(nil)
