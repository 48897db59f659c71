package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type slotModel struct {
	Number    int       `gorm:"column:number;primaryKey;autoIncrement:false"`
	OwnerID   string    `gorm:"column:owner_id;not null;index:idx_slots_owner"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (slotModel) TableName() string { return "slots" }

func (m slotModel) toSlot() Slot {
	return Slot{Number: m.Number, OwnerID: m.OwnerID, CreatedAt: m.CreatedAt}
}

// GormStore implements Store on Postgres through gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates the store and migrates the slots table.
func NewGormStore(ctx context.Context, db *gorm.DB) (*GormStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&slotModel{}); err != nil {
		return nil, fmt.Errorf("migrating slots: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Insert adds a slot record; a duplicate number wraps ErrSlotTaken.
func (s *GormStore) Insert(ctx context.Context, sl Slot) error {
	row := slotModel{Number: sl.Number, OwnerID: sl.OwnerID, CreatedAt: sl.CreatedAt.UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("%w: %d", ErrSlotTaken, sl.Number)
		}
		return fmt.Errorf("inserting slot: %w", err)
	}
	return nil
}

// Get returns the record for a number.
func (s *GormStore) Get(ctx context.Context, number int) (Slot, error) {
	var row slotModel
	err := s.db.WithContext(ctx).Where("number = ?", number).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Slot{}, ErrSlotNotFound
	}
	if err != nil {
		return Slot{}, fmt.Errorf("querying slot: %w", err)
	}
	return row.toSlot(), nil
}

// Delete removes the record matching both number and owner.
func (s *GormStore) Delete(ctx context.Context, number int, ownerID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("number = ? AND owner_id = ?", number, ownerID).
		Delete(&slotModel{})
	if res.Error != nil {
		return false, fmt.Errorf("deleting slot: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListByOwner returns an owner's records in ascending order.
func (s *GormStore) ListByOwner(ctx context.Context, ownerID string) ([]Slot, error) {
	var rows []slotModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("number").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying slots: %w", err)
	}
	return toSlots(rows), nil
}

// List returns every record in ascending order.
func (s *GormStore) List(ctx context.Context) ([]Slot, error) {
	var rows []slotModel
	if err := s.db.WithContext(ctx).Order("number").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying slots: %w", err)
	}
	return toSlots(rows), nil
}

func toSlots(rows []slotModel) []Slot {
	slots := make([]Slot, 0, len(rows))
	for _, r := range rows {
		slots = append(slots, r.toSlot())
	}
	return slots
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*GormStore)(nil)
