package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type entryModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	Action     string    `gorm:"column:action;not null;index:idx_audit_logs_action"`
	SlotNumber *int      `gorm:"column:slot_number"`
	OwnerID    *string   `gorm:"column:owner_id"`
	DeviceID   *string   `gorm:"column:device_id"`
	Details    *string   `gorm:"column:details;type:jsonb"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index:idx_audit_logs_created"`
}

func (entryModel) TableName() string { return "audit_logs" }

// GormRepository stores audit entries in Postgres.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates the repository and migrates the audit_logs table.
func NewGormRepository(ctx context.Context, db *gorm.DB) (*GormRepository, error) {
	if err := db.WithContext(ctx).AutoMigrate(&entryModel{}); err != nil {
		return nil, fmt.Errorf("migrating audit_logs: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// Create inserts an entry. The ID and CreatedAt are generated if empty.
func (r *GormRepository) Create(ctx context.Context, e *Entry) error {
	prepare(e)

	details, err := encodeDetails(e.Details)
	if err != nil {
		return err
	}
	row := entryModel{
		ID:         e.ID,
		Action:     e.Action,
		SlotNumber: e.SlotNumber,
		OwnerID:    optional(e.OwnerID),
		DeviceID:   optional(e.DeviceID),
		Details:    details,
		CreatedAt:  e.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// List returns entries matching the filter, most recent first.
func (r *GormRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.clamp()

	q := r.db.WithContext(ctx).Model(&entryModel{})
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.OwnerID != "" {
		q = q.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.SlotNumber != nil {
		q = q.Where("slot_number = ?", *filter.SlotNumber)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	var rows []entryModel
	if err := q.Order("created_at DESC, id").Limit(filter.Limit).Offset(filter.Offset).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}

	logs := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{
			ID:         row.ID,
			Action:     row.Action,
			SlotNumber: row.SlotNumber,
			CreatedAt:  row.CreatedAt.UTC(),
		}
		if row.OwnerID != nil {
			e.OwnerID = *row.OwnerID
		}
		if row.DeviceID != nil {
			e.DeviceID = *row.DeviceID
		}
		if row.Details != nil {
			e.Details = decodeDetails(*row.Details)
		}
		logs = append(logs, e)
	}

	return &ListResult{Logs: logs, Total: int(total), Limit: filter.Limit, Offset: filter.Offset}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Repository = (*GormRepository)(nil)
