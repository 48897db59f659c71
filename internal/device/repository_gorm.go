package device

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type credentialModel struct {
	DeviceID  string    `gorm:"column:device_id;primaryKey;size:64"`
	KeyDigest string    `gorm:"column:key_digest;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (credentialModel) TableName() string { return "device_credentials" }

// GormRepository implements CredentialRepository on Postgres through gorm.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates the repository and migrates its table.
func NewGormRepository(ctx context.Context, db *gorm.DB) (*GormRepository, error) {
	if err := db.WithContext(ctx).AutoMigrate(&credentialModel{}); err != nil {
		return nil, fmt.Errorf("migrating device_credentials: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// Upsert inserts or rotates a device credential.
func (r *GormRepository) Upsert(ctx context.Context, cred Credential) error {
	row := credentialModel{
		DeviceID:  cred.DeviceID,
		KeyDigest: cred.KeyDigest,
		CreatedAt: cred.CreatedAt.UTC(),
		UpdatedAt: cred.UpdatedAt.UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"key_digest", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upserting device credential: %w", err)
	}
	return nil
}

// List returns every persisted credential ordered by device ID.
func (r *GormRepository) List(ctx context.Context) ([]Credential, error) {
	var rows []credentialModel
	if err := r.db.WithContext(ctx).Order("device_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying device credentials: %w", err)
	}
	creds := make([]Credential, 0, len(rows))
	for _, row := range rows {
		creds = append(creds, Credential{
			DeviceID:  row.DeviceID,
			KeyDigest: row.KeyDigest,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return creds, nil
}

var _ CredentialRepository = (*GormRepository)(nil)
var _ CredentialRepository = (*SQLiteRepository)(nil)
