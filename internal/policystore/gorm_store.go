package policystore

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
)

// GormStore implements Store on Postgres via GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&AccessPolicyModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// GetPolicy loads the singleton policy row.
func (s *GormStore) GetPolicy() (domain.AccessPolicy, bool, error) {
	var model AccessPolicyModel
	if err := s.db.First(&model, "id = ?", policyRowID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.AccessPolicy{}, false, nil
		}
		return domain.AccessPolicy{}, false, err
	}
	policy, err := policyFromModel(model)
	if err != nil {
		return domain.AccessPolicy{}, false, err
	}
	return policy, true, nil
}

// SavePolicy validates and upserts the singleton policy row.
func (s *GormStore) SavePolicy(p domain.AccessPolicy) error {
	if err := Validate(p); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	model, err := policyToModel(p)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "allowed_roles", "allowed_users", "time_restrictions",
			"maintenance_message", "provider", "api_config", "updated_at",
		}),
	}).Create(&model).Error
}
