package policystore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
)

// policyRowID pins the table to a single record; the console has exactly
// one chat feature gate.
const policyRowID = 1

// AccessPolicyModel is the GORM row backing the policy record. Sets and
// nested structures live in jsonb columns.
type AccessPolicyModel struct {
	ID                 int64          `gorm:"primaryKey"`
	Status             string         `gorm:"not null"`
	AllowedRoles       datatypes.JSON `gorm:"type:jsonb"`
	AllowedUsers       datatypes.JSON `gorm:"type:jsonb"`
	TimeRestrictions   datatypes.JSON `gorm:"type:jsonb"`
	MaintenanceMessage string
	Provider           string         `gorm:"not null"`
	APIConfig          datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt          time.Time      `gorm:"not null"`
}

func (AccessPolicyModel) TableName() string { return "chat_access_policies" }

func policyToModel(p domain.AccessPolicy) (AccessPolicyModel, error) {
	roles, err := json.Marshal(p.AllowedRoles)
	if err != nil {
		return AccessPolicyModel{}, fmt.Errorf("encode allowed roles: %w", err)
	}
	users, err := json.Marshal(p.AllowedUsers)
	if err != nil {
		return AccessPolicyModel{}, fmt.Errorf("encode allowed users: %w", err)
	}
	restrictions, err := json.Marshal(p.TimeRestrictions)
	if err != nil {
		return AccessPolicyModel{}, fmt.Errorf("encode time restrictions: %w", err)
	}
	apiConfig, err := json.Marshal(p.APIConfig)
	if err != nil {
		return AccessPolicyModel{}, fmt.Errorf("encode api config: %w", err)
	}
	return AccessPolicyModel{
		ID:                 policyRowID,
		Status:             string(p.Status),
		AllowedRoles:       roles,
		AllowedUsers:       users,
		TimeRestrictions:   restrictions,
		MaintenanceMessage: p.MaintenanceMessage,
		Provider:           string(p.Provider),
		APIConfig:          apiConfig,
		UpdatedAt:          p.UpdatedAt,
	}, nil
}

func policyFromModel(m AccessPolicyModel) (domain.AccessPolicy, error) {
	p := domain.AccessPolicy{
		Status:             domain.PolicyStatus(m.Status),
		MaintenanceMessage: m.MaintenanceMessage,
		Provider:           domain.Provider(m.Provider),
		UpdatedAt:          m.UpdatedAt,
	}
	if len(m.AllowedRoles) > 0 {
		if err := json.Unmarshal(m.AllowedRoles, &p.AllowedRoles); err != nil {
			return domain.AccessPolicy{}, fmt.Errorf("decode allowed roles: %w", err)
		}
	}
	if len(m.AllowedUsers) > 0 {
		if err := json.Unmarshal(m.AllowedUsers, &p.AllowedUsers); err != nil {
			return domain.AccessPolicy{}, fmt.Errorf("decode allowed users: %w", err)
		}
	}
	if len(m.TimeRestrictions) > 0 {
		if err := json.Unmarshal(m.TimeRestrictions, &p.TimeRestrictions); err != nil {
			return domain.AccessPolicy{}, fmt.Errorf("decode time restrictions: %w", err)
		}
	}
	if len(m.APIConfig) > 0 {
		if err := json.Unmarshal(m.APIConfig, &p.APIConfig); err != nil {
			return domain.AccessPolicy{}, fmt.Errorf("decode api config: %w", err)
		}
	}
	return p, nil
}
