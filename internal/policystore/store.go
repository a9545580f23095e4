// Package policystore persists the single chat access-policy record the
// console admin pages edit. The gate reads a fresh snapshot from here on
// every evaluation; nothing is cached across reads.
package policystore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
)

// Store reads and writes the access policy record.
type Store interface {
	// GetPolicy returns the current policy; ok is false when none has
	// been configured yet (a valid state — the gate denies as unavailable).
	GetPolicy() (domain.AccessPolicy, bool, error)
	SavePolicy(domain.AccessPolicy) error
}

// ErrInvalidPolicy wraps all validation failures on save.
var ErrInvalidPolicy = errors.New("invalid access policy")

// Validate rejects records that the gate or dispatcher could not act on.
// Stored policies are therefore always well-formed; readers treat them as
// opaque validated input.
func Validate(p domain.AccessPolicy) error {
	switch p.Status {
	case domain.StatusActive, domain.StatusMaintenance, domain.StatusDisabled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidPolicy, p.Status)
	}
	if len(p.AllowedRoles) == 0 {
		return fmt.Errorf("%w: allowedRoles must not be empty", ErrInvalidPolicy)
	}
	for _, day := range p.TimeRestrictions.DaysOfWeek {
		if day < 0 || day > 6 {
			return fmt.Errorf("%w: weekday index %d out of range", ErrInvalidPolicy, day)
		}
	}
	if err := validateClock(p.TimeRestrictions.StartTime); err != nil {
		return err
	}
	if err := validateClock(p.TimeRestrictions.EndTime); err != nil {
		return err
	}
	switch p.Provider {
	case domain.ProviderHosted:
		if strings.TrimSpace(p.APIConfig.Endpoint) == "" {
			return fmt.Errorf("%w: hosted provider requires apiConfig.endpoint", ErrInvalidPolicy)
		}
		if strings.TrimSpace(p.APIConfig.APIKey) == "" {
			return fmt.Errorf("%w: hosted provider requires apiConfig.apiKey", ErrInvalidPolicy)
		}
	case domain.ProviderLocal:
		if strings.TrimSpace(p.APIConfig.WebhookURL) == "" {
			return fmt.Errorf("%w: local provider requires apiConfig.webhookUrl", ErrInvalidPolicy)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidPolicy, p.Provider)
	}
	return nil
}

func validateClock(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidPolicy, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return fmt.Errorf("%w: time %q has a bad hour", ErrInvalidPolicy, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return fmt.Errorf("%w: time %q has a bad minute", ErrInvalidPolicy, s)
	}
	return nil
}
