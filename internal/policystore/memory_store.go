package policystore

import (
	"sync"
	"time"

	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
)

// MemoryStore implements Store in memory for tests and standalone runs.
type MemoryStore struct {
	mu     sync.RWMutex
	policy domain.AccessPolicy
	set    bool
}

// NewMemoryStore returns an empty store; GetPolicy reports not-configured
// until the first successful save.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// GetPolicy returns a copy of the stored policy.
func (s *MemoryStore) GetPolicy() (domain.AccessPolicy, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return domain.AccessPolicy{}, false, nil
	}
	return s.policy, true, nil
}

// SavePolicy validates and replaces the stored policy.
func (s *MemoryStore) SavePolicy(p domain.AccessPolicy) error {
	if err := Validate(p); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.policy = p
	s.set = true
	s.mu.Unlock()
	return nil
}
