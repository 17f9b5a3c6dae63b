package storage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// PersonalKey grants a principal access to the tenants listed in TenantIDs.
type PersonalKey struct {
	Value       string  `yaml:"value"`
	PrincipalID int64   `yaml:"principal_id"`
	TenantIDs   []int64 `yaml:"tenant_ids"`
}

// fixture is the on-disk layout of a tenants file.
type fixture struct {
	Tenants      []Tenant      `yaml:"tenants"`
	Principals   []Principal   `yaml:"principals"`
	PersonalKeys []PersonalKey `yaml:"personal_keys"`
}

// MemoryStore is an in-memory TenantStore, loaded from a YAML file for local
// development or built directly in tests.
type MemoryStore struct {
	mu         sync.RWMutex
	byToken    map[string]Tenant
	byID       map[int64]Tenant
	principals map[int64]Principal
	keys       map[string]PersonalKey
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byToken:    make(map[string]Tenant),
		byID:       make(map[int64]Tenant),
		principals: make(map[int64]Principal),
		keys:       make(map[string]PersonalKey),
	}
}

// LoadMemoryStore reads a tenants YAML file.
//
//	tenants:
//	  - {id: 2, token: phc_abc, anonymize_ips: false, plugins_opt_in: true}
//	principals:
//	  - {id: 11, email: ops@example.com}
//	personal_keys:
//	  - {value: phx_123, principal_id: 11, tenant_ids: [2]}
func LoadMemoryStore(path string) (*MemoryStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenants file: %w", err)
	}

	var f fixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tenants file %q: %w", path, err)
	}

	s := NewMemoryStore()
	for _, t := range f.Tenants {
		if err := s.AddTenant(t); err != nil {
			return nil, err
		}
	}
	for _, p := range f.Principals {
		s.AddPrincipal(p)
	}
	for _, k := range f.PersonalKeys {
		if err := s.AddPersonalKey(k); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddTenant registers a tenant. Token and id must both be unique.
func (s *MemoryStore) AddTenant(t Tenant) error {
	if t.ID == 0 || t.Token == "" {
		return fmt.Errorf("tenant requires id and token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byToken[t.Token]; exists {
		return fmt.Errorf("duplicate tenant token for tenant %d", t.ID)
	}
	if _, exists := s.byID[t.ID]; exists {
		return fmt.Errorf("duplicate tenant id %d", t.ID)
	}
	s.byToken[t.Token] = t
	s.byID[t.ID] = t
	return nil
}

func (s *MemoryStore) AddPrincipal(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[p.ID] = p
}

// AddPersonalKey registers a key for an already-known principal.
func (s *MemoryStore) AddPersonalKey(k PersonalKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.principals[k.PrincipalID]; !ok {
		return fmt.Errorf("personal key references unknown principal %d", k.PrincipalID)
	}
	s.keys[k.Value] = k
	return nil
}

func (s *MemoryStore) TenantByToken(_ context.Context, token string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) PrincipalByPersonalKey(_ context.Context, key string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[key]
	if !ok {
		return nil, ErrNotFound
	}
	p := s.principals[k.PrincipalID]
	return &p, nil
}

// TenantsForPrincipal unions the tenants granted by all of the principal's keys.
func (s *MemoryStore) TenantsForPrincipal(_ context.Context, principalID int64) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.principals[principalID]; !ok {
		return nil, ErrNotFound
	}

	seen := make(map[int64]bool)
	var tenants []Tenant
	for _, k := range s.keys {
		if k.PrincipalID != principalID {
			continue
		}
		for _, id := range k.TenantIDs {
			t, ok := s.byID[id]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			tenants = append(tenants, t)
		}
	}
	return tenants, nil
}

// Ping always succeeds; it lets the store act as a health checker.
func (s *MemoryStore) Ping(context.Context) error { return nil }
