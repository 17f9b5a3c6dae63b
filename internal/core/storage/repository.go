package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a token, personal key or principal has no match.
var ErrNotFound = errors.New("record not found")

// Tenant is the project an event belongs to. It is a read-only snapshot
// for the lifetime of a request.
type Tenant struct {
	ID           int64  `json:"id" yaml:"id"`
	Token        string `json:"token" yaml:"token"`
	Name         string `json:"name,omitempty" yaml:"name"`
	AnonymizeIPs bool   `json:"anonymize_ips" yaml:"anonymize_ips"`
	PluginsOptIn bool   `json:"plugins_opt_in" yaml:"plugins_opt_in"`
}

// Principal is an account holding a personal API key.
type Principal struct {
	ID    int64  `json:"id" yaml:"id"`
	Email string `json:"email,omitempty" yaml:"email"`
}

// TenantStore resolves credentials to tenants.
// All methods return ErrNotFound on a miss; any other error is an infrastructure failure.
type TenantStore interface {
	TenantByToken(ctx context.Context, token string) (*Tenant, error)
	PrincipalByPersonalKey(ctx context.Context, key string) (*Principal, error)
	TenantsForPrincipal(ctx context.Context, principalID int64) ([]Tenant, error)
}
