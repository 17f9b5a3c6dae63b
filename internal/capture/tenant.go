package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aevon-lab/aevon-capture/internal/core/storage"
)

// TenantResolver maps a credential to the tenant a request writes to.
type TenantResolver struct {
	store storage.TenantStore
}

func NewTenantResolver(store storage.TenantStore) *TenantResolver {
	if store == nil {
		panic("capture: tenant store must not be nil")
	}
	return &TenantResolver{store: store}
}

// Resolve looks the token up as a project API key first. On a miss the same
// token is retried as a personal API key scoped by an explicit project_id.
// Client failures are returned as *Error; anything else is a store failure.
func (r *TenantResolver) Resolve(ctx context.Context, req *Request, token string) (*storage.Tenant, error) {
	tenant, err := r.store.TenantByToken(ctx, token)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup tenant by token: %w", err)
	}

	projectID, found, perr := ResolveProjectID(req)
	if perr != nil {
		return nil, perr
	}
	if !found {
		return nil, newError(KindMissingProjectID, msgProjectKeyBad)
	}

	principal, err := r.store.PrincipalByPersonalKey(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(KindInvalidAPIKey, msgPersonalKeyBad)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup principal by personal key: %w", err)
	}

	tenants, err := r.store.TenantsForPrincipal(ctx, principal.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("list tenants for principal %d: %w", principal.ID, err)
	}
	for i := range tenants {
		if tenants[i].ID == projectID {
			return &tenants[i], nil
		}
	}
	return nil, newError(KindUnknownTenant, msgUnknownTenant)
}

// ResolveProjectID reads `project_id` from the query, the form, then the body
// object. found is false when none is set; a set but non-numeric value is an
// InvalidProjectID error.
func ResolveProjectID(req *Request) (id int64, found bool, err error) {
	raw := req.Query.Get("project_id")
	if raw == "" {
		raw = req.Form.Get("project_id")
	}
	if raw == "" && req.Payload.Kind == PayloadObject {
		switch v := req.Payload.Object["project_id"].(type) {
		case nil:
		case json.Number:
			raw = v.String()
		case string:
			raw = v
		default:
			return 0, false, newError(KindInvalidProjectID, msgInvalidProjectID)
		}
	}
	if raw == "" {
		return 0, false, nil
	}

	id, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if perr != nil {
		return 0, false, newError(KindInvalidProjectID, msgInvalidProjectID)
	}
	// project ids start at 1; zero means "not set" to older SDKs
	return id, id != 0, nil
}
