package postgres

import (
	"github.com/aevon-lab/aevon-capture/internal/core/storage"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTenantRow scans a teams row into a Tenant.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanTenantRow(row scanner) (*storage.Tenant, error) {
	var t storage.Tenant
	var name *string
	if err := row.Scan(&t.ID, &t.Token, &name, &t.AnonymizeIPs, &t.PluginsOptIn); err != nil {
		return nil, err
	}
	if name != nil {
		t.Name = *name
	}
	return &t, nil
}
