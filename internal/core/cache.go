package core

import (
	"context"

	"filevault/pkg/domain"
)

// TenantCache holds tenants by code in front of the metadata store. Tenants
// are immutable, so entries only go stale through deletion.
type TenantCache interface {
	Get(ctx context.Context, code string) (domain.Tenant, bool, error)
	Set(ctx context.Context, t domain.Tenant) error
	Invalidate(ctx context.Context, code string) error
}
