package domain

import (
	"context"

	"github.com/google/uuid"
)

// CreateFileOptions tunes CreateFile.
type CreateFileOptions struct {
	// UniqueFilename rejects the insert with ErrConflict when the tenant
	// already has a live record with the same filename. The check and the
	// insert are atomic with respect to other CreateFile calls.
	UniqueFilename bool
}

// MetadataStore persists tenants and file records. Implementations return
// errors wrapping ErrNotFound for missing rows and ErrConflict for
// uniqueness violations. Deleting a tenant removes its file records.
type MetadataStore interface {
	CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
	TenantByCode(ctx context.Context, code string) (Tenant, error)
	TenantByID(ctx context.Context, id uuid.UUID) (Tenant, error)
	DeleteTenant(ctx context.Context, id uuid.UUID) error

	CreateFile(ctx context.Context, rec FileRecord, opts CreateFileOptions) (FileRecord, error)
	FileByID(ctx context.Context, id string) (FileRecord, error)
	FileByName(ctx context.Context, tenantID uuid.UUID, filename string) (FileRecord, error)
	ListFiles(ctx context.Context, tenantID uuid.UUID) ([]FileRecord, error)
	DeleteFile(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}
