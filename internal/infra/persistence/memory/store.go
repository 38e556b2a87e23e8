// Package memory provides an in-memory metadata store used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"filevault/pkg/domain"
)

var _ domain.MetadataStore = (*Store)(nil)

// Store keeps tenants and file records in maps guarded by a single mutex.
// Every returned value is a deep copy.
type Store struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]domain.Tenant
	codes   map[string]uuid.UUID
	files   map[string]domain.FileRecord
	now     func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tenants: make(map[uuid.UUID]domain.Tenant),
		codes:   make(map[string]uuid.UUID),
		files:   make(map[string]domain.FileRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateTenant(_ context.Context, t domain.Tenant) (domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tenants[t.ID]; exists {
		return domain.Tenant{}, fmt.Errorf("tenant %s: %w", t.ID, domain.ErrConflict)
	}
	if _, exists := s.codes[t.Code]; exists {
		return domain.Tenant{}, fmt.Errorf("tenant code %q: %w", t.Code, domain.ErrConflict)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	t = t.Clone()
	s.tenants[t.ID] = t
	s.codes[t.Code] = t.ID
	return t.Clone(), nil
}

func (s *Store) TenantByCode(_ context.Context, code string) (domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codes[code]
	if !ok {
		return domain.Tenant{}, fmt.Errorf("tenant code %q: %w", code, domain.ErrNotFound)
	}
	return s.tenants[id].Clone(), nil
}

func (s *Store) TenantByID(_ context.Context, id uuid.UUID) (domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return domain.Tenant{}, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	return t.Clone(), nil
}

// DeleteTenant removes the tenant and cascades to its file records.
func (s *Store) DeleteTenant(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	for fid, rec := range s.files {
		if rec.TenantID == id {
			delete(s.files, fid)
		}
	}
	delete(s.codes, t.Code)
	delete(s.tenants, id)
	return nil
}

func (s *Store) CreateFile(_ context.Context, rec domain.FileRecord, opts domain.CreateFileOptions) (domain.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[rec.TenantID]; !ok {
		return domain.FileRecord{}, fmt.Errorf("tenant %s: %w", rec.TenantID, domain.ErrNotFound)
	}
	if _, exists := s.files[rec.ID]; exists {
		return domain.FileRecord{}, fmt.Errorf("file %s: %w", rec.ID, domain.ErrConflict)
	}
	if opts.UniqueFilename {
		for _, other := range s.files {
			if other.TenantID == rec.TenantID && other.Filename == rec.Filename {
				return domain.FileRecord{}, fmt.Errorf("file %q: %w", rec.Filename, domain.ErrConflict)
			}
		}
	}
	rec = rec.Clone()
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	rec.CreatedAt = s.now()
	s.files[rec.ID] = rec
	return rec.Clone(), nil
}

func (s *Store) FileByID(_ context.Context, id string) (domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[id]
	if !ok {
		return domain.FileRecord{}, fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	return rec.Clone(), nil
}

// FileByName returns the oldest record with filename for the tenant.
func (s *Store) FileByName(_ context.Context, tenantID uuid.UUID, filename string) (domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.FileRecord
	for _, rec := range s.files {
		if rec.TenantID != tenantID || rec.Filename != filename {
			continue
		}
		if found == nil || rec.CreatedAt.Before(found.CreatedAt) {
			r := rec
			found = &r
		}
	}
	if found == nil {
		return domain.FileRecord{}, fmt.Errorf("file %q: %w", filename, domain.ErrNotFound)
	}
	return found.Clone(), nil
}

// ListFiles returns the tenant's records ordered by creation time then id.
func (s *Store) ListFiles(_ context.Context, tenantID uuid.UUID) ([]domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.FileRecord, 0)
	for _, rec := range s.files {
		if rec.TenantID == tenantID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) DeleteFile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("file %s: %w", id, domain.ErrNotFound)
	}
	delete(s.files, id)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
