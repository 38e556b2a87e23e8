package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"filevault/internal/infra/persistence/storetest"
	"filevault/pkg/domain"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.MetadataStore {
		s, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "meta.db"))
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return s
	})
}

func TestStoreInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.MetadataStore {
		s, err := NewStore(context.Background(), ":memory:")
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return s
	})
}

func TestStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "meta.db")
	s, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	tenant, err := s.CreateTenant(ctx, storetest.NewTenant("pdf"))
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	rec := storetest.NewFile(tenant, "a.pdf")
	if _, err := s.CreateFile(ctx, rec, domain.CreateFileOptions{UniqueFilename: true}); err != nil {
		t.Fatalf("create file: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s2, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.Path() != path {
		t.Fatalf("unexpected path %s", s2.Path())
	}
	got, err := s2.FileByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("file after reopen: %v", err)
	}
	if got.RelativePath != rec.RelativePath || got.TenantID != tenant.ID {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestStoreForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, filepath.Join(t.TempDir(), "fk.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()
	var on int
	if err := s.DB().QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&on); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if on != 1 {
		t.Fatalf("foreign keys disabled")
	}
}

func TestStoreCorruptConfiguration(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, filepath.Join(t.TempDir(), "bad.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()
	if _, err := s.DB().ExecContext(ctx,
		`INSERT INTO fs_tenant (id, code, configuration, created_at) VALUES ('6f1c3a52-8d5e-4a57-9a0e-0c2b7f0c9c11', 'badcfg00', '{', '2024-01-01T00:00:00.000000000Z')`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.TenantByCode(ctx, "badcfg00"); err == nil {
		t.Fatalf("expected decode error")
	}
}
