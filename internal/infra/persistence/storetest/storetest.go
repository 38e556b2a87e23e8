// Package storetest holds the behavioural suite every domain.MetadataStore
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"filevault/pkg/domain"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) domain.MetadataStore

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, domain.MetadataStore)
	}{
		{"TenantLifecycle", testTenantLifecycle},
		{"TenantCodeUnique", testTenantCodeUnique},
		{"FileLifecycle", testFileLifecycle},
		{"LongestTag", testLongestTag},
		{"FileRequiresTenant", testFileRequiresTenant},
		{"UniqueFilename", testUniqueFilename},
		{"UniqueFilenameConcurrent", testUniqueFilenameConcurrent},
		{"DuplicateFilenameAllowedWhenNotUnique", testDuplicateAllowed},
		{"ListOrderAndIsolation", testListOrderAndIsolation},
		{"TenantDeleteCascades", testTenantDeleteCascades},
		{"Ping", testPing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

// NewTenant builds a tenant with a random id and an 8 character code.
func NewTenant(exts ...string) domain.Tenant {
	id := uuid.New()
	return domain.Tenant{
		ID:            id,
		Code:          id.String()[:8],
		Configuration: domain.TenantConfiguration{AllowedExtensions: exts},
	}
}

// NewFile builds a record for tenant with a unique id.
func NewFile(tenant domain.Tenant, filename string) domain.FileRecord {
	tag := "docs"
	return domain.FileRecord{
		ID:           "fs_" + uuid.NewString()[:12],
		TenantID:     tenant.ID,
		Filename:     filename,
		Size:         42,
		MediaType:    "application/pdf",
		Tag:          &tag,
		RelativePath: tenant.Code + "/2024/March/" + filename,
		Metadata:     map[string]any{},
	}
}

func testTenantLifecycle(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	in := NewTenant("pdf", "png")
	in.Configuration.AllowedMediaTypes = []string{"application/pdf"}
	created, err := s.CreateTenant(ctx, in)
	require.NoError(t, err)
	require.Equal(t, in.ID, created.ID)
	require.False(t, created.CreatedAt.IsZero())

	byCode, err := s.TenantByCode(ctx, in.Code)
	require.NoError(t, err)
	require.Equal(t, in.ID, byCode.ID)
	require.Equal(t, []string{"pdf", "png"}, byCode.Configuration.AllowedExtensions)
	require.Equal(t, []string{"application/pdf"}, byCode.Configuration.AllowedMediaTypes)

	byID, err := s.TenantByID(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, in.Code, byID.Code)

	_, err = s.TenantByCode(ctx, "missing0")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.TenantByID(ctx, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.DeleteTenant(ctx, in.ID))
	_, err = s.TenantByCode(ctx, in.Code)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, s.DeleteTenant(ctx, in.ID), domain.ErrNotFound)
}

func testTenantCodeUnique(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	a := NewTenant("pdf")
	_, err := s.CreateTenant(ctx, a)
	require.NoError(t, err)
	b := NewTenant("pdf")
	b.Code = a.Code
	_, err = s.CreateTenant(ctx, b)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func testFileLifecycle(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	tenant, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	in := NewFile(tenant, "report.pdf")
	in.Metadata = map[string]any{"source": "scanner"}
	created, err := s.CreateFile(ctx, in, domain.CreateFileOptions{UniqueFilename: true})
	require.NoError(t, err)
	require.False(t, created.CreatedAt.IsZero())

	got, err := s.FileByID(ctx, in.ID)
	require.NoError(t, err)
	require.Equal(t, in.Filename, got.Filename)
	require.Equal(t, in.Size, got.Size)
	require.Equal(t, in.MediaType, got.MediaType)
	require.Equal(t, "docs", got.TagValue())
	require.Equal(t, in.RelativePath, got.RelativePath)
	require.Equal(t, tenant.ID, got.TenantID)
	require.Equal(t, "scanner", got.Metadata["source"])

	byName, err := s.FileByName(ctx, tenant.ID, "report.pdf")
	require.NoError(t, err)
	require.Equal(t, in.ID, byName.ID)
	_, err = s.FileByName(ctx, tenant.ID, "other.pdf")
	require.ErrorIs(t, err, domain.ErrNotFound)

	untagged := NewFile(tenant, "plain.pdf")
	untagged.Tag = nil
	untagged.Metadata = nil
	_, err = s.CreateFile(ctx, untagged, domain.CreateFileOptions{})
	require.NoError(t, err)
	got, err = s.FileByID(ctx, untagged.ID)
	require.NoError(t, err)
	require.Nil(t, got.Tag)
	require.NotNil(t, got.Metadata)

	require.NoError(t, s.DeleteFile(ctx, in.ID))
	_, err = s.FileByID(ctx, in.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, s.DeleteFile(ctx, in.ID), domain.ErrNotFound)
}

func testLongestTag(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	tenant, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	rec := NewFile(tenant, "tagged.pdf")
	tag := strings.Repeat("ü", domain.MaxTagLength)
	rec.Tag = &tag
	_, err = s.CreateFile(ctx, rec, domain.CreateFileOptions{UniqueFilename: true})
	require.NoError(t, err)
	got, err := s.FileByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, tag, got.TagValue())
}

func testFileRequiresTenant(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	ghost := NewTenant("pdf")
	_, err := s.CreateFile(ctx, NewFile(ghost, "a.pdf"), domain.CreateFileOptions{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testUniqueFilename(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	tenant, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	other, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	opts := domain.CreateFileOptions{UniqueFilename: true}
	_, err = s.CreateFile(ctx, NewFile(tenant, "a.pdf"), opts)
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, NewFile(tenant, "a.pdf"), opts)
	require.ErrorIs(t, err, domain.ErrConflict)
	_, err = s.CreateFile(ctx, NewFile(other, "a.pdf"), opts)
	require.NoError(t, err, "uniqueness is per tenant")
}

func testUniqueFilenameConcurrent(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	tenant, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CreateFile(ctx, NewFile(tenant, "race.pdf"), domain.CreateFileOptions{UniqueFilename: true})
		}(i)
	}
	wg.Wait()
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, domain.ErrConflict)
	}
	require.Equal(t, 1, wins)
	files, err := s.ListFiles(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func testDuplicateAllowed(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	tenant, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.CreateFile(ctx, NewFile(tenant, "same.pdf"), domain.CreateFileOptions{})
		require.NoError(t, err)
	}
	files, err := s.ListFiles(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func testListOrderAndIsolation(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	a, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	b, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	var want []string
	for i := 0; i < 3; i++ {
		rec := NewFile(a, fmt.Sprintf("f%d.pdf", i))
		_, err := s.CreateFile(ctx, rec, domain.CreateFileOptions{UniqueFilename: true})
		require.NoError(t, err)
		want = append(want, rec.ID)
		time.Sleep(2 * time.Millisecond)
	}
	_, err = s.CreateFile(ctx, NewFile(b, "other.pdf"), domain.CreateFileOptions{})
	require.NoError(t, err)

	files, err := s.ListFiles(ctx, a.ID)
	require.NoError(t, err)
	got := make([]string, 0, len(files))
	for _, f := range files {
		got = append(got, f.ID)
	}
	require.Equal(t, want, got)

	empty, err := s.ListFiles(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, empty)
}

func testTenantDeleteCascades(t *testing.T, s domain.MetadataStore) {
	ctx := context.Background()
	a, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	b, err := s.CreateTenant(ctx, NewTenant("pdf"))
	require.NoError(t, err)
	fa := NewFile(a, "a.pdf")
	fb := NewFile(b, "b.pdf")
	_, err = s.CreateFile(ctx, fa, domain.CreateFileOptions{})
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, fb, domain.CreateFileOptions{})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTenant(ctx, a.ID))
	_, err = s.FileByID(ctx, fa.ID)
	require.True(t, errors.Is(err, domain.ErrNotFound), "cascade should remove %s", fa.ID)
	_, err = s.FileByID(ctx, fb.ID)
	require.NoError(t, err)
}

func testPing(t *testing.T, s domain.MetadataStore) {
	require.NoError(t, s.Ping(context.Background()))
}
