package core

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	blobcore "filevault/internal/blob/core"
	blobmem "filevault/internal/infra/blob/memory"
	metamem "filevault/internal/infra/persistence/memory"
	"filevault/pkg/domain"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	pdfHeader = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
)

// fixedNow is 2024-03-15 in UTC, inside March in every reasonable zone.
var fixedNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	meta  *faultyMeta
	blobs *faultyBlobs
	logs  *syncBuffer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		meta:  &faultyMeta{MetadataStore: metamem.NewStore()},
		blobs: &faultyBlobs{Store: blobmem.New()},
		logs:  &syncBuffer{},
	}
	logger := slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	base := []Option{
		WithLogger(logger),
		WithClock(func() time.Time { return fixedNow }),
		WithLocation(time.UTC),
	}
	h.svc = NewService(h.meta, h.blobs, append(base, opts...)...)
	return h
}

func (h *harness) tenant(t *testing.T, exts ...string) domain.Tenant {
	t.Helper()
	tenant, err := h.svc.CreateTenant(context.Background(), domain.TenantConfiguration{AllowedExtensions: exts})
	require.NoError(t, err)
	return tenant
}

func (h *harness) upload(t *testing.T, code, filename string, content []byte) (UploadResult, error) {
	t.Helper()
	return h.svc.Upload(context.Background(), UploadRequest{
		TenantCode: code,
		Filename:   filename,
		Content:    bytes.NewReader(content),
	})
}

func (h *harness) blobKeys(t *testing.T) []string {
	t.Helper()
	infos, err := h.blobs.List(context.Background(), "")
	require.NoError(t, err)
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "error: %v", err)
}

// faultyBlobs wraps a blob store with injectable failures.
type faultyBlobs struct {
	blobcore.Store
	mu        sync.Mutex
	putErr    error
	afterPut  func()
	deleteErr func(key string) error
	prefixErr error
	deletes   []string
}

func (f *faultyBlobs) Put(ctx context.Context, key string, r io.Reader, opts blobcore.PutOptions) (blobcore.Info, error) {
	f.mu.Lock()
	putErr, afterPut := f.putErr, f.afterPut
	f.mu.Unlock()
	if putErr != nil {
		return blobcore.Info{}, putErr
	}
	info, err := f.Store.Put(ctx, key, r, opts)
	if err == nil && afterPut != nil {
		afterPut()
	}
	return info, err
}

func (f *faultyBlobs) Delete(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	f.deletes = append(f.deletes, key)
	deleteErr := f.deleteErr
	f.mu.Unlock()
	if deleteErr != nil {
		if err := deleteErr(key); err != nil {
			return false, err
		}
	}
	return f.Store.Delete(ctx, key)
}

func (f *faultyBlobs) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if f.prefixErr != nil {
		return 0, f.prefixErr
	}
	return f.Store.DeletePrefix(ctx, prefix)
}

func (f *faultyBlobs) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

// faultyMeta wraps a metadata store with injectable failures.
type faultyMeta struct {
	domain.MetadataStore
	mu              sync.Mutex
	tenantErrs      []error
	createFileErr   error
	createFileCtx   error
	deleteFileErr   func(id string) error
	deleteTenantErr error
	listErr         error
	tenantLookups   int
}

func (f *faultyMeta) CreateTenant(ctx context.Context, t domain.Tenant) (domain.Tenant, error) {
	f.mu.Lock()
	if len(f.tenantErrs) > 0 {
		err := f.tenantErrs[0]
		f.tenantErrs = f.tenantErrs[1:]
		f.mu.Unlock()
		return domain.Tenant{}, err
	}
	f.mu.Unlock()
	return f.MetadataStore.CreateTenant(ctx, t)
}

func (f *faultyMeta) TenantByCode(ctx context.Context, code string) (domain.Tenant, error) {
	f.mu.Lock()
	f.tenantLookups++
	f.mu.Unlock()
	return f.MetadataStore.TenantByCode(ctx, code)
}

func (f *faultyMeta) CreateFile(ctx context.Context, rec domain.FileRecord, opts domain.CreateFileOptions) (domain.FileRecord, error) {
	f.mu.Lock()
	f.createFileCtx = ctx.Err()
	err := f.createFileErr
	f.mu.Unlock()
	if err != nil {
		return domain.FileRecord{}, err
	}
	return f.MetadataStore.CreateFile(ctx, rec, opts)
}

func (f *faultyMeta) DeleteFile(ctx context.Context, id string) error {
	if f.deleteFileErr != nil {
		if err := f.deleteFileErr(id); err != nil {
			return err
		}
	}
	return f.MetadataStore.DeleteFile(ctx, id)
}

func (f *faultyMeta) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	if f.deleteTenantErr != nil {
		return f.deleteTenantErr
	}
	return f.MetadataStore.DeleteTenant(ctx, id)
}

func (f *faultyMeta) ListFiles(ctx context.Context, id uuid.UUID) ([]domain.FileRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MetadataStore.ListFiles(ctx, id)
}

func (f *faultyMeta) lookups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenantLookups
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
