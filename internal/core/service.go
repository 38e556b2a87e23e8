// Package core implements filevault's upload, read and deletion workflows
// over a metadata store and a blob store.
package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	blobcore "filevault/internal/blob/core"
	"filevault/pkg/domain"
)

const (
	// DefaultDeleteConcurrency bounds parallel file removal during tenant deletion.
	DefaultDeleteConcurrency = 8

	tenantCodeAttempts = 5
)

// env is the state shared by the service and its coordinators.
type env struct {
	store   domain.MetadataStore
	blobs   blobcore.Store
	cache   TenantCache
	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// Service exposes tenant and file operations. It is safe for concurrent use.
type Service struct {
	*env
	uploads   *UploadCoordinator
	deletions *DeletionCoordinator
}

type settings struct {
	logger            *slog.Logger
	metrics           MetricsRecorder
	cache             TenantCache
	sniffer           Sniffer
	now               func() time.Time
	location          *time.Location
	newID             func() string
	maxUploadBytes    int64
	uniqueFilenames   bool
	deleteConcurrency int
}

// Option configures a Service.
type Option func(*settings)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder installs a recorder notified after every operation.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *settings) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTenantCache puts a cache in front of tenant lookups by code.
func WithTenantCache(cache TenantCache) Option {
	return func(s *settings) { s.cache = cache }
}

// WithSniffer replaces the content sniffer.
func WithSniffer(sniffer Sniffer) Option {
	return func(s *settings) {
		if sniffer != nil {
			s.sniffer = sniffer
		}
	}
}

// WithClock overrides the time source used for path allocation.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the calendar used to derive year and month folders.
func WithLocation(loc *time.Location) Option {
	return func(s *settings) { s.location = loc }
}

// WithFileIDGenerator overrides file id generation.
func WithFileIDGenerator(newID func() string) Option {
	return func(s *settings) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithMaxUploadBytes caps upload size. Zero or less disables the cap.
func WithMaxUploadBytes(n int64) Option {
	return func(s *settings) { s.maxUploadBytes = n }
}

// WithUniqueFilenames toggles the one live file per (tenant, filename) rule.
func WithUniqueFilenames(unique bool) Option {
	return func(s *settings) { s.uniqueFilenames = unique }
}

// WithDeleteConcurrency bounds parallel file removal during tenant deletion.
func WithDeleteConcurrency(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.deleteConcurrency = n
		}
	}
}

// NewService wires the coordinators over store and blobs.
func NewService(store domain.MetadataStore, blobs blobcore.Store, opts ...Option) *Service {
	cfg := settings{
		logger:            slog.Default(),
		metrics:           noopMetrics{},
		sniffer:           MIMESniffer{},
		now:               time.Now,
		newID:             NewFileID,
		uniqueFilenames:   true,
		deleteConcurrency: DefaultDeleteConcurrency,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	e := &env{
		store:   store,
		blobs:   blobs,
		cache:   cfg.cache,
		logger:  cfg.logger.With(slog.String("component", "core")),
		metrics: cfg.metrics,
		now:     cfg.now,
	}
	return &Service{
		env: e,
		uploads: &UploadCoordinator{
			env:      e,
			sniffer:  cfg.sniffer,
			paths:    PathAllocator{Location: cfg.location},
			newID:    cfg.newID,
			maxBytes: cfg.maxUploadBytes,
			unique:   cfg.uniqueFilenames,
		},
		deletions: &DeletionCoordinator{env: e, concurrency: cfg.deleteConcurrency},
	}
}

// Uploads returns the upload coordinator.
func (s *Service) Uploads() *UploadCoordinator { return s.uploads }

// Deletions returns the deletion coordinator.
func (s *Service) Deletions() *DeletionCoordinator { return s.deletions }

// CreateTenant registers a tenant with a fresh id and short code. A code
// collision is retried with a new code.
func (s *Service) CreateTenant(ctx context.Context, cfg domain.TenantConfiguration) (_ domain.Tenant, err error) {
	defer s.observe(ctx, "create_tenant", time.Now(), &err)
	cfg = cfg.Normalize()
	if cfg.AllowedExtensions == nil {
		cfg.AllowedExtensions = []string{}
	}
	for attempt := 1; ; attempt++ {
		id, code := NewTenantID()
		t, err := s.store.CreateTenant(ctx, domain.Tenant{ID: id, Code: code, Configuration: cfg})
		if err == nil {
			s.logger.InfoContext(ctx, "tenant created", slog.String("tenant", t.Code), slog.String("tenant_id", t.ID.String()))
			return t, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= tenantCodeAttempts {
			return domain.Tenant{}, domain.NewError(domain.KindMetadataWriteFailed, "create_tenant", err, "store tenant")
		}
		s.logger.DebugContext(ctx, "tenant code collision, retrying", slog.String("tenant", code))
	}
}

// GetTenant returns the tenant registered under code.
func (s *Service) GetTenant(ctx context.Context, code string) (_ domain.Tenant, err error) {
	defer s.observe(ctx, "get_tenant", time.Now(), &err)
	return s.tenantByCode(ctx, "get_tenant", code)
}

// GetFile returns a file record by id.
func (s *Service) GetFile(ctx context.Context, id string) (_ domain.FileRecord, err error) {
	defer s.observe(ctx, "get_file", time.Now(), &err)
	return s.fileByID(ctx, "get_file", id)
}

// ListFiles returns the tenant's files in creation order.
func (s *Service) ListFiles(ctx context.Context, code string) (_ []domain.FileRecord, err error) {
	defer s.observe(ctx, "list_files", time.Now(), &err)
	t, err := s.tenantByCode(ctx, "list_files", code)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, t.ID)
	if err != nil {
		return nil, domain.NewError(domain.KindMetadataReadFailed, "list_files", err, "list files of %s", code)
	}
	return files, nil
}

// StoredFile is an open handle on a file's content. The caller closes Body.
type StoredFile struct {
	Record   domain.FileRecord
	Info     blobcore.Info
	Location string
	Body     io.ReadCloser
}

// OpenFile returns the record and an open reader for its blob.
func (s *Service) OpenFile(ctx context.Context, id string) (_ StoredFile, err error) {
	defer s.observe(ctx, "open_file", time.Now(), &err)
	rec, err := s.fileByID(ctx, "open_file", id)
	if err != nil {
		return StoredFile{}, err
	}
	loc, err := s.blobs.Resolve(ctx, rec.RelativePath)
	if err != nil {
		return StoredFile{}, domain.NewError(domain.KindStorageReadFailed, "open_file", err, "resolve %s", rec.RelativePath)
	}
	info, body, err := s.blobs.Get(ctx, rec.RelativePath)
	if err != nil {
		return StoredFile{}, domain.NewError(domain.KindStorageReadFailed, "open_file", err, "read %s", rec.RelativePath)
	}
	return StoredFile{Record: rec, Info: info, Location: loc, Body: body}, nil
}

// Upload delegates to the upload coordinator.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	return s.uploads.Upload(ctx, req)
}

// DeleteFile delegates to the deletion coordinator.
func (s *Service) DeleteFile(ctx context.Context, id string) error {
	return s.deletions.DeleteFile(ctx, id)
}

// DeleteTenant delegates to the deletion coordinator.
func (s *Service) DeleteTenant(ctx context.Context, code string) (DeleteTenantReport, error) {
	return s.deletions.DeleteTenant(ctx, code)
}

// Ping checks the metadata store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (e *env) tenantByCode(ctx context.Context, op, code string) (domain.Tenant, error) {
	if code == "" {
		return domain.Tenant{}, domain.NewError(domain.KindInvalidInput, op, nil, "tenant code is required")
	}
	if e.cache != nil {
		t, ok, err := e.cache.Get(ctx, code)
		if err != nil {
			e.logger.WarnContext(ctx, "tenant cache read failed", slog.String("tenant", code), slog.Any("error", err))
		} else if ok {
			return t, nil
		}
	}
	t, err := e.store.TenantByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Tenant{}, domain.NewError(domain.KindNotFound, op, err, "tenant %s not found", code)
	}
	if err != nil {
		return domain.Tenant{}, domain.NewError(domain.KindMetadataReadFailed, op, err, "load tenant %s", code)
	}
	if e.cache != nil {
		if err := e.cache.Set(ctx, t); err != nil {
			e.logger.WarnContext(ctx, "tenant cache write failed", slog.String("tenant", code), slog.Any("error", err))
		}
	}
	return t, nil
}

func (e *env) fileByID(ctx context.Context, op, id string) (domain.FileRecord, error) {
	if id == "" {
		return domain.FileRecord{}, domain.NewError(domain.KindInvalidInput, op, nil, "file id is required")
	}
	rec, err := e.store.FileByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.FileRecord{}, domain.NewError(domain.KindNotFound, op, err, "file %s not found", id)
	}
	if err != nil {
		return domain.FileRecord{}, domain.NewError(domain.KindMetadataReadFailed, op, err, "load file %s", id)
	}
	return rec, nil
}

func (e *env) invalidateTenant(ctx context.Context, code string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, code); err != nil {
		e.logger.WarnContext(ctx, "tenant cache invalidation failed", slog.String("tenant", code), slog.Any("error", err))
	}
}

func (e *env) observe(ctx context.Context, op string, start time.Time, errp *error) {
	e.metrics.Observe(ctx, op, *errp == nil, time.Since(start))
}

func (e *env) orphaned(ctx context.Context, key string, err error) {
	e.logger.ErrorContext(ctx, "blob left without metadata record",
		slog.String("orphan_path", key), slog.Any("error", err))
	if r, ok := e.metrics.(StorageEventRecorder); ok {
		r.Orphaned()
	}
}
