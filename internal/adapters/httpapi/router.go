// Package httpapi exposes the filevault service over HTTP with a chi router.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"filevault/internal/core"
	"filevault/pkg/domain"
)

// Service is the subset of core.Service the handlers call.
type Service interface {
	CreateTenant(ctx context.Context, cfg domain.TenantConfiguration) (domain.Tenant, error)
	GetTenant(ctx context.Context, code string) (domain.Tenant, error)
	ListFiles(ctx context.Context, code string) ([]domain.FileRecord, error)
	GetFile(ctx context.Context, id string) (domain.FileRecord, error)
	OpenFile(ctx context.Context, id string) (core.StoredFile, error)
	Upload(ctx context.Context, req core.UploadRequest) (core.UploadResult, error)
	DeleteFile(ctx context.Context, id string) error
	DeleteTenant(ctx context.Context, code string) (core.DeleteTenantReport, error)
	Ping(ctx context.Context) error
}

var _ Service = (*core.Service)(nil)

// Options configures the router.
type Options struct {
	Logger *slog.Logger
	// Registerer receives the HTTP collectors; Gatherer backs /metrics.
	// Both default to the prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// MaxUploadBytes caps the file part of an upload. Zero disables the cap.
	MaxUploadBytes int64
}

type handler struct {
	svc       Service
	logger    *slog.Logger
	maxUpload int64
}

// NewRouter builds the HTTP surface over svc.
func NewRouter(svc Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &handler{
		svc:       svc,
		logger:    logger.With(slog.String("component", "httpapi")),
		maxUpload: opts.MaxUploadBytes,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(h.logger))
	r.Use(newHTTPMetrics(reg).middleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/", h.root)
	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Post("/user", h.createTenant)
	r.Route("/user/{code}", func(r chi.Router) {
		r.Get("/", h.getTenant)
		r.Delete("/", h.deleteTenant)
		r.Get("/files", h.listFiles)
	})

	r.Post("/upload", h.upload)
	r.Route("/file/{fileID}", func(r chi.Router) {
		r.Get("/", h.getFile)
		r.Delete("/", h.deleteFile)
		r.Get("/download", h.download)
	})
	return r
}
