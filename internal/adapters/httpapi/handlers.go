package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"filevault/internal/core"
	"filevault/pkg/domain"
)

const (
	// multipartMemory is how much of a multipart body is buffered in memory
	// before spilling to temp files.
	multipartMemory = 8 << 20
	// formOverhead allows for the non-file fields and multipart framing.
	formOverhead = 1 << 20
	pingTimeout  = 2 * time.Second
)

type tenantResponse struct {
	ID            string                     `json:"id"`
	Code          string                     `json:"code"`
	Configuration domain.TenantConfiguration `json:"configuration"`
}

func newTenantResponse(t domain.Tenant) tenantResponse {
	return tenantResponse{ID: t.ID.String(), Code: t.Code, Configuration: t.Configuration}
}

type createTenantRequest struct {
	Configuration domain.TenantConfiguration `json:"configuration"`
}

func (h *handler) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "File Management Service is running"})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	if err := h.svc.Ping(ctx); err != nil {
		h.logger.WarnContext(r.Context(), "readiness check failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "fail", "message": "metadata store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, formOverhead))
	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid JSON body: "+err.Error())
		return
	}
	t, err := h.svc.CreateTenant(r.Context(), req.Configuration)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTenantResponse(t))
}

func (h *handler) getTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTenant(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTenantResponse(t))
}

func (h *handler) listFiles(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	files, err := h.svc.ListFiles(r.Context(), code)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "files": files})
}

func (h *handler) deleteTenant(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.DeleteTenant(r.Context(), chi.URLParam(r, "code"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case domain.IsKind(err, domain.KindOrphanCleanupFailed):
		h.logger.WarnContext(r.Context(), "tenant deleted with cleanup failures",
			slog.String("tenant", report.TenantCode), slog.Int("failures", len(report.Failures)))
		writeJSON(w, http.StatusMultiStatus, report)
	default:
		h.writeDomainError(w, r, err)
	}
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+formOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "upload exceeds "+strconv.FormatInt(h.maxUpload, 10)+" bytes")
			return
		}
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "expected multipart/form-data body")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "form field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	req := core.UploadRequest{
		TenantCode: r.FormValue("code"),
		Filename:   header.Filename,
		Content:    file,
	}
	if values, ok := r.MultipartForm.Value["tag"]; ok && len(values) > 0 {
		tag := values[0]
		req.Tag = &tag
	}
	res, err := h.svc.Upload(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) getFile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetFile(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	stored, err := h.svc.OpenFile(r.Context(), chi.URLParam(r, "fileID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	defer func() { _ = stored.Body.Close() }()

	w.Header().Set("Content-Type", stored.Record.MediaType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": stored.Record.Filename}))
	w.Header().Set("Content-Length", strconv.FormatInt(stored.Record.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, stored.Body); err != nil {
		h.logger.WarnContext(r.Context(), "download interrupted",
			slog.String("file_id", stored.Record.ID), slog.Any("error", err))
	}
}

func (h *handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteFile(r.Context(), chi.URLParam(r, "fileID")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
