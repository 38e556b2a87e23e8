package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"filevault/internal/adapters/httpapi"
	"filevault/internal/core"
	blobmem "filevault/internal/infra/blob/memory"
	metamem "filevault/internal/infra/persistence/memory"
	"filevault/pkg/domain"
)

var pdfBytes = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")

type tenantBody struct {
	ID            string                     `json:"id"`
	Code          string                     `json:"code"`
	Configuration domain.TenantConfiguration `json:"configuration"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func setupRouter(t *testing.T, maxUpload int64) (http.Handler, *metamem.Store) {
	t.Helper()
	meta := metamem.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := core.NewService(meta, blobmem.New(),
		core.WithLogger(logger),
		core.WithClock(func() time.Time { return time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC) }),
		core.WithLocation(time.UTC),
		core.WithMaxUploadBytes(maxUpload),
	)
	reg := prometheus.NewRegistry()
	return httpapi.NewRouter(svc, httpapi.Options{
		Logger:         logger,
		Registerer:     reg,
		Gatherer:       reg,
		MaxUploadBytes: maxUpload,
	}), meta
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, resp.Body.String())
	}
	return out
}

func createTenant(t *testing.T, h http.Handler, body string) tenantBody {
	t.Helper()
	resp := do(t, h, httptest.NewRequest(http.MethodPost, "/user", strings.NewReader(body)))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create tenant status %d: %s", resp.Code, resp.Body.String())
	}
	return decode[tenantBody](t, resp)
}

func uploadRequest(t *testing.T, code, tag, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if code != "" {
		_ = mw.WriteField("code", code)
	}
	if tag != "" {
		_ = mw.WriteField("tag", tag)
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRoot(t *testing.T) {
	h, _ := setupRouter(t, 0)
	resp := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "running") {
		t.Fatalf("unexpected root response %d %s", resp.Code, resp.Body.String())
	}
}

func TestTenantEndpoints(t *testing.T) {
	h, _ := setupRouter(t, 0)
	created := createTenant(t, h, `{"configuration":{"allowed_extensions":["PDF",".png"]}}`)
	if len(created.Code) != 8 || created.ID == "" {
		t.Fatalf("unexpected tenant %+v", created)
	}
	if got := created.Configuration.AllowedExtensions; len(got) != 2 || got[0] != "pdf" || got[1] != "png" {
		t.Fatalf("extensions not normalised: %v", got)
	}

	resp := do(t, h, httptest.NewRequest(http.MethodGet, "/user/"+created.Code, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("get tenant status %d", resp.Code)
	}
	if got := decode[tenantBody](t, resp); got.ID != created.ID {
		t.Fatalf("unexpected tenant %+v", got)
	}

	resp = do(t, h, httptest.NewRequest(http.MethodGet, "/user/missing0", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if env := decode[errorEnvelope](t, resp); env.Error.Code != "NOT_FOUND" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	resp = do(t, h, httptest.NewRequest(http.MethodPost, "/user", strings.NewReader("{")))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", resp.Code)
	}
}

func TestLegacyCommaSeparatedExtensions(t *testing.T) {
	h, _ := setupRouter(t, 0)
	created := createTenant(t, h, `{"configuration":{"allowed_extensions":"pdf,txt"}}`)
	if got := created.Configuration.AllowedExtensions; len(got) != 2 || got[1] != "txt" {
		t.Fatalf("unexpected extensions %v", got)
	}
}

func TestUploadDownloadDelete(t *testing.T) { //nolint:cyclop
	h, _ := setupRouter(t, 0)
	tenant := createTenant(t, h, `{"configuration":{"allowed_extensions":["pdf"]}}`)

	resp := do(t, h, uploadRequest(t, tenant.Code, "invoices", "report.pdf", pdfBytes))
	if resp.Code != http.StatusCreated {
		t.Fatalf("upload status %d: %s", resp.Code, resp.Body.String())
	}
	res := decode[core.UploadResult](t, resp)
	if res.MediaType != "application/pdf" || res.Size != int64(len(pdfBytes)) || res.Tag == nil || *res.Tag != "invoices" {
		t.Fatalf("unexpected upload result %+v", res)
	}
	if res.Path != "mem://"+tenant.Code+"/2024/March/report.pdf" {
		t.Fatalf("unexpected path %s", res.Path)
	}

	resp = do(t, h, httptest.NewRequest(http.MethodGet, "/file/"+res.ID, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("get file status %d", resp.Code)
	}
	if rec := decode[domain.FileRecord](t, resp); rec.RelativePath != tenant.Code+"/2024/March/report.pdf" {
		t.Fatalf("unexpected record %+v", rec)
	}

	resp = do(t, h, httptest.NewRequest(http.MethodGet, "/file/"+res.ID+"/download", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("download status %d", resp.Code)
	}
	if !bytes.Equal(resp.Body.Bytes(), pdfBytes) {
		t.Fatalf("downloaded content differs")
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != `attachment; filename=report.pdf` {
		t.Fatalf("unexpected disposition %q", cd)
	}

	resp = do(t, h, httptest.NewRequest(http.MethodGet, "/user/"+tenant.Code+"/files", nil))
	listing := decode[struct {
		Files []domain.FileRecord `json:"files"`
	}](t, resp)
	if len(listing.Files) != 1 {
		t.Fatalf("expected one file, got %d", len(listing.Files))
	}

	resp = do(t, h, httptest.NewRequest(http.MethodDelete, "/file/"+res.ID, nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", resp.Code)
	}
	resp = do(t, h, httptest.NewRequest(http.MethodGet, "/file/"+res.ID+"/download", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
}

func TestUploadStatusMapping(t *testing.T) {
	h, _ := setupRouter(t, 64)
	tenant := createTenant(t, h, `{"configuration":{"allowed_extensions":["pdf"],"allowed_media_types":["application/pdf"]}}`)
	if resp := do(t, h, uploadRequest(t, tenant.Code, "", "ok.pdf", pdfBytes)); resp.Code != http.StatusCreated {
		t.Fatalf("seed upload status %d: %s", resp.Code, resp.Body.String())
	}

	cases := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"unknown tenant", uploadRequest(t, "missing0", "", "a.pdf", pdfBytes), http.StatusNotFound, "NOT_FOUND"},
		{"extension", uploadRequest(t, tenant.Code, "", "a.exe", pdfBytes), http.StatusUnsupportedMediaType, "EXTENSION_NOT_ALLOWED"},
		{"media type", uploadRequest(t, tenant.Code, "", "a.pdf", []byte("just text")), http.StatusUnsupportedMediaType, "MEDIA_TYPE_NOT_ALLOWED"},
		{"duplicate", uploadRequest(t, tenant.Code, "", "ok.pdf", pdfBytes), http.StatusConflict, "DUPLICATE_FILE"},
		{"too large", uploadRequest(t, tenant.Code, "", "big.pdf", append(append([]byte{}, pdfBytes...), bytes.Repeat([]byte("x"), 64)...)), http.StatusRequestEntityTooLarge, "TOO_LARGE"},
		{"missing file", uploadRequest(t, tenant.Code, "", "", nil), http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, h, tc.req)
			if resp.Code != tc.status {
				t.Fatalf("status %d, want %d: %s", resp.Code, tc.status, resp.Body.String())
			}
			if env := decode[errorEnvelope](t, resp); env.Error.Code != tc.code {
				t.Fatalf("code %q, want %q", env.Error.Code, tc.code)
			}
		})
	}
}

func TestUploadRejectsNonMultipart(t *testing.T) {
	h, _ := setupRouter(t, 0)
	resp := do(t, h, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("raw")))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestDeleteTenant(t *testing.T) {
	h, meta := setupRouter(t, 0)
	tenant := createTenant(t, h, `{"configuration":{"allowed_extensions":["pdf"]}}`)
	for _, name := range []string{"a.pdf", "b.pdf"} {
		if resp := do(t, h, uploadRequest(t, tenant.Code, "", name, pdfBytes)); resp.Code != http.StatusCreated {
			t.Fatalf("upload %s status %d", name, resp.Code)
		}
	}
	resp := do(t, h, httptest.NewRequest(http.MethodDelete, "/user/"+tenant.Code, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("delete tenant status %d: %s", resp.Code, resp.Body.String())
	}
	report := decode[core.DeleteTenantReport](t, resp)
	if report.FilesDeleted != 2 || len(report.Failures) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, err := meta.TenantByCode(context.Background(), tenant.Code); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("tenant still present: %v", err)
	}
	resp = do(t, h, httptest.NewRequest(http.MethodDelete, "/user/"+tenant.Code, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := setupRouter(t, 0)
	resp := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("health status %d", resp.Code)
	}
	resp = do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("metrics status %d", resp.Code)
	}
	body := resp.Body.String()
	if !strings.Contains(body, `filevault_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("request counter missing from exposition:\n%s", body)
	}
}

func TestUnknownRoute(t *testing.T) {
	h, _ := setupRouter(t, 0)
	resp := do(t, h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	resp = do(t, h, httptest.NewRequest(http.MethodPut, "/upload", nil))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}
