package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestTenantConfigurationNormalize(t *testing.T) {
	cfg := TenantConfiguration{
		AllowedExtensions: []string{".PDF", "png", " ", "pdf", "Tar.GZ"},
		AllowedMediaTypes: []string{"Image/PNG", "image/png"},
	}.Normalize()
	if want := []string{"pdf", "png", "tar.gz"}; !reflect.DeepEqual(cfg.AllowedExtensions, want) {
		t.Fatalf("extensions = %v, want %v", cfg.AllowedExtensions, want)
	}
	if want := []string{"image/png"}; !reflect.DeepEqual(cfg.AllowedMediaTypes, want) {
		t.Fatalf("media types = %v, want %v", cfg.AllowedMediaTypes, want)
	}
	if got := (TenantConfiguration{}).Normalize(); got.AllowedExtensions != nil || got.AllowedMediaTypes != nil {
		t.Fatalf("expected nil lists to stay nil, got %+v", got)
	}
}

func TestTenantConfigurationUnmarshal(t *testing.T) {
	cases := map[string][]string{
		`{"allowed_extensions":["pdf","png"]}`: {"pdf", "png"},
		`{"allowed_extensions":"pdf,png"}`:     {"pdf", "png"},
		`{"allowed_extensions":null}`:          nil,
		`{}`:                                   nil,
	}
	for in, want := range cases {
		var cfg TenantConfiguration
		if err := json.Unmarshal([]byte(in), &cfg); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if !reflect.DeepEqual(cfg.AllowedExtensions, want) {
			t.Fatalf("%s: got %v want %v", in, cfg.AllowedExtensions, want)
		}
	}
	var cfg TenantConfiguration
	if err := json.Unmarshal([]byte(`{"allowed_extensions":5}`), &cfg); err == nil {
		t.Fatalf("expected error for numeric extensions")
	}
}

func TestFileRecordClone(t *testing.T) {
	tag := "invoice"
	rec := FileRecord{ID: "fs_1", Tag: &tag, Metadata: map[string]any{"a": 1}}
	cp := rec.Clone()
	*cp.Tag = "changed"
	cp.Metadata["a"] = 2
	if rec.TagValue() != "invoice" || rec.Metadata["a"] != 1 {
		t.Fatalf("clone shares state with original: %+v", rec)
	}
	if (FileRecord{}).TagValue() != "" {
		t.Fatalf("nil tag should read as empty")
	}
}

func TestErrorKinds(t *testing.T) {
	cause := fmt.Errorf("insert: %w", ErrConflict)
	err := NewError(KindDuplicateFile, "upload", cause, "file %q already exists", "a.pdf")
	wrapped := fmt.Errorf("handler: %w", err)
	if KindOf(wrapped) != KindDuplicateFile || !IsKind(wrapped, KindDuplicateFile) {
		t.Fatalf("kind not recovered from %v", wrapped)
	}
	if !errors.Is(wrapped, ErrConflict) {
		t.Fatalf("cause lost")
	}
	if !errors.Is(wrapped, &Error{Kind: KindDuplicateFile}) {
		t.Fatalf("kind match failed")
	}
	if errors.Is(wrapped, &Error{Kind: KindNotFound}) {
		t.Fatalf("unexpected kind match")
	}
	if got := err.Error(); got != `upload: file "a.pdf" already exists: insert: conflict` {
		t.Fatalf("unexpected message %q", got)
	}
	if KindOf(errors.New("plain")) != "" || IsKind(nil, KindNotFound) {
		t.Fatalf("plain errors carry no kind")
	}
	if (&Error{Kind: KindNotFound}).Error() != "not_found" {
		t.Fatalf("kind should be the fallback message")
	}
}
