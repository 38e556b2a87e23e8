package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"filevault/internal/blob/core"
)

func TestStore_MissingKeys(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected head not found, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected get not found, got %v", err)
	}
	if _, err := store.Resolve(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected resolve not found, got %v", err)
	}
	if ok, err := store.Delete(ctx, "missing"); err != nil || ok {
		t.Fatalf("delete of missing key should be a no-op")
	}
}

func TestStore_Lifecycle(t *testing.T) { //nolint:cyclop
	store := New()
	ctx := context.Background()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver")
	}
	md := map[string]string{"a": "1"}
	info, err := store.Put(ctx, "t/2024/May/k.txt", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "text/plain", Metadata: md})
	if err != nil || info.Size != 5 || info.ETag == "" {
		t.Fatalf("put: %v %+v", err, info)
	}
	md["a"] = "mutated"
	if _, err := store.Put(ctx, "t/2024/May/k.txt", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	got, rc, err := store.Get(ctx, "t/2024/May/k.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "hello" || got.Metadata["a"] != "1" {
		t.Fatalf("unexpected get %q %+v", b, got)
	}
	loc, err := store.Resolve(ctx, "t/2024/May/k.txt")
	if err != nil || loc != "mem://t/2024/May/k.txt" {
		t.Fatalf("resolve: %v %s", err, loc)
	}
	if _, err := store.Put(ctx, "t/2024/May/j.txt", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put2: %v", err)
	}
	if _, err := store.Put(ctx, "u/2024/May/j.txt", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put3: %v", err)
	}
	list, err := store.List(ctx, "t/")
	if err != nil || len(list) != 2 || list[0].Key != "t/2024/May/j.txt" {
		t.Fatalf("list: %v %+v", err, list)
	}
	n, err := store.DeletePrefix(ctx, "t")
	if err != nil || n != 2 {
		t.Fatalf("delete prefix: %v %d", err, n)
	}
	if all, _ := store.List(ctx, ""); len(all) != 1 {
		t.Fatalf("expected one survivor, got %+v", all)
	}
	if ok, err := store.Delete(ctx, "u/2024/May/j.txt"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
}

func TestStore_RejectsInvalidKeys(t *testing.T) {
	store := New()
	for _, key := range []string{"", "../x", "/abs"} {
		if _, err := store.Put(context.Background(), key, bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("expected invalid key for %q, got %v", key, err)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read boom") }

func TestStore_PutReadError(t *testing.T) {
	store := New()
	if _, err := store.Put(context.Background(), "t/x", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	if list, _ := store.List(context.Background(), ""); len(list) != 0 {
		t.Fatalf("failed put must not store anything")
	}
}
