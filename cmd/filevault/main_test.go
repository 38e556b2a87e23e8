package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"filevault/internal/config"
	"filevault/internal/core"
	"filevault/pkg/domain"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		BlobDriver:        "memory",
		MetadataDriver:    "memory",
		CacheDriver:       "lru",
		CacheSize:         16,
		CacheTTL:          time.Minute,
		LogLevel:          "debug",
		LogFormat:         "json",
		MaxUploadBytes:    1 << 20,
		UniqueFilenames:   true,
		Timezone:          "UTC",
		DeleteConcurrency: 2,
		ShutdownTimeout:   time.Second,
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"serve", "migrate"}, names)
}

func TestBuildAppWiresMemoryBackends(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	a, err := buildApp(ctx, memoryConfig(t), logger, reg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	tenant, err := a.svc.CreateTenant(ctx, domain.TenantConfiguration{AllowedExtensions: []string{"txt"}})
	require.NoError(t, err)

	res, err := a.svc.Upload(ctx, core.UploadRequest{
		TenantCode: tenant.Code,
		Filename:   "notes.txt",
		Content:    strings.NewReader("hello"),
	})
	require.NoError(t, err)
	require.Equal(t, "text/plain", res.MediaType)
	require.True(t, strings.HasPrefix(res.Path, "mem://"+tenant.Code+"/"), res.Path)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "filevault_operations_total" {
			found = true
		}
	}
	require.True(t, found, "service metrics registered on the supplied registry")
}

func TestBuildAppUnknownMetadataDriver(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.MetadataDriver = "mongo"
	_, err := buildApp(context.Background(), cfg, slog.Default(), prometheus.NewRegistry())
	require.ErrorContains(t, err, "unknown metadata driver")
}

func TestMigrateCommandSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "meta", "filevault.db")
	t.Setenv("FILEVAULT_METADATA_DRIVER", "sqlite")
	t.Setenv("FILEVAULT_SQLITE_PATH", dbPath)
	t.Setenv("FILEVAULT_LOG_LEVEL", "error")

	root := newRootCommand()
	root.SetArgs([]string{"migrate"})
	root.SetOut(&bytes.Buffer{})
	require.NoError(t, root.Execute())
	require.FileExists(t, dbPath)
}

func TestMigrateCommandRejectsMemoryDriver(t *testing.T) {
	t.Setenv("FILEVAULT_METADATA_DRIVER", "memory")
	t.Setenv("FILEVAULT_LOG_LEVEL", "error")

	root := newRootCommand()
	root.SetArgs([]string{"migrate"})
	require.ErrorContains(t, root.Execute(), "no schema to migrate")
}

func TestServeStopsOnContextCancel(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.HTTPAddr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
