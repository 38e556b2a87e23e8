package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"filevault/pkg/domain"
)

// DeletionCoordinator removes files and tenants together with their blobs.
type DeletionCoordinator struct {
	*env
	concurrency int
}

// FileFailure records a file whose cleanup did not complete during tenant
// deletion.
type FileFailure struct {
	FileID string `json:"file_id,omitempty"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// DeleteTenantReport summarises a tenant deletion.
type DeleteTenantReport struct {
	TenantCode   string        `json:"code"`
	FilesDeleted int           `json:"files_deleted"`
	BlobsSwept   int           `json:"blobs_swept"`
	Failures     []FileFailure `json:"failures,omitempty"`
}

// DeleteFile removes the blob and then the record of file id. A failed blob
// delete leaves the record in place so the call can be retried.
func (d *DeletionCoordinator) DeleteFile(ctx context.Context, id string) (err error) {
	const op = "delete_file"
	defer d.observe(ctx, op, time.Now(), &err)
	rec, err := d.fileByID(ctx, op, id)
	if err != nil {
		return err
	}
	if _, err := d.blobs.Delete(ctx, rec.RelativePath); err != nil {
		return domain.NewError(domain.KindStorageWriteFailed, op, err, "delete blob %s", rec.RelativePath)
	}
	// The blob is gone; finish regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	if err := d.store.DeleteFile(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		d.logger.ErrorContext(ctx, "file record outlived its blob",
			slog.String("file_id", id), slog.String("path", rec.RelativePath), slog.Any("error", err))
		return domain.NewError(domain.KindMetadataWriteFailed, op, err, "delete record %s", id)
	}
	d.logger.InfoContext(ctx, "file deleted", slog.String("file_id", id), slog.String("path", rec.RelativePath))
	return nil
}

// DeleteTenant removes every file of the tenant on a bounded worker pool,
// sweeps the tenant's storage subtree and deletes the tenant record. Per file
// failures are collected into the report and returned as an
// orphan_cleanup_failed error; they never stop the remaining work.
func (d *DeletionCoordinator) DeleteTenant(ctx context.Context, code string) (report DeleteTenantReport, err error) {
	const op = "delete_tenant"
	defer d.observe(ctx, op, time.Now(), &err)
	report.TenantCode = code
	if code == "" {
		return report, domain.NewError(domain.KindInvalidInput, op, nil, "tenant code is required")
	}
	tenant, err := d.store.TenantByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return report, domain.NewError(domain.KindNotFound, op, err, "tenant %s not found", code)
	}
	if err != nil {
		return report, domain.NewError(domain.KindMetadataReadFailed, op, err, "load tenant %s", code)
	}
	files, err := d.store.ListFiles(ctx, tenant.ID)
	if err != nil {
		return report, domain.NewError(domain.KindMetadataReadFailed, op, err, "list files of %s", code)
	}

	ctx = context.WithoutCancel(ctx)
	logger := d.logger.With(slog.String("tenant", code))

	var (
		mu       sync.Mutex
		failures []FileFailure
		causes   []error
		leftover []string
		deleted  int
	)
	fail := func(f FileFailure, cause error) {
		mu.Lock()
		defer mu.Unlock()
		f.Error = cause.Error()
		failures = append(failures, f)
		causes = append(causes, cause)
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, rec := range files {
		g.Go(func() error {
			if _, err := d.blobs.Delete(ctx, rec.RelativePath); err != nil {
				logger.WarnContext(ctx, "blob delete failed", slog.String("path", rec.RelativePath), slog.Any("error", err))
				fail(FileFailure{FileID: rec.ID, Path: rec.RelativePath}, fmt.Errorf("delete blob %s: %w", rec.RelativePath, err))
				mu.Lock()
				leftover = append(leftover, rec.RelativePath)
				mu.Unlock()
				return nil
			}
			if err := d.store.DeleteFile(ctx, rec.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
				logger.WarnContext(ctx, "record delete failed", slog.String("file_id", rec.ID), slog.Any("error", err))
				fail(FileFailure{FileID: rec.ID, Path: rec.RelativePath}, fmt.Errorf("delete record %s: %w", rec.ID, err))
				return nil
			}
			mu.Lock()
			deleted++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	prefix := TenantPrefix(code)
	swept, sweepErr := d.blobs.DeletePrefix(ctx, prefix)
	if sweepErr != nil {
		logger.WarnContext(ctx, "storage sweep failed", slog.String("prefix", prefix), slog.Any("error", sweepErr))
		fail(FileFailure{Path: prefix}, fmt.Errorf("sweep %s: %w", prefix, sweepErr))
	}
	report.FilesDeleted = deleted
	report.BlobsSwept = swept
	report.Failures = failures

	if err := d.store.DeleteTenant(ctx, tenant.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		d.invalidateTenant(ctx, code)
		return report, domain.NewError(domain.KindMetadataWriteFailed, op, err, "delete tenant %s", code)
	}
	d.invalidateTenant(ctx, code)

	if len(failures) > 0 {
		if sweepErr != nil {
			for _, key := range leftover {
				d.orphaned(ctx, key, sweepErr)
			}
		}
		return report, domain.NewError(domain.KindOrphanCleanupFailed, op, errors.Join(causes...),
			"tenant %s deleted with %d cleanup failures", code, len(failures))
	}
	logger.InfoContext(ctx, "tenant deleted",
		slog.Int("files_deleted", deleted), slog.Int("blobs_swept", swept))
	return report, nil
}
