package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	blobcore "filevault/internal/blob/core"
	"filevault/pkg/domain"
)

// UploadRequest is a single file submitted by a tenant.
type UploadRequest struct {
	TenantCode string
	Filename   string
	Tag        *string
	Content    io.Reader
}

// UploadResult describes a committed upload. Path is the resolved absolute
// location of the stored blob.
type UploadResult struct {
	ID        string  `json:"id"`
	Filename  string  `json:"filename"`
	Size      int64   `json:"size"`
	MediaType string  `json:"media_type"`
	Tag       *string `json:"tag"`
	Path      string  `json:"path"`
}

// UploadCoordinator turns an upload request into exactly one blob plus one
// metadata record, or into a rejection that leaves nothing behind.
type UploadCoordinator struct {
	*env
	sniffer  Sniffer
	paths    PathAllocator
	newID    func() string
	maxBytes int64
	unique   bool
}

// Upload runs the intake workflow. Once the blob is written the remaining
// steps ignore cancellation of ctx so the upload always ends committed or
// compensated.
func (c *UploadCoordinator) Upload(ctx context.Context, req UploadRequest) (_ UploadResult, err error) {
	const op = "upload"
	defer c.observe(ctx, op, time.Now(), &err)
	logger := c.logger.With(slog.String("tenant", req.TenantCode), slog.String("filename", req.Filename))

	tenant, err := c.tenantByCode(ctx, op, req.TenantCode)
	if err != nil {
		return UploadResult{}, err
	}
	if err := ValidateFilename(req.Filename); err != nil {
		return UploadResult{}, err
	}
	if err := ValidateTag(req.Tag); err != nil {
		return UploadResult{}, err
	}
	if err := CheckExtension(tenant.Configuration, req.Filename); err != nil {
		logger.InfoContext(ctx, "upload rejected", slog.String("reason", string(domain.KindOf(err))))
		return UploadResult{}, err
	}

	data, err := c.readContent(req.Content)
	if err != nil {
		return UploadResult{}, err
	}
	mediaType := c.sniffer.Sniff(data)
	if err := CheckMediaType(tenant.Configuration, mediaType); err != nil {
		logger.InfoContext(ctx, "upload rejected",
			slog.String("reason", string(domain.KindOf(err))), slog.String("media_type", mediaType))
		return UploadResult{}, err
	}

	if c.unique {
		_, err := c.store.FileByName(ctx, tenant.ID, req.Filename)
		switch {
		case err == nil:
			return UploadResult{}, duplicateError(req.Filename, nil)
		case !errors.Is(err, domain.ErrNotFound):
			return UploadResult{}, domain.NewError(domain.KindMetadataReadFailed, op, err, "check duplicate %q", req.Filename)
		}
	}

	key := c.paths.Allocate(tenant.Code, req.Filename, c.now())
	if _, err := c.blobs.Put(ctx, key, bytes.NewReader(data), blobcore.PutOptions{ContentType: mediaType}); err != nil {
		switch {
		case errors.Is(err, blobcore.ErrExists):
			return UploadResult{}, duplicateError(req.Filename, err)
		case errors.Is(err, blobcore.ErrInvalidKey):
			return UploadResult{}, domain.NewError(domain.KindInvalidInput, op, err, "unusable storage key %q", key)
		}
		return UploadResult{}, domain.NewError(domain.KindStorageWriteFailed, op, err, "write %s", key)
	}

	ctx = context.WithoutCancel(ctx)
	rec := domain.FileRecord{
		ID:           c.newID(),
		TenantID:     tenant.ID,
		Filename:     req.Filename,
		Size:         int64(len(data)),
		MediaType:    mediaType,
		Tag:          normalizeTag(req.Tag),
		RelativePath: key,
		Metadata:     map[string]any{},
	}
	rec, err = c.store.CreateFile(ctx, rec, domain.CreateFileOptions{UniqueFilename: c.unique})
	if err != nil {
		c.compensate(ctx, key)
		switch {
		case errors.Is(err, domain.ErrConflict):
			return UploadResult{}, duplicateError(req.Filename, err)
		case errors.Is(err, domain.ErrNotFound):
			return UploadResult{}, domain.NewError(domain.KindNotFound, op, err, "tenant %s not found", tenant.Code)
		}
		return UploadResult{}, domain.NewError(domain.KindMetadataWriteFailed, op, err, "record %s", key)
	}

	location, err := c.blobs.Resolve(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "resolve stored blob failed", slog.String("path", key), slog.Any("error", err))
		location = key
	}
	if r, ok := c.metrics.(StorageEventRecorder); ok {
		r.StoredBytes(rec.Size)
	}
	logger.InfoContext(ctx, "upload committed",
		slog.String("file_id", rec.ID), slog.String("path", key), slog.Int64("size", rec.Size))
	return UploadResult{
		ID:        rec.ID,
		Filename:  rec.Filename,
		Size:      rec.Size,
		MediaType: rec.MediaType,
		Tag:       rec.Tag,
		Path:      location,
	}, nil
}

func (c *UploadCoordinator) readContent(r io.Reader) ([]byte, error) {
	if r == nil {
		return []byte{}, nil
	}
	if c.maxBytes > 0 {
		r = io.LimitReader(r, c.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidInput, "upload", err, "read upload body")
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, domain.NewError(domain.KindTooLarge, "upload", nil, "upload exceeds %d bytes", c.maxBytes)
	}
	return data, nil
}

// compensate removes a blob whose record could not be committed.
func (c *UploadCoordinator) compensate(ctx context.Context, key string) {
	if _, err := c.blobs.Delete(ctx, key); err != nil {
		c.orphaned(ctx, key, err)
		return
	}
	c.logger.DebugContext(ctx, "compensated uncommitted blob", slog.String("path", key))
}

func duplicateError(filename string, cause error) error {
	return domain.NewError(domain.KindDuplicateFile, "upload", cause, "file %q already exists", filename)
}

func normalizeTag(tag *string) *string {
	if tag == nil || *tag == "" {
		return nil
	}
	v := *tag
	return &v
}
