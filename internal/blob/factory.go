package blob

import (
	"context"
	"fmt"

	"filevault/internal/infra/blob/fs"
	"filevault/internal/infra/blob/memory"
	"filevault/internal/infra/blob/s3"
)

// Options selects and configures a backend.
type Options struct {
	Driver Driver
	// FSRoot is the base directory for the fs driver (default ./uploads).
	FSRoot string
	S3     s3.Config
}

// Open returns the Store selected by opts.Driver (default fs).
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverFilesystem:
		return fs.New(opts.FSRoot)
	case DriverS3:
		return s3.New(ctx, opts.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", opts.Driver)
	}
}
