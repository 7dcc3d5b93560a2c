package blob

import (
	"context"
	"fmt"

	"plcserver/internal/infra/blob/fs"
	"plcserver/internal/infra/blob/memory"
	"plcserver/internal/infra/blob/s3"
)

// S3Config addresses an S3 or MinIO bucket.
type S3Config = s3.Config

// Options selects and configures a driver.
type Options struct {
	Driver Driver
	// FSRoot is the directory used by the fs driver.
	FSRoot string
	S3     S3Config
}

// Open returns the store named by opts.Driver (fs when empty).
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(opts.FSRoot)
	case DriverS3:
		st, err := s3.New(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem returns a store rooted at dir, creating it if needed.
func NewFilesystem(dir string) (Store, error) {
	st, err := fs.New(dir)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// NewMemory returns a process-local store.
func NewMemory() Store { return memory.New() }

// NewMockS3ForTests returns the S3 driver talking to an in-process fake
// bucket.
func NewMockS3ForTests() Store { return s3.NewMockForTests() }
