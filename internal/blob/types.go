// Package blob is the entry point to the archive object stores. Callers
// depend on Store; the drivers under internal/infra/blob are only reachable
// through this package.
package blob

import (
	"plcserver/internal/blob/core"
)

type (
	// Driver identifies a store driver.
	Driver = core.Driver
	// PutOptions configures a write.
	PutOptions = core.PutOptions
	// Info describes a stored object.
	Info = core.Info
	// Store is the object store contract.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrExists     = core.ErrExists
	ErrNotFound   = core.ErrNotFound
	ErrInvalidKey = core.ErrInvalidKey
)
