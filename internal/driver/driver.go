// Package driver defines the contract every storage backend implements
// The core invokes only these operations; no driver is ever
// downcast to a concrete type.
package driver

import (
	"context"
	"io"

	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

// ByteRange requests a partial read, inclusive of both ends.
type ByteRange struct {
	Start int64
	End   int64 // -1 means "to EOF"
}

// ProgressFunc reports bytes written so far during an upload.
type ProgressFunc func(written int64)

// ReadCloser is what open_reader returns: a byte stream plus Close.
type ReadCloser = io.ReadCloser

// WriteCloser is what open_writer returns: a byte sink plus Close, where
// Close commits the object.
type WriteCloser interface {
	io.Writer
	// Close commits the upload. Implementations must be safe to call
	// exactly once; callers must not write after Close.
	Close() error
	// Abort discards any partial upload state. Safe to call after a
	// context cancellation or client disconnect.
	Abort() error
}

// Driver is the uniform capability-typed interface every backend implements
// Implementations must consult their own Capability() before
// doing anything the core didn't already gate on it — but the core is the
// one responsible for not calling operations the capability forbids.
type Driver interface {
	// Name returns a human-readable display name.
	Name() string

	// Capabilities returns the driver's immutable capability set.
	Capabilities() gwtypes.Capability

	// List returns direct children of path. Empty slice for an empty dir;
	// an error if path is not a directory.
	List(ctx context.Context, path string) ([]gwtypes.Entry, error)

	// OpenReader returns a byte stream for path. If rng is non-nil and
	// Capabilities().CanRangeRead is false, callers must not invoke this
	// with a range — the core enforces that, not the driver.
	OpenReader(ctx context.Context, path string, rng *ByteRange) (ReadCloser, error)

	// OpenWriter returns a byte sink for path. sizeHint, if known ahead of
	// time, lets the driver pick a direct-PUT vs. multipart strategy;
	// -1 means the size is unknown ahead of time, 0 means a known-empty
	// file.
	OpenWriter(ctx context.Context, path string, sizeHint int64, progress ProgressFunc) (WriteCloser, error)

	// Delete recursively removes path.
	Delete(ctx context.Context, path string) error

	// CreateDir creates path, idempotently where the backend allows it.
	CreateDir(ctx context.Context, path string) error

	// Rename changes path's leaf name in place (same parent).
	Rename(ctx context.Context, path, newName string) error

	// MoveItem relocates src to dst, which may be in a different directory
	// within the same driver.
	MoveItem(ctx context.Context, src, dst string) error

	// CopyItem performs a server-side copy. Only called when
	// Capabilities().CanServerSideCopy is true.
	CopyItem(ctx context.Context, src, dst string) error

	// GetDirectLink returns a backend-served URL for path, or "" if the
	// driver has none for this path right now.
	GetDirectLink(ctx context.Context, path string) (string, error)

	// GetSpaceInfo returns used/total/free space, or nil if unavailable.
	GetSpaceInfo(ctx context.Context) (*gwtypes.SpaceInfo, error)

	// HealthCheck verifies the backend connection is usable.
	HealthCheck(ctx context.Context) error
}
