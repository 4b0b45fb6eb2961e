package manifest

import (
	"context"
	"errors"
)

var (
	// ErrBlobNotFound is returned by Read when the manifest does not exist yet.
	ErrBlobNotFound = errors.New("manifest blob not found")

	// ErrPreconditionFailed is returned by Write when the stored generation no
	// longer matches the one the caller read.
	ErrPreconditionFailed = errors.New("manifest blob precondition failed")
)

// Blob is a snapshot of the stored manifest.
type Blob struct {
	Data []byte

	// Generation identifies this exact version of the object. It is opaque
	// to callers and only passed back to Write.
	Generation string
}

// BlobStore is a single object supporting conditional writes.
type BlobStore interface {
	// Read returns the current object, or ErrBlobNotFound.
	Read(ctx context.Context) (*Blob, error)

	// Write stores data if the object is still at ifGeneration. An empty
	// ifGeneration requires that the object does not exist. Returns the new
	// generation, or ErrPreconditionFailed.
	Write(ctx context.Context, data []byte, ifGeneration string) (string, error)

	// Location returns the URI of the object.
	Location() string
}
