package blobstore

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is the artifact storage interface. Keys follow the
// "{owner}/{batch_id}/{artifact-type}/{filename}" scheme from the artifact
// package. No Store implementation deletes objects: raw inputs are kept
// forever and superseded artifacts are simply overwritten.
type Store interface {
	// Put streams an object into the store. Size is the exact byte count;
	// implementations must not buffer the whole payload in memory.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// Get opens an object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Stat returns object metadata without reading the payload.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// PresignGet returns a time-limited download URL for an object.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// List returns the keys under a prefix in lexical order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
