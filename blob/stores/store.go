// Package stores provides an abstraction over durable storage systems for
// published dataset blobs.
package stores

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Store is a durable blob store to which staged blobs are published, and
// from which consumers retrieve them.
type Store interface {
	// Provider returns the name of the storage backend (e.g., "s3", "gcs", "azure", "fs").
	Provider() string

	// Exists checks if content exists at the given path.
	Exists(ctx context.Context, path string) (bool, error)

	// Get returns an io.ReadCloser of the raw content at the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Put durably writes content to the store at the given path.
	Put(ctx context.Context, path string, content io.ReaderAt, contentLength int64) error

	// List enumerates all objects under the given prefix. The callback
	// receives each object's path relative to the prefix, and its
	// modification time. If the callback returns an error, listing is
	// terminated and that error is returned.
	List(ctx context.Context, prefix string, callback func(path string, modTime time.Time) error) error

	// Remove deletes content at the given path.
	Remove(ctx context.Context, path string) error

	// IsAuthError returns true if the error represents an authorization
	// failure (e.g., missing permissions, bucket not found, access denied),
	// as distinct from transient errors.
	IsAuthError(error) bool
}

// Constructor is a function that creates a Store instance from a URL.
// Each storage backend provides its own constructor implementation.
type Constructor func(*url.URL) (Store, error)
