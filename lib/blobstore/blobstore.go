// Package blobstore abstracts the remote store that mirrored
// artifacts land in. The operations mirror what a path-based disk API
// offers; the s3 backend maps them onto a flat keyspace.
package blobstore

import "context"

type Store interface {
	// Exists reports whether a blob is already present at path and, if
	// it has been published, its public URL.
	Exists(ctx context.Context, path string) (exists bool, publicUrl string, err error)
	// EnsureDir creates the parent folder when the backend has the
	// notion; an already-existing folder is not an error.
	EnsureDir(ctx context.Context, dir string) error
	// Upload writes the blob, overwriting whatever is at path.
	Upload(ctx context.Context, path string, contents []byte) error
	// Publish makes the blob publicly reachable.
	Publish(ctx context.Context, path string) error
	// PublicURL returns the public URL of an already-published blob.
	PublicURL(ctx context.Context, path string) (string, error)
}
