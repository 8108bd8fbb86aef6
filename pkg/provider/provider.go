// Package provider defines the object storage backends artifacts move
// through.
//
// Providers expose a small key/value surface. Keys are slash separated and
// relative to the provider's configured root (bucket prefix, base dir or
// storage element URL). Authentication follows each backend's default
// mechanism; providers do not implement custom auth logic.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider moves whole objects in and out of a storage backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// GetObject streams an object. The caller closes the body.
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)

	// PutObject creates or overwrites an object. contentLength may be -1
	// when unknown.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error

	// DeleteObject removes an object. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, key string) error

	// Close releases any resources held by the provider.
	Close() error
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	// Key is the object key relative to the provider root.
	Key string

	Size int64

	// ETag is the entity tag, when the backend has one.
	ETag string

	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
type ObjectMeta struct {
	ObjectSummary

	ContentType string
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderFile is a local or network-mounted directory.
	ProviderFile ProviderType = "file"

	// ProviderS3 represents AWS S3 or S3-compatible storage via the AWS SDK.
	ProviderS3 ProviderType = "s3"

	// ProviderMinio represents an S3-compatible store via the MinIO client.
	ProviderMinio ProviderType = "minio"

	// ProviderGfal represents a grid storage element driven by gfal2 tools.
	ProviderGfal ProviderType = "gfal"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
