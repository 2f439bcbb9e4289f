// Package blob stores encrypted video payloads in S3-compatible object
// storage. Clients never stream video through the service: they upload and
// download directly against presigned URLs.
package blob

import (
	"context"
	"time"
)

// Store issues presigned URLs for direct client access and deletes objects
// when a message is removed.
type Store interface {
	// PutURL returns a presigned upload URL for the given storage key.
	PutURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// GetURL returns a presigned download URL for the given storage key.
	GetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
