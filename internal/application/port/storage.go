package port

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrObjectNotFound is returned when a key does not exist in the object store
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectExists is returned when a create-only write hits an existing key
	ErrObjectExists = errors.New("object already exists")
)

// PutObjectInput describes one create-only object write
type PutObjectInput struct {
	Key         string
	Content     []byte
	ContentType string
	// Digest is the hex SHA-256 of Content
	Digest   string
	Metadata map[string]string
}

// ObjectStore stores rendered documents. Writes must request server-side
// encryption and must never overwrite an existing key.
type ObjectStore interface {
	Put(ctx context.Context, in PutObjectInput) error
	Get(ctx context.Context, key string) ([]byte, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
