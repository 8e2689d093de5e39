package storage

import "context"

// Store is an object store for synthesized audio. Objects are written
// once under a content-derived key and served to callers by URL.
type Store interface {
	// Exists reports whether the named key is already present.
	// A missing key is not an error.
	Exists(ctx context.Context, key string) (bool, error)

	// Put writes the object under key with the given content type.
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// URL returns the public URL for key. It does not check existence.
	URL(key string) string
}
