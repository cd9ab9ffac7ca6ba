// Package storage validates, routes and persists artifact bytes across
// interchangeable storage providers and hands back opaque references.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"atelier/internal/domain"
)

// ObjectMetadata describes a stored object without fetching its bytes.
type ObjectMetadata struct {
	Key          string
	ContentType  string
	Size         int64
	LastModified time.Time
}

// PresignedUpload describes a slot a client can upload into directly.
type PresignedUpload struct {
	URL       string
	Method    string
	Fields    map[string]string
	ExpiresAt time.Time
}

// Provider is implemented by each storage backend. Implementations must
// re-check key safety even though the manager already enforces it; a
// provider is never allowed to trust its caller with path construction.
type Provider interface {
	Name() string
	// Upload writes content under key and returns a resolvable URL.
	Upload(ctx context.Context, key string, content []byte, contentType string, metadata map[string]string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedUpload, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Delete removes the object and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Metadata(ctx context.Context, key string) (*ObjectMetadata, error)
}

// ValidateKey is the key-safety choke point. Any key that could escape the
// provider's root (parent references, absolute paths, backslash separators)
// is rejected before reaching provider I/O.
func ValidateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: empty key", domain.ErrUnsafeStorageKey)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: absolute path %q", domain.ErrUnsafeStorageKey, key)
	}
	if strings.Contains(key, "\\") {
		return fmt.Errorf("%w: backslash separator in %q", domain.ErrUnsafeStorageKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: parent reference in %q", domain.ErrUnsafeStorageKey, key)
		}
		if segment == "" {
			return fmt.Errorf("%w: empty path segment in %q", domain.ErrUnsafeStorageKey, key)
		}
	}
	return nil
}

func storageErr(provider, op, key string, err error) error {
	return &domain.StorageError{Provider: provider, Op: op, Key: key, Err: err}
}
