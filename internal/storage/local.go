package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// ProviderLocal is the provider name for local filesystem storage.
const ProviderLocal = "local"

// LocalStore persists artifacts onto the local filesystem. It is intended
// for development and test environments where an object storage service is
// not available.
type LocalStore struct {
	baseDir string
	baseURL string
}

// NewLocalStore initializes a LocalStore rooted at baseDir. baseURL is the
// public prefix objects resolve under.
func NewLocalStore(baseDir, baseURL string) (*LocalStore, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, errors.New("storage: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Name() string { return ProviderLocal }

// BaseDir returns the configured root directory.
func (s *LocalStore) BaseDir() string { return s.baseDir }

func (s *LocalStore) fullPath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(key)), nil
}

func (s *LocalStore) publicURL(key string) string {
	if s.baseURL == "" {
		return key
	}
	return s.baseURL + "/" + key
}

// Upload writes the bytes under key and returns the public URL.
func (s *LocalStore) Upload(ctx context.Context, key string, content []byte, contentType string, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", storageErr(ProviderLocal, "upload", key, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return "", storageErr(ProviderLocal, "upload", key, err)
	}
	return s.publicURL(key), nil
}

func (s *LocalStore) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, storageErr(ProviderLocal, "download", key, err)
	}
	return data, nil
}

// PresignUpload is unsupported: local storage has no signing authority, so
// clients must upload through the service.
func (s *LocalStore) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedUpload, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return nil, storageErr(ProviderLocal, "presign-upload", key, errors.New("not supported"))
}

// PresignDownload returns the public URL; local objects are served by the
// API's static file route and need no signature.
func (s *LocalStore) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return s.publicURL(key), nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, storageErr(ProviderLocal, "delete", key, err)
	}
	return true, nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, storageErr(ProviderLocal, "exists", key, err)
	}
	return true, nil
}

func (s *LocalStore) Metadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.fullPath(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, storageErr(ProviderLocal, "metadata", key, err)
	}
	contentType := ""
	if data, err := os.ReadFile(full); err == nil {
		contentType = mimetype.Detect(data).String()
	}
	return &ObjectMetadata{
		Key:          key,
		ContentType:  contentType,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
	}, nil
}

var _ Provider = (*LocalStore)(nil)
