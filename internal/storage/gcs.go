package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// ProviderGCS is the provider name for Google Cloud Storage.
const ProviderGCS = "gcs"

// GCSStore handles uploads and downloads to a Google Cloud Storage bucket.
// Credentials come from the ambient application-default chain.
type GCSStore struct {
	bucket string
	client *gcs.Client
	log    zerolog.Logger
}

// NewGCSStore builds a GCS provider for the given bucket.
func NewGCSStore(ctx context.Context, bucket string, log zerolog.Logger) (*GCSStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: gcs bucket is required")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{
		bucket: bucket,
		client: client,
		log:    log.With().Str("component", "gcs-storage").Logger(),
	}, nil
}

func (s *GCSStore) Name() string { return ProviderGCS }

func (s *GCSStore) object(key string) *gcs.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(key)
}

func (s *GCSStore) Upload(ctx context.Context, key string, content []byte, contentType string, metadata map[string]string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	w := s.object(key).NewWriter(ctx)
	w.ContentType = contentType
	if len(metadata) > 0 {
		w.Metadata = metadata
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return "", storageErr(ProviderGCS, "upload", key, err)
	}
	if err := w.Close(); err != nil {
		return "", storageErr(ProviderGCS, "upload", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

func (s *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		return nil, storageErr(ProviderGCS, "download", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, storageErr(ProviderGCS, "download", key, err)
	}
	return data, nil
}

func (s *GCSStore) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedUpload, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Method:      "PUT",
		Expires:     time.Now().UTC().Add(ttl),
		ContentType: contentType,
		Scheme:      gcs.SigningSchemeV4,
	})
	if err != nil {
		return nil, storageErr(ProviderGCS, "presign-upload", key, err)
	}
	return &PresignedUpload{
		URL:       url,
		Method:    "PUT",
		Fields:    map[string]string{"Content-Type": contentType},
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

func (s *GCSStore) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().UTC().Add(ttl),
		Scheme:  gcs.SigningSchemeV4,
	})
	if err != nil {
		return "", storageErr(ProviderGCS, "presign-download", key, err)
	}
	return url, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if err := s.object(key).Delete(ctx); err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, storageErr(ProviderGCS, "delete", key, err)
	}
	return true, nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	_, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, storageErr(ProviderGCS, "exists", key, err)
	}
	return true, nil
}

func (s *GCSStore) Metadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	attrs, err := s.object(key).Attrs(ctx)
	if err != nil {
		return nil, storageErr(ProviderGCS, "metadata", key, err)
	}
	return &ObjectMetadata{
		Key:          key,
		ContentType:  attrs.ContentType,
		Size:         attrs.Size,
		LastModified: attrs.Updated.UTC(),
	}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error { return s.client.Close() }

var _ Provider = (*GCSStore)(nil)
