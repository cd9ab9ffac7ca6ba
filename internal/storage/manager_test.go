package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"atelier/internal/domain"
)

// fakeProvider records uploads and serves them back.
type fakeProvider struct {
	name    string
	objects map[string][]byte
	uploads int
	failIO  bool
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, objects: make(map[string][]byte)}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Upload(ctx context.Context, key string, content []byte, contentType string, metadata map[string]string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if f.failIO {
		return "", storageErr(f.name, "upload", key, errors.New("io failure"))
	}
	f.uploads++
	f.objects[key] = content
	return "https://" + f.name + ".test/" + key, nil
}

func (f *fakeProvider) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storageErr(f.name, "download", key, errors.New("missing"))
	}
	return data, nil
}

func (f *fakeProvider) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (*PresignedUpload, error) {
	return &PresignedUpload{URL: "https://" + f.name + ".test/" + key, Method: "PUT"}, nil
}

func (f *fakeProvider) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://" + f.name + ".test/" + key, nil
}

func (f *fakeProvider) Delete(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	delete(f.objects, key)
	return ok, nil
}

func (f *fakeProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeProvider) Metadata(ctx context.Context, key string) (*ObjectMetadata, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storageErr(f.name, "metadata", key, errors.New("missing"))
	}
	return &ObjectMetadata{Key: key, Size: int64(len(data))}, nil
}

// Tiny valid PNG header followed by padding; sniffs as image/png.
func pngBytes(size int) []byte {
	header := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	out := make([]byte, size)
	copy(out, header)
	return out
}

func newTestManager(t *testing.T, providers ...Provider) *Manager {
	t.Helper()
	if len(providers) == 0 {
		providers = []Provider{newFakeProvider("fake")}
	}
	rules := []RoutingRule{{Name: "default", Provider: providers[0].Name()}}
	m, err := NewManager(Config{
		MaxArtifactSize:     1 << 20,
		AllowedContentTypes: []string{"image/png", "video/mp4", "text/plain"},
		Rules:               rules,
	}, providers, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return m
}

func TestStoreArtifactReturnsReference(t *testing.T) {
	fake := newFakeProvider("fake")
	m := newTestManager(t, fake)

	ref, err := m.StoreArtifact(context.Background(), StoreRequest{
		ArtifactID:   "art-1",
		TenantID:     "tenant-1",
		BoardID:      "board-1",
		ArtifactType: domain.ArtifactTypeImage,
		ContentType:  "image/png",
		Content:      pngBytes(128),
	})
	if err != nil {
		t.Fatalf("StoreArtifact returned error: %v", err)
	}
	if ref.StorageProvider != "fake" {
		t.Fatalf("provider = %q, want fake", ref.StorageProvider)
	}
	if !strings.HasPrefix(ref.StorageKey, "tenant-1/image/board-1/art-1_") {
		t.Fatalf("unexpected key layout: %q", ref.StorageKey)
	}
	if !strings.HasSuffix(ref.StorageKey, "/original.png") {
		t.Fatalf("key missing variant leaf: %q", ref.StorageKey)
	}
	if ref.Size != 128 {
		t.Fatalf("size = %d, want 128", ref.Size)
	}
	if fake.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", fake.uploads)
	}
}

func TestStoreArtifactOmitsBoardSegmentWhenAbsent(t *testing.T) {
	m := newTestManager(t)
	ref, err := m.StoreArtifact(context.Background(), StoreRequest{
		ArtifactID:   "art-1",
		TenantID:     "tenant-1",
		ArtifactType: domain.ArtifactTypeText,
		ContentType:  "text/plain",
		Content:      []byte("hello artifacts"),
	})
	if err != nil {
		t.Fatalf("StoreArtifact returned error: %v", err)
	}
	if !strings.HasPrefix(ref.StorageKey, "tenant-1/text/art-1_") {
		t.Fatalf("unexpected key layout: %q", ref.StorageKey)
	}
}

func TestStoreArtifactRejectsDisallowedContentType(t *testing.T) {
	fake := newFakeProvider("fake")
	m := newTestManager(t, fake)
	_, err := m.StoreArtifact(context.Background(), StoreRequest{
		ArtifactID:   "art-1",
		TenantID:     "tenant-1",
		ArtifactType: domain.ArtifactTypeImage,
		ContentType:  "application/x-msdownload",
		Content:      pngBytes(64),
	})
	if !errors.Is(err, domain.ErrArtifactValidation) {
		t.Fatalf("error = %v, want ErrArtifactValidation", err)
	}
	if fake.uploads != 0 {
		t.Fatalf("validation failure reached the provider")
	}
}

func TestStoreArtifactRejectsOversizedPayload(t *testing.T) {
	fake := newFakeProvider("fake")
	m, err := NewManager(Config{
		MaxArtifactSize:     64,
		AllowedContentTypes: []string{"image/png"},
		Rules:               []RoutingRule{{Name: "default", Provider: "fake"}},
	}, []Provider{fake}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	_, err = m.StoreArtifact(context.Background(), StoreRequest{
		ArtifactID:   "art-1",
		TenantID:     "tenant-1",
		ArtifactType: domain.ArtifactTypeImage,
		ContentType:  "image/png",
		Content:      pngBytes(65),
	})
	if !errors.Is(err, domain.ErrArtifactValidation) {
		t.Fatalf("error = %v, want ErrArtifactValidation", err)
	}
	if fake.uploads != 0 {
		t.Fatalf("oversized payload reached the provider")
	}
}

func TestStoreArtifactRejectsContentTypeMismatch(t *testing.T) {
	m := newTestManager(t)
	_, err := m.StoreArtifact(context.Background(), StoreRequest{
		ArtifactID:   "art-1",
		TenantID:     "tenant-1",
		ArtifactType: domain.ArtifactTypeVideo,
		ContentType:  "video/mp4",
		Content:      pngBytes(64),
	})
	if !errors.Is(err, domain.ErrArtifactValidation) {
		t.Fatalf("error = %v, want ErrArtifactValidation", err)
	}
}

func TestRoutingFirstMatchWins(t *testing.T) {
	videos := newFakeProvider("videos")
	catchAll := newFakeProvider("catchall")
	m, err := NewManager(Config{
		MaxArtifactSize:     1 << 20,
		AllowedContentTypes: []string{"image/png", "video/mp4"},
		Rules: []RoutingRule{
			{Name: "videos-to-bucket", ArtifactType: domain.ArtifactTypeVideo, Provider: "videos"},
			{Name: "default", Provider: "catchall"},
		},
	}, []Provider{videos, catchAll}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	mp4 := append([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2'}, make([]byte, 32)...)
	ref, err := m.StoreArtifact(context.Background(), StoreRequest{
		ArtifactID:   "vid-1",
		TenantID:     "tenant-1",
		ArtifactType: domain.ArtifactTypeVideo,
		ContentType:  "video/mp4",
		Content:      mp4,
	})
	if err != nil {
		t.Fatalf("StoreArtifact returned error: %v", err)
	}
	if ref.StorageProvider != "videos" {
		t.Fatalf("video routed to %q, want videos", ref.StorageProvider)
	}

	ref, err = m.StoreArtifact(context.Background(), StoreRequest{
		ArtifactID:   "img-1",
		TenantID:     "tenant-1",
		ArtifactType: domain.ArtifactTypeImage,
		ContentType:  "image/png",
		Content:      pngBytes(64),
	})
	if err != nil {
		t.Fatalf("StoreArtifact returned error: %v", err)
	}
	if ref.StorageProvider != "catchall" {
		t.Fatalf("image routed to %q, want catchall", ref.StorageProvider)
	}
}

func TestNewManagerRequiresDefaultRule(t *testing.T) {
	fake := newFakeProvider("fake")
	_, err := NewManager(Config{
		MaxArtifactSize:     1 << 20,
		AllowedContentTypes: []string{"image/png"},
		Rules:               []RoutingRule{{Name: "images", ArtifactType: domain.ArtifactTypeImage, Provider: "fake"}},
	}, []Provider{fake}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for routing table without a default rule")
	}
}

func TestProviderIOFailureIsStorageError(t *testing.T) {
	fake := newFakeProvider("fake")
	fake.failIO = true
	m := newTestManager(t, fake)
	_, err := m.StoreArtifact(context.Background(), StoreRequest{
		ArtifactID:   "art-1",
		TenantID:     "tenant-1",
		ArtifactType: domain.ArtifactTypeImage,
		ContentType:  "image/png",
		Content:      pngBytes(64),
	})
	var storageError *domain.StorageError
	if !errors.As(err, &storageError) {
		t.Fatalf("error = %v, want *domain.StorageError", err)
	}
}

func TestUnsafeKeysRejectedAcrossAllProviders(t *testing.T) {
	unsafeKeys := []string{
		"../escape",
		"tenant/../../etc/passwd",
		"/absolute/path",
		"tenant\\windows\\sep",
		"tenant/..",
	}
	// Provider structs are exercised directly: the guard must hold even when
	// the manager is bypassed.
	local := &LocalStore{baseDir: t.TempDir()}
	s3Store := &S3Store{bucket: "bucket"}
	gcsStore := &GCSStore{bucket: "bucket"}
	m := newTestManager(t)

	ctx := context.Background()
	for _, key := range unsafeKeys {
		if err := ValidateKey(key); !errors.Is(err, domain.ErrUnsafeStorageKey) {
			t.Fatalf("ValidateKey(%q) = %v, want ErrUnsafeStorageKey", key, err)
		}
		if _, err := m.DownloadURL(ctx, key, "fake", time.Minute); !errors.Is(err, domain.ErrUnsafeStorageKey) {
			t.Fatalf("manager DownloadURL(%q) = %v, want ErrUnsafeStorageKey", key, err)
		}
		if _, err := local.Upload(ctx, key, []byte("x"), "text/plain", nil); !errors.Is(err, domain.ErrUnsafeStorageKey) {
			t.Fatalf("local Upload(%q) = %v, want ErrUnsafeStorageKey", key, err)
		}
		if _, err := s3Store.Upload(ctx, key, []byte("x"), "text/plain", nil); !errors.Is(err, domain.ErrUnsafeStorageKey) {
			t.Fatalf("s3 Upload(%q) = %v, want ErrUnsafeStorageKey", key, err)
		}
		if _, err := gcsStore.Upload(ctx, key, []byte("x"), "text/plain", nil); !errors.Is(err, domain.ErrUnsafeStorageKey) {
			t.Fatalf("gcs Upload(%q) = %v, want ErrUnsafeStorageKey", key, err)
		}
	}
}
