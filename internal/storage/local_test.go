package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"atelier/internal/domain"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewLocalStore returned error: %v", err)
	}
	ctx := context.Background()

	url, err := store.Upload(ctx, "tenant-1/image/art/original.png", []byte("payload"), "image/png", nil)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if url != "http://localhost:8080/static/tenant-1/image/art/original.png" {
		t.Fatalf("unexpected url %q", url)
	}

	data, err := store.Download(ctx, "tenant-1/image/art/original.png")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("downloaded %q, want %q", data, "payload")
	}

	exists, err := store.Exists(ctx, "tenant-1/image/art/original.png")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true, nil", exists, err)
	}

	meta, err := store.Metadata(ctx, "tenant-1/image/art/original.png")
	if err != nil {
		t.Fatalf("Metadata returned error: %v", err)
	}
	if meta.Size != int64(len("payload")) {
		t.Fatalf("metadata size = %d, want %d", meta.Size, len("payload"))
	}

	existed, err := store.Delete(ctx, "tenant-1/image/art/original.png")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v; want true, nil", existed, err)
	}
	existed, err = store.Delete(ctx, "tenant-1/image/art/original.png")
	if err != nil || existed {
		t.Fatalf("second Delete = %v, %v; want false, nil", existed, err)
	}
}

func TestLocalStoreNeverEscapesRoot(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStore(filepath.Join(base, "artifacts"), "")
	if err != nil {
		t.Fatalf("NewLocalStore returned error: %v", err)
	}

	if _, err := store.Upload(context.Background(), "../outside.txt", []byte("x"), "text/plain", nil); !errors.Is(err, domain.ErrUnsafeStorageKey) {
		t.Fatalf("Upload error = %v, want ErrUnsafeStorageKey", err)
	}
	if _, err := os.Stat(filepath.Join(base, "outside.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("traversal escaped the storage root")
	}
}

func TestLocalStorePresign(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8080/static")
	if err != nil {
		t.Fatalf("NewLocalStore returned error: %v", err)
	}

	url, err := store.PresignDownload(context.Background(), "tenant-1/text/a/original.txt", time.Minute)
	if err != nil {
		t.Fatalf("PresignDownload returned error: %v", err)
	}
	if url != "http://localhost:8080/static/tenant-1/text/a/original.txt" {
		t.Fatalf("unexpected presigned url %q", url)
	}

	if _, err := store.PresignUpload(context.Background(), "tenant-1/text/a/original.txt", "text/plain", time.Minute); err == nil {
		t.Fatal("expected PresignUpload to be unsupported for local storage")
	}
}
