// Package blob archives raw fetched documents. Implementations back
// the crawler.BlobStore interface with GCS, the local filesystem, or
// process memory.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cloud.google.com/go/storage"
)

// GCSStore writes blobs to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore initializes a GCS client and verifies bucket access.
// Authentication uses Application Default Credentials. The attributes
// probe fails fast on startup when the bucket is misconfigured.
func NewGCSStore(ctx context.Context, bucketName string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucketName, err)
	}
	return &GCSStore{client: client, bucket: bucketName}, nil
}

// Put uploads the blob and returns its gs:// URI.
func (g *GCSStore) Put(ctx context.Context, path, contentType string, data []byte) (string, error) {
	wc := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		// Close to release the writer; the write error is the one
		// worth reporting.
		_ = wc.Close()
		return "", fmt.Errorf("write gcs object %s: %w", path, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer for object %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, path), nil
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}

// LocalStore writes blobs under a base directory.
type LocalStore struct {
	baseDir string
}

// NewLocalStore ensures the base directory exists.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", baseDir, err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

// Put writes the blob to disk and returns a file:// URI.
func (l *LocalStore) Put(_ context.Context, path, _ string, data []byte) (string, error) {
	full := filepath.Join(l.baseDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob subdir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", path, err)
	}
	return "file://" + full, nil
}

// MemoryStore keeps blobs in process memory for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores a copy of the blob and returns a mem:// URI.
func (m *MemoryStore) Put(_ context.Context, path, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

// Get returns the stored blob, or false when absent.
func (m *MemoryStore) Get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	return data, ok
}
