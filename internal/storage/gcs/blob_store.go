// Package gcs archives run outputs to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Config names the archive bucket.
type Config struct {
	Bucket string
	// Endpoint overrides the JSON API endpoint, e.g. for fake-gcs-server.
	Endpoint string
	// ChunkSize is the resumable upload chunk in bytes. Zero keeps the
	// client default.
	ChunkSize int
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket name is required")
	}
	if c.ChunkSize < 0 {
		return errors.New("chunk size must be >= 0")
	}
	return nil
}

// BlobStore uploads run artifacts into one bucket.
type BlobStore struct {
	bucket    *storage.BucketHandle
	name      string
	chunkSize int
	// closeClient is set when the store owns its client.
	closeClient func() error
}

// New uses a caller-owned client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newStore(client, cfg), nil
}

// Dial opens a client with application default credentials, or against
// cfg.Endpoint without authentication. Close releases it.
func Dial(ctx context.Context, cfg Config) (*BlobStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s := newStore(client, cfg)
	s.closeClient = client.Close
	return s, nil
}

func newStore(client *storage.Client, cfg Config) *BlobStore {
	return &BlobStore{
		bucket:    client.Bucket(cfg.Bucket),
		name:      cfg.Bucket,
		chunkSize: cfg.ChunkSize,
	}
}

// PutObject streams r into the object at name and returns its gs:// URI.
// A failed copy aborts the upload so no partial object is committed.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	name = strings.TrimLeft(path.Clean("/"+strings.TrimSpace(name)), "/")
	if name == "" {
		return "", errors.New("object name is required")
	}

	uploadCtx, abort := context.WithCancel(ctx)
	defer abort()

	w := s.bucket.Object(name).NewWriter(uploadCtx)
	w.ContentType = contentType
	if s.chunkSize > 0 {
		w.ChunkSize = s.chunkSize
	}
	if _, err := io.Copy(w, r); err != nil {
		abort()
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return "gs://" + s.name + "/" + name, nil
}

// Close releases the client when Dial created it.
func (s *BlobStore) Close() error {
	if s.closeClient == nil {
		return nil
	}
	if err := s.closeClient(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
