// Package storage copies finished run outputs to a blob store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// Archiver uploads run artifacts under <prefix>/<run id>/<file name>.
type Archiver struct {
	store  crawler.BlobStore
	prefix string
	logger *zap.Logger
}

// NewArchiver wraps store.
func NewArchiver(store crawler.BlobStore, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// ArchiveRun uploads every existing file in files and returns their URIs.
// Missing files are skipped; upload failures are joined and returned after
// the remaining files are attempted.
func (a *Archiver) ArchiveRun(ctx context.Context, runID string, files []string) ([]string, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	var (
		uris []string
		errs []error
	)
	for _, file := range files {
		if file == "" {
			continue
		}
		uri, err := a.put(ctx, runID, file)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", file, err))
			continue
		}
		a.logger.Info("archived run output", zap.String("file", file), zap.String("uri", uri))
		uris = append(uris, uri)
	}
	return uris, errors.Join(errs...)
}

// ObjectPath is where ArchiveRun puts file.
func (a *Archiver) ObjectPath(runID, file string) string {
	name := filepath.Base(file)
	if a.prefix == "" {
		return path.Join(runID, name)
	}
	return path.Join(a.prefix, runID, name)
}

func (a *Archiver) put(ctx context.Context, runID, file string) (string, error) {
	f, err := os.Open(file) // #nosec G304 -- paths come from run configuration.
	if err != nil {
		return "", err //nolint:wrapcheck // caller checks os.ErrNotExist
	}
	defer func() {
		_ = f.Close()
	}()
	uri, err := a.store.PutObject(ctx, a.ObjectPath(runID, file), contentType(file), f)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".csv":
		return "text/csv"
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
