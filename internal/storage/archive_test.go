package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/storage/memory"
)

func TestArchiveRunUploadsExistingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "detections.csv")
	jsonlPath := filepath.Join(dir, "detections.jsonl")
	require.NoError(t, os.WriteFile(csvPath, []byte("id\n1\n"), 0o600))
	require.NoError(t, os.WriteFile(jsonlPath, []byte("{}\n"), 0o600))

	store := memory.NewBlobStore()
	archiver := NewArchiver(store, "/runs/", zap.NewNop())

	uris, err := archiver.ArchiveRun(context.Background(), "run-1", []string{
		csvPath, jsonlPath, filepath.Join(dir, "crawl_alert.txt"), "",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"memory://runs/run-1/detections.csv",
		"memory://runs/run-1/detections.jsonl",
	}, uris)

	csvObj, ok := store.Get("runs/run-1/detections.csv")
	require.True(t, ok)
	assert.Equal(t, "id\n1\n", string(csvObj.Data))
	assert.Equal(t, "text/csv", csvObj.ContentType)
	jsonlObj, _ := store.Get("runs/run-1/detections.jsonl")
	assert.Equal(t, "application/x-ndjson", jsonlObj.ContentType)
	assert.Len(t, store.Names(), 2)
}

// mockBlobStore is a testify mock of crawler.BlobStore.
type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	args := m.Called(ctx, path, contentType, r)
	return args.String(0), args.Error(1)
}

func TestArchiveRunJoinsErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.csv")
	b := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(a, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("y"), 0o600))

	store := &mockBlobStore{}
	store.On("PutObject", mock.Anything, "r/a.csv", "text/csv", mock.Anything).
		Return("", errors.New("quota exceeded")).Once()
	store.On("PutObject", mock.Anything, "r/b.json", "application/json", mock.Anything).
		Return("", errors.New("quota exceeded")).Once()

	uris, err := NewArchiver(store, "", nil).ArchiveRun(context.Background(), "r", []string{a, b})
	require.Error(t, err)
	assert.Empty(t, uris)
	assert.Contains(t, err.Error(), "a.csv")
	assert.Contains(t, err.Error(), "b.json")
	store.AssertExpectations(t)
}

func TestArchiveObjectPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "r1/out.csv", NewArchiver(nil, "", nil).ObjectPath("r1", "/tmp/data/out.csv"))
	assert.Equal(t, "p/q/r1/out.csv", NewArchiver(nil, "p/q", nil).ObjectPath("r1", "out.csv"))
	_, err := NewArchiver(nil, "", nil).ArchiveRun(context.Background(), "", nil)
	assert.Error(t, err)
}
