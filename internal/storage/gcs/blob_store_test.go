package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeBucket answers JSON API uploads and remembers the last object name.
type fakeBucket struct {
	uploads atomic.Int32
	name    atomic.Value
	status  int
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if !strings.Contains(r.URL.Path, "/upload/storage/v1/b/crawl-runs/o") {
		http.NotFound(w, r)
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	name := r.URL.Query().Get("name")
	f.name.Store(name)
	f.uploads.Add(1)
	fmt.Fprintf(w, `{"name":%q,"bucket":"crawl-runs"}`, name)
}

func (f *fakeBucket) lastName() string {
	name, _ := f.name.Load().(string)
	return name
}

func dialFake(t *testing.T, bucket *fakeBucket) *BlobStore {
	t.Helper()
	server := httptest.NewServer(bucket)
	t.Cleanup(server.Close)

	store, err := Dial(context.Background(), Config{Bucket: "crawl-runs", Endpoint: server.URL})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectReturnsURI(t *testing.T) {
	t.Parallel()
	bucket := &fakeBucket{}
	store := dialFake(t, bucket)

	uri, err := store.PutObject(context.Background(), "runs/r1/detections.csv", "text/csv", strings.NewReader("id,name\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://crawl-runs/runs/r1/detections.csv", uri)
	assert.Equal(t, int32(1), bucket.uploads.Load())
}

func TestPutObjectCleansName(t *testing.T) {
	t.Parallel()
	bucket := &fakeBucket{}
	store := dialFake(t, bucket)

	uri, err := store.PutObject(context.Background(), " /runs//r1/./hosts.json ", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, "runs/r1/hosts.json", bucket.lastName())
	assert.Equal(t, "gs://crawl-runs/runs/r1/hosts.json", uri)
}

func TestPutObjectRejectsEmptyName(t *testing.T) {
	t.Parallel()
	bucket := &fakeBucket{}
	store := dialFake(t, bucket)

	for _, name := range []string{"", "  ", "/"} {
		_, err := store.PutObject(context.Background(), name, "", strings.NewReader("x"))
		assert.ErrorContains(t, err, "object name is required", "name %q", name)
	}
	assert.Zero(t, bucket.uploads.Load())
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()
	store := dialFake(t, &fakeBucket{status: http.StatusForbidden})

	_, err := store.PutObject(context.Background(), "runs/r1/ALERT.txt", "text/plain", strings.NewReader("x"))
	assert.ErrorContains(t, err, "runs/r1/ALERT.txt")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestPutObjectAbortsOnReadError(t *testing.T) {
	t.Parallel()
	store := dialFake(t, &fakeBucket{})

	_, err := store.PutObject(context.Background(), "runs/r1/detections.jsonl", "", failingReader{})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorContains(t, err, "upload runs/r1/detections.jsonl")
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), Config{})
	assert.ErrorContains(t, err, "bucket name is required")
	_, err = Dial(context.Background(), Config{Bucket: "b", ChunkSize: -1})
	assert.ErrorContains(t, err, "chunk size")
	_, err = New(nil, Config{Bucket: "b"})
	assert.ErrorContains(t, err, "storage client is required")
}

func TestNewLeavesClientOpen(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(&fakeBucket{})
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "crawl-runs", ChunkSize: 256 * 1024})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	uri, err := store.PutObject(context.Background(), "runs/r2/detections.csv", "text/csv", strings.NewReader("id\n"))
	require.NoError(t, err)
	assert.Equal(t, "gs://crawl-runs/runs/r2/detections.csv", uri)
}
