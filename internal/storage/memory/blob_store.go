// Package memory is an in-process crawler.BlobStore for tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"slices"
	"strings"
	"sync"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Object is one stored upload. CRC32C is the checksum GCS reports.
type Object struct {
	Name        string
	ContentType string
	Data        []byte
	CRC32C      uint32
	// Generation counts writes to the same name, starting at 1.
	Generation int64
}

// BlobStore keeps objects by name and hands out memory:// URIs.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string]Object
}

// NewBlobStore returns an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject reads r to the end and stores a private copy under name.
// Writing an existing name replaces it and bumps its generation.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("object name is required")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = Object{
		Name:        name,
		ContentType: contentType,
		Data:        data,
		CRC32C:      crc32.Checksum(data, castagnoli),
		Generation:  s.objects[name].Generation + 1,
	}
	return "memory://" + name, nil
}

// Get returns a copy of the named object.
func (s *BlobStore) Get(name string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[name]
	if !ok {
		return Object{}, false
	}
	obj.Data = slices.Clone(obj.Data)
	return obj, true
}

// Names lists stored object names in lexical order.
func (s *BlobStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
