// Package memory keeps exported artifacts in process memory. It backs tests
// and the API server when no export destination is configured.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Object is one stored export.
type Object struct {
	Data        []byte
	ContentType string
}

// BlobStore stores exports in-memory and returns memory:// URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject copies the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read export body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = Object{Data: byteData, ContentType: contentType}
	return "memory://" + path, nil
}

// Get returns a copy of the object stored at path.
func (s *BlobStore) Get(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}

// Keys lists stored paths in sorted order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
