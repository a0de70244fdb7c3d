package blob

import (
	"context"
	"strings"
	"sync"
)

// Object is an uploaded file held by MemoryStore.
type Object struct {
	Data     []byte
	MimeType string
}

// MemoryStore keeps uploads in process. Used in development and tests.
type MemoryStore struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]Object
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store whose URLs start with baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://blobs"
	}
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]Object),
	}
}

func (s *MemoryStore) Upload(ctx context.Context, data []byte, name, mimeType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	u := s.baseURL + "/" + objectKey("attachments", name)
	s.mu.Lock()
	s.objects[u] = Object{Data: append([]byte(nil), data...), MimeType: mimeType}
	s.mu.Unlock()
	return u, nil
}

// Get returns the object stored at url.
func (s *MemoryStore) Get(url string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[url]
	return obj, ok
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
