package manifest

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore keeps the manifest in memory. Generations are a counter.
type MemoryStore struct {
	mu   sync.Mutex
	name string
	data []byte
	gen  int64
}

// NewMemoryStore creates an empty in-memory manifest store.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name}
}

// Read returns the stored bytes.
func (s *MemoryStore) Read(_ context.Context) (*Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen == 0 {
		return nil, ErrBlobNotFound
	}
	data := make([]byte, len(s.data))
	copy(data, s.data)
	return &Blob{Data: data, Generation: strconv.FormatInt(s.gen, 10)}, nil
}

// Write stores data if the generation still matches.
func (s *MemoryStore) Write(_ context.Context, data []byte, ifGeneration string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := ""
	if s.gen > 0 {
		current = strconv.FormatInt(s.gen, 10)
	}
	if current != ifGeneration {
		return "", ErrPreconditionFailed
	}

	s.data = make([]byte, len(data))
	copy(s.data, data)
	s.gen++
	return strconv.FormatInt(s.gen, 10), nil
}

// Location returns the mem:// URI of the store.
func (s *MemoryStore) Location() string {
	return "mem://" + s.name
}
