package display

import (
	"context"
	"sync"

	"github.com/mscrnt/gpuctl/pkg/resolution"
)

type storeKey struct {
	backend string
	display int
}

// MemoryStore is an in-process ResolutionStore. Insertion order is kept.
type MemoryStore struct {
	mu     sync.Mutex
	modes  map[storeKey][]resolution.CustomResolution
	active map[storeKey]string
	seeded map[storeKey]bool
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		modes:  make(map[storeKey][]resolution.CustomResolution),
		active: make(map[storeKey]string),
		seeded: make(map[storeKey]bool),
	}
}

func (s *MemoryStore) ListResolutions(_ context.Context, backend string, display int) ([]resolution.CustomResolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.modes[storeKey{backend, display}]
	return append([]resolution.CustomResolution(nil), list...), nil
}

func (s *MemoryStore) PutResolution(_ context.Context, backend string, display int, r resolution.CustomResolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey{backend, display}
	for i, existing := range s.modes[k] {
		if existing.Name == r.Name {
			s.modes[k][i] = r
			return nil
		}
	}
	s.modes[k] = append(s.modes[k], r)
	return nil
}

func (s *MemoryStore) DeleteResolution(_ context.Context, backend string, display int, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey{backend, display}
	list := s.modes[k]
	for i, existing := range list {
		if existing.Name == name {
			s.modes[k] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) SetActive(_ context.Context, backend string, display int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[storeKey{backend, display}] = name
	return nil
}

func (s *MemoryStore) Active(_ context.Context, backend string, display int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[storeKey{backend, display}], nil
}

func (s *MemoryStore) Seeded(_ context.Context, backend string, display int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeded[storeKey{backend, display}], nil
}

func (s *MemoryStore) MarkSeeded(_ context.Context, backend string, display int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded[storeKey{backend, display}] = true
	return nil
}
