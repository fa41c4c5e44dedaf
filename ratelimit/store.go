package ratelimit

import (
	"context"
	"sync"
)

// MemoryStore keeps windows in process. Each scheduler node throttles on
// its own view of the downstream API.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[Key]Window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: map[Key]Window{}}
}

func (s *MemoryStore) Load(_ context.Context, key Key) (Window, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window, ok := s.windows[key.normalized()]
	return window, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, window Window) error {
	window.Key = window.Key.normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[window.Key] = window
	return nil
}
