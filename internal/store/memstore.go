package store

import (
	"context"
	"sync"
)

// Compile-time check that MemStore implements Store.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store. It is the default bulk backend and the
// one used in tests; FailNext allows injecting I/O failures to exercise the
// degraded-tier path.
type MemStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	failNext int
	failErr  error
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

// Get returns the stored bytes for key.
func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put stores data under key.
func (s *MemStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.takeFailure(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = cp
	return nil
}

// Delete removes key.
func (s *MemStore) Delete(ctx context.Context, key string) error {
	if err := s.takeFailure(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Len returns the number of stored keys.
func (s *MemStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

// HealthCheck reports any injected failure, otherwise nil.
func (s *MemStore) HealthCheck(ctx context.Context) error {
	return s.takeFailure()
}

// FailNext makes the next n operations (including health checks) return err.
func (s *MemStore) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failErr = err
}

func (s *MemStore) takeFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return s.failErr
	}
	return nil
}
