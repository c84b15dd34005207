package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Compile-time check that DiskStore implements Store.
var _ Store = (*DiskStore)(nil)

// DiskStore keeps one file per key under a directory. File names are the
// hex SHA-256 of the key so arbitrary key bytes never reach the filesystem.
type DiskStore struct {
	mu        sync.RWMutex
	directory string
	index     map[string]string // key -> file name
}

// NewDiskStore creates the directory if needed and returns a disk store.
// Existing files are not re-indexed: the bulk tier is a cache, not durable
// storage, and stale files are reclaimed by the operator.
func NewDiskStore(directory string) (*DiskStore, error) {
	if err := os.MkdirAll(directory, 0o750); err != nil {
		return nil, fmt.Errorf("creating bulk store directory: %w", err)
	}
	return &DiskStore{
		directory: directory,
		index:     make(map[string]string),
	}, nil
}

// Get returns the stored bytes for key.
func (s *DiskStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	name, ok := s.index[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.directory, name))
	if os.IsNotExist(err) {
		s.mu.Lock()
		delete(s.index, key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading bulk entry: %w", err)
	}
	return data, nil
}

// Put stores data under key.
func (s *DiskStore) Put(ctx context.Context, key string, data []byte) error {
	name := fileName(key)
	path := filepath.Join(s.directory, name)

	// Write to a temp file first so readers never observe a partial entry.
	tmp, err := os.CreateTemp(s.directory, name+".tmp*")
	if err != nil {
		return fmt.Errorf("creating bulk entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing bulk entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing bulk entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publishing bulk entry: %w", err)
	}

	s.mu.Lock()
	s.index[key] = name
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *DiskStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	name, ok := s.index[key]
	delete(s.index, key)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(filepath.Join(s.directory, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing bulk entry: %w", err)
	}
	return nil
}

// Len returns the number of indexed keys.
func (s *DiskStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index), nil
}

// HealthCheck verifies the directory is writable.
func (s *DiskStore) HealthCheck(ctx context.Context) error {
	probe, err := os.CreateTemp(s.directory, ".healthcheck*")
	if err != nil {
		return fmt.Errorf("bulk store directory not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
