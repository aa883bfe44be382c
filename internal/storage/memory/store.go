// Package memory stores mirrored objects in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store keeps object payloads in a map and returns memory:// presign links.
type Store struct {
	mu           sync.RWMutex
	data         map[string][]byte
	contentTypes map[string]string
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data:         make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// Put persists a copy of data under key.
func (s *Store) Put(_ context.Context, key string, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	s.contentTypes[key] = contentType
	return nil
}

// Presign returns a pseudo URL; the ttl is encoded as a query parameter so
// tests can assert it was threaded through.
func (s *Store) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[key]; !ok {
		return "", fmt.Errorf("object %q not found", key)
	}
	return fmt.Sprintf("memory://bucket/%s?ttl=%d", key, int64(ttl.Seconds())), nil
}

// Exists reports whether key was previously Put.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// Endpoint returns the pseudo scheme used by Presign.
func (s *Store) Endpoint() string {
	return "memory://bucket"
}

// Get exposes stored payloads so tests can verify uploads.
func (s *Store) Get(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.contentTypes[key], true
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
