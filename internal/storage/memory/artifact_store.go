// Package memory keeps corpus documents, artifacts and run history in-memory
// for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ArtifactStore stores artifacts in-memory and returns pseudo URIs.
type ArtifactStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArtifactStore creates a new in-memory artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{data: make(map[string][]byte)}
}

// Put persists a copy of data and returns a URI.
func (s *ArtifactStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("artifact name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", name), nil
}

// Get returns a copy of the named artifact.
func (s *ArtifactStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, fmt.Errorf("artifact %q not found", name)
	}
	return append([]byte(nil), data...), nil
}

// List returns the names starting with prefix in lexical order.
func (s *ArtifactStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name := range s.data {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
