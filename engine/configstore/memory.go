package configstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/answergrid/answergrid/engine/core"
)

type scopeKey struct {
	name        string
	environment string
}

// MemoryStore is an in-process Store used for tests and single-node setups
// without Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[scopeKey][]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[scopeKey][]*Entry)}
}

func (s *MemoryStore) GetActive(_ context.Context, name, environment string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.scopes[scopeKey{name, environment}] {
		if entry.Active {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateVersion(_ context.Context, name, environment, content string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey{name, environment}
	now := time.Now().UTC()
	entry := &Entry{
		ID:          core.NewID(),
		Name:        name,
		Environment: environment,
		Version:     len(s.scopes[key]) + 1,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.scopes[key] = append(s.scopes[key], entry)
	clone := *entry
	return &clone, nil
}

func (s *MemoryStore) Activate(_ context.Context, name, environment string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.scopes[scopeKey{name, environment}]
	var target *Entry
	for _, entry := range entries {
		if entry.Version == version {
			target = entry
			break
		}
	}
	if target == nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	for _, entry := range entries {
		if entry.Active && entry != target {
			entry.Active = false
			entry.UpdatedAt = now
		}
	}
	target.Active = true
	target.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ListVersions(_ context.Context, name, environment string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.scopes[scopeKey{name, environment}]
	out := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		clone := *entry
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (s *MemoryStore) Close() {}
