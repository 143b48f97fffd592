package contextstore

import (
	"context"
	"sort"
	"sync"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
	"github.com/wehubfusion/redwire/pkg/model"
)

// MemoryStore keeps context in process memory. Values are deep copied on the
// way in and out so callers never share mutable state through the store.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string]map[string]any)}
}

func (s *MemoryStore) Open(context.Context) error  { return nil }
func (s *MemoryStore) Close(context.Context) error { return nil }

func (s *MemoryStore) Get(_ context.Context, scope, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.scopes[scope][key]
	if !ok {
		return nil, rwerrors.NotFound("context key %q in scope %q", key, scope)
	}
	return model.DeepClone(v), nil
}

func (s *MemoryStore) Keys(_ context.Context, scope string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.scopes[scope]))
	for k := range s.scopes[scope] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Set(_ context.Context, scope, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.scopes[scope]
	if !ok {
		values = make(map[string]any)
		s.scopes[scope] = values
	}
	values[key] = model.DeepClone(value)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes[scope], key)
	return nil
}

func (s *MemoryStore) Clean(_ context.Context, activeScopes []string) error {
	active := activeSet(activeScopes)
	s.mu.Lock()
	defer s.mu.Unlock()
	for scope := range s.scopes {
		if _, ok := active[scope]; !ok {
			delete(s.scopes, scope)
		}
	}
	return nil
}
