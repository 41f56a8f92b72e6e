// Package varstore holds the variables a single request execution can read
// and change from scripts, tracking which ones were changed.
package varstore

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Store is owned by one execution. Values and dirty flags are guarded by
// separate locks; callers never need both to be consistent with each other.
type Store struct {
	valuesMu sync.RWMutex
	values   map[string]any

	dirtyMu sync.Mutex
	dirty   map[string]bool
}

func New() *Store {
	return &Store{
		values: make(map[string]any),
		dirty:  make(map[string]bool),
	}
}

// Set stores value under name and marks it dirty.
func (s *Store) Set(name string, value any) {
	s.valuesMu.Lock()
	s.values[name] = value
	s.valuesMu.Unlock()

	s.dirtyMu.Lock()
	s.dirty[name] = true
	s.dirtyMu.Unlock()
}

func (s *Store) Get(name string) (any, bool) {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// InitializeWithEnv seeds the store with the resolved environment. Secrets
// override variables of the same name. Nothing is marked dirty.
func (s *Store) InitializeWithEnv(variables, secretValues map[string]string) {
	s.valuesMu.Lock()
	defer s.valuesMu.Unlock()
	for k, v := range variables {
		s.values[k] = v
	}
	for k, v := range secretValues {
		s.values[k] = v
	}
}

// Dirty returns the changed variables as strings. Non-string values use
// their JSON text.
func (s *Store) Dirty() map[string]string {
	s.dirtyMu.Lock()
	names := make([]string, 0, len(s.dirty))
	for name, ok := range s.dirty {
		if ok {
			names = append(names, name)
		}
	}
	s.dirtyMu.Unlock()

	out := make(map[string]string, len(names))
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	for _, name := range names {
		v, ok := s.values[name]
		if !ok {
			continue
		}
		out[name] = Stringify(v)
	}
	return out
}

func (s *Store) Snapshot() map[string]any {
	s.valuesMu.RLock()
	defer s.valuesMu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Stringify renders a variable value the way it is persisted.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case []byte:
		return string(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
