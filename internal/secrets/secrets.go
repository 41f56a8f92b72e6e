// Package secrets defines the secret-store capability used for environment
// variables flagged secret, plus two implementations: an in-process map and
// a SQLite vault whose values are sealed at rest.
package secrets

import (
	"context"
	"strings"
	"sync"
)

// Key addresses one secret by collection, environment and variable name.
type Key struct {
	Collection  string
	Environment string
	Variable    string
}

func (k Key) String() string {
	return strings.Join([]string{k.Collection, k.Environment, k.Variable}, "/")
}

type Reader interface {
	// Read reports ok=false with a nil error when no value is stored.
	Read(ctx context.Context, key Key) (value []byte, ok bool, err error)
}

type Store interface {
	Reader
	Write(ctx context.Context, key Key, value []byte) error
	Delete(ctx context.Context, key Key) error
}

type Memory struct {
	mu     sync.RWMutex
	values map[Key][]byte
}

func NewMemory() *Memory {
	return &Memory{values: make(map[Key][]byte)}
}

func (m *Memory) Read(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *Memory) Write(ctx context.Context, key Key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
