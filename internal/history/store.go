// Package history keeps a bounded, newest-first log of executed requests in a
// JSON file.
package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/util"
)

const (
	DefaultMaxEntries = 200
	snippetLimit      = 2048
)

type Entry struct {
	ID          string        `json:"id"`
	ExecutedAt  time.Time     `json:"executedAt"`
	Collection  string        `json:"collection"`
	Environment string        `json:"environment,omitempty"`
	RequestName string        `json:"requestName"`
	RequestPath string        `json:"requestPath,omitempty"`
	Method      string        `json:"method"`
	URL         string        `json:"url"`
	Status      string        `json:"status,omitempty"`
	StatusCode  int           `json:"statusCode"`
	Duration    time.Duration `json:"duration"`
	BodySnippet string        `json:"bodySnippet,omitempty"`
	Error       string        `json:"error,omitempty"`
	Stages      []string      `json:"stages,omitempty"`
	Dirty       []string      `json:"dirty,omitempty"`
}

// Snippet clips body to the size kept in history.
func Snippet(body []byte) string {
	if len(body) <= snippetLimit {
		return string(body)
	}
	return string(body[:snippetLimit]) + "…"
}

type Store struct {
	path       string
	maxEntries int
	entries    []Entry
	mu         sync.RWMutex
	loaded     bool
}

func NewStore(path string, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{path: path, maxEntries: maxEntries}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoadedLocked()
}

// Append records entry, assigning an ID and timestamp when missing, and
// drops the oldest entries beyond the limit.
func (s *Store) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now()
	}

	s.entries = append([]Entry{entry}, s.entries...)
	s.sortEntriesLocked()
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[:s.maxEntries]
	}
	return s.persist()
}

func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copies := make([]Entry, len(s.entries))
	copy(copies, s.entries)
	return copies
}

func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return false, err
	}

	idx := -1
	for i, entry := range s.entries {
		if entry.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}

	copy(s.entries[idx:], s.entries[idx+1:])
	s.entries = s.entries[:len(s.entries)-1]
	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = []Entry{}
	s.loaded = true
	return s.persist()
}

// ByRequest matches entries by request name or URL. An empty identifier
// returns everything.
func (s *Store) ByRequest(identifier string) []Entry {
	if identifier == "" {
		return s.Entries()
	}
	return s.filter(func(e Entry) bool {
		return e.RequestName == identifier || e.URL == identifier
	})
}

func (s *Store) ByCollection(name string) []Entry {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil
	}
	return s.filter(func(e Entry) bool {
		return strings.EqualFold(e.Collection, trimmed)
	})
}

func (s *Store) ByFile(path string) []Entry {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil
	}
	cleaned := filepath.Clean(trimmed)
	return s.filter(func(e Entry) bool {
		return e.RequestPath != "" && filepath.Clean(e.RequestPath) == cleaned
	})
}

func (s *Store) filter(keep func(Entry) bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Entry
	for _, entry := range s.entries {
		if keep(entry) {
			matched = append(matched, entry)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return newerFirst(matched[i], matched[j])
	})
	return matched
}

func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "create history dir")
	}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "encode history")
	}
	if err := util.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "replace history file")
	}
	return nil
}

func (s *Store) sortEntriesLocked() {
	if len(s.entries) < 2 {
		return
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		return newerFirst(s.entries[i], s.entries[j])
	})
}

func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.entries = []Entry{}
			s.loaded = true
			return nil
		}
		return errdef.Wrap(errdef.CodeHistory, err, "read history")
	}
	if len(data) == 0 {
		s.entries = []Entry{}
		s.loaded = true
		return nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "parse history")
	}

	s.sortEntriesLocked()
	s.loaded = true
	return nil
}

func newerFirst(a, b Entry) bool {
	ai := a.ExecutedAt
	bi := b.ExecutedAt
	switch {
	case ai.Equal(bi):
		return a.ID > b.ID
	default:
		return ai.After(bi)
	}
}
