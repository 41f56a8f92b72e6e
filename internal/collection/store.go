// Package collection keeps request collections on disk and mirrors them in an
// in-memory cache. A collection is a directory holding collection.toml, root
// request files and one level of group directories.
package collection

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/secrets"
	"github.com/unkn0wn-root/restbro/internal/util"
)

type EventKind int

const (
	EventLoaded EventKind = iota
	EventSaved
	EventRequestSaved
	EventRequestDeleted
	EventRequestMoved
	EventGroupCreated
	EventGroupRenamed
	EventGroupDeleted
	EventEnvironmentUpdated
	EventReloaded
	EventRemoved
)

type Event struct {
	Kind       EventKind
	Collection string
	// Path is the request file or group directory the event refers to, if any.
	Path string
}

type Option func(*Store)

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithObserver registers fn to run after every cache change. Observers run
// synchronously after the cache has been updated and its lock released.
func WithObserver(fn func(Event)) Option {
	return func(s *Store) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

type entry struct {
	mu   sync.Mutex
	coll *Collection
}

type Store struct {
	secrets secrets.Store
	log     *log.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	obsMu     sync.RWMutex
	observers []func(Event)
}

func NewStore(secretStore secrets.Store, opts ...Option) *Store {
	s := &Store{
		secrets: secretStore,
		log:     log.New(io.Discard),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) notify(evt Event) {
	s.obsMu.RLock()
	observers := slices.Clone(s.observers)
	s.obsMu.RUnlock()
	for _, fn := range observers {
		fn(evt)
	}
}

func (s *Store) entryFor(path string) *entry {
	s.mu.RLock()
	e, ok := s.entries[path]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[path]; ok {
		return e
	}
	e = &entry{}
	s.entries[path] = e
	return e
}

func (s *Store) forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// loadedLocked returns the cached collection, reading it from disk on first
// use. Callers hold e.mu.
func (s *Store) loadedLocked(e *entry, path string) (*Collection, error) {
	if e.coll != nil {
		return e.coll, nil
	}
	c, err := s.read(path)
	if err != nil {
		return nil, err
	}
	e.coll = c
	return c, nil
}

func absPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errdef.New(errdef.CodeNotFound, "collection path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errdef.Wrap(errdef.CodeFilesystem, err, "resolve path %s", path)
	}
	return filepath.Clean(abs), nil
}

// Scan loads every immediate subdirectory of root that holds a descriptor.
// Broken collections are logged and skipped.
func (s *Store) Scan(root string) ([]*Collection, error) {
	abs, err := absPath(root)
	if err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(abs)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "scan %s", abs)
	}

	var out []*Collection
	for _, de := range dirs {
		if !de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		dir := filepath.Join(abs, de.Name())
		if _, err := os.Stat(filepath.Join(dir, DescriptorFile)); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.log.Warn("skipping collection", "path", dir, "err", err)
			}
			continue
		}
		c, err := s.Load(dir)
		if err != nil {
			s.log.Warn("skipping collection", "path", dir, "err", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) Load(dir string) (*Collection, error) {
	abs, err := absPath(dir)
	if err != nil {
		return nil, err
	}
	c, err := s.read(abs)
	if err != nil {
		return nil, err
	}

	e := s.entryFor(abs)
	e.mu.Lock()
	e.coll = c
	snapshot := c.Clone()
	e.mu.Unlock()

	s.notify(Event{Kind: EventLoaded, Collection: abs})
	return snapshot, nil
}

// Reload replaces the cached collection with what is on disk.
func (s *Store) Reload(dir string) (*Collection, error) {
	abs, err := absPath(dir)
	if err != nil {
		return nil, err
	}
	e := s.entryFor(abs)
	e.mu.Lock()
	c, err := s.read(abs)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.coll = c
	snapshot := c.Clone()
	e.mu.Unlock()

	s.notify(Event{Kind: EventReloaded, Collection: abs})
	return snapshot, nil
}

func (s *Store) Collection(dir string) (*Collection, bool) {
	abs, err := absPath(dir)
	if err != nil {
		return nil, false
	}
	s.mu.RLock()
	e, ok := s.entries[abs]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.coll == nil {
		return nil, false
	}
	return e.coll.Clone(), true
}

func (s *Store) Collections() []*Collection {
	s.mu.RLock()
	paths := make([]string, 0, len(s.entries))
	for p := range s.entries {
		paths = append(paths, p)
	}
	s.mu.RUnlock()
	sort.Strings(paths)

	out := make([]*Collection, 0, len(paths))
	for _, p := range paths {
		if c, ok := s.Collection(p); ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) SaveCollection(c *Collection, dir string) error {
	if c == nil {
		return errdef.New(errdef.CodeParse, "collection is nil")
	}
	abs, err := absPath(dir)
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		c.Name = filepath.Base(abs)
	}
	if strings.TrimSpace(c.Version) == "" {
		c.Version = defaultVersion
	}
	if strings.TrimSpace(c.Type) == "" {
		c.Type = defaultType
	}

	e := s.entryFor(abs)
	e.mu.Lock()
	if err := os.MkdirAll(abs, 0o755); err != nil {
		e.mu.Unlock()
		return errdef.Wrap(errdef.CodeFilesystem, err, "create collection dir %s", abs)
	}
	if err := writeDescriptor(abs, c); err != nil {
		e.mu.Unlock()
		return err
	}

	next := c.Clone()
	next.Path = abs
	next.Compact()
	if prev := e.coll; prev != nil {
		merged := cloneRequests(prev.Requests)
		for k, r := range next.Requests {
			merged[k] = r
		}
		next.Requests = merged

		groups := make(map[string]*Group, len(prev.Groups))
		for k, g := range prev.Groups {
			groups[k] = g.Clone()
		}
		for k, g := range next.Groups {
			groups[k] = g
		}
		next.Groups = groups
	}
	if next.Groups == nil {
		next.Groups = make(map[string]*Group)
	}
	e.coll = next
	e.mu.Unlock()

	s.notify(Event{Kind: EventSaved, Collection: abs})
	return nil
}

func writeDescriptor(dir string, c *Collection) error {
	data, err := EncodeCollection(c)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, DescriptorFile)
	if err := util.WriteFileAtomic(path, data, 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write %s", path)
	}
	return nil
}

func writeRequest(path string, r Request) error {
	data, err := EncodeRequest(r)
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(path, data, 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write request %s", path)
	}
	return nil
}

// read builds a collection from disk without touching the cache.
func (s *Store) read(dir string) (*Collection, error) {
	descPath := filepath.Join(dir, DescriptorFile)
	data, err := os.ReadFile(descPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errdef.Wrap(errdef.CodeNotFound, err, "no collection at %s", dir)
		}
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read %s", descPath)
	}
	c, err := DecodeCollection(data)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "parse %s", descPath)
	}
	c.Path = dir
	if strings.TrimSpace(c.Name) == "" {
		c.Name = filepath.Base(dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "list %s", dir)
	}
	for _, de := range entries {
		name := de.Name()
		if strings.HasPrefix(name, ".") || ignored(c.Ignore, name) {
			continue
		}
		full := filepath.Join(dir, name)
		if de.IsDir() {
			if name == environmentsDir || name == DescriptorFile {
				continue
			}
			c.Groups[name] = s.readGroup(dir, name, c.Ignore)
			continue
		}
		if !isRequestFile(name) {
			continue
		}
		r, err := readRequestFile(full)
		if err != nil {
			s.log.Warn("skipping request", "path", full, "err", err)
			continue
		}
		c.Requests[full] = r
	}
	return c, nil
}

func (s *Store) readGroup(root, rel string, ignore []string) *Group {
	g := &Group{Name: rel, RelativePath: rel, Requests: make(map[string]*Request)}
	dir := filepath.Join(root, rel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Warn("skipping group", "path", dir, "err", err)
		return g
	}
	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") || !isRequestFile(name) {
			continue
		}
		if ignored(ignore, name) || ignored(ignore, filepath.ToSlash(filepath.Join(rel, name))) {
			continue
		}
		full := filepath.Join(dir, name)
		r, err := readRequestFile(full)
		if err != nil {
			s.log.Warn("skipping request", "path", full, "err", err)
			continue
		}
		g.Requests[full] = r
	}
	return g
}

func isRequestFile(name string) bool {
	return name != DescriptorFile && strings.EqualFold(filepath.Ext(name), RequestExt)
}

func readRequestFile(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read %s", path)
	}
	r, err := DecodeRequest(data)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "parse %s", path)
	}
	r.Path = path
	if strings.TrimSpace(r.Name) == "" {
		r.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return &r, nil
}

// ignored matches name against the collection's ignore globs. Malformed
// patterns never match.
func ignored(patterns []string, name string) bool {
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
