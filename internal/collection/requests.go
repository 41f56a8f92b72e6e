package collection

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/restbro/internal/errdef"
	"github.com/unkn0wn-root/restbro/internal/util"
)

// location pins a request inside the cache: group is "" for root requests.
type location struct {
	path  string
	group string
}

// SaveRequest writes req as <name>.toml at the collection root, or inside
// groupPath when set (the directory is created if needed), and returns the
// file path the request is now stored under.
func (s *Store) SaveRequest(collectionPath string, req Request, name, groupPath string) (string, error) {
	root, err := absPath(collectionPath)
	if err != nil {
		return "", err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(req.Name)
	}
	fileStem := SanitizeName(name)
	if fileStem == "" || fileStem == "." || fileStem == ".." {
		return "", errdef.New(errdef.CodeParse, "invalid request name %q", name)
	}
	req.Name = name
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = "GET"
	}
	if !ValidMethod(req.Method) {
		return "", errdef.New(errdef.CodeParse, "unsupported method %q", req.Method)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Compact()

	group, err := groupDirName(groupPath)
	if err != nil {
		return "", err
	}
	dir := root
	if group != "" {
		dir = filepath.Join(root, group)
	}
	path := filepath.Join(dir, fileStem+RequestExt)
	req.Path = path

	e := s.entryFor(root)
	e.mu.Lock()
	c, err := s.loadedLocked(e, root)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.mu.Unlock()
		return "", errdef.Wrap(errdef.CodeFilesystem, err, "create group dir %s", dir)
	}
	if err := writeRequest(path, req); err != nil {
		e.mu.Unlock()
		return "", err
	}
	putRequest(c, group, req)
	e.mu.Unlock()

	s.notify(Event{Kind: EventRequestSaved, Collection: root, Path: path})
	return path, nil
}

// DeleteRequest removes the request matching req. The stable ID is used when
// req carries one that is known; otherwise the (name, method, url) triple.
func (s *Store) DeleteRequest(collectionPath string, req Request) error {
	root, err := absPath(collectionPath)
	if err != nil {
		return err
	}

	e := s.entryFor(root)
	e.mu.Lock()
	c, err := s.loadedLocked(e, root)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	loc, ok := findRequest(c, req)
	if !ok {
		e.mu.Unlock()
		return errdef.New(errdef.CodeNotFound, "request %q (%s %s) not found", req.Name, req.Method, req.URL)
	}
	if err := os.Remove(loc.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.mu.Unlock()
		return errdef.Wrap(errdef.CodeFilesystem, err, "delete request %s", loc.path)
	}
	dropRequest(c, loc)
	e.mu.Unlock()

	s.notify(Event{Kind: EventRequestDeleted, Collection: root, Path: loc.path})
	return nil
}

// MoveRequest relocates a request to targetGroup ("" for the collection root).
// The new file is written before the old one is removed so a failed write
// leaves the original in place.
func (s *Store) MoveRequest(collectionPath string, req Request, targetGroup string) (string, error) {
	root, err := absPath(collectionPath)
	if err != nil {
		return "", err
	}
	group, err := groupDirName(targetGroup)
	if err != nil {
		return "", err
	}
	targetDir := root
	if group != "" {
		targetDir = filepath.Join(root, group)
	}

	e := s.entryFor(root)
	e.mu.Lock()
	c, err := s.loadedLocked(e, root)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	loc, ok := findRequest(c, req)
	if !ok {
		e.mu.Unlock()
		return "", errdef.New(errdef.CodeNotFound, "request %q (%s %s) not found", req.Name, req.Method, req.URL)
	}
	if filepath.Dir(loc.path) == targetDir {
		e.mu.Unlock()
		return loc.path, nil
	}

	stored := lookup(c, loc).Clone()
	newPath := filepath.Join(targetDir, filepath.Base(loc.path))
	if _, err := os.Stat(newPath); err == nil {
		e.mu.Unlock()
		return "", errdef.New(errdef.CodeConflict, "request file %s already exists", newPath)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		e.mu.Unlock()
		return "", errdef.Wrap(errdef.CodeFilesystem, err, "create group dir %s", targetDir)
	}
	stored.Path = newPath
	if err := writeRequest(newPath, stored); err != nil {
		e.mu.Unlock()
		return "", err
	}
	if err := os.Remove(loc.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// keep a single copy on disk: undo the new write
		_ = os.Remove(newPath)
		e.mu.Unlock()
		return "", errdef.Wrap(errdef.CodeFilesystem, err, "remove moved request %s", loc.path)
	}

	dropRequest(c, loc)
	putRequest(c, group, stored)
	e.mu.Unlock()

	s.notify(Event{Kind: EventRequestMoved, Collection: root, Path: newPath})
	return newPath, nil
}

// Request returns a copy of the request stored at path.
func (s *Store) Request(collectionPath, path string) (Request, error) {
	root, err := absPath(collectionPath)
	if err != nil {
		return Request{}, err
	}
	file, err := filepath.Abs(path)
	if err != nil {
		return Request{}, errdef.Wrap(errdef.CodeFilesystem, err, "resolve %s", path)
	}

	e := s.entryFor(root)
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := s.loadedLocked(e, root)
	if err != nil {
		return Request{}, err
	}
	if r, ok := c.Requests[file]; ok {
		return r.Clone(), nil
	}
	for _, g := range c.Groups {
		if r, ok := g.Requests[file]; ok {
			return r.Clone(), nil
		}
	}
	return Request{}, errdef.New(errdef.CodeNotFound, "request %s not found", file)
}

func findRequest(c *Collection, req Request) (location, bool) {
	if req.ID != "" {
		if loc, ok := scanRequests(c, func(r *Request) bool { return r.ID == req.ID }); ok {
			return loc, true
		}
	}
	return scanRequests(c, func(r *Request) bool { return r.Matches(req) })
}

// scanRequests walks root requests then groups in sorted order so lookups
// are deterministic when the triple is ambiguous.
func scanRequests(c *Collection, match func(*Request) bool) (location, bool) {
	for _, path := range util.SortedKeys(c.Requests) {
		if match(c.Requests[path]) {
			return location{path: path}, true
		}
	}
	for _, name := range util.SortedKeys(c.Groups) {
		g := c.Groups[name]
		for _, path := range util.SortedKeys(g.Requests) {
			if match(g.Requests[path]) {
				return location{path: path, group: name}, true
			}
		}
	}
	return location{}, false
}

func lookup(c *Collection, loc location) *Request {
	if loc.group == "" {
		return c.Requests[loc.path]
	}
	return c.Groups[loc.group].Requests[loc.path]
}

func putRequest(c *Collection, group string, req Request) {
	stored := req.Clone()
	if group == "" {
		if c.Requests == nil {
			c.Requests = make(map[string]*Request)
		}
		c.Requests[req.Path] = &stored
		return
	}
	if c.Groups == nil {
		c.Groups = make(map[string]*Group)
	}
	g, ok := c.Groups[group]
	if !ok {
		g = &Group{Name: group, RelativePath: group, Requests: make(map[string]*Request)}
		c.Groups[group] = g
	}
	g.Requests[req.Path] = &stored
}

func dropRequest(c *Collection, loc location) {
	if loc.group == "" {
		delete(c.Requests, loc.path)
		return
	}
	if g, ok := c.Groups[loc.group]; ok {
		delete(g.Requests, loc.path)
	}
}
