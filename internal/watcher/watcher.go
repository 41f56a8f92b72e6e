// Package watcher polls collection directories and reports when the set of
// descriptor or request files below them changes.
package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type EventKind int

const (
	EventChanged EventKind = iota
	EventMissing
)

func (k EventKind) String() string {
	switch k {
	case EventChanged:
		return "changed"
	case EventMissing:
		return "missing"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Fingerprint summarises a directory tree: the newest modtime, the number of
// tracked files and a hash over every (path, size, modtime) triple.
type Fingerprint struct {
	Mod   time.Time
	Files int
	Hash  string
}

type Event struct {
	Root string
	Kind EventKind
	Prev Fingerprint
	Curr Fingerprint
}

type Options struct {
	Interval time.Duration
	Buffer   int
	// Depth bounds how many directory levels below the root are fingerprinted.
	// Collections only nest one group level so the default is 1.
	Depth int
	// Ext limits fingerprinting to files with this extension. Empty tracks all files.
	Ext string
}

type entry struct {
	root    string
	fp      Fingerprint
	missing bool
}

type Watcher struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	out      chan Event
	interval time.Duration
	depth    int
	ext      string
	stop     chan struct{}
	wg       sync.WaitGroup
	started  bool
	closed   bool
}

const (
	defaultInterval = time.Second
	defaultBuffer   = 16
	defaultDepth    = 1
	hashPrefix      = "sha256:"
)

func New(opts Options) *Watcher {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	buf := opts.Buffer
	if buf <= 0 {
		buf = defaultBuffer
	}
	depth := opts.Depth
	if depth <= 0 {
		depth = defaultDepth
	}
	return &Watcher{
		entries:  make(map[string]*entry),
		out:      make(chan Event, buf),
		interval: interval,
		depth:    depth,
		ext:      strings.ToLower(opts.Ext),
	}
}

func (w *Watcher) Events() <-chan Event {
	return w.out
}

func (w *Watcher) Interval() time.Duration {
	return w.interval
}

func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started || w.closed {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.stop = make(chan struct{})
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		t := time.NewTicker(w.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				w.Scan()
			case <-w.stop:
				return
			}
		}
	}()
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.started && w.stop != nil {
		close(w.stop)
	}
	w.mu.Unlock()
	if w.started {
		w.wg.Wait()
	}
	close(w.out)
}

// Track records the current fingerprint of root so later scans only report
// changes made after this call.
func (w *Watcher) Track(root string) error {
	clean, ok := cleanPath(root)
	if !ok {
		return fmt.Errorf("invalid watch root %q", root)
	}
	fp, err := w.fingerprint(clean)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.entries[clean] = &entry{root: clean, fp: fp}
	return nil
}

func (w *Watcher) Forget(root string) {
	clean, ok := cleanPath(root)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, clean)
}

func (w *Watcher) Tracked() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	roots := make([]string, 0, len(w.entries))
	for root := range w.entries {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	return roots
}

// Scan checks every tracked root once. A root's fingerprint only advances
// once its event is queued, so a change that finds the buffer full is
// reported again by a later scan.
func (w *Watcher) Scan() {
	if w.isClosed() {
		return
	}
	for _, e := range w.snapshot() {
		evt, ok := w.check(e)
		if !ok {
			continue
		}
		if !w.emit(evt) {
			continue
		}
		if evt.Kind == EventMissing {
			w.update(evt.Root, evt.Prev, true)
		} else {
			w.update(evt.Root, evt.Curr, false)
		}
	}
}

func (w *Watcher) snapshot() []entry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	list := make([]entry, 0, len(w.entries))
	for _, e := range w.entries {
		list = append(list, *e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].root < list[j].root })
	return list
}

func (w *Watcher) check(e entry) (Event, bool) {
	info, err := os.Stat(e.root)
	if err != nil || !info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Event{}, false
		}
		if e.missing {
			return Event{}, false
		}
		return Event{Root: e.root, Kind: EventMissing, Prev: e.fp}, true
	}

	next, err := w.fingerprint(e.root)
	if err != nil {
		return Event{}, false
	}
	if !e.missing && next.Hash == e.fp.Hash {
		return Event{}, false
	}
	return Event{Root: e.root, Kind: EventChanged, Prev: e.fp, Curr: next}, true
}

func (w *Watcher) fingerprint(root string) (Fingerprint, error) {
	var lines []string
	var newest time.Time

	var walk func(dir string, level int) error
	walk = func(dir string, level int) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, de := range entries {
			name := de.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			full := filepath.Join(dir, name)
			if de.IsDir() {
				if level < w.depth {
					// tolerate a group vanishing mid-walk
					_ = walk(full, level+1)
				}
				continue
			}
			if w.ext != "" && strings.ToLower(filepath.Ext(name)) != w.ext {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			rel, _ := filepath.Rel(root, full)
			lines = append(lines, fmt.Sprintf("%s|%d|%d", rel, info.Size(), info.ModTime().UnixNano()))
			if info.ModTime().After(newest) {
				newest = info.ModTime()
			}
		}
		return nil
	}

	if err := walk(root, 0); err != nil {
		return Fingerprint{}, err
	}
	sort.Strings(lines)
	return Fingerprint{Mod: newest, Files: len(lines), Hash: hashLines(lines)}, nil
}

func (w *Watcher) update(root string, fp Fingerprint, missing bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[root]; ok {
		e.fp = fp
		e.missing = missing
	}
}

func (w *Watcher) emit(evt Event) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.out <- evt:
		return true
	default:
		return false
	}
}

func (w *Watcher) isClosed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

func cleanPath(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	clean := filepath.Clean(path)
	if clean == "" || clean == "." {
		return "", false
	}
	return clean, true
}

func hashLines(lines []string) string {
	if len(lines) == 0 {
		return hashPrefix + "0"
	}
	h := sha256.New()
	for _, line := range lines {
		_, _ = h.Write([]byte(line))
		_, _ = h.Write([]byte{'\n'})
	}
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}
