package collection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func collectEvents(store *Store, kind EventKind) <-chan string {
	ch := make(chan string, 256)
	store.Subscribe(func(evt Event) {
		if evt.Kind == kind {
			ch <- evt.Collection
		}
	})
	return ch
}

func startWatch(t *testing.T, store *Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx, 5*time.Millisecond) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("watch did not stop after cancel")
		}
	})
}

// waitTracked rewrites a request in dir until the watcher reports a reload
// of dir, which shows the collection is being polled.
func waitTracked(t *testing.T, dir string, reloaded <-chan string) {
	t.Helper()
	want, _ := absPath(dir)
	deadline := time.Now().Add(3 * time.Second)
	for i := 0; time.Now().Before(deadline); i++ {
		writeFile(t, filepath.Join(dir, "touch.toml"), fmt.Sprintf("name = \"t%d\"\nurl = \"http://h/%d\"", i, i))
		wait := time.After(50 * time.Millisecond)
	drain:
		for {
			select {
			case path := <-reloaded:
				if path == want {
					return
				}
			case <-wait:
				break drain
			}
		}
	}
	t.Fatalf("collection %s was never reloaded", dir)
}

func TestWatchReloadsChangedCollection(t *testing.T) {
	dir := newCollectionDir(t, "shop")
	store := NewStore(nil)
	if _, err := store.Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	reloaded := collectEvents(store, EventReloaded)
	startWatch(t, store)
	waitTracked(t, dir, reloaded)

	writeFile(t, filepath.Join(dir, "users", "list.toml"), `name = "List users"
url = "http://h/users"`)
	deadline := time.Now().Add(3 * time.Second)
	for {
		c, ok := store.Collection(dir)
		if !ok {
			t.Fatalf("collection dropped from cache")
		}
		if _, ok := c.Groups["users"]; ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected reloaded collection to contain group users, got %+v", c.Groups)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchDropsRemovedCollection(t *testing.T) {
	dir := newCollectionDir(t, "shop")
	store := NewStore(nil)
	if _, err := store.Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
	reloaded := collectEvents(store, EventReloaded)
	removed := collectEvents(store, EventRemoved)
	startWatch(t, store)
	waitTracked(t, dir, reloaded)

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove: %v", err)
	}
	select {
	case <-removed:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected removal event")
	}
	if _, ok := store.Collection(dir); ok {
		t.Fatalf("expected removed collection to leave the cache")
	}
}

func TestWatchReportsEveryCollectionInABurst(t *testing.T) {
	root := t.TempDir()
	const count = 40
	dirs := make([]string, count)
	for i := range dirs {
		dirs[i] = filepath.Join(root, fmt.Sprintf("c%02d", i))
		writeFile(t, filepath.Join(dirs[i], DescriptorFile), fmt.Sprintf("name = \"c%02d\"", i))
	}
	sentinel := filepath.Join(root, "sentinel")
	writeFile(t, filepath.Join(sentinel, DescriptorFile), `name = "sentinel"`)

	store := NewStore(nil)
	colls, err := store.Scan(root)
	if err != nil || len(colls) != count+1 {
		t.Fatalf("scan: %d collections, err %v", len(colls), err)
	}
	reloaded := collectEvents(store, EventReloaded)
	startWatch(t, store)
	waitTracked(t, sentinel, reloaded)

	sentinelPath, _ := absPath(sentinel)
	for _, dir := range dirs {
		writeFile(t, filepath.Join(dir, "ping.toml"), `name = "ping"
url = "http://h/ping"`)
	}

	seen := make(map[string]bool)
	deadline := time.After(5 * time.Second)
	for len(seen) < count {
		select {
		case path := <-reloaded:
			if path != sentinelPath {
				seen[path] = true
			}
		case <-deadline:
			t.Fatalf("only %d of %d collections reloaded", len(seen), count)
		}
	}
	for _, dir := range dirs {
		c, _ := store.Collection(dir)
		if c == nil || requestCount(c) != 1 {
			t.Fatalf("collection %s not refreshed", dir)
		}
	}
}
