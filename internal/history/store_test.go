package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/restbro/internal/errdef"
)

func TestStoreByFileFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.json")
	store := NewStore(path, 10)

	fileA := filepath.Join(dir, "a.toml")
	fileB := filepath.Join(dir, "b.toml")

	t1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Minute)

	if err := store.Append(Entry{ID: "1", ExecutedAt: t1, RequestPath: fileA}); err != nil {
		t.Fatalf("append entry 1: %v", err)
	}
	if err := store.Append(Entry{ID: "2", ExecutedAt: t2, RequestPath: fileA}); err != nil {
		t.Fatalf("append entry 2: %v", err)
	}
	if err := store.Append(Entry{ID: "3", ExecutedAt: t1, RequestPath: fileB}); err != nil {
		t.Fatalf("append entry 3: %v", err)
	}

	got := store.ByFile(filepath.Join(dir, ".", "a.toml"))
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for file A, got %d", len(got))
	}
	if got[0].ID != "2" || got[1].ID != "1" {
		t.Fatalf("expected newest-first order, got %q then %q", got[0].ID, got[1].ID)
	}

	if len(store.ByFile("")) != 0 {
		t.Fatalf("expected empty result for blank path")
	}
}

func TestAppendAssignsIDAndTrims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.json")
	store := NewStore(path, 2)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		entry := Entry{ExecutedAt: base.Add(time.Duration(i) * time.Minute), RequestName: "r"}
		if err := store.Append(entry); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	entries := store.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected history trimmed to 2, got %d", len(entries))
	}
	if entries[0].ID == "" || entries[0].ID == entries[1].ID {
		t.Fatalf("expected distinct generated ids, got %q and %q", entries[0].ID, entries[1].ID)
	}
	if !entries[0].ExecutedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected newest entry first, got %v", entries[0].ExecutedAt)
	}

	reloaded := NewStore(path, 2)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(reloaded.Entries()) != 2 {
		t.Fatalf("expected persisted entries, got %d", len(reloaded.Entries()))
	}
}

func TestByRequestAndCollection(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "history.json"), 0)
	entries := []Entry{
		{ID: "a", Collection: "Shop", RequestName: "login", URL: "http://h/login"},
		{ID: "b", Collection: "shop", RequestName: "list", URL: "http://h/items"},
		{ID: "c", Collection: "other", RequestName: "login", URL: "http://o/login"},
	}
	for _, e := range entries {
		if err := store.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if got := store.ByRequest("login"); len(got) != 2 {
		t.Fatalf("expected 2 login entries, got %d", len(got))
	}
	if got := store.ByRequest("http://h/items"); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("expected match by url, got %+v", got)
	}
	if got := store.ByRequest(""); len(got) != 3 {
		t.Fatalf("expected all entries for blank identifier, got %d", len(got))
	}
	if got := store.ByCollection("SHOP"); len(got) != 2 {
		t.Fatalf("expected case-insensitive collection match, got %d", len(got))
	}
}

func TestDeleteAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store := NewStore(path, 10)
	if err := store.Append(Entry{ID: "x"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	ok, err := store.Delete("x")
	if err != nil || !ok {
		t.Fatalf("expected delete to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = store.Delete("x")
	if err != nil || ok {
		t.Fatalf("expected second delete to report missing, ok=%v err=%v", ok, err)
	}
	if err := store.Append(Entry{ID: "y"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(store.Entries()) != 0 {
		t.Fatalf("expected empty history after clear")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := NewStore(path, 10).Load()
	if !errdef.Is(err, errdef.CodeHistory) {
		t.Fatalf("expected history error, got %v", err)
	}
}

func TestSnippet(t *testing.T) {
	if Snippet([]byte("short")) != "short" {
		t.Fatalf("short body must be kept")
	}
	long := strings.Repeat("x", snippetLimit+10)
	got := Snippet([]byte(long))
	if !strings.HasSuffix(got, "…") || len(got) != snippetLimit+len("…") {
		t.Fatalf("unexpected snippet length %d", len(got))
	}
}
