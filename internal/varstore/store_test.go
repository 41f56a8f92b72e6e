package varstore

import (
	"fmt"
	"sync"
	"testing"
)

func TestInitializeWithEnvMarksNothingDirty(t *testing.T) {
	s := New()
	s.InitializeWithEnv(
		map[string]string{"baseUrl": "http://h", "token": "plain"},
		map[string]string{"token": "secret"},
	)
	if got := s.Dirty(); len(got) != 0 {
		t.Fatalf("expected no dirty entries, got %v", got)
	}
	v, ok := s.Get("token")
	if !ok || v != "secret" {
		t.Fatalf("expected secret to override variable, got %v", v)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatalf("expected missing lookup to fail")
	}
}

func TestDirtyOnlyReturnsSetValues(t *testing.T) {
	s := New()
	s.InitializeWithEnv(map[string]string{"keep": "1", "token": "old"}, nil)
	s.Set("token", "abc")
	s.Set("count", float64(3))
	s.Set("obj", map[string]any{"a": true})
	s.Set("nothing", nil)

	got := s.Dirty()
	want := map[string]string{
		"token":   "abc",
		"count":   "3",
		"obj":     `{"a":true}`,
		"nothing": "null",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d dirty entries, got %v", len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("dirty[%s]: expected %q, got %q", k, v, got[k])
		}
	}
	if _, ok := got["keep"]; ok {
		t.Fatalf("seeded value must not be dirty")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := New()
	s.Set("a", "1")
	snap := s.Snapshot()
	snap["a"] = "2"
	if v, _ := s.Get("a"); v != "1" {
		t.Fatalf("snapshot mutation leaked into store")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Set(fmt.Sprintf("k%d", i), j)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Dirty()
				_, _ = s.Get("k0")
			}
		}()
	}
	wg.Wait()
	got := s.Dirty()
	if len(got) != 8 {
		t.Fatalf("expected 8 dirty entries, got %d", len(got))
	}
	if got["k3"] != "99" {
		t.Fatalf("expected last write to win, got %q", got["k3"])
	}
}
