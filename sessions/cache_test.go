package sessions

import (
	"sync"
	"testing"
)

func TestLRUCacheReportsEvictions(t *testing.T) {
	var (
		mu      sync.Mutex
		evicted []string
	)
	c := NewLRUCache(2, 0, func(token string, h *Handle) {
		mu.Lock()
		evicted = append(evicted, token)
		mu.Unlock()
	})

	c.Add("a", &Handle{})
	c.Add("b", &Handle{})
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be cached")
	}
	c.Add("c", &Handle{})

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected least recently used entry b to be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}

	c.Purge()
	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 3 || evicted[0] != "b" {
		t.Fatalf("unexpected evictions %v", evicted)
	}
}

func TestLRUCacheReplaceEvictsPrevious(t *testing.T) {
	var n int
	c := NewLRUCache(0, 0, func(string, *Handle) { n++ })
	c.Add("a", &Handle{})
	c.Add("a", &Handle{})
	if n != 1 {
		t.Fatalf("expected replaced handle to be reported, got %d evictions", n)
	}
}
