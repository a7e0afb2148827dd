package embedding

import (
	"testing"
)

func TestLRUCache_GetSet(t *testing.T) {
	var evicted []string
	c := newLRUCache[[]float32](2, func(key string, _ []float32) { evicted = append(evicted, key) })
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Errorf("evicted = %v, want [a]", evicted)
	}
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	c := newLRUCache[int](2, nil)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3) // evicts b, not a
	if _, ok := c.Get("a"); !ok {
		t.Error("recently read entry should survive")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
}

func TestLRUCache_Drain(t *testing.T) {
	closed := 0
	c := newLRUCache[int](4, func(string, int) { closed++ })
	c.Set("a", 1)
	c.Set("b", 2)
	c.Drain()
	if closed != 2 {
		t.Errorf("closed = %d, want 2", closed)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d after Drain", c.Len())
	}
}
