package cache

import (
	"testing"
	"time"
)

func TestTTLGetSet(t *testing.T) {
	c := New[string](time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for unset key")
	}

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("expected hit with v, got %q ok=%v", got, ok)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[int](10 * time.Millisecond)
	c.Set("k", 1)

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestTTLClear(t *testing.T) {
	c := New[int](time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after clear, got %d entries", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss after clear")
	}
}
