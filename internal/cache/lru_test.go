package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should be cached")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("a lost: %v %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("size = %d", c.Size())
	}
}

func TestLRUExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[string](10, time.Minute).WithClock(clock.now)
	c.Set("owner-1", "summary")
	c.Set("owner-2", "summary")

	clock.t = clock.t.Add(30 * time.Second)
	if _, ok := c.Get("owner-1"); !ok {
		t.Fatalf("entry expired early")
	}

	clock.t = clock.t.Add(2 * time.Minute)
	if _, ok := c.Get("owner-1"); ok {
		t.Fatalf("entry should have expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("CleanExpired = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Fatalf("size = %d", c.Size())
	}
}

func TestDeletePrefix(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("dash:a", 1)
	c.Set("dash:b", 2)
	c.Set("other", 3)
	if n := c.DeletePrefix("dash:"); n != 2 {
		t.Fatalf("DeletePrefix = %d", n)
	}
	if _, ok := c.Get("other"); !ok {
		t.Fatalf("unrelated key removed")
	}
}

func TestManagerSweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewLRUCache[int](10, time.Second).WithClock(clock.now)
	c.Set("x", 1)

	m := NewManager(nil)
	m.Register(c)
	clock.t = clock.t.Add(time.Hour)
	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep = %d", n)
	}
	m.Stop()
	m.Stop()
}
