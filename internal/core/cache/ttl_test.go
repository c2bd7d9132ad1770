package cache

import (
	"testing"
	"time"
)

func newTestCache(ttl time.Duration) (*TTL, *time.Time) {
	c := NewTTL(ttl)
	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }
	return c, &current
}

func TestGetSetRoundTrip(t *testing.T) {
	c, _ := newTestCache(2 * time.Second)

	c.Set("book:abc", 42)
	v, ok := c.Get("book:abc")
	if !ok {
		t.Fatal("expected hit")
	}
	if v.(int) != 42 {
		t.Errorf("got %v, want 42", v)
	}
}

func TestLazyExpiry(t *testing.T) {
	c, now := newTestCache(2 * time.Second)

	c.Set("price:abc", 0.55)
	*now = now.Add(3 * time.Second)

	if _, ok := c.Get("price:abc"); ok {
		t.Fatal("expected expired entry to miss")
	}
	// Expired read removes the entry.
	if s := c.Stats(); s.Entries != 0 {
		t.Errorf("entries = %d, want 0 after expired read", s.Entries)
	}
}

func TestSetTTLOverridesDefault(t *testing.T) {
	c, now := newTestCache(time.Second)

	c.SetTTL("balance", 100.0, 10*time.Second)
	*now = now.Add(5 * time.Second)

	if _, ok := c.Get("balance"); !ok {
		t.Fatal("entry with explicit TTL expired too early")
	}
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("k", 1)
	if !c.Invalidate("k") {
		t.Error("Invalidate on present key should return true")
	}
	if c.Invalidate("k") {
		t.Error("Invalidate on absent key should return false")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("book:0xaaa:yes", 1)
	c.Set("book:0xaaa:no", 2)
	c.Set("book:0xbbb:yes", 3)
	c.Set("balance", 4)

	if n := c.InvalidatePrefix("book:0xaaa"); n != 2 {
		t.Errorf("removed %d entries, want 2", n)
	}
	if _, ok := c.Get("book:0xbbb:yes"); !ok {
		t.Error("unrelated key was removed")
	}
	if _, ok := c.Get("balance"); !ok {
		t.Error("non-prefixed key was removed")
	}
}

func TestSweep(t *testing.T) {
	c, now := newTestCache(time.Second)

	c.Set("a", 1)
	c.Set("b", 2)
	c.SetTTL("c", 3, time.Hour)
	*now = now.Add(2 * time.Second)

	if n := c.Sweep(); n != 2 {
		t.Errorf("swept %d entries, want 2", n)
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("long-lived entry should survive sweep")
	}
}

func TestStatsHitRate(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("k", 1)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 2 || s.Misses != 1 {
		t.Fatalf("hits/misses = %d/%d, want 2/1", s.Hits, s.Misses)
	}
	want := 2.0 / 3.0
	if diff := s.HitRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("hit rate = %f, want %f", s.HitRate, want)
	}
}
