package cache

import (
	"testing"
	"time"
)

func TestGetReturnsFreshValue(t *testing.T) {
	c, err := New[string](10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Now()
	c.now = func() time.Time { return base }

	c.Set("price:ETH", "3400.50", 5*time.Minute)

	tests := []struct {
		name    string
		elapsed time.Duration
		wantHit bool
	}{
		{"immediately", 0, true},
		{"just_before_ttl", 5*time.Minute - time.Second, true},
		{"exactly_at_ttl", 5 * time.Minute, false},
		{"just_after_ttl", 5*time.Minute + time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.now = func() time.Time { return base }
			c.Set("price:ETH", "3400.50", 5*time.Minute)
			c.now = func() time.Time { return base.Add(tt.elapsed) }

			got, ok := c.Get("price:ETH")
			if ok != tt.wantHit {
				t.Fatalf("Get hit = %v, want %v", ok, tt.wantHit)
			}
			if tt.wantHit && got != "3400.50" {
				t.Errorf("Get = %q, want %q", got, "3400.50")
			}
		})
	}
}

func TestStaleEntryPurgedOnAccess(t *testing.T) {
	c, err := New[int](10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("k", 42, time.Minute)

	if got := c.Len(); got != 1 {
		t.Fatalf("Len = %d, want 1", got)
	}

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected stale entry to miss")
	}
	if got := c.Len(); got != 0 {
		t.Errorf("Len after stale access = %d, want 0", got)
	}
}

func TestPerEntryTTL(t *testing.T) {
	c, err := New[string](10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Set("price", "100", 30*time.Second)
	c.Set("handle", "0xabc", 30*time.Minute)

	c.now = func() time.Time { return base.Add(time.Minute) }
	if _, ok := c.Get("price"); ok {
		t.Error("price entry should have expired")
	}
	if _, ok := c.Get("handle"); !ok {
		t.Error("handle entry should still be fresh")
	}
}

func TestLRUEvictionWhenFull(t *testing.T) {
	c, err := New[int](2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)

	// Touch "a" so "b" becomes the least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be present")
	}

	c.Set("c", 3, time.Hour)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to survive eviction")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
}

func TestRemoveAndPurge(t *testing.T) {
	c, err := New[int](10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)

	c.Remove("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be removed")
	}

	c.Purge()
	if got := c.Len(); got != 0 {
		t.Errorf("Len after purge = %d, want 0", got)
	}
}
