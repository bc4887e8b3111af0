package cache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *testClock { return &testClock{now: time.Unix(1700000000, 0)} }

func TestBounded_GetSet(t *testing.T) {
	clock := newClock()
	c := NewBounded[string](Policy{TTL: time.Minute}).WithClock(clock.Now)

	c.Set("k", "v")
	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get() = %q, %v; want v, true", got, ok)
	}

	clock.Advance(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after lazy removal", c.Len())
	}
}

func TestBounded_SetUntil(t *testing.T) {
	tests := []struct {
		name     string
		deadline time.Duration // relative to now; zero means none
		advance  time.Duration
		wantHit  bool
	}{
		{name: "no deadline uses ttl", advance: 4 * time.Minute, wantHit: true},
		{name: "later deadline capped by ttl", deadline: time.Hour, advance: 5 * time.Minute, wantHit: false},
		{name: "earlier deadline wins", deadline: 10 * time.Second, advance: 11 * time.Second, wantHit: false},
		{name: "before earlier deadline", deadline: 10 * time.Second, advance: 9 * time.Second, wantHit: true},
		{name: "past deadline not stored", deadline: -time.Second, wantHit: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			c := NewBounded[int](TokenPolicy()).WithClock(clock.Now)

			var deadline time.Time
			if tt.deadline != 0 {
				deadline = clock.Now().Add(tt.deadline)
			}
			c.SetUntil("k", 1, deadline)
			clock.Advance(tt.advance)

			if _, ok := c.Get("k"); ok != tt.wantHit {
				t.Errorf("Get() hit = %v, want %v", ok, tt.wantHit)
			}
		})
	}
}

func TestBounded_PastDeadlineDropsPrevious(t *testing.T) {
	clock := newClock()
	c := NewBounded[int](TokenPolicy()).WithClock(clock.Now)

	c.Set("k", 1)
	c.SetUntil("k", 2, clock.Now().Add(-time.Second))
	if _, ok := c.Get("k"); ok {
		t.Error("an expired update must drop the previous entry")
	}
}

func TestBounded_BatchEviction(t *testing.T) {
	clock := newClock()
	c := NewBounded[int](Policy{TTL: time.Hour, MaxEntries: 5, EvictionMargin: 2}).WithClock(clock.Now)

	for i := 0; i < 6; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		clock.Advance(time.Second)
	}

	// 6 entries > 5: evict 1 overage + 2 margin, oldest first.
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
	for i := 0; i < 3; i++ {
		if _, ok := c.Get(fmt.Sprintf("k%d", i)); ok {
			t.Errorf("k%d should have been evicted", i)
		}
	}
	for i := 3; i < 6; i++ {
		if _, ok := c.Get(fmt.Sprintf("k%d", i)); !ok {
			t.Errorf("k%d should have been kept", i)
		}
	}
}

func TestBounded_PeriodicCleanup(t *testing.T) {
	clock := newClock()
	c := NewBounded[int](Policy{TTL: time.Minute, CleanupEvery: 3}).WithClock(clock.Now)

	c.Set("old1", 1)
	c.Set("old2", 2)
	clock.Advance(2 * time.Minute)
	c.Set("new", 3) // third insert triggers cleanup

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestBounded_Purge(t *testing.T) {
	clock := newClock()
	c := NewBounded[int](Policy{TTL: time.Minute}).WithClock(clock.Now)
	c.Set("a", 1)
	c.Set("b", 2)
	clock.Advance(time.Minute)

	if n := c.Purge(); n != 2 {
		t.Errorf("Purge() = %d, want 2", n)
	}
}

func TestBounded_NoCachePolicy(t *testing.T) {
	if (Policy{}).Enabled() || !TokenPolicy().Enabled() {
		t.Fatal("Enabled() should track a positive TTL")
	}
	c := NewBounded[int](Policy{})
	c.Set("k", 1)
	if c.Len() != 0 {
		t.Error("zero policy must not store entries")
	}
}

func TestBounded_Concurrent(t *testing.T) {
	c := NewBounded[int](TokenPolicy())
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", g, i)
				c.Set(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 500 {
		t.Errorf("Len() = %d exceeds cap", c.Len())
	}
}

func TestTokenKey(t *testing.T) {
	k1 := TokenKey("secret-token")
	k2 := TokenKey("secret-token")
	if k1 != k2 {
		t.Fatal("TokenKey must be deterministic")
	}
	if strings.Contains(k1, "secret") {
		t.Fatal("TokenKey must not contain the raw token")
	}
	if strings.ContainsAny(k1, "+/=") {
		t.Errorf("TokenKey %q is not unpadded base64url", k1)
	}
	if len(k1) != 43 {
		t.Errorf("len(TokenKey) = %d, want 43", len(k1))
	}
	if TokenKey("other") == k1 {
		t.Error("different tokens must produce different keys")
	}
}
