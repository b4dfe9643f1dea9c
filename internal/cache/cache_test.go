// Package cache provides tests for the in-memory KV cache tier.
package cache

import (
	"testing"
	"time"
)

// TestGetSet tests basic store and retrieve behavior.
func TestGetSet(t *testing.T) {
	c := NewMemory()

	c.Set("a", "one", time.Minute)

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("Get(a) ok = false, want true")
	}
	if got != "one" {
		t.Errorf("Get(a) = %v, want %v", got, "one")
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}
}

// TestExpiry tests that entries disappear after their TTL.
func TestExpiry(t *testing.T) {
	c := NewMemory()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", "one", time.Minute)

	// Still valid just before the deadline
	now = now.Add(59 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Error("Get(a) before expiry ok = false, want true")
	}

	// Gone after the deadline
	now = now.Add(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) after expiry ok = true, want false")
	}
}

// TestNoExpiry tests that a non-positive TTL stores without expiry.
func TestNoExpiry(t *testing.T) {
	c := NewMemory()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", "one", 0)

	now = now.Add(24 * time.Hour)
	if _, ok := c.Get("a"); !ok {
		t.Error("Get(a) with zero TTL ok = false, want true")
	}
}

// TestDeletePrefix tests prefix eviction used by ClearProductTypeCache.
func TestDeletePrefix(t *testing.T) {
	c := NewMemory()

	c.Set("requirements:LUGGAGE:ATVPDKIKX0DER:en_US", 1, time.Minute)
	c.Set("requirements:LUGGAGE:A1F83G8C2ARO7P:en_GB", 2, time.Minute)
	c.Set("requirements:SHOES:ATVPDKIKX0DER:en_US", 3, time.Minute)
	c.Set("search:abc", 4, time.Minute)

	evicted := c.DeletePrefix("requirements:LUGGAGE:")
	if evicted != 2 {
		t.Errorf("DeletePrefix evicted = %d, want %d", evicted, 2)
	}

	if _, ok := c.Get("requirements:LUGGAGE:ATVPDKIKX0DER:en_US"); ok {
		t.Error("prefixed key survived DeletePrefix")
	}
	if _, ok := c.Get("requirements:SHOES:ATVPDKIKX0DER:en_US"); !ok {
		t.Error("unrelated requirements key was evicted")
	}
	if _, ok := c.Get("search:abc"); !ok {
		t.Error("unrelated search key was evicted")
	}
}

// TestFlush tests whole-cache eviction.
func TestFlush(t *testing.T) {
	c := NewMemory()
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	c.Flush()

	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) after Flush ok = true, want false")
	}
	if _, ok := c.Get("b"); ok {
		t.Error("Get(b) after Flush ok = true, want false")
	}
}
