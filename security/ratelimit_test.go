package security

import (
	"fmt"
	"testing"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	defer rl.Stop()

	// Burst of 2 should be allowed, third immediate request denied
	if !rl.Allow("client-a") {
		t.Error("first request should be allowed")
	}
	if !rl.Allow("client-a") {
		t.Error("second request (burst) should be allowed")
	}
	if rl.Allow("client-a") {
		t.Error("third immediate request should be denied")
	}
}

func TestRateLimiter_IndependentIdentifiers(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	if !rl.Allow("client-a") {
		t.Error("client-a first request should be allowed")
	}
	if !rl.Allow("client-b") {
		t.Error("client-b should not be affected by client-a's bucket")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}

	rl.mu.Lock()
	entries := len(rl.limiters)
	rl.mu.Unlock()

	if entries != 3 {
		t.Errorf("tracked identifiers = %d, want 3 (LRU eviction at cap)", entries)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rl.Allow("client-a")
	rl.Cleanup(0) // everything is idle relative to a zero max idle

	rl.mu.Lock()
	entries := len(rl.limiters)
	rl.mu.Unlock()

	if entries != 0 {
		t.Errorf("tracked identifiers after cleanup = %d, want 0", entries)
	}

	// Fresh bucket after cleanup gets its burst back
	if !rl.Allow("client-a") {
		t.Error("request after cleanup should be allowed")
	}
}
