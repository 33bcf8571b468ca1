// File path: internal/router/ratelimit_test.go
package router

import (
	"errors"
	"testing"
	"time"
)

func fixedLimiter(window time.Duration, maxRequests, multiplier int) (*rateLimiter, *time.Time) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := newRateLimiter(Config{Window: window, MaxRequests: maxRequests, BlockMultiplier: multiplier})
	limiter.now = func() time.Time { return current }
	return limiter, &current
}

func TestRateLimiterThrottlesOverLimit(t *testing.T) {
	limiter, _ := fixedLimiter(2*time.Second, 3, 4)

	for i := 0; i < 3; i++ {
		if err := limiter.allow("user-1", "ws-1"); err != nil {
			t.Fatalf("call %d should be admitted: %v", i+1, err)
		}
	}
	err := limiter.allow("user-1", "ws-1")
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("over-limit call should be throttled, got %v", err)
	}
	if rateErr.Blocked {
		t.Fatalf("a single throttle should not block")
	}
	if rateErr.RetryAfter < 1 || rateErr.RetryAfter > 2 {
		t.Fatalf("retryAfter should be within the window, got %d", rateErr.RetryAfter)
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	limiter, current := fixedLimiter(2*time.Second, 2, 4)

	limiter.allow("user-1", "ws-1")
	limiter.allow("user-1", "ws-1")
	if err := limiter.allow("user-1", "ws-1"); err == nil {
		t.Fatalf("third call inside the window should be throttled")
	}

	*current = current.Add(2 * time.Second)
	if err := limiter.allow("user-1", "ws-1"); err != nil {
		t.Fatalf("call after the window reset should be admitted: %v", err)
	}
}

func TestRateLimiterKeysArePerPrincipalAndWorkspace(t *testing.T) {
	limiter, _ := fixedLimiter(time.Minute, 1, 4)

	if err := limiter.allow("user-1", "ws-1"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := limiter.allow("user-1", "ws-1"); err == nil {
		t.Fatalf("second call on the same key should be throttled")
	}
	if err := limiter.allow("user-2", "ws-1"); err != nil {
		t.Fatalf("other principal should have its own window: %v", err)
	}
	if err := limiter.allow("user-1", "ws-2"); err != nil {
		t.Fatalf("other workspace should have its own window: %v", err)
	}
}

func TestRateLimiterBlocksAbusers(t *testing.T) {
	limiter, _ := fixedLimiter(time.Minute, 2, 2)

	limiter.allow("user-1", "ws-1")
	limiter.allow("user-1", "ws-1")
	// blockMultiplier*maxRequests = 4 throttles are tolerated; the fifth
	// tips the principal into the blocked set.
	for i := 0; i < 5; i++ {
		limiter.allow("user-1", "ws-1")
	}
	if keys := limiter.blockedKeys(); len(keys) != 1 || keys[0] != "user-1|ws-1" {
		t.Fatalf("blocked keys: got %v", keys)
	}

	err := limiter.allow("user-1", "ws-1")
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) || !rateErr.Blocked {
		t.Fatalf("blocked principal should short-circuit with Blocked, got %v", err)
	}

	if !limiter.unblock("user-1", "ws-1") {
		t.Fatalf("unblock should report the principal was blocked")
	}
	if limiter.unblock("user-1", "ws-1") {
		t.Fatalf("second unblock should report not blocked")
	}
	if len(limiter.blockedKeys()) != 0 {
		t.Fatalf("blocked set should be empty after unblock")
	}
}

func TestRateLimiterThrottleCount(t *testing.T) {
	limiter, _ := fixedLimiter(time.Minute, 1, 4)

	limiter.allow("user-1", "ws-1")
	limiter.allow("user-1", "ws-1")
	limiter.allow("user-1", "ws-1")
	if got := limiter.throttleCount(); got != 2 {
		t.Fatalf("throttle count: got %d, want 2", got)
	}
}

func TestCeilSeconds(t *testing.T) {
	if got := ceilSeconds(1500 * time.Millisecond); got != 2 {
		t.Fatalf("1.5s should round up to 2, got %d", got)
	}
	if got := ceilSeconds(0); got != 0 {
		t.Fatalf("zero should stay 0, got %d", got)
	}
	if got := ceilSeconds(-time.Second); got != 0 {
		t.Fatalf("negative should clamp to 0, got %d", got)
	}
}
