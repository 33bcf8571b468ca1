// File path: internal/router/ratelimit.go
package router

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/meridianhq/opql/internal/common/telemetry"
)

// rateLimiter is a fixed-window counter keyed by principal and workspace.
// Every throttled call is also tallied; a principal whose cumulative
// throttle count exceeds blockMultiplier*maxRequests joins the blocked set
// and stays there until an operator unblocks it.
type rateLimiter struct {
	mu              sync.Mutex
	window          time.Duration
	maxRequests     int
	blockMultiplier int
	counters        map[string]*rateCounter
	blocked         map[string]struct{}
	now             func() time.Time
}

type rateCounter struct {
	windowStart time.Time
	count       int
	throttles   int
}

func newRateLimiter(cfg Config) *rateLimiter {
	return &rateLimiter{
		window:          cfg.Window,
		maxRequests:     cfg.MaxRequests,
		blockMultiplier: cfg.BlockMultiplier,
		counters:        make(map[string]*rateCounter),
		blocked:         make(map[string]struct{}),
		now:             time.Now,
	}
}

func limiterKey(principalID, workspaceID string) string {
	return principalID + "|" + workspaceID
}

// allow admits or rejects one call. On rejection it returns a
// *RateLimitError whose RetryAfter counts whole seconds until the current
// window resets.
func (l *rateLimiter) allow(principalID, workspaceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := limiterKey(principalID, workspaceID)
	if _, ok := l.blocked[key]; ok {
		telemetry.RecordThrottle()
		return &RateLimitError{RetryAfter: l.retryAfterLocked(key), Blocked: true}
	}

	now := l.now()
	counter, ok := l.counters[key]
	if !ok {
		counter = &rateCounter{windowStart: now}
		l.counters[key] = counter
	}
	if now.Sub(counter.windowStart) >= l.window {
		counter.windowStart = now
		counter.count = 0
	}
	if counter.count < l.maxRequests {
		counter.count++
		return nil
	}

	counter.throttles++
	telemetry.RecordThrottle()
	if counter.throttles > l.blockMultiplier*l.maxRequests {
		if _, already := l.blocked[key]; !already {
			l.blocked[key] = struct{}{}
			telemetry.RecordBlockedPrincipal()
		}
	}
	retryAfter := l.window - now.Sub(counter.windowStart)
	return &RateLimitError{RetryAfter: ceilSeconds(retryAfter)}
}

func (l *rateLimiter) retryAfterLocked(key string) int {
	counter, ok := l.counters[key]
	if !ok {
		return ceilSeconds(l.window)
	}
	remaining := l.window - l.now().Sub(counter.windowStart)
	if remaining <= 0 {
		remaining = l.window
	}
	return ceilSeconds(remaining)
}

// Unblock clears a principal from the blocked set and resets its throttle
// tally. It reports whether the principal was blocked.
func (l *rateLimiter) unblock(principalID, workspaceID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := limiterKey(principalID, workspaceID)
	if _, ok := l.blocked[key]; !ok {
		return false
	}
	delete(l.blocked, key)
	if counter, ok := l.counters[key]; ok {
		counter.throttles = 0
	}
	return true
}

// blockedKeys returns the blocked principal|workspace keys sorted for
// stable diagnostics output.
func (l *rateLimiter) blockedKeys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.blocked))
	for key := range l.blocked {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// throttleCount sums the throttles seen across every counter.
func (l *rateLimiter) throttleCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, counter := range l.counters {
		total += counter.throttles
	}
	return total
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
