package filter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tkingovr/iochain/api"
)

// ErrRateLimited is returned by a RateLimitFilter configured to fail events
// over the limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig defines rate limiting rules.
type RateLimitConfig struct {
	// PerSession limits events per chain.
	PerSession *RateLimit

	// Global limits events across every chain sharing the filter.
	Global *RateLimit

	// Kinds lists the ingress event kinds counted. Defaults to reads.
	Kinds []api.EventKind

	// Fail turns an over-limit event into an error instead of dropping it.
	Fail bool
}

// RateLimit defines a single rate limit: max events per time window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// slidingWindow tracks event timestamps for rate limiting.
type slidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// RateLimitFilter enforces per-session and global event rates on ingress
// using a sliding window.
type RateLimitFilter struct {
	config  RateLimitConfig
	now     func() time.Time
	mu      sync.RWMutex
	windows map[string]*slidingWindow // key: chain ID or "_global"
}

// NewRateLimitFilter creates a new rate limit filter.
func NewRateLimitFilter(config RateLimitConfig) *RateLimitFilter {
	if len(config.Kinds) == 0 {
		config.Kinds = []api.EventKind{api.EventRead}
	}
	return &RateLimitFilter{
		config:  config,
		now:     time.Now,
		windows: make(map[string]*slidingWindow),
	}
}

func (f *RateLimitFilter) String() string { return "rate_limit" }

func (f *RateLimitFilter) Process(_ context.Context, ev *Event) (Outcome, error) {
	if ev.Direction != api.DirectionIngress || !slices.Contains(f.config.Kinds, ev.Kind) {
		return Forward, nil
	}

	now := f.now()

	if limit := f.config.PerSession; limit != nil {
		if !f.allow(ev.Chain().ID(), limit, now) {
			return f.exceeded(ev, "session", limit)
		}
	}
	if limit := f.config.Global; limit != nil {
		if !f.allow("_global", limit, now) {
			return f.exceeded(ev, "global", limit)
		}
	}
	return Forward, nil
}

func (f *RateLimitFilter) exceeded(ev *Event, scope string, limit *RateLimit) (Outcome, error) {
	ev.Verdict = api.VerdictDrop
	ev.Rule = "rate_limit:" + scope
	ev.Message = fmt.Sprintf("%s rate limit exceeded: max %d per %s", scope, limit.Max, limit.Window)
	if f.config.Fail {
		return Forward, fmt.Errorf("%w: %s", ErrRateLimited, ev.Message)
	}
	return Swallow, nil
}

// OnAdded is a no-op; windows are created lazily.
func (f *RateLimitFilter) OnAdded(*Chain, string) error { return nil }

// OnRemoved forgets the window of the chain the filter left.
func (f *RateLimitFilter) OnRemoved(c *Chain, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, c.ID())
}

// allow checks if an event is allowed under the given rate limit.
func (f *RateLimitFilter) allow(key string, limit *RateLimit, now time.Time) bool {
	f.mu.Lock()
	w, ok := f.windows[key]
	if !ok {
		w = &slidingWindow{}
		f.windows[key] = w
	}
	f.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-limit.Window)
	valid := 0
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			w.timestamps[valid] = ts
			valid++
		}
	}
	w.timestamps = w.timestamps[:valid]

	if len(w.timestamps) >= limit.Max {
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}

// Windows returns the number of tracked windows.
func (f *RateLimitFilter) Windows() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.windows)
}

// Reset clears all rate limit windows.
func (f *RateLimitFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = make(map[string]*slidingWindow)
}
