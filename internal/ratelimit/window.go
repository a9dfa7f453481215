package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/whisper/support-chat/internal/dependencies/clock"
)

// keyState holds the accepted timestamps for one key, oldest first.
type keyState struct {
	hits   []time.Time
	window time.Duration
}

// prune drops timestamps that have left the window ending at now.
func (k *keyState) prune(now time.Time) {
	cutoff := now.Add(-k.window)
	i := 0
	for i < len(k.hits) && !k.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		k.hits = append(k.hits[:0], k.hits[i:]...)
	}
}

// Window is an in-process sliding-window limiter. Per-key state is pruned
// on every read; Sweep removes keys that have gone idle.
type Window struct {
	mu    sync.Mutex
	clock clock.Clock
	keys  map[string]*keyState
}

var _ Limiter = (*Window)(nil)

// NewWindow creates an empty in-process limiter.
func NewWindow(clk clock.Clock) *Window {
	return &Window{
		clock: clk,
		keys:  make(map[string]*keyState),
	}
}

// Check implements Limiter. It never returns an error.
func (w *Window) Check(_ context.Context, key string, rule Rule) (Decision, error) {
	if rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := w.clock.Now()
	k := Key(rule, key)

	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.keys[k]
	if !ok {
		st = &keyState{window: rule.Window}
		w.keys[k] = st
	}
	st.prune(now)

	if len(st.hits) < rule.Limit {
		st.hits = append(st.hits, now)
		return Decision{Allowed: true, Remaining: rule.Limit - len(st.hits)}, nil
	}

	retry := st.hits[0].Add(rule.Window).Sub(now)
	if retry <= 0 {
		retry = time.Millisecond
	}
	return Decision{Allowed: false, RetryAfter: retry}, nil
}

// Sweep removes keys with no timestamps left in their window and returns
// how many were removed.
func (w *Window) Sweep() int {
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for k, st := range w.keys {
		st.prune(now)
		if len(st.hits) == 0 {
			delete(w.keys, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.keys)
}
