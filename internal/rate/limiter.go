package rate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LimitError is returned by the services when a policy denies an action.
// RetryAfter is the wait hint surfaced to the client.
type LimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry in %ds", e.Action, int(e.RetryAfter.Seconds()))
}

// Actions gated by per-agent policies.
const (
	ActionPost   = "post"
	ActionLike   = "like"
	ActionFollow = "follow"
)

// maxWindow is the longest policy window; events older than this are dead
// weight and safe to prune.
const maxWindow = 24 * time.Hour

type Policy struct {
	Max    int
	Window time.Duration
}

// EventStore is the slice of the storage layer the limiter needs. Events are
// persisted so limiter state survives restarts and is shared across handlers.
type EventStore interface {
	CountRateEvents(ctx context.Context, agentID int64, action string, since time.Time) (int, error)
	OldestRateEvent(ctx context.Context, agentID int64, action string, since time.Time) (time.Time, error)
	RecordRateEvent(ctx context.Context, agentID int64, action string, at time.Time) error
	PruneRateEvents(ctx context.Context, before time.Time) error
}

// Windowed counts timestamped events in a trailing window per (agent, action).
// Allow only checks; the caller records the event with Record after the
// guarded action has fully succeeded, so a failed action never burns a slot.
type Windowed struct {
	store    EventStore
	policies map[string]Policy

	mu        sync.Mutex
	lastPrune time.Time
}

func NewWindowed(store EventStore, policies map[string]Policy) *Windowed {
	return &Windowed{store: store, policies: policies}
}

// Allow reports whether the agent may perform the action now. On denial the
// returned duration is the wait until the oldest in-window event leaves the
// window. Actions without a policy are always allowed.
func (w *Windowed) Allow(ctx context.Context, agentID int64, action string) (bool, time.Duration, error) {
	p, ok := w.policies[action]
	if !ok {
		return true, 0, nil
	}
	now := time.Now()
	since := now.Add(-p.Window)
	n, err := w.store.CountRateEvents(ctx, agentID, action, since)
	if err != nil {
		return false, 0, err
	}
	if n >= p.Max {
		retry := p.Window
		if oldest, err := w.store.OldestRateEvent(ctx, agentID, action, since); err == nil && !oldest.IsZero() {
			if d := time.Until(oldest.Add(p.Window)); d > 0 {
				retry = d
			}
		}
		return false, retry, nil
	}
	w.maybePrune(ctx, now)
	return true, 0, nil
}

// Record persists one consumed slot. Call only after the action succeeded.
func (w *Windowed) Record(ctx context.Context, agentID int64, action string) error {
	if _, ok := w.policies[action]; !ok {
		return nil
	}
	return w.store.RecordRateEvent(ctx, agentID, action, time.Now())
}

func (w *Windowed) maybePrune(ctx context.Context, now time.Time) {
	w.mu.Lock()
	due := now.Sub(w.lastPrune) > time.Hour
	if due {
		w.lastPrune = now
	}
	w.mu.Unlock()
	if !due {
		return
	}
	// Best effort; failures only delay storage cleanup.
	_ = w.store.PruneRateEvents(ctx, now.Add(-maxWindow))
}

// Limiter is the fixed-window in-memory limiter used at the HTTP boundary
// for per-IP limits on unauthenticated endpoints.
type Limiter interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
}

type MemoryLimiter struct {
	mu    sync.Mutex
	store map[string]*bucket
}

type bucket struct {
	count   int
	resetAt time.Time
	window  time.Duration
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{store: make(map[string]*bucket)}
}

func (m *MemoryLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.store[key]
	if !ok || now.After(b.resetAt) || b.window != window {
		b = &bucket{count: 0, resetAt: now.Add(window), window: window}
		m.store[key] = b
	}

	if b.count >= limit {
		return false, time.Until(b.resetAt)
	}

	b.count++
	return true, time.Until(b.resetAt)
}
