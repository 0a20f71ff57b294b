package intervention

import (
	"sync"
	"time"
)

// ContextLedger holds the single most recent answerable context for a user.
// The chat side writes it; the gate reads or consumes it.
type ContextLedger struct {
	mu        sync.Mutex
	current   *Context
	expired   bool
	staleness time.Duration
	maxLen    int
}

type contextStatus int

const (
	contextAbsent contextStatus = iota
	contextLive
	contextStale
)

// NewContextLedger creates an empty ledger.
func NewContextLedger(cfg Config) *ContextLedger {
	cfg = cfg.normalized()
	return &ContextLedger{staleness: cfg.StalenessWindow, maxLen: cfg.MaxReferenceLen}
}

// Set replaces any existing context unconditionally.
func (l *ContextLedger) Set(topic, referenceText string, now time.Time) {
	c := Context{
		Topic:         topic,
		ReferenceText: truncateRunes(referenceText, l.maxLen),
		CreatedAt:     now,
	}
	l.mu.Lock()
	l.current = &c
	l.expired = false
	l.mu.Unlock()
}

// Live returns the context if it is younger than the staleness window.
func (l *ContextLedger) Live(now time.Time) (Context, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liveLocked(now)
}

// Consume returns the live context and clears it in the same step, so one
// answer can justify at most one intervention.
func (l *ContextLedger) Consume(now time.Time) (Context, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.liveLocked(now)
	if ok {
		l.current = nil
		l.expired = false
	}
	return c, ok
}

// Peek returns the stored context regardless of staleness, for diagnostics.
func (l *ContextLedger) Peek() (Context, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return Context{}, false
	}
	return *l.current, true
}

// inspect reports the context status without clearing anything. A context
// that already expired and was dropped still reports stale until the next Set.
func (l *ContextLedger) inspect(now time.Time) (Context, contextStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.current == nil && l.expired:
		return Context{}, contextStale
	case l.current == nil:
		return Context{}, contextAbsent
	case now.Sub(l.current.CreatedAt) >= l.staleness:
		return *l.current, contextStale
	}
	return *l.current, contextLive
}

func (l *ContextLedger) liveLocked(now time.Time) (Context, bool) {
	if l.current == nil {
		return Context{}, false
	}
	if now.Sub(l.current.CreatedAt) >= l.staleness {
		l.current = nil
		l.expired = true
		return Context{}, false
	}
	return *l.current, true
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
