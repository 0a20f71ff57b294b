package intervention

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLedgerStaleness(t *testing.T) {
	l := NewContextLedger(DefaultConfig())
	l.Set("derivatives", "the slope of a tangent", at(0))

	c, ok := l.Live(at(119))
	require.True(t, ok)
	assert.Equal(t, "derivatives", c.Topic)

	_, ok = l.Live(at(120))
	assert.False(t, ok, "exactly the staleness window is expired")

	_, status := l.inspect(at(121))
	assert.Equal(t, contextStale, status, "expired context still reads as stale after being dropped")

	l.Set("limits", "approaching a value", at(200))
	_, status = l.inspect(at(201))
	assert.Equal(t, contextLive, status)
}

func TestContextLedgerConsumeAtMostOnce(t *testing.T) {
	l := NewContextLedger(DefaultConfig())
	l.Set("derivatives", "text", at(0))

	first, ok1 := l.Consume(at(5))
	second, ok2 := l.Consume(at(5))

	assert.True(t, ok1)
	assert.Equal(t, "derivatives", first.Topic)
	assert.False(t, ok2)
	assert.Equal(t, Context{}, second)

	_, status := l.inspect(at(5))
	assert.Equal(t, contextAbsent, status, "consumed is not stale")
}

func TestContextLedgerConcurrentConsume(t *testing.T) {
	l := NewContextLedger(DefaultConfig())
	l.Set("derivatives", "text", at(0))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.Consume(at(1)); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestContextLedgerLastWriteWinsAndTruncates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxReferenceLen = 10
	l := NewContextLedger(cfg)

	l.Set("a", "first", at(0))
	l.Set("b", strings.Repeat("é", 25), at(1))

	c, ok := l.Live(at(2))
	require.True(t, ok)
	assert.Equal(t, "b", c.Topic)
	assert.Equal(t, strings.Repeat("é", 10), c.ReferenceText)
	assert.Equal(t, at(1), c.CreatedAt)
}

func TestContextLedgerPeekIgnoresStaleness(t *testing.T) {
	l := NewContextLedger(Config{StalenessWindow: time.Second})
	l.Set("x", "y", at(0))

	c, ok := l.Peek()
	assert.True(t, ok)
	assert.Equal(t, "x", c.Topic)
}

func TestDecisionLogRecent(t *testing.T) {
	log := NewDecisionLog(3, nil)
	for i := 0; i < 5; i++ {
		log.Record(DecisionLogEntry{Reason: string(rune('a' + i))})
	}

	recent := log.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{recent[0].Reason, recent[1].Reason, recent[2].Reason})
	assert.Equal(t, int64(5), recent[0].Seq)
	assert.Equal(t, 3, log.Len())

	assert.Len(t, log.Recent(2), 2)
	assert.Equal(t, "e", log.Recent(1)[0].Reason)
}

func TestDecisionLogEmpty(t *testing.T) {
	log := NewDecisionLog(0, nil)
	assert.Empty(t, log.Recent(5))
	assert.Equal(t, 0, log.Len())
}

type recordingSink struct {
	mu      sync.Mutex
	entries []DecisionLogEntry
}

func (r *recordingSink) LogDecision(entry DecisionLogEntry) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

func (r *recordingSink) all() []DecisionLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DecisionLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func TestDecisionLogForwardsToSink(t *testing.T) {
	sink := &recordingSink{}
	log := NewDecisionLog(2, sink)

	log.Record(DecisionLogEntry{Reason: "one"})
	log.Record(DecisionLogEntry{Reason: "two"})
	log.Record(DecisionLogEntry{Reason: "three"})

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[2].Seq)
}
