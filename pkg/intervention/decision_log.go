package intervention

import "sync"

// DecisionSink receives every recorded entry. Implementations must not block;
// the log calls them inline.
type DecisionSink interface {
	LogDecision(entry DecisionLogEntry)
}

// DecisionLog keeps the most recent entries for one user in a ring buffer.
type DecisionLog struct {
	mu      sync.Mutex
	entries []DecisionLogEntry
	next    int
	full    bool
	seq     int64
	sink    DecisionSink
}

// NewDecisionLog creates a log retaining the last window entries.
func NewDecisionLog(window int, sink DecisionSink) *DecisionLog {
	if window <= 0 {
		window = DefaultConfig().RecentWindow
	}
	return &DecisionLog{entries: make([]DecisionLogEntry, window), sink: sink}
}

// Record appends an entry, assigning its sequence number.
func (d *DecisionLog) Record(entry DecisionLogEntry) DecisionLogEntry {
	d.mu.Lock()
	d.seq++
	entry.Seq = d.seq
	d.entries[d.next] = entry
	d.next = (d.next + 1) % len(d.entries)
	if d.next == 0 {
		d.full = true
	}
	d.mu.Unlock()

	if d.sink != nil {
		d.sink.LogDecision(entry)
	}
	return entry
}

// Recent returns up to n entries, newest first.
func (d *DecisionLog) Recent(n int) []DecisionLogEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.next
	if d.full {
		size = len(d.entries)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]DecisionLogEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (d.next - i + len(d.entries)) % len(d.entries)
		out = append(out, d.entries[idx])
	}
	return out
}

// Len reports how many entries are retained.
func (d *DecisionLog) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.full {
		return len(d.entries)
	}
	return d.next
}
