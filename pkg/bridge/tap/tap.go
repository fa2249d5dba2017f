// Package tap is the pass-through observability sink. Every outbound request
// and inbound protocol event is mirrored here, tagged with a kind and
// timestamp. Recording never fails and never blocks the primary data path;
// session correctness does not depend on anything in this package.
package tap

import (
	"log/slog"
	"sync"
	"time"
)

// Record kinds, tagged by mode so a consumer can filter.
const (
	KindDeepRequest = "deep.request"
	KindDeepEvent   = "deep.event"
	KindDeepError   = "deep.error"
	KindLiveSend    = "live.send"
	KindLiveEvent   = "live.event"
	KindLiveError   = "live.error"
)

// Record is one inspection entry. Append-only, never mutated.
type Record struct {
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Tap receives a copy of every message crossing a session boundary.
// Implementations must be safe for concurrent use and must not block.
type Tap interface {
	Record(kind string, payload any)
}

// Buffer is the default Tap: an ordered in-memory sequence the UI can read
// live. Unbounded by default; a positive max drops new records once full,
// counting and logging the drops, rather than stalling a session.
type Buffer struct {
	mu      sync.Mutex
	records []Record
	max     int
	dropped int
	watches []chan Record
	now     func() time.Time
	logger  *slog.Logger
}

// NewBuffer returns a buffer holding at most max records; max <= 0 means
// unbounded.
func NewBuffer(max int) *Buffer {
	return &Buffer{max: max, now: time.Now}
}

func (b *Buffer) Record(kind string, payload any) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.max > 0 && len(b.records) >= b.max {
		b.dropped++
		logger := b.logger
		max := b.max
		b.mu.Unlock()
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("inspection buffer full, dropping record", "kind", kind, "max", max)
		return
	}
	rec := Record{Kind: kind, Payload: payload, Timestamp: b.now()}
	b.records = append(b.records, rec)
	watches := b.watches
	b.mu.Unlock()

	for _, ch := range watches {
		select {
		case ch <- rec:
		default:
			// A slow watcher loses records; the buffer itself keeps them.
		}
	}
}

// Records returns a copy of the sequence in record order.
func (b *Buffer) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// Dropped returns how many records were discarded due to the bound.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Watch returns a channel that receives records as they arrive. The channel
// is buffered; records are skipped rather than blocking Record.
func (b *Buffer) Watch() <-chan Record {
	ch := make(chan Record, 64)
	b.mu.Lock()
	b.watches = append(b.watches, ch)
	b.mu.Unlock()
	return ch
}
