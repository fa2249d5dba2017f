package tap

import "log/slog"

// Multi fans records out to several taps in order.
type Multi struct {
	taps []Tap
}

// NewMulti builds a Multi from the non-nil taps.
func NewMulti(taps ...Tap) *Multi {
	filtered := make([]Tap, 0, len(taps))
	for _, t := range taps {
		if t != nil {
			filtered = append(filtered, t)
		}
	}
	return &Multi{taps: filtered}
}

func (m *Multi) Record(kind string, payload any) {
	for _, t := range m.taps {
		t.Record(kind, payload)
	}
}

// Noop discards every record.
type Noop struct{}

func (Noop) Record(string, any) {}

// Logger mirrors records to a slog logger at debug level.
type Logger struct {
	L *slog.Logger
}

func (l Logger) Record(kind string, payload any) {
	logger := l.L
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("tap", "kind", kind, "payload", payload)
}
