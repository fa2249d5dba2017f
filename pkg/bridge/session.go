// Package bridge holds the session types shared by the deep and live modes:
// the error envelope, session identity, and the mode tag used to label
// inspection records.
package bridge

import "github.com/google/uuid"

// Mode distinguishes the two interaction styles a session can run in.
type Mode string

const (
	// ModeDeep is the turn-based mode: unary request, streamed SSE response,
	// multi-step reasoning with continuation tokens.
	ModeDeep Mode = "deep"

	// ModeLive is the continuous mode: long-lived duplex channel exchanging
	// audio, video and text in real time.
	ModeLive Mode = "live"
)

// NewSessionID returns a fresh identifier for a session. IDs are unique per
// process lifetime; sessions are not persisted across restarts.
func NewSessionID(mode Mode) string {
	return string(mode) + "_" + uuid.NewString()
}
