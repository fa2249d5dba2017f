// Package transport is the boundary between session logic and raw network
// I/O. Sessions consume these contracts only; they never open sockets
// themselves. Each session owns exactly one handle and closes it when the
// session ends.
package transport

import (
	"context"
	"errors"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
)

// ErrClosed is the terminal signal a pending Next or Send observes after the
// handle is closed. Closing must unblock every waiter; no caller may be left
// blocked indefinitely.
var ErrClosed = errors.New("transport: closed")

// Stream is the streamed half of a deep-mode exchange. Next returns events in
// arrival order and io.EOF at stream end. Close releases the stream
// deterministically; a mid-flight abort must not leak the handle.
type Stream interface {
	Next(ctx context.Context) (protocol.Event, error)
	Close() error
}

// DeepOpener opens one unary-request/streamed-response exchange.
type DeepOpener interface {
	Open(ctx context.Context, req protocol.DeepRequest) (Stream, error)
}

// Duplex is the live-mode channel: full-duplex, ordered both ways. Sends
// preserve caller order; Next yields frames in transport arrival order.
type Duplex interface {
	Send(ctx context.Context, payload []byte) error
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// DuplexDialer opens the live channel. The dial has a bounded wait owned by
// the implementation; the session layer fails fast and leaves retries to its
// caller.
type DuplexDialer interface {
	Dial(ctx context.Context) (Duplex, error)
}
