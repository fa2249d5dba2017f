// Package livews implements the live-mode transport boundary: a long-lived
// duplex WebSocket channel to the BidiGenerateContent endpoint.
package livews

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
)

// DefaultEndpoint is the well-known upstream duplex path. The API key rides
// as a query parameter, matching the service's WebSocket contract.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// Dialer opens the upstream live channel and performs the setup handshake.
type Dialer struct {
	Endpoint         string
	APIKey           string
	Model            string
	HandshakeTimeout time.Duration
	GenerationConfig map[string]any
}

type setupMessage struct {
	Setup setupBody `json:"setup"`
}

type setupBody struct {
	Model            string         `json:"model"`
	GenerationConfig map[string]any `json:"generation_config,omitempty"`
}

// Dial opens the channel, bounded by the handshake timeout, and sends the
// setup message naming the model. Failures are fatal to this attempt only;
// retrying is the caller's policy.
func (d Dialer) Dial(ctx context.Context) (transport.Duplex, error) {
	if d.APIKey == "" {
		return nil, bridge.NewTransportUnavailableError("api key is empty", nil)
	}
	if d.Model == "" {
		return nil, bridge.NewTransportUnavailableError("model is empty", nil)
	}

	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	handshake := d.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshake}
	header := http.Header{"Content-Type": []string{"application/json"}}
	conn, resp, err := dialer.DialContext(ctx, endpoint+"?key="+d.APIKey, header)
	if err != nil {
		if resp != nil {
			return nil, bridge.NewTransportUnavailableError(fmt.Sprintf("dial upstream: status %d", resp.StatusCode), err)
		}
		return nil, bridge.NewTransportUnavailableError("dial upstream", err)
	}

	setup, err := json.Marshal(setupMessage{Setup: setupBody{
		Model:            "models/" + d.Model,
		GenerationConfig: d.GenerationConfig,
	}})
	if err != nil {
		_ = conn.Close()
		return nil, bridge.NewTransportUnavailableError("encode setup message", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		_ = conn.Close()
		return nil, bridge.NewTransportUnavailableError("send setup message", err)
	}

	return &duplex{conn: conn}, nil
}

// duplex wraps one websocket connection. Sends are serialized; closing the
// channel unblocks a pending read with transport.ErrClosed.
type duplex struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

func (d *duplex) Send(ctx context.Context, payload []byte) error {
	if d.isClosed() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetWriteDeadline(deadline)
	} else {
		_ = d.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	if err := d.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if d.isClosed() {
			return transport.ErrClosed
		}
		return fmt.Errorf("livews: send: %w", err)
	}
	return nil
}

func (d *duplex) Next(ctx context.Context) ([]byte, error) {
	if d.isClosed() {
		return nil, transport.ErrClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetReadDeadline(deadline)
	} else {
		_ = d.conn.SetReadDeadline(time.Time{})
	}

	_, payload, err := d.conn.ReadMessage()
	if err != nil {
		if d.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, transport.ErrClosed
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("livews: receive: %w", err)
	}
	return payload, nil
}

func (d *duplex) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.writeMu.Lock()
	_ = d.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	d.writeMu.Unlock()

	return d.conn.Close()
}

func (d *duplex) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
