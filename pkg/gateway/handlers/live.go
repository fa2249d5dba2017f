package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/live"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/tap"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/config"
)

// LiveHandler handles /ws/live: each WebSocket connection gets its own duplex
// session to the model service. Client frames are validated and forwarded;
// upstream frames are mirrored back wrapped as gemini_response, each shadowed
// by a debug frame for inspection clients.
type LiveHandler struct {
	Config config.Config
	Dialer transport.DuplexDialer
	Tap    tap.Tap
	Logger *slog.Logger
}

// clientWriter serializes writes to the browser connection; session callbacks
// and the read loop both write through it.
type clientWriter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (cw *clientWriter) write(payload []byte) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	_ = cw.conn.SetWriteDeadline(time.Now().Add(cw.timeout))
	return cw.conn.WriteMessage(websocket.TextMessage, payload)
}

func (cw *clientWriter) writeEnvelope(env any) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return cw.write(payload)
}

type clientErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, bridge.NewInvalidRequestError("method not allowed", ""))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cw := &clientWriter{conn: conn, timeout: h.Config.LiveWriteTimeout}

	session := live.NewSession(live.Config{
		Dialer: h.Dialer,
		Tap:    h.Tap,
		Logger: logger,
		Callbacks: live.Callbacks{
			OnEvent: func(raw json.RawMessage) {
				if payload, err := protocol.WrapGeminiResponse(raw); err == nil {
					_ = cw.write(payload)
				}
				if payload, err := protocol.WrapDebug("response", raw); err == nil {
					_ = cw.write(payload)
				}
			},
			OnError: func(err error) {
				_ = cw.writeEnvelope(clientErrorFrame{Type: "error", Message: err.Error()})
			},
		},
	})

	if err := session.Connect(r.Context()); err != nil {
		logger.Error("live connect failed", "error", err)
		_ = cw.writeEnvelope(clientErrorFrame{Type: "error", Message: err.Error()})
		return
	}
	defer session.Disconnect()

	if payload, err := protocol.WrapDebug("connection", map[string]string{
		"status":     "connected",
		"session_id": session.ID(),
		"model":      h.Config.LiveModel,
	}); err == nil {
		_ = cw.write(payload)
	}

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.DecodeLiveClientMessage(frame)
		if err != nil {
			// Malformed client frames are rejected without ending the session.
			_ = cw.writeEnvelope(clientErrorFrame{Type: "error", Message: err.Error()})
			continue
		}

		if payload, err := protocol.WrapDebug("request", json.RawMessage(frame)); err == nil {
			_ = cw.write(payload)
		}

		if err := h.forward(session, msg); err != nil {
			logger.Warn("live forward failed", "session_id", session.ID(), "error", err)
			_ = cw.writeEnvelope(clientErrorFrame{Type: "error", Message: err.Error()})
			if !recoverable(err) {
				return
			}
		}
	}
}

func (h LiveHandler) forward(session *live.Session, msg protocol.LiveClientMessage) error {
	if msg.RealtimeInput != nil {
		for _, chunk := range msg.RealtimeInput.MediaChunks {
			if err := session.SendMediaChunk(chunk); err != nil {
				return err
			}
		}
		return nil
	}

	var parts []string
	for _, turn := range msg.ClientContent.Turns {
		for _, part := range turn.Parts {
			if part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
	}
	return session.SendTextTurn(strings.Join(parts, "\n"))
}

func recoverable(err error) bool {
	var berr *bridge.Error
	if errors.As(err, &berr) {
		return berr.Recoverable() || berr.Kind == bridge.KindInvalidRequest
	}
	return false
}
