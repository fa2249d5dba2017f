// Package live orchestrates the persistent duplex channel of a streaming
// session: captured media flows upstream at a bounded rate, inbound protocol
// events are demultiplexed to their consumers, and the session owns the
// connect/disconnect lifecycle.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/codec"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/tap"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
)

// State is the session's connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
)

// outboundQueueSize bounds the send queue. Sends block briefly under a slow
// upstream rather than reordering or dropping frames.
const outboundQueueSize = 64

// Callbacks deliver demultiplexed output. All callbacks are invoked from the
// session's read loop, in event order; nil callbacks are skipped.
type Callbacks struct {
	// OnAssistantUpdate fires with the growing assistant message after each
	// text fragment.
	OnAssistantUpdate func(current string)

	// OnAssistantFinal fires when a turn completes; the message is immutable
	// from then on.
	OnAssistantFinal func(message string)

	// OnEvent fires once per recognized upstream frame with the verbatim
	// payload, for mirroring to the client. Unrecognized frames go to the
	// inspection tap only.
	OnEvent func(raw json.RawMessage)

	// OnError fires on non-fatal session errors (capture failures, send
	// failures) and on transport loss.
	OnError func(err error)
}

// Config wires a session's collaborators.
type Config struct {
	Dialer    transport.DuplexDialer
	Tap       tap.Tap
	Logger    *slog.Logger
	Player    *codec.Player // audio payloads are scheduled here when set
	Callbacks Callbacks
}

// Session is one live relay. Inbound event processing and outbound media
// forwarding run on separate goroutines and never block each other.
type Session struct {
	id     string
	dialer transport.DuplexDialer
	tap    tap.Tap
	logger *slog.Logger
	player *codec.Player
	cb     Callbacks

	mu       sync.Mutex
	state    State
	ch       transport.Duplex
	ctx      context.Context
	cancel   context.CancelFunc
	outbound chan []byte
	sampler  *frameSampler

	assistant strings.Builder
	finalized []string

	wg sync.WaitGroup
}

// NewSession builds a disconnected session.
func NewSession(cfg Config) *Session {
	t := cfg.Tap
	if t == nil {
		t = tap.Noop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:     bridge.NewSessionID(bridge.ModeLive),
		dialer: cfg.Dialer,
		tap:    t,
		logger: logger,
		player: cfg.Player,
		cb:     cfg.Callbacks,
		state:  StateDisconnected,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the duplex channel. Valid only from disconnected; it fails
// fast on a dial error and leaves retrying to the caller.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		state := s.state
		s.mu.Unlock()
		return bridge.NewInvalidRequestError("connect is only valid when disconnected", string(state))
	}
	s.state = StateConnecting
	s.mu.Unlock()

	ch, err := s.dialer.Dial(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnect ran while the dial was in flight. Release the fresh
		// channel instead of resurrecting a closed session.
		s.mu.Unlock()
		cancel()
		_ = ch.Close()
		return transport.ErrClosed
	}
	s.state = StateConnected
	s.ch = ch
	s.ctx = sessionCtx
	s.cancel = cancel
	s.outbound = make(chan []byte, outboundQueueSize)
	s.assistant.Reset()
	s.finalized = nil
	s.mu.Unlock()

	s.wg.Add(2)
	go s.writeLoop(sessionCtx, ch, s.outbound)
	go s.readLoop(sessionCtx, ch)

	s.logger.Info("live session connected", "session_id", s.id)
	return nil
}

// Disconnect releases the transport and stops any active media sampling.
// Idempotent: calling it when already disconnected is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return nil
	case StateClosing:
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.state = StateClosing
	ch := s.ch
	cancel := s.cancel
	sampler := s.sampler
	s.sampler = nil
	s.mu.Unlock()

	// Cancel first so a sampler blocked on a full send queue can exit.
	if cancel != nil {
		cancel()
	}
	if sampler != nil {
		sampler.stop()
	}
	if ch != nil {
		_ = ch.Close() // unblocks the pending read
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateDisconnected
	s.ch = nil
	s.ctx = nil
	s.cancel = nil
	s.outbound = nil
	s.mu.Unlock()

	s.logger.Info("live session disconnected", "session_id", s.id)
	return nil
}

// SendMediaChunk forwards one media chunk upstream as a discrete message.
func (s *Session) SendMediaChunk(chunk protocol.MediaChunk) error {
	payload, err := protocol.EncodeMediaMessage(chunk)
	if err != nil {
		return err
	}
	return s.enqueue(payload)
}

// SendTextTurn forwards one complete user text turn upstream.
func (s *Session) SendTextTurn(text string) error {
	if strings.TrimSpace(text) == "" {
		return bridge.NewInvalidRequestError("text turn is empty", "text")
	}
	payload, err := protocol.EncodeTextTurnMessage(text)
	if err != nil {
		return err
	}
	return s.enqueue(payload)
}

// AssistantMessages returns the finalized assistant messages plus the one
// still in progress, if any.
func (s *Session) AssistantMessages() (finalized []string, current string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	finalized = make([]string, len(s.finalized))
	copy(finalized, s.finalized)
	return finalized, s.assistant.String()
}

// enqueue places a payload on the FIFO send queue. Frames are never batched
// and never reordered relative to call order.
func (s *Session) enqueue(payload []byte) error {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return bridge.NewInvalidRequestError("session is not connected", string(state))
	}
	out := s.outbound
	done := s.ctx.Done()
	s.mu.Unlock()

	select {
	case out <- payload:
		return nil
	default:
	}
	// Queue is full; block until the writer drains or the session ends.
	select {
	case out <- payload:
		return nil
	case <-done:
		return transport.ErrClosed
	}
}

func (s *Session) writeLoop(ctx context.Context, ch transport.Duplex, outbound <-chan []byte) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-outbound:
			s.tap.Record(tap.KindLiveSend, json.RawMessage(payload))
			if err := ch.Send(ctx, payload); err != nil {
				if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
					return
				}
				s.tap.Record(tap.KindLiveError, err.Error())
				s.reportError(err)
				return
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, ch transport.Duplex) {
	defer s.wg.Done()
	for {
		payload, err := ch.Next(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.tap.Record(tap.KindLiveError, err.Error())
			s.reportError(err)
			return
		}

		events, err := protocol.ClassifyLiveFrame(payload)
		if err != nil {
			// Malformed event: skip it with a tap record, keep the session.
			s.tap.Record(tap.KindLiveError, err.Error())
			s.logger.Warn("skipping undecodable live frame", "session_id", s.id, "error", err)
			continue
		}

		recognized := false
		for _, ev := range events {
			s.tap.Record(tap.KindLiveEvent, ev)
			if ev.Kind != protocol.EventUnknown {
				recognized = true
			}
			s.route(ev)
		}
		if recognized && s.cb.OnEvent != nil {
			s.cb.OnEvent(json.RawMessage(payload))
		}
	}
}

func (s *Session) route(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventTextFragment:
		s.mu.Lock()
		s.assistant.WriteString(ev.Text)
		current := s.assistant.String()
		s.mu.Unlock()
		if s.cb.OnAssistantUpdate != nil {
			s.cb.OnAssistantUpdate(current)
		}
	case protocol.EventInlineMedia:
		if strings.HasPrefix(ev.MimeType, "audio/") && s.player != nil {
			s.player.EnqueuePCM(ev.Data)
			return
		}
		// Non-audio inline payloads are inspection-only.
	case protocol.EventTurnComplete:
		s.mu.Lock()
		message := s.assistant.String()
		if message != "" {
			s.finalized = append(s.finalized, message)
		}
		s.assistant.Reset()
		s.mu.Unlock()
		if message != "" && s.cb.OnAssistantFinal != nil {
			s.cb.OnAssistantFinal(message)
		}
	case protocol.EventError:
		s.reportError(bridge.NewUpstreamError(ev.Message))
	case protocol.EventUnknown:
		// Tap record already written; extension shapes are never fatal.
	}
}

func (s *Session) reportError(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
