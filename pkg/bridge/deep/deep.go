// Package deep orchestrates one turn-based exchange at a time: build the
// outbound turn, open a streamed response, assemble the answer incrementally,
// and commit the completed exchange to history.
package deep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/history"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/tap"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
)

// State is the session's exchange lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSending    State = "sending"
	StateStreaming  State = "streaming"
	StateCommitting State = "committing"
	StateFailed     State = "failed"
)

// EmitFunc receives each classified event as it arrives so the caller can
// forward incremental output to its client. Returning an error aborts the
// exchange; nothing is committed.
type EmitFunc func(ev protocol.Event) error

// Request is one user exchange. Message may be empty only when at least one
// file reference is attached (here or persisted in the store).
type Request struct {
	Message         string
	FileReferences  []string
	ReasoningEffort protocol.ReasoningEffort
	MediaFidelity   protocol.MediaFidelity
}

// Result is the committed outcome of one exchange.
type Result struct {
	Text              string
	ContinuationToken []byte
}

// Session runs deep-mode exchanges. Exactly one may be in flight; a second
// send is rejected synchronously, never queued, so history cannot interleave.
type Session struct {
	id      string
	opener  transport.DeepOpener
	history *history.Store
	tap     tap.Tap
	logger  *slog.Logger

	mu    sync.Mutex
	state State
}

// NewSession builds a deep session over the given transport and history
// store. A nil tap records nowhere.
func NewSession(opener transport.DeepOpener, store *history.Store, t tap.Tap, logger *slog.Logger) *Session {
	if t == nil {
		t = tap.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:      bridge.NewSessionID(bridge.ModeDeep),
		opener:  opener,
		history: store,
		tap:     t,
		logger:  logger,
		state:   StateIdle,
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

// History returns the session's history store.
func (s *Session) History() *history.Store { return s.history }

// Exchange runs one request/streamed-response exchange. On success the user
// turn and the assistant turn are committed to history together; on any
// failure history is left untouched.
func (s *Session) Exchange(ctx context.Context, req Request, emit EmitFunc) (*Result, error) {
	if req.ReasoningEffort == "" {
		req.ReasoningEffort = protocol.ReasoningLow
	}
	if req.MediaFidelity == "" {
		req.MediaFidelity = protocol.FidelityMedium
	}
	if err := protocol.ValidateReasoningEffort(req.ReasoningEffort); err != nil {
		return nil, err
	}
	if err := protocol.ValidateMediaFidelity(req.MediaFidelity); err != nil {
		return nil, err
	}

	fileRefs := s.effectiveFileReferences(req.FileReferences)
	if req.Message == "" && len(fileRefs) == 0 {
		return nil, bridge.NewInvalidRequestError("message may be empty only with file references attached", "message")
	}

	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	wireReq := protocol.DeepRequest{
		Message:         req.Message,
		FileReferences:  fileRefs,
		ReasoningEffort: req.ReasoningEffort,
		MediaFidelity:   req.MediaFidelity,
		History:         s.history.Snapshot(),
	}
	s.tap.Record(tap.KindDeepRequest, wireReq)

	stream, err := s.opener.Open(ctx, wireReq)
	if err != nil {
		s.fail()
		s.tap.Record(tap.KindDeepError, err.Error())
		return nil, fmt.Errorf("open exchange: %w", err)
	}
	defer stream.Close()

	s.setState(StateStreaming)
	acc := &accumulator{}
	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail()
			s.tap.Record(tap.KindDeepError, err.Error())
			return nil, err
		}

		s.tap.Record(tap.KindDeepEvent, ev)
		if ev.Kind == protocol.EventError {
			s.fail()
			return nil, bridge.NewUpstreamError(ev.Message)
		}
		if emit != nil {
			if err := emit(ev); err != nil {
				s.fail()
				return nil, fmt.Errorf("emit event: %w", err)
			}
		}

		acc.apply(ev)
		if acc.complete {
			break
		}
	}

	s.setState(StateCommitting)
	userTurn := buildUserTurn(req.Message, fileRefs)
	assistantTurn := buildAssistantTurn(acc)
	if err := s.history.AppendExchange(userTurn, assistantTurn); err != nil {
		s.fail()
		s.tap.Record(tap.KindDeepError, err.Error())
		return nil, fmt.Errorf("commit exchange: %w", err)
	}

	return &Result{Text: acc.message(), ContinuationToken: acc.continuation()}, nil
}

// effectiveFileReferences merges the store's persisted attachments with the
// request's own, preserving attach order and dropping duplicates. New
// references persist for later turns until cleared explicitly.
func (s *Session) effectiveFileReferences(reqRefs []string) []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, uri := range s.history.Attachments() {
		if _, dup := seen[uri]; dup || uri == "" {
			continue
		}
		seen[uri] = struct{}{}
		refs = append(refs, uri)
	}
	for _, uri := range reqRefs {
		if _, dup := seen[uri]; dup || uri == "" {
			continue
		}
		seen[uri] = struct{}{}
		refs = append(refs, uri)
		s.history.Attach(uri)
	}
	return refs
}

func buildUserTurn(message string, fileRefs []string) history.Turn {
	turn := history.Turn{Role: history.RoleUser}
	for _, uri := range fileRefs {
		turn.Parts = append(turn.Parts, history.FilePart(uri))
	}
	turn.Parts = append(turn.Parts, history.TextPart(message))
	return turn
}

func buildAssistantTurn(acc *accumulator) history.Turn {
	turn := history.Turn{Role: history.RoleModel}
	turn.Parts = append(turn.Parts, history.TextPart(acc.message()))
	if token := acc.continuation(); token != nil {
		turn.Parts = append(turn.Parts, history.ContinuationPart(token))
	}
	return turn
}

func (s *Session) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return bridge.NewExchangeInFlightError(string(s.state))
	}
	s.state = StateSending
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) fail() {
	s.setState(StateFailed)
}
