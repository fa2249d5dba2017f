package deep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/history"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/tap"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
)

// fakeStream replays scripted events and then EOF.
type fakeStream struct {
	events []protocol.Event
	err    error
	pos    int
}

func (s *fakeStream) Next(ctx context.Context) (protocol.Event, error) {
	if s.pos >= len(s.events) {
		if s.err != nil {
			return protocol.Event{}, s.err
		}
		return protocol.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeOpener struct {
	mu       sync.Mutex
	stream   transport.Stream
	err      error
	requests []protocol.DeepRequest
	block    chan struct{} // when set, Open waits until closed
}

func (o *fakeOpener) Open(ctx context.Context, req protocol.DeepRequest) (transport.Stream, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	o.mu.Unlock()
	if o.block != nil {
		<-o.block
	}
	if o.err != nil {
		return nil, o.err
	}
	return o.stream, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func textEvents(fragments ...string) []protocol.Event {
	var events []protocol.Event
	for _, f := range fragments {
		events = append(events, protocol.Event{Kind: protocol.EventTextFragment, Text: f})
	}
	events = append(events, protocol.Event{Kind: protocol.EventTurnComplete})
	return events
}

func TestExchange_AssemblesFragmentsAndCommitsHistory(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{stream: &fakeStream{events: textEvents("Hel", "lo")}}
	store := history.New(0)
	session := NewSession(opener, store, nil, testLogger())

	var emitted []string
	result, err := session.Exchange(context.Background(), Request{Message: "hi"}, func(ev protocol.Event) error {
		if ev.Kind == protocol.EventTextFragment {
			emitted = append(emitted, ev.Text)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}
	if result.Text != "Hello" {
		t.Fatalf("result.Text=%q, want Hello", result.Text)
	}
	if len(emitted) != 2 || emitted[0] != "Hel" || emitted[1] != "lo" {
		t.Fatalf("emitted=%v, want [Hel lo]", emitted)
	}

	turns := store.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("history turns=%d, want 2", len(turns))
	}
	if turns[0].Role != history.RoleUser || turns[0].Parts[len(turns[0].Parts)-1].Text != "hi" {
		t.Fatalf("user turn=%+v", turns[0])
	}
	if turns[1].Role != history.RoleModel || turns[1].Parts[0].Text != "Hello" {
		t.Fatalf("model turn=%+v", turns[1])
	}
	if got := session.State(); got != StateIdle {
		t.Fatalf("State()=%q after success, want idle", got)
	}
}

func TestExchange_LastContinuationTokenWins(t *testing.T) {
	t.Parallel()

	events := []protocol.Event{
		{Kind: protocol.EventTextFragment, Text: "answer"},
		{Kind: protocol.EventContinuationSignal, Token: []byte{0x01}},
		{Kind: protocol.EventContinuationSignal, Token: []byte{0x02, 0x03}},
		{Kind: protocol.EventTurnComplete},
	}
	opener := &fakeOpener{stream: &fakeStream{events: events}}
	store := history.New(0)
	session := NewSession(opener, store, nil, testLogger())

	result, err := session.Exchange(context.Background(), Request{Message: "q"}, nil)
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}
	if len(result.ContinuationToken) != 2 || result.ContinuationToken[0] != 0x02 {
		t.Fatalf("token=%v, want [2 3]", result.ContinuationToken)
	}

	model := store.Snapshot()[1]
	last := model.Parts[len(model.Parts)-1]
	if last.Kind != history.PartContinuationToken {
		t.Fatalf("model turn missing continuation part: %+v", model)
	}
}

func TestExchange_ReplaysHistoryInOrder(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{stream: &fakeStream{events: textEvents("Hello")}}
	store := history.New(0)
	session := NewSession(opener, store, nil, testLogger())

	if _, err := session.Exchange(context.Background(), Request{Message: "hi"}, nil); err != nil {
		t.Fatalf("first Exchange error: %v", err)
	}

	opener.stream = &fakeStream{events: textEvents("Again")}
	if _, err := session.Exchange(context.Background(), Request{Message: "more"}, nil); err != nil {
		t.Fatalf("second Exchange error: %v", err)
	}

	if len(opener.requests) != 2 {
		t.Fatalf("requests=%d, want 2", len(opener.requests))
	}
	second := opener.requests[1]
	if len(second.History) != 2 {
		t.Fatalf("second request history turns=%d, want 2", len(second.History))
	}
	if second.History[0].Role != history.RoleUser || second.History[1].Role != history.RoleModel {
		t.Fatalf("history order wrong: %+v", second.History)
	}
	if store.Len() != 4 {
		t.Fatalf("store turns=%d, want 4", store.Len())
	}
}

func TestExchange_ConcurrentSendRejectedWithoutHistoryChange(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	opener := &fakeOpener{stream: &fakeStream{events: textEvents("slow")}, block: block}
	store := history.New(0)
	session := NewSession(opener, store, nil, testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := session.Exchange(context.Background(), Request{Message: "first"}, nil)
		done <- err
	}()

	// Wait for the first exchange to hold the slot.
	for session.State() == StateIdle {
		time.Sleep(time.Millisecond)
	}

	_, err := session.Exchange(context.Background(), Request{Message: "second"}, nil)
	if !bridge.IsKind(err, bridge.KindExchangeInFlight) {
		t.Fatalf("error=%v, want exchange in flight", err)
	}
	if store.Len() != 0 {
		t.Fatalf("history turns=%d during rejection, want 0", store.Len())
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first Exchange error: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("history turns=%d after first exchange, want 2", store.Len())
	}
}

func TestExchange_UpstreamErrorLeavesHistoryUntouched(t *testing.T) {
	t.Parallel()

	events := []protocol.Event{
		{Kind: protocol.EventTextFragment, Text: "partial"},
		{Kind: protocol.EventError, Message: "quota exceeded"},
	}
	opener := &fakeOpener{stream: &fakeStream{events: events}}
	store := history.New(0)
	session := NewSession(opener, store, nil, testLogger())

	_, err := session.Exchange(context.Background(), Request{Message: "q"}, nil)
	if !bridge.IsKind(err, bridge.KindUpstream) {
		t.Fatalf("error=%v, want upstream", err)
	}
	if store.Len() != 0 {
		t.Fatalf("history turns=%d after failure, want 0", store.Len())
	}
	if got := session.State(); got != StateIdle {
		t.Fatalf("State()=%q, want idle (slot released for retry)", got)
	}
}

func TestExchange_OpenFailure(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{err: errors.New("connection refused")}
	session := NewSession(opener, history.New(0), nil, testLogger())

	if _, err := session.Exchange(context.Background(), Request{Message: "q"}, nil); err == nil {
		t.Fatalf("expected error when open fails")
	}
	if session.History().Len() != 0 {
		t.Fatalf("history changed on open failure")
	}
}

func TestExchange_EmptyMessageRequiresFiles(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{stream: &fakeStream{events: textEvents("ok")}}
	session := NewSession(opener, history.New(0), nil, testLogger())

	if _, err := session.Exchange(context.Background(), Request{}, nil); !bridge.IsKind(err, bridge.KindInvalidRequest) {
		t.Fatalf("error=%v, want invalid request", err)
	}

	if _, err := session.Exchange(context.Background(), Request{FileReferences: []string{"files/a"}}, nil); err != nil {
		t.Fatalf("Exchange with files only error: %v", err)
	}
}

func TestExchange_AttachmentsPersistAcrossTurns(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{stream: &fakeStream{events: textEvents("one")}}
	store := history.New(0)
	session := NewSession(opener, store, nil, testLogger())

	if _, err := session.Exchange(context.Background(), Request{Message: "look", FileReferences: []string{"files/a"}}, nil); err != nil {
		t.Fatalf("first Exchange error: %v", err)
	}

	opener.stream = &fakeStream{events: textEvents("two")}
	if _, err := session.Exchange(context.Background(), Request{Message: "again"}, nil); err != nil {
		t.Fatalf("second Exchange error: %v", err)
	}

	second := opener.requests[1]
	if len(second.FileReferences) != 1 || second.FileReferences[0] != "files/a" {
		t.Fatalf("second request files=%v, want persisted files/a", second.FileReferences)
	}

	store.ClearAttachments()
	opener.stream = &fakeStream{events: textEvents("three")}
	if _, err := session.Exchange(context.Background(), Request{Message: "fresh"}, nil); err != nil {
		t.Fatalf("third Exchange error: %v", err)
	}
	if len(opener.requests[2].FileReferences) != 0 {
		t.Fatalf("third request files=%v, want none after clear", opener.requests[2].FileReferences)
	}
}

func TestExchange_EmitErrorAborts(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{stream: &fakeStream{events: textEvents("Hello")}}
	store := history.New(0)
	session := NewSession(opener, store, nil, testLogger())

	_, err := session.Exchange(context.Background(), Request{Message: "q"}, func(protocol.Event) error {
		return errors.New("client went away")
	})
	if err == nil {
		t.Fatalf("expected error when emit fails")
	}
	if store.Len() != 0 {
		t.Fatalf("history turns=%d after aborted emit, want 0", store.Len())
	}
}

func TestExchange_TapSeesRequestAndEvents(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{stream: &fakeStream{events: textEvents("Hello")}}
	buf := tap.NewBuffer(0)
	session := NewSession(opener, history.New(0), buf, testLogger())

	if _, err := session.Exchange(context.Background(), Request{Message: "hi"}, nil); err != nil {
		t.Fatalf("Exchange error: %v", err)
	}

	recs := buf.Records()
	if len(recs) < 3 {
		t.Fatalf("tap records=%d, want request plus events", len(recs))
	}
	if recs[0].Kind != tap.KindDeepRequest {
		t.Fatalf("first record kind=%q, want %q", recs[0].Kind, tap.KindDeepRequest)
	}
	for _, rec := range recs[1:] {
		if rec.Kind != tap.KindDeepEvent {
			t.Fatalf("record kind=%q, want %q", rec.Kind, tap.KindDeepEvent)
		}
	}
}
