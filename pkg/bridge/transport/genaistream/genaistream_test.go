package genaistream

import (
	"context"
	"errors"
	"io"
	"testing"

	"google.golang.org/genai"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/history"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
)

func TestNew_RejectsMissingInputs(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), "", "model"); err == nil {
		t.Fatalf("expected error for empty api key")
	}
	if _, err := New(context.Background(), "key", ""); err == nil {
		t.Fatalf("expected error for empty model")
	}
}

func TestContentsFromHistory_PreservesOrderAndTokens(t *testing.T) {
	t.Parallel()

	token := []byte{0xAA, 0xBB}
	turns := []history.Turn{
		{Role: history.RoleUser, Parts: []history.Part{
			history.FilePart("files/img"),
			history.TextPart("what is this"),
		}},
		{Role: history.RoleModel, Parts: []history.Part{
			history.TextPart("a cat"),
			history.ContinuationPart(token),
		}},
	}

	contents := contentsFromHistory(turns)
	if len(contents) != 2 {
		t.Fatalf("len(contents)=%d, want 2", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" {
		t.Fatalf("roles=%q,%q", contents[0].Role, contents[1].Role)
	}
	if contents[0].Parts[0].FileData == nil || contents[0].Parts[0].FileData.FileURI != "files/img" {
		t.Fatalf("file part lost: %+v", contents[0].Parts[0])
	}
	if contents[0].Parts[1].Text != "what is this" {
		t.Fatalf("text part=%q", contents[0].Parts[1].Text)
	}
	sig := contents[1].Parts[1].ThoughtSignature
	if len(sig) != 2 || sig[0] != 0xAA || sig[1] != 0xBB {
		t.Fatalf("thought signature=%v, want verbatim token", sig)
	}
}

func TestCurrentTurn_FilesPrecedeText(t *testing.T) {
	t.Parallel()

	content := currentTurn(protocol.DeepRequest{
		Message:        "describe",
		FileReferences: []string{"files/a", "files/b"},
	})
	if content.Role != "user" {
		t.Fatalf("role=%q", content.Role)
	}
	if len(content.Parts) != 3 {
		t.Fatalf("len(parts)=%d, want 3", len(content.Parts))
	}
	if content.Parts[0].FileData.FileURI != "files/a" || content.Parts[1].FileData.FileURI != "files/b" {
		t.Fatalf("file order wrong: %+v", content.Parts)
	}
	if content.Parts[2].Text != "describe" {
		t.Fatalf("text part=%q", content.Parts[2].Text)
	}
}

func TestFlagMapping(t *testing.T) {
	t.Parallel()

	if got := thinkingLevel(protocol.ReasoningHigh); got != genai.ThinkingLevelHigh {
		t.Fatalf("thinkingLevel(high)=%v", got)
	}
	if got := thinkingLevel(protocol.ReasoningLow); got != genai.ThinkingLevelLow {
		t.Fatalf("thinkingLevel(low)=%v", got)
	}
	if got := mediaResolution(protocol.FidelityLow); got != genai.MediaResolutionLow {
		t.Fatalf("mediaResolution(low)=%v", got)
	}
	if got := mediaResolution(protocol.FidelityMedium); got != genai.MediaResolutionMedium {
		t.Fatalf("mediaResolution(medium)=%v", got)
	}
	if got := mediaResolution(protocol.FidelityHigh); got != genai.MediaResolutionHigh {
		t.Fatalf("mediaResolution(high)=%v", got)
	}
}

func TestEventsFromResponse_FlattensPartsInOrder(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Hel"},
				{Text: "internal reasoning", Thought: true},
				{Text: "lo", ThoughtSignature: []byte{0x01}},
			}},
		}},
	}

	events := eventsFromResponse(resp)
	if len(events) != 3 {
		t.Fatalf("len(events)=%d, want 3", len(events))
	}
	if events[0].Kind != protocol.EventTextFragment || events[0].Text != "Hel" {
		t.Fatalf("events[0]=%+v", events[0])
	}
	if events[1].Kind != protocol.EventTextFragment || events[1].Text != "lo" {
		t.Fatalf("events[1]=%+v, want visible text only", events[1])
	}
	if events[2].Kind != protocol.EventContinuationSignal || len(events[2].Token) != 1 {
		t.Fatalf("events[2]=%+v, want continuation signal", events[2])
	}

	if got := eventsFromResponse(nil); got != nil {
		t.Fatalf("eventsFromResponse(nil)=%v, want nil", got)
	}
	if got := eventsFromResponse(&genai.GenerateContentResponse{}); got != nil {
		t.Fatalf("empty response events=%v, want nil", got)
	}
}

func scriptedStream(script []func() (*genai.GenerateContentResponse, error, bool)) *stream {
	i := 0
	return &stream{
		next: func() (*genai.GenerateContentResponse, error, bool) {
			if i >= len(script) {
				return nil, nil, false
			}
			step := script[i]
			i++
			return step()
		},
		stop: func() {},
	}
}

func textResponse(fragments ...string) *genai.GenerateContentResponse {
	parts := make([]*genai.Part, len(fragments))
	for i, f := range fragments {
		parts[i] = &genai.Part{Text: f}
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestStream_DrainsMultiPartResponsesThenEOF(t *testing.T) {
	t.Parallel()

	s := scriptedStream([]func() (*genai.GenerateContentResponse, error, bool){
		func() (*genai.GenerateContentResponse, error, bool) { return textResponse("a", "b"), nil, true },
		func() (*genai.GenerateContentResponse, error, bool) { return textResponse("c"), nil, true },
	})

	var got []string
	for {
		ev, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		got = append(got, ev.Text)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("fragments=%v, want [a b c]", got)
	}
}

func TestStream_UpstreamErrorIsWrapped(t *testing.T) {
	t.Parallel()

	s := scriptedStream([]func() (*genai.GenerateContentResponse, error, bool){
		func() (*genai.GenerateContentResponse, error, bool) { return nil, errors.New("quota"), true },
	})

	_, err := s.Next(context.Background())
	if !bridge.IsKind(err, bridge.KindUpstream) {
		t.Fatalf("error=%v, want upstream kind", err)
	}
}

func TestStream_CloseAndCancel(t *testing.T) {
	t.Parallel()

	s := scriptedStream(nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Next after close error=%v, want ErrClosed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s2 := scriptedStream(nil)
	if _, err := s2.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next with canceled ctx error=%v, want context.Canceled", err)
	}
}
