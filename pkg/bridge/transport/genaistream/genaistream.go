// Package genaistream implements the deep-mode transport boundary over the
// google.golang.org/genai SDK: one unary request, one streamed response.
package genaistream

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"google.golang.org/genai"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/history"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
)

// Client opens deep-mode exchanges against the Gemini API.
type Client struct {
	genai *genai.Client
	model string
}

// New builds a client for the given model.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genaistream: api key is empty")
	}
	if model == "" {
		return nil, fmt.Errorf("genaistream: model is empty")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genaistream: new client: %w", err)
	}
	return &Client{genai: c, model: model}, nil
}

// Open starts one streamed exchange. The request's history is replayed in
// order ahead of the current turn; continuation tokens ride along verbatim as
// thought signatures.
func (c *Client) Open(ctx context.Context, req protocol.DeepRequest) (transport.Stream, error) {
	contents := contentsFromHistory(req.History)
	contents = append(contents, currentTurn(req))

	cfg := &genai.GenerateContentConfig{
		ThinkingConfig:  &genai.ThinkingConfig{ThinkingLevel: thinkingLevel(req.ReasoningEffort)},
		MediaResolution: mediaResolution(req.MediaFidelity),
	}

	next, stop := iter.Pull2(c.genai.Models.GenerateContentStream(ctx, c.model, contents, cfg))
	return &stream{next: next, stop: stop}, nil
}

func contentsFromHistory(turns []history.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns)+1)
	for _, turn := range turns {
		content := &genai.Content{Role: roleString(turn.Role)}
		for _, part := range turn.Parts {
			switch part.Kind {
			case history.PartText:
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			case history.PartFileReference:
				content.Parts = append(content.Parts, &genai.Part{
					FileData: &genai.FileData{FileURI: part.FileURI},
				})
			case history.PartContinuationToken:
				// Opaque bytes, replayed exactly where they were produced.
				content.Parts = append(content.Parts, &genai.Part{ThoughtSignature: part.ContinuationToken})
			}
		}
		contents = append(contents, content)
	}
	return contents
}

func currentTurn(req protocol.DeepRequest) *genai.Content {
	content := &genai.Content{Role: "user"}
	for _, uri := range req.FileReferences {
		content.Parts = append(content.Parts, &genai.Part{
			FileData: &genai.FileData{FileURI: uri},
		})
	}
	content.Parts = append(content.Parts, &genai.Part{Text: req.Message})
	return content
}

func roleString(r history.Role) string {
	if r == history.RoleModel {
		return "model"
	}
	return "user"
}

func thinkingLevel(effort protocol.ReasoningEffort) genai.ThinkingLevel {
	if effort == protocol.ReasoningHigh {
		return genai.ThinkingLevelHigh
	}
	return genai.ThinkingLevelLow
}

func mediaResolution(fidelity protocol.MediaFidelity) genai.MediaResolution {
	switch fidelity {
	case protocol.FidelityLow:
		return genai.MediaResolutionLow
	case protocol.FidelityHigh:
		return genai.MediaResolutionHigh
	default:
		return genai.MediaResolutionMedium
	}
}

// stream adapts the SDK's pull iterator to the transport contract. Responses
// can carry several parts; they are flattened into single events preserving
// part order.
type stream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	mu      sync.Mutex
	pending []protocol.Event
	closed  bool
}

func (s *stream) Next(ctx context.Context) (protocol.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return protocol.Event{}, transport.ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return protocol.Event{}, err
		}
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}

		resp, err, ok := s.next()
		if !ok {
			return protocol.Event{}, io.EOF
		}
		if err != nil {
			return protocol.Event{}, bridge.NewUpstreamError(err.Error())
		}
		s.pending = append(s.pending, eventsFromResponse(resp)...)
	}
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.stop()
	return nil
}

func eventsFromResponse(resp *genai.GenerateContentResponse) []protocol.Event {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var events []protocol.Event
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			events = append(events, protocol.Event{Kind: protocol.EventTextFragment, Text: part.Text})
		}
		if len(part.ThoughtSignature) > 0 {
			token := make([]byte, len(part.ThoughtSignature))
			copy(token, part.ThoughtSignature)
			events = append(events, protocol.Event{Kind: protocol.EventContinuationSignal, Token: token})
		}
	}
	return events
}
