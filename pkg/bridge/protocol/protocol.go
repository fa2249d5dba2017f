// Package protocol defines the wire shapes both session modes exchange with
// the client and the upstream model service, and classifies inbound payloads
// into the typed events the sessions route on.
package protocol

import (
	"encoding/base64"
	"encoding/json"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
)

// ReasoningEffort selects how much multi-step reasoning the model applies.
type ReasoningEffort string

const (
	ReasoningLow  ReasoningEffort = "low"
	ReasoningHigh ReasoningEffort = "high"
)

// MediaFidelity trades attachment detail for bandwidth and latency.
type MediaFidelity string

const (
	FidelityLow    MediaFidelity = "low"
	FidelityMedium MediaFidelity = "medium"
	FidelityHigh   MediaFidelity = "high"
)

// EventKind classifies one inbound unit from the remote service.
type EventKind string

const (
	EventTextFragment       EventKind = "text_fragment"
	EventInlineMedia        EventKind = "inline_media"
	EventContinuationSignal EventKind = "continuation_signal"
	EventTurnComplete       EventKind = "turn_complete"
	EventError              EventKind = "error"
	// EventUnknown marks extension shapes the bridge does not handle. They are
	// passed to the inspection tap and nothing else; never fatal.
	EventUnknown EventKind = "unknown"
)

// Event is one classified inbound unit. Exactly the fields implied by Kind are
// set. Raw always carries the verbatim payload for the inspection tap.
type Event struct {
	Kind     EventKind
	Text     string
	MimeType string
	Data     []byte
	Token    []byte
	Message  string
	Raw      json.RawMessage
}

func ValidateReasoningEffort(v ReasoningEffort) error {
	switch v {
	case ReasoningLow, ReasoningHigh:
		return nil
	default:
		return bridge.NewInvalidRequestError("unsupported reasoning effort", "reasoningEffort")
	}
}

func ValidateMediaFidelity(v MediaFidelity) error {
	switch v {
	case FidelityLow, FidelityMedium, FidelityHigh:
		return nil
	default:
		return bridge.NewInvalidRequestError("unsupported media fidelity", "mediaFidelity")
	}
}

// MediaChunk is one transient unit of outbound media. Not retained after
// forwarding.
type MediaChunk struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// NewMediaChunk base64-encodes raw media bytes into the wire shape.
func NewMediaChunk(mimeType string, raw []byte) MediaChunk {
	return MediaChunk{
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}
}

// RealtimeInput is the live-mode envelope for media chunks.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

// ContentPart is one part of a live client text turn.
type ContentPart struct {
	Text string `json:"text"`
}

// ContentTurn is one role-tagged turn inside clientContent.
type ContentTurn struct {
	Role  string        `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// ClientContent is the live-mode envelope for discrete text turns.
type ClientContent struct {
	Turns        []ContentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

// LiveClientMessage is one outbound duplex message. Exactly one of the two
// envelopes is set.
type LiveClientMessage struct {
	RealtimeInput *RealtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *ClientContent `json:"clientContent,omitempty"`
}

// EncodeMediaMessage frames one media chunk as a realtimeInput message.
func EncodeMediaMessage(chunk MediaChunk) ([]byte, error) {
	return json.Marshal(LiveClientMessage{
		RealtimeInput: &RealtimeInput{MediaChunks: []MediaChunk{chunk}},
	})
}

// EncodeTextTurnMessage frames one user text turn as a clientContent message.
func EncodeTextTurnMessage(text string) ([]byte, error) {
	return json.Marshal(LiveClientMessage{
		ClientContent: &ClientContent{
			Turns:        []ContentTurn{{Role: "user", Parts: []ContentPart{{Text: text}}}},
			TurnComplete: true,
		},
	})
}

// DecodeLiveClientMessage parses one client frame and rejects frames that
// carry neither or both envelopes.
func DecodeLiveClientMessage(data []byte) (LiveClientMessage, error) {
	var msg LiveClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return LiveClientMessage{}, bridge.NewProtocolDecodeError("invalid live client frame", err)
	}
	if msg.RealtimeInput == nil && msg.ClientContent == nil {
		return LiveClientMessage{}, bridge.NewProtocolDecodeError("live client frame has no payload", nil)
	}
	if msg.RealtimeInput != nil && msg.ClientContent != nil {
		return LiveClientMessage{}, bridge.NewProtocolDecodeError("live client frame has two payloads", nil)
	}
	return msg, nil
}

// Upstream live frame shapes (BidiGenerateContent).

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type modelPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type modelTurn struct {
	Parts []modelPart `json:"parts"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
}

type liveServerFrame struct {
	ServerContent *serverContent `json:"serverContent"`
}

// ClassifyLiveFrame parses one upstream duplex frame into ordered events.
// A frame with no serverContent yields a single EventUnknown so the tap still
// records it. Part order within a frame is preserved.
func ClassifyLiveFrame(data []byte) ([]Event, error) {
	raw := json.RawMessage(append([]byte(nil), data...))

	var frame liveServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, bridge.NewProtocolDecodeError("invalid live server frame", err)
	}
	if frame.ServerContent == nil {
		return []Event{{Kind: EventUnknown, Raw: raw}}, nil
	}

	var events []Event
	if frame.ServerContent.ModelTurn != nil {
		for _, part := range frame.ServerContent.ModelTurn.Parts {
			switch {
			case part.InlineData != nil:
				decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, bridge.NewProtocolDecodeError("invalid inline media payload", err)
				}
				events = append(events, Event{
					Kind:     EventInlineMedia,
					MimeType: part.InlineData.MimeType,
					Data:     decoded,
					Raw:      raw,
				})
			case part.Text != "":
				events = append(events, Event{Kind: EventTextFragment, Text: part.Text, Raw: raw})
			}
		}
	}
	if frame.ServerContent.TurnComplete {
		events = append(events, Event{Kind: EventTurnComplete, Raw: raw})
	}
	if len(events) == 0 {
		events = append(events, Event{Kind: EventUnknown, Raw: raw})
	}
	return events, nil
}

// Client-facing envelope (both modes mirror upstream traffic to the client in
// this shape; live mode additionally wraps model output as gemini_response).

type ClientEnvelope struct {
	Type      string          `json:"type"`
	DebugType string          `json:"debug_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// WrapGeminiResponse tags a verbatim upstream frame for the client.
func WrapGeminiResponse(raw json.RawMessage) ([]byte, error) {
	return json.Marshal(ClientEnvelope{Type: "gemini_response", Data: raw})
}

// WrapDebug builds an inspector frame for the client.
func WrapDebug(debugType string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ClientEnvelope{Type: "debug", DebugType: debugType, Data: payload})
}
