package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/history"
)

// SSEPrefix is the fixed marker each deep-mode stream line starts with.
const SSEPrefix = "data: "

// DeepRequest is the deep-mode outbound request shape.
type DeepRequest struct {
	Message         string          `json:"message"`
	FileReferences  []string        `json:"fileReferences"`
	ReasoningEffort ReasoningEffort `json:"reasoningEffort"`
	MediaFidelity   MediaFidelity   `json:"mediaFidelity"`
	History         []history.Turn  `json:"history,omitempty"`
}

// DecodeDeepRequest parses and validates a client chat request. Flags default
// to low effort and medium fidelity when omitted, matching the demo client.
func DecodeDeepRequest(data []byte) (DeepRequest, error) {
	var req DeepRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return DeepRequest{}, bridge.NewInvalidRequestError("invalid request body", "")
	}
	if req.ReasoningEffort == "" {
		req.ReasoningEffort = ReasoningLow
	}
	if req.MediaFidelity == "" {
		req.MediaFidelity = FidelityMedium
	}
	if err := ValidateReasoningEffort(req.ReasoningEffort); err != nil {
		return DeepRequest{}, err
	}
	if err := ValidateMediaFidelity(req.MediaFidelity); err != nil {
		return DeepRequest{}, err
	}
	if req.Message == "" && len(req.FileReferences) == 0 {
		return DeepRequest{}, bridge.NewInvalidRequestError("message may be empty only with file references attached", "message")
	}
	return req, nil
}

// DeepChunk is one deep-mode streamed response event.
type DeepChunk struct {
	Type      string          `json:"type"`
	Content   string          `json:"content,omitempty"`
	Signature string          `json:"signature,omitempty"`
	DebugType string          `json:"debug_type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
}

const (
	DeepChunkText      = "text"
	DeepChunkSignature = "thought_signature"
	DeepChunkDebug     = "debug"
	DeepChunkError     = "error"
	DeepChunkDone      = "done"
)

// EncodeSSE frames one chunk as a stream line: the fixed marker, the JSON
// payload, and a blank line.
func EncodeSSE(chunk DeepChunk) ([]byte, error) {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(SSEPrefix) + len(payload) + 2)
	buf.WriteString(SSEPrefix)
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// DecodeSSELine parses one stream line back into a chunk. Blank keep-alive
// lines return ok=false.
func DecodeSSELine(line []byte) (DeepChunk, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return DeepChunk{}, false, nil
	}
	if !bytes.HasPrefix(line, []byte(SSEPrefix)) {
		return DeepChunk{}, false, bridge.NewProtocolDecodeError("stream line is missing the data marker", nil)
	}
	var chunk DeepChunk
	if err := json.Unmarshal(bytes.TrimPrefix(line, []byte(SSEPrefix)), &chunk); err != nil {
		return DeepChunk{}, false, bridge.NewProtocolDecodeError("invalid stream chunk", err)
	}
	if chunk.Type == "" {
		return DeepChunk{}, false, bridge.NewProtocolDecodeError("stream chunk has no type", nil)
	}
	return chunk, true, nil
}

// ClassifyDeepChunk maps a wire chunk onto the shared event model. Signatures
// arrive base64-encoded and are carried as raw bytes from here on.
func ClassifyDeepChunk(chunk DeepChunk) (Event, error) {
	raw, err := json.Marshal(chunk)
	if err != nil {
		return Event{}, err
	}
	switch chunk.Type {
	case DeepChunkText:
		return Event{Kind: EventTextFragment, Text: chunk.Content, Raw: raw}, nil
	case DeepChunkSignature:
		token, err := base64.StdEncoding.DecodeString(chunk.Signature)
		if err != nil {
			return Event{}, bridge.NewProtocolDecodeError("invalid thought signature encoding", err)
		}
		return Event{Kind: EventContinuationSignal, Token: token, Raw: raw}, nil
	case DeepChunkDone:
		return Event{Kind: EventTurnComplete, Raw: raw}, nil
	case DeepChunkError:
		return Event{Kind: EventError, Message: chunk.Message, Raw: raw}, nil
	default:
		return Event{Kind: EventUnknown, Raw: raw}, nil
	}
}
