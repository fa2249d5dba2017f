package handlers

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/deep"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/history"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/tap"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/config"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/sse"
)

// DeepChatHandler handles POST /api/deep/chat: one turn in, a streamed answer
// out. The client carries conversation history across requests; each request
// seeds a fresh store so turns and continuation tokens replay in order.
type DeepChatHandler struct {
	Config config.Config
	Opener transport.DeepOpener
	Tap    tap.Tap
	Logger *slog.Logger
}

type deepDebugInfo struct {
	Message         string                   `json:"message"`
	FileCount       int                      `json:"file_count"`
	ReasoningEffort protocol.ReasoningEffort `json:"reasoning_effort"`
	MediaFidelity   protocol.MediaFidelity   `json:"media_fidelity"`
	HistoryTurns    int                      `json:"history_turns"`
}

func (h DeepChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, bridge.NewInvalidRequestError("method not allowed", ""))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes))
	if err != nil {
		writeError(w, r, bridge.NewInvalidRequestError("request body too large or unreadable", ""))
		return
	}
	req, err := protocol.DecodeDeepRequest(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	store := history.New(h.Config.MaxHistoryTurns)
	for _, turn := range req.History {
		if err := store.Append(turn); err != nil {
			writeError(w, r, bridge.NewInvalidRequestError("invalid history turn", "history"))
			return
		}
	}

	session := deep.NewSession(h.Opener, store, h.Tap, h.Logger)

	sw, err := sse.New(w)
	if err != nil {
		writeError(w, r, bridge.NewUpstreamError("streaming unsupported"))
		return
	}

	// From here on the stream is committed; failures become error chunks.
	debugData, _ := json.Marshal(deepDebugInfo{
		Message:         req.Message,
		FileCount:       len(req.FileReferences),
		ReasoningEffort: req.ReasoningEffort,
		MediaFidelity:   req.MediaFidelity,
		HistoryTurns:    store.Len(),
	})
	_ = sw.Send(protocol.DeepChunk{Type: protocol.DeepChunkDebug, DebugType: "request", Data: debugData})

	emit := func(ev protocol.Event) error {
		switch ev.Kind {
		case protocol.EventTextFragment:
			return sw.Send(protocol.DeepChunk{Type: protocol.DeepChunkText, Content: ev.Text})
		case protocol.EventContinuationSignal:
			return sw.Send(protocol.DeepChunk{
				Type:      protocol.DeepChunkSignature,
				Signature: base64.StdEncoding.EncodeToString(ev.Token),
			})
		default:
			return nil
		}
	}

	if _, err := session.Exchange(r.Context(), deep.Request{
		Message:         req.Message,
		FileReferences:  req.FileReferences,
		ReasoningEffort: req.ReasoningEffort,
		MediaFidelity:   req.MediaFidelity,
	}, emit); err != nil {
		if h.Logger != nil {
			h.Logger.Error("deep exchange failed", "error", err)
		}
		_ = sw.Send(protocol.DeepChunk{Type: protocol.DeepChunkError, Message: err.Error()})
		return
	}

	_ = sw.Send(protocol.DeepChunk{Type: protocol.DeepChunkDone})
}
