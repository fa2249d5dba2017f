package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/protocol"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/tap"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/config"
)

type memDuplex struct {
	mu     sync.Mutex
	sent   [][]byte
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newMemDuplex() *memDuplex {
	return &memDuplex{inbox: make(chan []byte, 16), closed: make(chan struct{})}
}

func (d *memDuplex) Send(ctx context.Context, payload []byte) error {
	select {
	case <-d.closed:
		return transport.ErrClosed
	default:
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	d.mu.Lock()
	d.sent = append(d.sent, cp)
	d.mu.Unlock()
	return nil
}

func (d *memDuplex) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.closed:
		return nil, transport.ErrClosed
	case payload := <-d.inbox:
		return payload, nil
	}
}

func (d *memDuplex) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *memDuplex) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type memDialer struct {
	duplex *memDuplex
}

func (m memDialer) Dial(ctx context.Context) (transport.Duplex, error) {
	return m.duplex, nil
}

func liveTestConfig() config.Config {
	return config.Config{
		LiveModel:        "live-model",
		LiveWriteTimeout: 2 * time.Second,
	}
}

func dialLive(t *testing.T, duplex *memDuplex) (*websocket.Conn, func()) {
	t.Helper()
	h := LiveHandler{
		Config: liveTestConfig(),
		Dialer: memDialer{duplex: duplex},
		Tap:    tap.Noop{},
		Logger: testLogger(),
	}
	ts := httptest.NewServer(h)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial live handler: %v", err)
	}
	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.ClientEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read client frame: %v", err)
	}
	var env protocol.ClientEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal client frame %s: %v", payload, err)
	}
	return env
}

func TestLive_SendsConnectionDebugFrameOnOpen(t *testing.T) {
	t.Parallel()

	duplex := newMemDuplex()
	conn, done := dialLive(t, duplex)
	defer done()

	env := readEnvelope(t, conn)
	if env.Type != "debug" || env.DebugType != "connection" {
		t.Fatalf("first frame=%+v, want connection debug", env)
	}
	var info map[string]string
	if err := json.Unmarshal(env.Data, &info); err != nil {
		t.Fatalf("unmarshal debug data: %v", err)
	}
	if info["status"] != "connected" || info["model"] != "live-model" {
		t.Fatalf("debug data=%v", info)
	}
}

func TestLive_ForwardsClientMediaUpstream(t *testing.T) {
	t.Parallel()

	duplex := newMemDuplex()
	conn, done := dialLive(t, duplex)
	defer done()

	readEnvelope(t, conn) // connection debug

	frame := `{"realtimeInput":{"mediaChunks":[{"mimeType":"audio/pcm;rate=16000","data":"AAA="}]}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write client frame: %v", err)
	}

	// The handler mirrors the request back as a debug frame.
	env := readEnvelope(t, conn)
	if env.Type != "debug" || env.DebugType != "request" {
		t.Fatalf("frame=%+v, want request debug", env)
	}

	deadline := time.Now().Add(2 * time.Second)
	for duplex.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if duplex.sentCount() != 1 {
		t.Fatalf("upstream sends=%d, want 1", duplex.sentCount())
	}
	msg, err := protocol.DecodeLiveClientMessage(duplex.sent[0])
	if err != nil || msg.RealtimeInput == nil {
		t.Fatalf("forwarded frame wrong: %v %+v", err, msg)
	}
}

func TestLive_MirrorsUpstreamFramesAsGeminiResponse(t *testing.T) {
	t.Parallel()

	duplex := newMemDuplex()
	conn, done := dialLive(t, duplex)
	defer done()

	readEnvelope(t, conn) // connection debug

	upstream := `{"serverContent":{"modelTurn":{"parts":[{"text":"hi there"}]},"turnComplete":true}}`
	duplex.inbox <- []byte(upstream)

	sawResponse := false
	sawDebug := false
	for i := 0; i < 2; i++ {
		env := readEnvelope(t, conn)
		switch {
		case env.Type == "gemini_response":
			sawResponse = true
			if string(env.Data) != upstream {
				t.Fatalf("gemini_response data=%s, want verbatim frame", env.Data)
			}
		case env.Type == "debug" && env.DebugType == "response":
			sawDebug = true
		default:
			t.Fatalf("unexpected frame: %+v", env)
		}
	}
	if !sawResponse || !sawDebug {
		t.Fatalf("response=%v debug=%v, want both", sawResponse, sawDebug)
	}
}

func TestLive_UnknownUpstreamFramesAreNotMirrored(t *testing.T) {
	t.Parallel()

	duplex := newMemDuplex()
	conn, done := dialLive(t, duplex)
	defer done()

	readEnvelope(t, conn) // connection debug

	duplex.inbox <- []byte(`{"usageMetadata":{"totalTokens":3}}`)
	duplex.inbox <- []byte(`{"serverContent":{"modelTurn":{"parts":[{"text":"visible"}]}}}`)

	env := readEnvelope(t, conn)
	if env.Type != "gemini_response" {
		t.Fatalf("frame=%+v, want the recognized frame only", env)
	}
	if !strings.Contains(string(env.Data), "visible") {
		t.Fatalf("mirrored frame=%s, want the serverContent frame", env.Data)
	}
}

func TestLive_MalformedClientFrameGetsErrorAndSessionSurvives(t *testing.T) {
	t.Parallel()

	duplex := newMemDuplex()
	conn, done := dialLive(t, duplex)
	defer done()

	readEnvelope(t, conn) // connection debug

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{}`)); err != nil {
		t.Fatalf("write bad frame: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Type != "error" {
		t.Fatalf("frame=%+v, want error", env)
	}

	// Session still works afterwards.
	good := `{"clientContent":{"turns":[{"role":"user","parts":[{"text":"hi"}]}],"turnComplete":true}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(good)); err != nil {
		t.Fatalf("write good frame: %v", err)
	}
	env = readEnvelope(t, conn)
	if env.Type != "debug" || env.DebugType != "request" {
		t.Fatalf("frame=%+v, want request debug after recovery", env)
	}
}
