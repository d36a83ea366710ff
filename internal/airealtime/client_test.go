package airealtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipaivoice/bridge/internal/events"
)

var testUpgrader = websocket.Upgrader{}

// testServer is a minimal stand-in for the realtime provider: it records
// every inbound client message and lets the test script decide what and
// when to write back, so the handshake/gating logic can be driven
// deterministically.
type testServer struct {
	mu       sync.Mutex
	received []map[string]any
	conn     *websocket.Conn
	connCh   chan *websocket.Conn
}

func newTestServer() (*testServer, *httptest.Server) {
	ts := &testServer{connCh: make(chan *websocket.Conn, 1)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.connCh <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if err := json.Unmarshal(data, &m); err == nil {
				ts.mu.Lock()
				ts.received = append(ts.received, m)
				ts.mu.Unlock()
			}
		}
	}))
	return ts, srv
}

func (ts *testServer) waitForConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ts.connCh:
		ts.conn = c
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (ts *testServer) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ts.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (ts *testServer) messagesOfType(kind string) []map[string]any {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []map[string]any
	for _, m := range ts.received {
		if m["type"] == kind {
			out = append(out, m)
		}
	}
	return out
}

func testClientLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClientSendsSessionUpdateOnConnect(t *testing.T) {
	ts, srv := newTestServer()
	defer srv.Close()

	c := NewClient(Config{URL: wsURL(srv.URL), Voice: "alloy", Instructions: "be helpful"}, testClientLogger(), events.NewBus(), nil)
	defer c.Close()

	if err := c.Open(context.Background(), "call-1", func([]byte) {}); err != nil {
		t.Fatalf("open: %v", err)
	}
	ts.waitForConn(t)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ts.messagesOfType("session.update")) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	msgs := ts.messagesOfType("session.update")
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one session.update, got %d", len(msgs))
	}
	session, ok := msgs[0]["session"].(map[string]any)
	if !ok {
		t.Fatal("expected session.update to carry a session object")
	}
	if session["voice"] != "alloy" {
		t.Errorf("expected voice alloy, got %v", session["voice"])
	}
	if session["input_audio_format"] != "g711_ulaw" {
		t.Errorf("expected default audio format g711_ulaw, got %v", session["input_audio_format"])
	}
}

func TestClientQueuesAudioUntilConfiguredThenFlushesInOrder(t *testing.T) {
	ts, srv := newTestServer()
	defer srv.Close()

	c := NewClient(Config{URL: wsURL(srv.URL)}, testClientLogger(), events.NewBus(), nil)
	defer c.Close()

	if err := c.Open(context.Background(), "call-1", func([]byte) {}); err != nil {
		t.Fatalf("open: %v", err)
	}
	ts.waitForConn(t)

	c.SendAudio([]byte{1})
	c.SendAudio([]byte{2})
	c.SendAudio([]byte{3})

	// Give the queue a moment to settle before we confirm nothing leaked early.
	time.Sleep(50 * time.Millisecond)
	if len(ts.messagesOfType("input_audio_buffer.append")) != 0 {
		t.Fatal("expected no audio appends before session.updated")
	}

	ts.send(t, map[string]any{"type": "session.updated", "session": map[string]any{"id": "sess-1"}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ts.messagesOfType("input_audio_buffer.append")) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	appends := ts.messagesOfType("input_audio_buffer.append")
	if len(appends) != 3 {
		t.Fatalf("expected exactly 3 queued appends flushed, got %d", len(appends))
	}
	for i, want := range []byte{1, 2, 3} {
		b64 := appends[i]["audio"].(string)
		frame, err := base64.StdEncoding.DecodeString(b64)
		if err != nil || len(frame) != 1 || frame[0] != want {
			t.Errorf("append %d: expected frame %d, got %v (err %v)", i, want, frame, err)
		}
	}
}

func TestClientForwardsDecodedAudioDelta(t *testing.T) {
	ts, srv := newTestServer()
	defer srv.Close()

	var mu sync.Mutex
	var got []byte
	onAudio := func(pcm []byte) {
		mu.Lock()
		got = pcm
		mu.Unlock()
	}

	c := NewClient(Config{URL: wsURL(srv.URL)}, testClientLogger(), events.NewBus(), nil)
	defer c.Close()
	if err := c.Open(context.Background(), "call-1", onAudio); err != nil {
		t.Fatalf("open: %v", err)
	}
	ts.waitForConn(t)

	payload := base64.StdEncoding.EncodeToString([]byte{9, 8, 7})
	ts.send(t, map[string]any{"type": "response.audio.delta", "delta": payload})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if string(got) != string([]byte{9, 8, 7}) {
		t.Fatalf("expected decoded audio delta forwarded, got %v", got)
	}
}

func TestClientInvokesFunctionCallHandler(t *testing.T) {
	ts, srv := newTestServer()
	defer srv.Close()

	called := make(chan [3]string, 1)
	onTool := func(name, argsJSON, callID string) {
		called <- [3]string{name, argsJSON, callID}
	}

	c := NewClient(Config{URL: wsURL(srv.URL)}, testClientLogger(), events.NewBus(), onTool)
	defer c.Close()
	if err := c.Open(context.Background(), "call-1", func([]byte) {}); err != nil {
		t.Fatalf("open: %v", err)
	}
	ts.waitForConn(t)

	ts.send(t, map[string]any{
		"type":      "response.function_call_arguments.done",
		"name":      "transfer_call",
		"arguments": `{"extension":"200"}`,
		"call_id":   "fc-1",
	})

	select {
	case args := <-called:
		if args[0] != "transfer_call" || args[2] != "fc-1" {
			t.Fatalf("unexpected call args: %v", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for function call handler")
	}
}
