// Package airealtime implements the WebSocket client for the realtime
// conversational-AI provider: the session.update configuration handshake,
// a bounded audio egress queue that survives reconnects, exponential
// backoff reconnection, and dispatch of inbound provider events.
//
// Per spec, the upstream WebSocket is a single long-lived connection
// shared by every call the process handles concurrently: Start dials it
// once, and each call attaches its own leg via NewCall and the returned
// handle's Open, which sends its own session.update; the leg is tracked
// by the AI-assigned session id so
// inbound events route back to the right call.
package airealtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipaivoice/bridge/internal/events"
)

const (
	pingInterval     = 30 * time.Second
	pongWaitTimeout  = 5 * time.Second
	initialBackoff   = 1 * time.Second
	maxBackoff       = 30 * time.Second
	maxReconnectTrys = 10
	attachTimeout    = 10 * time.Second
)

// fatalAIErrorCodes are the realtime provider's error codes this bridge
// treats as unrecoverable for the call (or process) they arrive on, per
// spec: anything that means the session itself is no longer usable,
// distinct from a rejected individual request.
var fatalAIErrorCodes = map[string]bool{
	"session_expired": true,
	"invalid_api_key": true,
	"unauthorized":    true,
}

// ToolDefinition describes one function tool advertised to the model in
// session.update, per spec: transfer_call(extension) and end_call().
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Config configures a Client. AudioFormat should be "g711_ulaw" (the
// default, chosen to avoid transcoding against the SIP leg) or "g711_alaw"
// for an A-law trunk; "pcm16" is accepted for a wideband far end.
type Config struct {
	URL             string
	APIKey          string
	Voice           string
	Instructions    string
	AudioFormat     string
	Temperature     float64
	MaxOutputTokens int
	Tools           []ToolDefinition

	// WelcomeMessage is the instruction text sent as the first
	// conversation item once the session is configured, per spec §4.4
	// step 8 ("send the configured welcome-prompt message").
	WelcomeMessage string
}

func (c Config) audioFormat() string {
	if c.AudioFormat == "" {
		return "g711_ulaw"
	}
	return c.AudioFormat
}

// FunctionCallHandler is invoked when the model emits a completed function
// call; name is the tool name, argumentsJSON its raw JSON arguments.
type FunctionCallHandler func(name, argumentsJSON, callID string)

// callLeg is one call's view onto the shared Client: its own egress queue,
// audio sink, and lifecycle hooks, attached to the connection under its own
// AI-assigned session id once the attach handshake completes.
type callLeg struct {
	callID string

	mu         sync.Mutex
	sessionID  string
	configured bool

	queue      *egressQueue
	onAudio    func(pcm []byte)
	onToolCall FunctionCallHandler

	OnSessionConfigured func()
	OnResponseStarted   func()
	OnResponseDone      func()
	OnFatalError        func(error)
}

// Client is one long-lived realtime WebSocket connection, shared by every
// call the process admits. Constructing one call's worth of state (the
// bare Open/SendAudio/RequestWelcome/Close methods below) still works
// exactly as a single-call client, so a Client used directly implements
// callsession.AIClient on its own; production code instead shares one
// Client across calls via NewCall, see CallHandle.
type Client struct {
	cfg Config
	log *slog.Logger
	bus *events.Bus

	onToolCall FunctionCallHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	started bool
	closed  bool

	// The fields below are the default leg: the call that used Open
	// directly rather than through NewCall/CallHandle. Kept distinct from
	// the legs map so a bare Client still behaves exactly like the
	// original single-call implementation.
	callID     string
	configured bool
	queue      *egressQueue
	onAudio    func(pcm []byte)

	OnSessionConfigured func()
	OnResponseStarted   func()
	OnResponseDone      func()
	OnFatalError        func(error)

	attachMu      sync.Mutex
	pendingAttach *callLeg
	pendingResult chan string

	legsMu        sync.Mutex
	legs          map[string]*callLeg
	sessionToCall map[string]string

	done       chan struct{}
	closeOnce  sync.Once
	cancelRead context.CancelFunc
}

// NewClient creates a Client. onToolCall may be nil if no tool handling is
// wired for this deployment.
func NewClient(cfg Config, logger *slog.Logger, bus *events.Bus, onToolCall FunctionCallHandler) *Client {
	return &Client{
		cfg:        cfg,
		log:        logger.With("subsystem", "airealtime"),
		bus:        bus,
		onToolCall: onToolCall,
		queue:      newEgressQueue(),
		done:       make(chan struct{}),
	}
}

// Start dials the shared connection and begins the background read/
// reconnect loop, without attaching any call. Idempotent: a second call is
// a no-op. cmd/sipbridge calls this once, before any call can arrive.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRead = cancel
	if err := c.connect(runCtx); err != nil {
		return err
	}
	go c.run(runCtx)
	return nil
}

// NewCall returns a handle one call can attach through, without touching
// any other call's leg. The handle's OnSessionConfigured/OnResponseStarted/
// OnResponseDone/OnFatalError fields must be set before calling Open.
func (c *Client) NewCall() *CallHandle {
	return &CallHandle{client: c}
}

// CallHandle is one call's view of the shared Client: it implements
// callsession.AIClient, delegating to the underlying leg, and its Close
// only detaches this call — the shared transport stays open for others.
type CallHandle struct {
	client *Client
	leg    *callLeg

	OnSessionConfigured func()
	OnResponseStarted   func()
	OnResponseDone      func()
	OnFatalError        func(error)
	OnToolCall          FunctionCallHandler
}

// Open starts the shared Client if needed, then attaches this call as its
// own leg: sending its own session.update and waiting for the matching
// session.updated before returning.
func (h *CallHandle) Open(ctx context.Context, callID string, onAudio func(pcm []byte)) error {
	if err := h.client.Start(ctx); err != nil {
		return err
	}
	leg := &callLeg{
		callID:              callID,
		queue:               newEgressQueue(),
		onAudio:             onAudio,
		onToolCall:          h.OnToolCall,
		OnSessionConfigured: h.OnSessionConfigured,
		OnResponseStarted:   h.OnResponseStarted,
		OnResponseDone:      h.OnResponseDone,
		OnFatalError:        h.OnFatalError,
	}
	h.leg = leg

	h.client.legsMu.Lock()
	if h.client.legs == nil {
		h.client.legs = make(map[string]*callLeg)
	}
	h.client.legs[callID] = leg
	h.client.legsMu.Unlock()

	return h.client.attachLeg(ctx, leg)
}

// SendAudio enqueues (or, once configured, directly writes) audio for this
// call's leg.
func (h *CallHandle) SendAudio(pcm []byte) {
	if h.leg == nil {
		return
	}
	h.client.sendAudioForLeg(h.leg, pcm)
}

// RequestWelcome sends the welcome prompt for this call's leg.
func (h *CallHandle) RequestWelcome() {
	if h.leg == nil {
		return
	}
	h.client.requestWelcomeForLeg(h.leg)
}

// Close sends the spec's leave message for this call and detaches its leg
// from the shared client. The underlying WebSocket is left open for every
// other call still using it; only Client.Close tears that down.
func (h *CallHandle) Close() {
	if h.leg == nil {
		return
	}
	h.client.leaveLeg(h.leg)
}

// Open connects, performs the session.update handshake, and starts the
// background read/reconnect loop, attaching this call as the Client's
// default leg. onAudio is invoked with each decoded audio frame from
// response.audio.delta while the session is AI_ACTIVE.
func (c *Client) Open(ctx context.Context, callID string, onAudio func(pcm []byte)) error {
	c.mu.Lock()
	c.callID = callID
	c.onAudio = onAudio
	c.started = true
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRead = cancel

	if err := c.connect(runCtx); err != nil {
		return err
	}
	go c.run(runCtx)
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("airealtime: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.configured = false
	callID := c.callID
	c.mu.Unlock()

	if callID != "" {
		if err := c.sendSessionUpdate(); err != nil {
			conn.Close()
			return fmt.Errorf("airealtime: session.update: %w", err)
		}
	}

	c.bus.PublishClientStatus(events.ClientStatus{CallID: callID, Connected: true, At: time.Now()})
	return nil
}

// run drains inbound messages and reconnects with exponential backoff on
// loss, up to maxReconnectTrys attempts, per spec §4.5.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := c.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		callID := c.callID
		c.mu.Unlock()
		c.bus.PublishClientStatus(events.ClientStatus{CallID: callID, Connected: false, Err: err, At: time.Now()})
		c.log.Warn("ai realtime connection lost", "error", err)

		attempt++
		if attempt > maxReconnectTrys {
			c.log.Error("ai realtime giving up after max reconnect attempts", "attempts", attempt)
			if c.OnFatalError != nil {
				c.OnFatalError(fmt.Errorf("airealtime: exceeded %d reconnect attempts: %w", maxReconnectTrys, err))
			}
			return
		}
		delay := backoffDelay(attempt)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := c.connect(ctx); err != nil {
			c.log.Error("ai realtime reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		attempt = 0
		c.reattachLegsAfterReconnect(ctx)
	}
}

// reattachLegsAfterReconnect re-runs the attach handshake for every call
// still bound to a leg when the connection was lost, since a fresh socket
// means a fresh set of upstream sessions. Each reattach runs in its own
// goroutine so one slow call does not delay the others.
func (c *Client) reattachLegsAfterReconnect(ctx context.Context) {
	c.legsMu.Lock()
	legs := make([]*callLeg, 0, len(c.legs))
	for _, leg := range c.legs {
		legs = append(legs, leg)
	}
	c.legsMu.Unlock()

	for _, leg := range legs {
		leg.mu.Lock()
		leg.configured = false
		leg.sessionID = ""
		leg.mu.Unlock()
		go func(leg *callLeg) {
			if err := c.attachLeg(ctx, leg); err != nil {
				c.log.Error("failed to reattach call after ai realtime reconnect", "call_id", leg.callID, "error", err)
			}
		}(leg)
	}
}

// attachLeg sends leg's session.update and blocks until the matching
// session.updated arrives, recording the AI-assigned session id so
// later inbound events route back to this leg. Attaches are serialized
// process-wide: since the provider's reply carries no correlation token of
// its own, the next session.updated received is unambiguously the
// answer to whichever attach is currently in flight.
func (c *Client) attachLeg(ctx context.Context, leg *callLeg) error {
	c.attachMu.Lock()
	defer c.attachMu.Unlock()

	result := make(chan string, 1)
	c.mu.Lock()
	c.pendingAttach = leg
	c.pendingResult = result
	c.mu.Unlock()

	if err := c.sendSessionUpdate(); err != nil {
		c.clearPendingAttach(leg)
		return fmt.Errorf("airealtime: session.update: %w", err)
	}

	select {
	case sessionID := <-result:
		leg.mu.Lock()
		leg.sessionID = sessionID
		leg.mu.Unlock()
		c.legsMu.Lock()
		if c.sessionToCall == nil {
			c.sessionToCall = make(map[string]string)
		}
		c.sessionToCall[sessionID] = leg.callID
		c.legsMu.Unlock()
		return nil
	case <-ctx.Done():
		c.clearPendingAttach(leg)
		return ctx.Err()
	case <-time.After(attachTimeout):
		c.clearPendingAttach(leg)
		return fmt.Errorf("airealtime: timed out waiting for session.updated for call %s", leg.callID)
	}
}

func (c *Client) clearPendingAttach(leg *callLeg) {
	c.mu.Lock()
	if c.pendingAttach == leg {
		c.pendingAttach = nil
		c.pendingResult = nil
	}
	c.mu.Unlock()
}

// backoffDelay is 1s * 2^(attempt-1), capped at 30s.
func backoffDelay(attempt int) time.Duration {
	d := initialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func (c *Client) readLoop(ctx context.Context) error {
	conn := c.currentConn()
	if conn == nil {
		return fmt.Errorf("airealtime: no active connection")
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongWaitTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(pingInterval + pongWaitTimeout))

	pingStop := make(chan struct{})
	go c.pingLoop(conn, pingStop)
	defer close(pingStop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		env, err := decodeServerEvent(data)
		if err != nil {
			c.log.Warn("failed to decode ai realtime event", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongWaitTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// onSessionEvent handles session.updated (session.created is only logged
// by dispatch and does not reach here): if an attach is
// currently in flight, it resolves that attach; otherwise it is the
// default leg's own handshake confirmation (a bare Client used directly,
// exactly as before leg support existed).
func (c *Client) onSessionEvent(sessionID string) {
	c.mu.Lock()
	pendingLeg := c.pendingAttach
	resultCh := c.pendingResult
	if pendingLeg != nil {
		c.pendingAttach = nil
		c.pendingResult = nil
	}
	c.mu.Unlock()

	if pendingLeg != nil {
		c.configureLeg(pendingLeg, sessionID)
		if resultCh != nil {
			resultCh <- sessionID
		}
		return
	}

	c.onConfigured(sessionID)
}

func (c *Client) configureLeg(leg *callLeg, sessionID string) {
	leg.mu.Lock()
	leg.configured = true
	leg.mu.Unlock()
	c.log.Info("ai realtime session configured", "session_id", sessionID, "call_id", leg.callID)

	for _, frame := range leg.queue.drain() {
		c.writeAppendForLeg(leg, frame)
	}
	if leg.OnSessionConfigured != nil {
		leg.OnSessionConfigured()
	}
}

func (c *Client) onConfigured(sessionID string) {
	c.mu.Lock()
	c.configured = true
	c.mu.Unlock()
	c.log.Info("ai realtime session configured", "session_id", sessionID)

	for _, frame := range c.queue.drain() {
		c.writeAppend(frame)
	}
	if c.OnSessionConfigured != nil {
		c.OnSessionConfigured()
	}
}

func (c *Client) onSpeechStarted() {
	// Activity tracking is owned by the call session; nothing to do here
	// beyond the debug trail already emitted by dispatch's caller.
}

func (c *Client) legBySessionID(sessionID string) *callLeg {
	if sessionID == "" {
		return nil
	}
	c.legsMu.Lock()
	defer c.legsMu.Unlock()
	callID, ok := c.sessionToCall[sessionID]
	if !ok {
		return nil
	}
	return c.legs[callID]
}

func (c *Client) onAudioDelta(b64 string) {
	if c.onAudio == nil {
		c.log.Warn("dropping response.audio.delta: no audio sink attached")
		return
	}
	frame, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		c.log.Warn("failed to decode response.audio.delta", "error", err)
		return
	}
	c.onAudio(frame)
}

func (c *Client) deliverAudioToLeg(leg *callLeg, b64 string) {
	if leg.onAudio == nil {
		c.log.Warn("dropping response.audio.delta: no audio sink attached", "call_id", leg.callID)
		return
	}
	frame, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		c.log.Warn("failed to decode response.audio.delta", "call_id", leg.callID, "error", err)
		return
	}
	leg.onAudio(frame)
}

func (c *Client) onResponseStarted() {
	if c.OnResponseStarted != nil {
		c.OnResponseStarted()
	}
}

func (c *Client) onResponseDone() {
	if c.OnResponseDone != nil {
		c.OnResponseDone()
	}
}

func (c *Client) onFunctionCall(name, argsJSON, callID string) {
	if c.onToolCall == nil {
		c.log.Warn("dropping function call: no handler registered", "name", name)
		return
	}
	c.onToolCall(name, argsJSON, callID)
}

func (c *Client) dispatchError(e errorEvent) {
	fatal := fatalAIErrorCodes[e.Error.Code]
	leg := c.legBySessionID(e.SessionID)

	if !fatal {
		if leg != nil {
			c.log.Warn("ai realtime error event", "code", e.Error.Code, "message", e.Error.Message, "call_id", leg.callID)
		} else {
			c.log.Warn("ai realtime error event", "code", e.Error.Code, "message", e.Error.Message)
		}
		return
	}

	err := fmt.Errorf("airealtime: fatal error %s: %s", e.Error.Code, e.Error.Message)
	if leg != nil {
		c.log.Error("ai realtime fatal error", "call_id", leg.callID, "code", e.Error.Code)
		if leg.OnFatalError != nil {
			leg.OnFatalError(err)
		}
		return
	}
	c.log.Error("ai realtime fatal error", "code", e.Error.Code)
	if c.OnFatalError != nil {
		c.OnFatalError(err)
	}
}

// SendAudio enqueues (or, once configured, directly writes) a G.711 audio
// frame for the model to consume. Audio received before session.updated is
// queued; the queue survives reconnects since it belongs to the call, not
// the connection, per spec §4.5.
func (c *Client) SendAudio(pcm []byte) {
	c.mu.Lock()
	configured := c.configured
	c.mu.Unlock()

	if !configured {
		if dropped := c.queue.push(pcm); dropped {
			c.log.Warn("ai egress queue full, dropped oldest frame")
		}
		return
	}
	c.writeAppend(pcm)
}

func (c *Client) sendAudioForLeg(leg *callLeg, pcm []byte) {
	leg.mu.Lock()
	configured := leg.configured
	leg.mu.Unlock()

	if !configured {
		if dropped := leg.queue.push(pcm); dropped {
			c.log.Warn("ai egress queue full, dropped oldest frame", "call_id", leg.callID)
		}
		return
	}
	c.writeAppendForLeg(leg, pcm)
}

func (c *Client) writeAppend(frame []byte) {
	msg := map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(frame),
	}
	c.writeJSON(msg)
}

func (c *Client) writeAppendForLeg(leg *callLeg, frame []byte) {
	msg := map[string]any{
		"type":       "input_audio_buffer.append",
		"audio":      base64.StdEncoding.EncodeToString(frame),
		"session_id": leg.sessionID,
	}
	c.writeJSON(msg)
}

// RequestWelcome sends the configured welcome message as a conversation
// item and asks the model to produce a response, per spec §4.4 step 8.
func (c *Client) RequestWelcome() {
	if c.cfg.WelcomeMessage == "" {
		c.writeJSON(map[string]any{"type": "response.create"})
		return
	}
	c.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "system",
			"content": []map[string]any{
				{"type": "input_text", "text": c.cfg.WelcomeMessage},
			},
		},
	})
	c.writeJSON(map[string]any{"type": "response.create"})
}

func (c *Client) requestWelcomeForLeg(leg *callLeg) {
	if c.cfg.WelcomeMessage == "" {
		c.writeJSON(map[string]any{"type": "response.create", "session_id": leg.sessionID})
		return
	}
	c.writeJSON(map[string]any{
		"type":       "conversation.item.create",
		"session_id": leg.sessionID,
		"item": map[string]any{
			"type": "message",
			"role": "system",
			"content": []map[string]any{
				{"type": "input_text", "text": c.cfg.WelcomeMessage},
			},
		},
	})
	c.writeJSON(map[string]any{"type": "response.create", "session_id": leg.sessionID})
}

func (c *Client) sendSessionUpdate() error {
	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"instructions":        c.cfg.Instructions,
		"voice":               c.cfg.Voice,
		"input_audio_format":  c.cfg.audioFormat(),
		"output_audio_format": c.cfg.audioFormat(),
		"turn_detection": map[string]any{
			"type":                "server_vad",
			"threshold":           0.3,
			"prefix_padding_ms":   200,
			"silence_duration_ms": 400,
		},
		"temperature": c.cfg.Temperature,
	}
	if c.cfg.MaxOutputTokens > 0 {
		session["max_response_output_tokens"] = c.cfg.MaxOutputTokens
	}
	if len(c.cfg.Tools) > 0 {
		tools := make([]map[string]any, 0, len(c.cfg.Tools))
		for _, t := range c.cfg.Tools {
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		session["tools"] = tools
	}
	return c.writeJSON(map[string]any{"type": "session.update", "session": session})
}

func (c *Client) writeJSON(v any) error {
	conn := c.currentConn()
	if conn == nil {
		return fmt.Errorf("airealtime: not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("airealtime: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) leaveLeg(leg *callLeg) {
	c.writeLeaveForLeg(leg)
	c.legsMu.Lock()
	delete(c.legs, leg.callID)
	leg.mu.Lock()
	sessionID := leg.sessionID
	leg.mu.Unlock()
	if sessionID != "" {
		delete(c.sessionToCall, sessionID)
	}
	c.legsMu.Unlock()
}

func (c *Client) writeLeaveForLeg(leg *callLeg) {
	leg.mu.Lock()
	sessionID := leg.sessionID
	leg.mu.Unlock()
	msg := map[string]any{"type": "session.leave"}
	if sessionID != "" {
		msg["session_id"] = sessionID
	}
	if err := c.writeJSON(msg); err != nil {
		c.log.Debug("failed to send ai session leave", "call_id", leg.callID, "error", err)
	}
}

// Close sends a final leave message for every call still attached (the
// default leg, if any, plus every leg tracked via NewCall), then tears
// down the shared transport. Safe to call more than once. Call this only
// at process shutdown: a single call ending should go through its own
// CallHandle.Close instead, which leaves this connection open for
// everyone else still using it.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.legsMu.Lock()
		legs := make([]*callLeg, 0, len(c.legs))
		for _, leg := range c.legs {
			legs = append(legs, leg)
		}
		c.legsMu.Unlock()
		for _, leg := range legs {
			c.writeLeaveForLeg(leg)
		}

		c.mu.Lock()
		callID := c.callID
		c.mu.Unlock()
		if callID != "" {
			c.writeJSON(map[string]any{"type": "session.leave"})
		}

		if c.cancelRead != nil {
			c.cancelRead()
		}
		c.mu.Lock()
		conn := c.conn
		c.closed = true
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}
