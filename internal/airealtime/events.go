package airealtime

import "encoding/json"

// serverEvent is the outer envelope every inbound realtime message shares;
// Type selects which typed payload, if any, Raw should be re-decoded into.
// Grounded on the pack's event-dispatch-by-type idiom (dispatching on a
// "type" discriminator into per-kind handlers) rather than carrying every
// field on one giant struct, since the provider's message shapes vary
// per type and most fields are irrelevant to any one handler.
type serverEvent struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

type sessionCreatedEvent struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type sessionUpdatedEvent struct {
	Session struct {
		ID string `json:"id"`
	} `json:"session"`
}

type speechStartedEvent struct{}
type speechStoppedEvent struct{}

// responseCreatedEvent, responseAudioDeltaEvent, responseDoneEvent,
// functionCallArgumentsDoneEvent, and errorEvent each carry their own
// SessionID so a multi-leg Client can route the event back to the call it
// belongs to. This is added per payload rather than on the shared envelope,
// since functionCallArgumentsDoneEvent's pre-existing CallID field already
// names something else (the provider's function-invocation id) and a shared
// envelope field would collide with that meaning.
type responseCreatedEvent struct {
	SessionID string `json:"session_id"`
}

type responseAudioDeltaEvent struct {
	SessionID string `json:"session_id"`
	Delta     string `json:"delta"` // base64-encoded audio frame
}

type responseDoneEvent struct {
	SessionID string `json:"session_id"`
	Response  struct {
		ID string `json:"id"`
	} `json:"response"`
}

type functionCallArgumentsDoneEvent struct {
	CallID    string `json:"call_id"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type errorEvent struct {
	SessionID string `json:"session_id"`
	Error     struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// decodeServerEvent splits the outer envelope from its payload so
// dispatch can type-switch without re-scanning the whole message for
// every candidate shape.
func decodeServerEvent(raw []byte) (serverEvent, error) {
	var env serverEvent
	if err := json.Unmarshal(raw, &env); err != nil {
		return serverEvent{}, err
	}
	env.Raw = raw
	return env, nil
}

// dispatch decodes env.Raw into the typed payload for env.Type and invokes
// the matching handler on c. Unknown types are logged and dropped, never
// fatal, since the wire protocol evolves independently of this client.
func (c *Client) dispatch(env serverEvent) {
	switch env.Type {
	case "session.created":
		var e sessionCreatedEvent
		if err := json.Unmarshal(env.Raw, &e); err == nil {
			c.log.Debug("ai session created", "session_id", e.Session.ID)
		}

	case "session.updated":
		var e sessionUpdatedEvent
		json.Unmarshal(env.Raw, &e) //nolint:errcheck
		c.onSessionEvent(e.Session.ID)

	case "input_audio_buffer.speech_started":
		c.onSpeechStarted()

	case "input_audio_buffer.speech_stopped":
		// Activity tracking only; no action required here.

	case "response.created":
		var e responseCreatedEvent
		json.Unmarshal(env.Raw, &e) //nolint:errcheck
		if leg := c.legBySessionID(e.SessionID); leg != nil {
			if leg.OnResponseStarted != nil {
				leg.OnResponseStarted()
			}
		} else {
			c.onResponseStarted()
		}

	case "response.audio.delta":
		var e responseAudioDeltaEvent
		if err := json.Unmarshal(env.Raw, &e); err == nil {
			if leg := c.legBySessionID(e.SessionID); leg != nil {
				c.deliverAudioToLeg(leg, e.Delta)
			} else {
				c.onAudioDelta(e.Delta)
			}
		}

	case "response.audio.done", "response.done":
		var e responseDoneEvent
		json.Unmarshal(env.Raw, &e) //nolint:errcheck
		if leg := c.legBySessionID(e.SessionID); leg != nil {
			if leg.OnResponseDone != nil {
				leg.OnResponseDone()
			}
		} else {
			c.onResponseDone()
		}

	case "response.function_call_arguments.done":
		var e functionCallArgumentsDoneEvent
		if err := json.Unmarshal(env.Raw, &e); err == nil {
			if leg := c.legBySessionID(e.SessionID); leg != nil && leg.onToolCall != nil {
				leg.onToolCall(e.Name, e.Arguments, e.CallID)
			} else {
				c.onFunctionCall(e.Name, e.Arguments, e.CallID)
			}
		}

	case "error":
		var e errorEvent
		json.Unmarshal(env.Raw, &e) //nolint:errcheck
		c.dispatchError(e)

	default:
		c.log.Debug("unhandled ai realtime event type", "type", env.Type)
	}
}
