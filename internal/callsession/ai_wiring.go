package callsession

import "context"

// SetAIClient attaches the AI realtime client to the session. Called by the
// openAI callback supplied to NewManager, once per session, right after
// advanceToMediaReady invokes it.
func (s *Session) SetAIClient(ai AIClient) {
	s.ai = ai
}

// Context returns the context the session is running under, for use by the
// openAI callback when it calls AIClient.Open. Safe to call only from
// within that callback, since it executes on the session's own goroutine.
func (s *Session) Context() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// NotifyAISessionConfigured enqueues the event the session uses to move
// MEDIA_READY->AI_ACTIVE and trigger the welcome response. Meant to be
// wired as AIClient's OnSessionConfigured hook.
func (s *Session) NotifyAISessionConfigured() {
	s.send(aiSessionUpdatedEvent{})
}

// NotifyAIResponseStarted marks an AI response as in progress, suppressing
// the BYE-disposition heuristic until it completes. Wired as OnResponseStarted.
func (s *Session) NotifyAIResponseStarted() {
	s.send(aiResponseStartedEvent{})
}

// NotifyAIResponseDone clears the in-progress AI response flag and, if a
// BYE arrived mid-response, runs the deferred termination. Wired as
// OnResponseDone.
func (s *Session) NotifyAIResponseDone() {
	s.send(aiResponseDoneEvent{})
}

// NotifyAIAudio delivers an AI-generated PCM frame to the session's RTP
// pacer. Its signature matches AIClient.Open's onAudio parameter directly,
// so it can be passed as that callback without a wrapper closure.
func (s *Session) NotifyAIAudio(pcm []byte) {
	s.send(aiAudioEvent{pcm: pcm})
}

// NotifyAIFatalError tears the session down after an unrecoverable AI
// client error (exhausted reconnect attempts). Wired as OnFatalError.
func (s *Session) NotifyAIFatalError(err error) {
	s.send(aiFatalErrorEvent{err: err})
}

// RequestEndCall tears the session down in response to the model invoking
// the end_call function tool, distinct from NotifyAIFatalError since this
// is a normal, model-initiated hangup rather than a provider failure.
func (s *Session) RequestEndCall() {
	s.send(aiEndCallEvent{})
}
