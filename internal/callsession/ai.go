package callsession

import "time"

func (s *Session) handleAISessionUpdated() {
	if s.state != StateMediaReady {
		return
	}
	s.transition(StateAIActive)
	s.activity.welcomeActive = true
	if s.ai != nil {
		s.ai.RequestWelcome()
	}
}

func (s *Session) handleAIResponseDone() {
	s.activity.welcomeActive = false
	s.activity.aiResponseActive = false
	if s.activity.pendingCleanup {
		s.activity.pendingCleanup = false
		s.terminate("deferred bye after ai response completed")
	}
}

// handleAIAudio feeds an AI-generated audio frame to the RTP pacer. Audio
// received outside AI_ACTIVE is dropped per the invariant that the AI may
// only speak once the session is active.
func (s *Session) handleAIAudio(e aiAudioEvent) {
	if s.state != StateAIActive {
		s.logger.Warn("dropping ai audio received outside AI_ACTIVE", "state", s.state)
		return
	}
	if s.pacer == nil {
		s.logger.Warn("dropping ai audio: no rtp pacer")
		return
	}
	s.pacer.Enqueue(e.pcm)
	s.activity.lastAudioAt = time.Now()
}
