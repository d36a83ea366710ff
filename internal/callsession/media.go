package callsession

import (
	"time"

	"github.com/sipaivoice/bridge/internal/events"
)

func (s *Session) handleMediaValidationTimeout() {
	if s.state != StateConfirmed {
		return
	}
	if s.cfg.RequireRTPBeforeAI && !s.seenFirstRTP {
		// Supplementary toggle (spec §9 open question): stay in CONFIRMED
		// and wait for a real RTP packet instead of proceeding optimistically.
		s.logger.Debug("media validation timer fired but RequireRTPBeforeAI is set and no RTP seen yet")
		return
	}
	s.advanceToMediaReady()
}

func (s *Session) handleRTP(e rtpEvent) {
	s.activity.lastAudioAt = time.Now()
	if e.from != nil && (s.remoteRTP == nil || e.from.String() != s.remoteRTP.String()) {
		s.remoteRTP = e.from
		if s.pacer != nil {
			s.pacer.SetRemote(e.from)
		}
	}
	if !s.seenFirstRTP {
		s.seenFirstRTP = true
		if s.state == StateConfirmed {
			s.timers.Cancel("media-validation")
			s.advanceToMediaReady()
		}
	}
	if s.state == StateAIActive && s.ai != nil {
		payload, err := rtpPayload(e.payload)
		if err == nil {
			s.ai.SendAudio(payload)
		}
	}
}

func (s *Session) advanceToMediaReady() {
	if !s.transition(StateMediaReady) {
		return
	}
	s.bus.PublishCallStarted(events.CallStarted{
		CallID: s.CallID,
		Remote: s.callerAddr,
		At:     time.Now(),
	})
	if s.openAI != nil {
		s.openAI(s)
	}
}
