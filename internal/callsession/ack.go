package callsession

import (
	"time"

	"github.com/sipaivoice/bridge/internal/timerreg"
)

func (s *Session) handleAck(e ackEvent) {
	if s.state != StateProceeding {
		s.logger.Debug("ack received outside PROCEEDING, ignoring", "state", s.state)
		return
	}
	s.timers.Cancel("ack-wait")
	s.transition(StateConfirmed)
	s.activity.confirmedAt = time.Now()

	s.timers.Set(timerreg.TimerMediaValidation, s.cfg.MediaValidationTimeout, func() {
		s.send(mediaValidationTimeoutEvent{})
	})
}

func (s *Session) handleACKTimeout() {
	if s.state != StateProceeding {
		return
	}
	s.logger.Warn("ack wait timed out, tearing down")
	s.terminate("ack timeout")
}
