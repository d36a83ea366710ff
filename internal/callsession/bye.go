package callsession

import (
	"regexp"
	"time"

	"github.com/emiago/sipgo/sip"
)

var reasonHangupRe = regexp.MustCompile(`(?i)user|normal|hangup`)

// byeDisposition is the spec §4.4 BYE-disposition decision, extracted as a
// pure function of the request and session state so it can be tested
// without a live transaction.
type byeDisposition int

const (
	byeTerminate byeDisposition = iota
	byeIgnored
	byeDeferred
)

func (s *Session) decideBye(req *sip.Request) byeDisposition {
	if s.cfg.StrictBYE {
		return byeTerminate
	}

	legitimate := req.Source() == s.callerAddr ||
		reasonMatches(req) ||
		time.Since(s.activity.confirmedAt) > s.cfg.ConfirmedGraceTimeout

	if legitimate {
		return byeTerminate
	}

	if s.activity.welcomeActive {
		return byeIgnored
	}
	if s.activity.aiResponseActive {
		return byeDeferred
	}
	if time.Since(s.activity.lastAudioAt) > s.cfg.IdleAudioTimeout {
		return byeTerminate
	}
	return byeIgnored
}

func reasonMatches(req *sip.Request) bool {
	h := req.GetHeader("Reason")
	if h == nil {
		return false
	}
	return reasonHangupRe.MatchString(h.Value())
}

func (s *Session) handleBye(e byeEvent) {
	// A BYE always gets 200 OK per protocol, regardless of disposition;
	// only the session's internal teardown decision differs.
	res := sip.NewResponseFromRequest(e.req, 200, "OK", nil)
	if err := e.tx.Respond(res); err != nil {
		s.logger.Error("failed to respond to bye", "error", err)
	}

	switch s.decideBye(e.req) {
	case byeTerminate:
		s.terminate("bye")
	case byeDeferred:
		s.activity.pendingCleanup = true
		s.logger.Debug("bye deferred: ai response in progress")
	case byeIgnored:
		s.logger.Debug("bye ignored: protective flag set and not yet legitimate")
	}
}
