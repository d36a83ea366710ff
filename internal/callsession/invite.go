package callsession

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sipaivoice/bridge/internal/codec"
	"github.com/sipaivoice/bridge/internal/sipmsg"
)

// ringingDelay is the spec's fixed gap between 100 Trying and 180 Ringing.
const ringingDelay = 100 * time.Millisecond

const (
	autoAnswerDelay   = 100 * time.Millisecond
	manualAnswerDelay = 1 * time.Second
)

func (s *Session) handleInvite(e inviteEvent) {
	if s.state == StateMediaReady || s.state == StateAIActive {
		s.handleReinvite(e)
		return
	}
	if s.state != StateIdle {
		// Any other INVITE arriving after IDLE is treated as a
		// retransmission of the one already being handled and dropped
		// without re-running the flow. No response is sent for it, and
		// its CSeq is not compared.
		s.logger.Debug("invite retransmission ignored", "state", s.state)
		return
	}
	s.transition(StateProceeding)
	s.setRemoteTag(e.req)
	s.callerAddr = e.req.Source()
	s.inviteReq = e.req
	s.inviteTx = e.tx

	s.applySessionExpires(e.req)

	trying := sip.NewResponseFromRequest(e.req, 100, "Trying", nil)
	if err := e.tx.Respond(trying); err != nil {
		s.logger.Error("failed to send 100 Trying", "error", err)
		return
	}

	pt, remoteRTP, err := s.negotiateFromOffer(e.req)
	if err != nil {
		s.respondError(e.req, e.tx, 488, "Not Acceptable Here")
		s.terminate("no common codec")
		return
	}
	s.payloadType = pt
	s.remoteRTP = remoteRTP
	s.localTag = generateTag()

	answerMode := sipmsg.RequestAnswerMode(e.req)
	delay := manualAnswerDelay
	if answerMode == sipmsg.AnswerModeAuto {
		delay = autoAnswerDelay
	}

	s.timers.Set("ringing", ringingDelay, func() {
		s.send(ringingTimerEvent{req: e.req, tx: e.tx})
	})
	s.timers.Set("answer", ringingDelay+delay, func() {
		s.send(answerTimerEvent{req: e.req, tx: e.tx})
	})
}

func (s *Session) handleRingingTimer(e ringingTimerEvent) {
	if s.state != StateProceeding {
		return
	}
	res := sip.NewResponseFromRequest(e.req, 180, "Ringing", nil)
	setToTag(res, s.localTag)
	if err := e.tx.Respond(res); err != nil {
		s.logger.Error("failed to send 180 Ringing", "error", err)
	}
}

func (s *Session) handleAnswerTimer(e answerTimerEvent) {
	if s.state != StateProceeding {
		return
	}
	answer := codec.BuildAnswer(s.localMediaIP, s.localMediaPort, s.payloadType, s.CallID, "0")

	res := sip.NewResponseFromRequest(e.req, 200, "OK", answer)
	setToTag(res, s.localTag)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := e.tx.Respond(res); err != nil {
		s.logger.Error("failed to send 200 OK", "error", err)
		s.terminate("failed to answer")
		return
	}
	s.startPacer()
	s.armSessionExpiresTimer()

	s.timers.Set("ack-wait", s.cfg.ACKWaitTimeout, func() {
		s.send(ackTimeoutEvent{})
	})
}

// applySessionExpires adopts the peer's offered Session-Expires, falling
// back to this bridge's own configured default when the header is absent
// so the RFC 4028 refresh timer is still armed for peers that never offer
// one.
func (s *Session) applySessionExpires(req *sip.Request) {
	if se, ok := sipmsg.ParseSessionExpires(req); ok {
		s.sessionExpires = se.Seconds
		return
	}
	if s.cfg.SessionExpiresSeconds > 0 {
		s.sessionExpires = s.cfg.SessionExpiresSeconds
	}
}

// armSessionExpiresTimer schedules the RFC 4028 refresh deadline at
// expires-30s, per spec §4.2. No-op if the peer never offered
// Session-Expires and no bridge-side default is configured.
func (s *Session) armSessionExpiresTimer() {
	if s.sessionExpires <= 0 {
		return
	}
	refreshAt := time.Duration(s.sessionExpires-30) * time.Second
	if refreshAt <= 0 {
		refreshAt = 0
	}
	s.timers.Set("session-expires", refreshAt, func() {
		s.send(sessionExpiresTimeoutEvent{})
	})
}

// handleReinvite answers a mid-dialog INVITE with the same SDP answer
// already negotiated, per RFC 4028's session-refresh mechanism: no media
// renegotiation, just a fresh 200 OK that resets the expiration clock.
func (s *Session) handleReinvite(e inviteEvent) {
	s.applySessionExpires(e.req)
	trying := sip.NewResponseFromRequest(e.req, 100, "Trying", nil)
	if err := e.tx.Respond(trying); err != nil {
		s.logger.Error("failed to send 100 Trying for re-invite", "error", err)
		return
	}
	answer := codec.BuildAnswer(s.localMediaIP, s.localMediaPort, s.payloadType, s.CallID, "0")
	res := sip.NewResponseFromRequest(e.req, 200, "OK", answer)
	setToTag(res, s.localTag)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := e.tx.Respond(res); err != nil {
		s.logger.Error("failed to send 200 OK for re-invite", "error", err)
		return
	}
	s.armSessionExpiresTimer()
}

// handleSessionExpiresTimeout fires when no session-refreshing re-INVITE
// arrived before the RFC 4028 deadline; the session is torn down since
// neither party confirmed the call is still wanted.
func (s *Session) handleSessionExpiresTimeout() {
	s.terminate("session-expires timeout, no refresh received")
}

// setToTag forces the To header on res to carry tag, overriding whatever
// sip.NewResponseFromRequest auto-generated, so the same tag is reused
// across 180 and 200 for the same dialog.
func setToTag(res *sip.Response, tag string) {
	h := res.GetHeader("To")
	if h == nil {
		return
	}
	value := h.Value()
	if idx := indexOf(value, ";tag="); idx >= 0 {
		value = value[:idx]
	}
	res.RemoveHeader("To")
	res.AppendHeader(sip.NewHeader("To", fmt.Sprintf("%s;tag=%s", value, tag)))
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func (s *Session) negotiateFromOffer(req *sip.Request) (int, *net.UDPAddr, error) {
	sd, err := codec.ParseSDP(req.Body())
	if err != nil {
		return 0, nil, fmt.Errorf("callsession: parsing offer: %w", err)
	}
	media := sd.AudioMedia()
	if media == nil {
		return 0, nil, fmt.Errorf("callsession: offer has no audio media")
	}
	pt, err := codec.NegotiateCodec(media)
	if err != nil {
		return 0, nil, err
	}
	remote, err := codec.RemoteAudioAddr(sd)
	if err != nil {
		return 0, nil, err
	}
	return pt, remote, nil
}

func (s *Session) respondError(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		s.logger.Error("failed to send error response", "code", code, "error", err)
	}
}

func generateTag() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
