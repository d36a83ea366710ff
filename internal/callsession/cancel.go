package callsession

import "github.com/emiago/sipgo/sip"

// handleCancel implements the CANCEL race per spec §4.4: respond 200 OK to
// the CANCEL itself, and 487 Request Terminated to the original INVITE
// transaction, then tear the session down.
func (s *Session) handleCancel(e cancelEvent) {
	res := sip.NewResponseFromRequest(e.req, 200, "OK", nil)
	if err := e.tx.Respond(res); err != nil {
		s.logger.Error("failed to respond to cancel", "error", err)
	}
	if s.inviteReq != nil && s.inviteTx != nil {
		terminated := sip.NewResponseFromRequest(s.inviteReq, 487, "Request Terminated", nil)
		if err := s.inviteTx.Respond(terminated); err != nil {
			s.logger.Error("failed to send 487 to original invite", "error", err)
		}
	}
	s.terminate("cancel")
}
