package callsession

import (
	"net"
	"testing"

	"github.com/emiago/sipgo/sip"
)

const testOfferSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 203.0.113.9\r\n" +
	"s=-\r\n" +
	"c=IN IP4 203.0.113.9\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

func newTestInviteRequest(source string) *sip.Request {
	req := newTestRequest(sip.INVITE, source)
	req.SetBody([]byte(testOfferSDP))
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	return req
}

func TestHandleInviteNegotiatesAndRespondsTrying(t *testing.T) {
	s := testSession()
	s.localMediaIP = "198.51.100.1"
	s.localMediaPort = 20000

	req := newTestInviteRequest("203.0.113.9:5060")
	tx := newFakeServerTransaction()

	s.handleInvite(inviteEvent{req: req, tx: tx})

	if got := tx.lastStatus(); got != 100 {
		t.Fatalf("expected 100 Trying as the immediate response, got %d", got)
	}
	if s.state != StateProceeding {
		t.Fatalf("expected state PROCEEDING after invite, got %s", s.state)
	}
	if s.payloadType != 0 {
		t.Fatalf("expected negotiated payload type 0 (PCMU), got %d", s.payloadType)
	}
	want := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 40000}
	if s.remoteRTP == nil || s.remoteRTP.String() != want.String() {
		t.Fatalf("expected remote rtp addr %s, got %v", want, s.remoteRTP)
	}
	if s.inviteReq != req || s.inviteTx != tx {
		t.Fatal("expected invite req/tx to be retained for CANCEL handling")
	}
}

func TestHandleInviteIgnoresRetransmissionWhenNotIdle(t *testing.T) {
	s := testSession()
	s.state = StateConfirmed

	req := newTestInviteRequest("203.0.113.9:5060")
	tx := newFakeServerTransaction()

	s.handleInvite(inviteEvent{req: req, tx: tx})

	if len(tx.responses) != 0 {
		t.Fatalf("expected no response sent for a non-idle retransmission, got %d", len(tx.responses))
	}
	if s.state != StateConfirmed {
		t.Fatalf("expected state to remain unchanged, got %s", s.state)
	}
}

func TestHandleInviteParsesSessionExpires(t *testing.T) {
	s := testSession()
	s.localMediaIP = "198.51.100.1"
	s.localMediaPort = 20000

	req := newTestInviteRequest("203.0.113.9:5060")
	req.AppendHeader(sip.NewHeader("Session-Expires", "1800;refresher=uac"))
	tx := newFakeServerTransaction()

	s.handleInvite(inviteEvent{req: req, tx: tx})

	if s.sessionExpires != 1800 {
		t.Fatalf("expected sessionExpires 1800, got %d", s.sessionExpires)
	}
}

func TestHandleReinviteRespondsWithoutRenegotiatingMedia(t *testing.T) {
	s := testSession()
	s.state = StateMediaReady
	s.localTag = "localtag"
	s.localMediaIP = "198.51.100.1"
	s.localMediaPort = 20000
	s.payloadType = 0

	req := newTestInviteRequest("203.0.113.9:5060")
	req.AppendHeader(sip.NewHeader("Session-Expires", "600;refresher=uac"))
	tx := newFakeServerTransaction()

	s.handleInvite(inviteEvent{req: req, tx: tx})

	if got := tx.lastStatus(); got != 200 {
		t.Fatalf("expected 200 OK for re-invite refresh, got %d", got)
	}
	if s.state != StateMediaReady {
		t.Fatalf("expected state to remain MEDIA_READY after refresh, got %s", s.state)
	}
	if s.sessionExpires != 600 {
		t.Fatalf("expected sessionExpires updated to 600, got %d", s.sessionExpires)
	}
}

func TestHandleSessionExpiresTimeoutTerminatesSession(t *testing.T) {
	s := testSession()
	s.state = StateAIActive

	s.handleSessionExpiresTimeout()

	if s.state != StateTerminated {
		t.Fatalf("expected session to terminate on session-expires timeout, got %s", s.state)
	}
}

func TestHandleInviteRejectsOfferWithoutAudio(t *testing.T) {
	s := testSession()
	req := newTestRequest(sip.INVITE, "203.0.113.9:5060")
	req.SetBody([]byte("v=0\r\no=- 1 1 IN IP4 203.0.113.9\r\ns=-\r\nt=0 0\r\n"))
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	tx := newFakeServerTransaction()

	s.handleInvite(inviteEvent{req: req, tx: tx})

	if got := tx.lastStatus(); got != 488 {
		t.Fatalf("expected 488 Not Acceptable Here for an offer without audio, got %d", got)
	}
	if s.state != StateTerminated {
		t.Fatalf("expected session to terminate on negotiation failure, got %s", s.state)
	}
}
