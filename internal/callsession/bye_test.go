package callsession

import (
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
)

func TestDecideByeLegitimateSameSourceTerminates(t *testing.T) {
	s := testSession()
	s.callerAddr = "10.0.0.5:5060"
	s.activity.confirmedAt = time.Now()
	req := newTestRequest(sip.BYE, "10.0.0.5:5060")

	if got := s.decideBye(req); got != byeTerminate {
		t.Fatalf("expected byeTerminate, got %v", got)
	}
}

func TestDecideByeReasonHeaderMatchTerminates(t *testing.T) {
	s := testSession()
	s.callerAddr = "10.0.0.5:5060"
	s.activity.confirmedAt = time.Now()
	req := newTestRequest(sip.BYE, "203.0.113.9:5060")
	req.AppendHeader(sip.NewHeader("Reason", "Q.850;cause=16;text=\"Normal call clearing\""))

	if got := s.decideBye(req); got != byeTerminate {
		t.Fatalf("expected byeTerminate on reason match, got %v", got)
	}
}

func TestDecideByeIgnoredWhileWelcomeActive(t *testing.T) {
	s := testSession()
	s.callerAddr = "10.0.0.5:5060"
	s.activity.confirmedAt = time.Now()
	s.activity.welcomeActive = true
	s.activity.lastAudioAt = time.Now()
	req := newTestRequest(sip.BYE, "203.0.113.9:5060")

	if got := s.decideBye(req); got != byeIgnored {
		t.Fatalf("expected byeIgnored while welcome is playing, got %v", got)
	}
}

func TestDecideByeDeferredWhileAIResponseActive(t *testing.T) {
	s := testSession()
	s.callerAddr = "10.0.0.5:5060"
	s.activity.confirmedAt = time.Now()
	s.activity.aiResponseActive = true
	s.activity.lastAudioAt = time.Now()
	req := newTestRequest(sip.BYE, "203.0.113.9:5060")

	if got := s.decideBye(req); got != byeDeferred {
		t.Fatalf("expected byeDeferred during ai response, got %v", got)
	}
}

func TestDecideByeTerminatesAfterIdleAudioTimeout(t *testing.T) {
	s := testSession()
	s.callerAddr = "10.0.0.5:5060"
	s.activity.confirmedAt = time.Now()
	s.activity.lastAudioAt = time.Now().Add(-time.Hour)
	req := newTestRequest(sip.BYE, "203.0.113.9:5060")

	if got := s.decideBye(req); got != byeTerminate {
		t.Fatalf("expected byeTerminate once idle audio timeout passed, got %v", got)
	}
}

func TestDecideByeLegitimateAfterConfirmedGrace(t *testing.T) {
	s := testSession()
	s.callerAddr = "10.0.0.5:5060"
	s.activity.confirmedAt = time.Now().Add(-time.Hour)
	req := newTestRequest(sip.BYE, "203.0.113.9:5060")

	if got := s.decideBye(req); got != byeTerminate {
		t.Fatalf("expected byeTerminate once confirmed grace elapsed, got %v", got)
	}
}

func TestDecideByeStrictModeAlwaysTerminates(t *testing.T) {
	s := testSession()
	s.cfg.StrictBYE = true
	s.callerAddr = "10.0.0.5:5060"
	s.activity.welcomeActive = true
	req := newTestRequest(sip.BYE, "203.0.113.9:5060")

	if got := s.decideBye(req); got != byeTerminate {
		t.Fatalf("expected strict mode to always terminate, got %v", got)
	}
}

func TestHandleByeAlwaysRespondsOK(t *testing.T) {
	s := testSession()
	s.callerAddr = "10.0.0.5:5060"
	s.activity.confirmedAt = time.Now()
	s.activity.welcomeActive = true
	s.activity.lastAudioAt = time.Now()
	req := newTestRequest(sip.BYE, "203.0.113.9:5060")
	tx := newFakeServerTransaction()

	s.handleBye(byeEvent{req: req, tx: tx})

	if got := tx.lastStatus(); got != 200 {
		t.Fatalf("expected 200 OK response to BYE, got %d", got)
	}
	if s.state == StateTerminated {
		t.Error("expected session to stay alive when bye is ignored")
	}
}
