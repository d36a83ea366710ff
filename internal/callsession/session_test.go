package callsession

import "testing"

func TestTerminateIsIdempotent(t *testing.T) {
	s := testSession()
	terminatedCalls := 0
	s.onTerminated = func(callID string) { terminatedCalls++ }

	s.terminate("first")
	s.terminate("second")

	if s.state != StateTerminated {
		t.Fatalf("expected TERMINATED, got %s", s.state)
	}
	if terminatedCalls != 1 {
		t.Fatalf("expected onTerminated called exactly once, got %d", terminatedCalls)
	}
}

func TestSendDropsEventsWhenMailboxFull(t *testing.T) {
	s := testSession()
	for i := 0; i < mailboxCapacity; i++ {
		s.send(ackTimeoutEvent{})
	}
	// One more than capacity must not block.
	done := make(chan struct{})
	go func() {
		s.send(ackTimeoutEvent{})
		close(done)
	}()
	<-done
	if len(s.mailbox) != mailboxCapacity {
		t.Fatalf("expected mailbox to stay at capacity %d, got %d", mailboxCapacity, len(s.mailbox))
	}
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	s := testSession()
	if s.transition(StateMediaReady) {
		t.Fatal("expected transition from IDLE directly to MEDIA_READY to be rejected")
	}
	if s.state != StateIdle {
		t.Fatalf("expected state to remain IDLE, got %s", s.state)
	}
}
