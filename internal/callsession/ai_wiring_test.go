package callsession

import (
	"context"
	"testing"
	"time"
)

func TestSetAIClientAttachesClient(t *testing.T) {
	s := testSession()
	ai := &recordingAIClient{}

	s.SetAIClient(ai)

	if s.ai != ai {
		t.Fatal("expected SetAIClient to attach the client")
	}
}

func TestContextDefaultsWhenSessionNotRunning(t *testing.T) {
	s := testSession()
	if s.Context() == nil {
		t.Fatal("expected a non-nil default context")
	}
}

func TestNotifyMethodsDriveSessionThroughMailbox(t *testing.T) {
	s := testSession()
	s.state = StateMediaReady
	ai := &recordingAIClient{}
	s.SetAIClient(ai)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.run(ctx)

	s.NotifyAISessionConfigured()
	waitForState(t, s, StateAIActive)
	if ai.welcomeCalls != 1 {
		t.Fatalf("expected welcome requested once, got %d", ai.welcomeCalls)
	}

	s.NotifyAIResponseStarted()
	waitForCondition(t, func() bool { return s.activity.aiResponseActive })

	s.NotifyAIResponseDone()
	waitForCondition(t, func() bool { return !s.activity.aiResponseActive })

	s.NotifyAIAudio([]byte{1, 2, 3})
	// No pacer is wired in this test, so NotifyAIAudio should be dropped
	// without panicking; reaching here confirms that.

	s.NotifyAIFatalError(errBoom)
	waitForState(t, s, StateTerminated)
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.state == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, s.state)
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
