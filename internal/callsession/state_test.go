package callsession

import "testing"

func TestValidNextHappyPath(t *testing.T) {
	path := []State{StateIdle, StateProceeding, StateConfirmed, StateMediaReady, StateAIActive}
	for i := 0; i+1 < len(path); i++ {
		if !validNext(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be valid", path[i], path[i+1])
		}
	}
}

func TestValidNextRejectsSkippingStates(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateIdle, StateConfirmed},
		{StateIdle, StateMediaReady},
		{StateProceeding, StateMediaReady},
		{StateConfirmed, StateAIActive},
		{StateMediaReady, StateProceeding},
	}
	for _, c := range cases {
		if validNext(c.from, c.to) {
			t.Errorf("expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}

func TestValidNextAnyStateCanTerminate(t *testing.T) {
	for _, s := range []State{StateIdle, StateProceeding, StateConfirmed, StateMediaReady, StateAIActive, StateTerminated} {
		if !validNext(s, StateTerminated) {
			t.Errorf("expected %s -> TERMINATED to always be valid", s)
		}
	}
}

func TestValidNextTerminatedIsAbsorbing(t *testing.T) {
	if validNext(StateTerminated, StateIdle) {
		t.Error("expected no transition out of TERMINATED other than to itself")
	}
}
