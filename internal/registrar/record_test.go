package registrar

import (
	"errors"
	"testing"
	"time"
)

func TestNextCSeqStrictlyIncreases(t *testing.T) {
	r := newRecord("sip.example.com", "1000", "secret")
	var last uint32
	for i := 0; i < 5; i++ {
		cseq := r.nextCSeq()
		if cseq <= last {
			t.Fatalf("cseq did not increase: got %d after %d", cseq, last)
		}
		last = cseq
	}
}

func TestMarkRegisteredSchedulesRefreshAtHalfExpires(t *testing.T) {
	r := newRecord("sip.example.com", "1000", "secret")
	before := time.Now()
	r.markRegistered(3600, nil)

	snap := r.Status()
	if snap.State != StateRegistered {
		t.Fatalf("state = %v, want %v", snap.State, StateRegistered)
	}
	if snap.Expires != 3600 {
		t.Fatalf("expires = %d, want 3600", snap.Expires)
	}
	wantRefresh := before.Add(1800 * time.Second)
	if snap.NextRefresh.Before(wantRefresh.Add(-time.Second)) || snap.NextRefresh.After(wantRefresh.Add(time.Second)) {
		t.Errorf("next refresh = %v, want ~%v", snap.NextRefresh, wantRefresh)
	}
	if snap.Attempt != 0 {
		t.Errorf("attempt = %d, want 0 after success", snap.Attempt)
	}
}

func TestMarkFailedIncrementsAttempt(t *testing.T) {
	r := newRecord("sip.example.com", "1000", "secret")
	err := errors.New("boom")
	r.markFailed(err, nil)
	r.markFailed(err, nil)

	snap := r.Status()
	if snap.State != StateFailed {
		t.Fatalf("state = %v, want %v", snap.State, StateFailed)
	}
	if snap.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", snap.Attempt)
	}
	if !errors.Is(snap.Err, err) {
		t.Errorf("err = %v, want %v", snap.Err, err)
	}
}

func TestMarkRegisteringSetsCallID(t *testing.T) {
	r := newRecord("sip.example.com", "1000", "secret")
	r.markRegistering("call-id-123")
	if r.callID != "call-id-123" {
		t.Errorf("callID = %q, want call-id-123", r.callID)
	}
	if r.Status().State != StateRegistering {
		t.Errorf("state = %v, want %v", r.Status().State, StateRegistering)
	}
}
