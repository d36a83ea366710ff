// Package registrar implements the SIP Transaction & Registration Engine:
// it owns the single Registration Record for this bridge's upstream trunk,
// performs digest-authenticated REGISTER, and keeps the registration fresh.
package registrar

import (
	"sync"
	"time"

	"github.com/sipaivoice/bridge/internal/events"
)

// State is the Registration Record's state per the data model.
type State string

const (
	StateUnregistered State = "UNREGISTERED"
	StateRegistering  State = "REGISTERING"
	StateRegistered   State = "REGISTERED"
	StateFailed       State = "FAILED"
)

// Record is the singleton Registration Record: upstream identity, current
// state, and the bookkeeping needed to keep a single REGISTER transaction
// outstanding at a time with a strictly increasing CSeq.
type Record struct {
	mu sync.Mutex

	Server    string
	Extension string
	Secret    string

	state         State
	callID        string
	cseq          uint32
	expires       int
	lastErr       error
	lastOK        time.Time
	nextRefresh   time.Time
	attempt       int
	registeringAt time.Time // when the current REGISTERING attempt started, for the stuck->30s liveness check
}

func newRecord(server, extension, secret string) *Record {
	return &Record{
		Server:    server,
		Extension: extension,
		Secret:    secret,
		state:     StateUnregistered,
	}
}

// Snapshot is a point-in-time read of the Record, safe to share.
type Snapshot struct {
	State       State
	Err         error
	LastOK      time.Time
	NextRefresh time.Time
	Expires     int
	Attempt     int
}

func (r *Record) snapshot() Snapshot {
	return Snapshot{
		State:       r.state,
		Err:         r.lastErr,
		LastOK:      r.lastOK,
		NextRefresh: r.nextRefresh,
		Expires:     r.expires,
		Attempt:     r.attempt,
	}
}

// Status returns a consistent snapshot of the Record's current state.
func (r *Record) Status() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// nextCSeq increments and returns the record's CSeq counter. CSeq strictly
// increases with every REGISTER the engine builds (the initial request, its
// authenticated retry, and each re-registration); transaction-layer
// retransmissions resend the request as built and keep its CSeq.
func (r *Record) nextCSeq() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cseq++
	return r.cseq
}

func (r *Record) markRegistering(callID string) {
	r.mu.Lock()
	r.state = StateRegistering
	r.callID = callID
	r.registeringAt = time.Now()
	r.mu.Unlock()
}

// registeringSince returns when the most recent REGISTERING attempt
// started. It is zero only before the first attempt; leaving REGISTERING
// does not clear it.
func (r *Record) registeringSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registeringAt
}

func (r *Record) markRegistered(grantedExpires int, bus *events.Bus) {
	now := time.Now()
	r.mu.Lock()
	r.state = StateRegistered
	r.expires = grantedExpires
	r.lastOK = now
	r.lastErr = nil
	r.attempt = 0
	r.nextRefresh = now.Add(time.Duration(grantedExpires) / 2 * time.Second)
	r.mu.Unlock()
	if bus != nil {
		bus.PublishRegistration(events.RegistrationStatus{
			State:   events.RegistrationRegistered,
			At:      now,
			Expires: grantedExpires,
		})
	}
}

func (r *Record) markFailed(err error, bus *events.Bus) {
	now := time.Now()
	r.mu.Lock()
	r.state = StateFailed
	r.lastErr = err
	r.attempt++
	attempt := r.attempt
	r.mu.Unlock()
	if bus != nil {
		bus.PublishRegistration(events.RegistrationStatus{
			State:   events.RegistrationFailed,
			Err:     err,
			At:      now,
			Attempt: attempt,
		})
	}
}
