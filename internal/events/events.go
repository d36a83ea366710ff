// Package events defines the typed notification channels the process uses
// to observe registration and call lifecycle changes without coupling
// internal/registrar, internal/callsession, and internal/airealtime to each
// other or to cmd/sipbridge directly.
package events

import "time"

// RegistrationState mirrors the Registration Record's state per the data
// model: UNREGISTERED, REGISTERING, REGISTERED, FAILED.
type RegistrationState string

const (
	RegistrationUnregistered RegistrationState = "UNREGISTERED"
	RegistrationRegistering  RegistrationState = "REGISTERING"
	RegistrationRegistered   RegistrationState = "REGISTERED"
	RegistrationFailed       RegistrationState = "FAILED"

	// RegistrationAlive and RegistrationDegraded are published by the
	// registrar's self-liveness check independently of the Record's own
	// REGISTERED/FAILED transitions, per spec.md §4.3.
	RegistrationAlive    RegistrationState = "ALIVE"
	RegistrationDegraded RegistrationState = "DEGRADED"
)

// RegistrationStatus is published whenever the Registration Record
// transitions state.
type RegistrationStatus struct {
	State     RegistrationState
	Err       error
	At        time.Time
	Expires   int // seconds granted by the server, valid when State == REGISTERED
	Attempt   int // consecutive failure count, valid when State == FAILED
}

// CallStarted is published when a Session reaches MEDIA_READY.
type CallStarted struct {
	CallID string
	Remote string
	At     time.Time
}

// CallEnded is published when a Session reaches TERMINATED.
type CallEnded struct {
	CallID      string
	Duration    time.Duration
	Disposition string
	At          time.Time
}

// ClientStatus is published on AI realtime client connect/disconnect/error.
type ClientStatus struct {
	CallID    string
	Connected bool
	Err       error
	At        time.Time
}

// Bus fans out lifecycle events to whatever is listening (currently only
// the metrics collector). Each Publish is non-blocking:
// a full subscriber channel drops the event rather than stalling the
// publisher, since these are observational, not control-flow.
type Bus struct {
	registration chan RegistrationStatus
	callStarted  chan CallStarted
	callEnded    chan CallEnded
	clientStatus chan ClientStatus
}

// NewBus creates a Bus with modestly buffered channels so a slow subscriber
// does not immediately drop bursts of events.
func NewBus() *Bus {
	return &Bus{
		registration: make(chan RegistrationStatus, 8),
		callStarted:  make(chan CallStarted, 16),
		callEnded:    make(chan CallEnded, 16),
		clientStatus: make(chan ClientStatus, 16),
	}
}

func (b *Bus) PublishRegistration(s RegistrationStatus) {
	select {
	case b.registration <- s:
	default:
	}
}

func (b *Bus) PublishCallStarted(s CallStarted) {
	select {
	case b.callStarted <- s:
	default:
	}
}

func (b *Bus) PublishCallEnded(s CallEnded) {
	select {
	case b.callEnded <- s:
	default:
	}
}

func (b *Bus) PublishClientStatus(s ClientStatus) {
	select {
	case b.clientStatus <- s:
	default:
	}
}

func (b *Bus) Registrations() <-chan RegistrationStatus { return b.registration }
func (b *Bus) CallStarts() <-chan CallStarted            { return b.callStarted }
func (b *Bus) CallEnds() <-chan CallEnded                 { return b.callEnded }
func (b *Bus) ClientStatuses() <-chan ClientStatus        { return b.clientStatus }
