// Package callsession implements the Call Session State Machine: one
// instance per dialog, driving a caller through INVITE handling, media
// validation, and an AI realtime session, then tearing down on BYE/CANCEL.
package callsession

// State is a Session's position in the call lifecycle.
type State string

const (
	StateIdle       State = "IDLE"
	StateProceeding State = "PROCEEDING"
	StateConfirmed  State = "CONFIRMED"
	StateMediaReady State = "MEDIA_READY"
	StateAIActive   State = "AI_ACTIVE"
	StateTerminated State = "TERMINATED"
)

// validNext reports whether transitioning from s to next is allowed. Any
// state may transition to TERMINATED (BYE, CANCEL, or fatal error);
// otherwise transitions follow the single forward path the spec defines.
func validNext(s, next State) bool {
	if next == StateTerminated {
		return true
	}
	switch s {
	case StateIdle:
		return next == StateProceeding
	case StateProceeding:
		return next == StateConfirmed
	case StateConfirmed:
		return next == StateMediaReady
	case StateMediaReady:
		return next == StateAIActive
	default:
		return false
	}
}
