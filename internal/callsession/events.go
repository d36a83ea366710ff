package callsession

import (
	"net"

	"github.com/emiago/sipgo/sip"
)

// event is anything a Session's mailbox can carry. Each concrete type
// tags itself so a dropped-event log line is readable.
type event interface {
	kind() string
}

type inviteEvent struct {
	req *sip.Request
	tx  sip.ServerTransaction
}

func (inviteEvent) kind() string { return "invite" }

type ackEvent struct {
	req *sip.Request
}

func (ackEvent) kind() string { return "ack" }

type byeEvent struct {
	req *sip.Request
	tx  sip.ServerTransaction
}

func (byeEvent) kind() string { return "bye" }

type cancelEvent struct {
	req *sip.Request
	tx  sip.ServerTransaction
}

func (cancelEvent) kind() string { return "cancel" }

type rtpEvent struct {
	payload []byte
	from    *net.UDPAddr
}

func (rtpEvent) kind() string { return "rtp" }

type ringingTimerEvent struct {
	req *sip.Request
	tx  sip.ServerTransaction
}

func (ringingTimerEvent) kind() string { return "ringing-timer" }

type answerTimerEvent struct {
	req *sip.Request
	tx  sip.ServerTransaction
}

func (answerTimerEvent) kind() string { return "answer-timer" }

type ackTimeoutEvent struct{}

func (ackTimeoutEvent) kind() string { return "ack-timeout" }

type mediaValidationTimeoutEvent struct{}

func (mediaValidationTimeoutEvent) kind() string { return "media-validation-timeout" }

type aiSessionUpdatedEvent struct{}

func (aiSessionUpdatedEvent) kind() string { return "ai-session-updated" }

type aiResponseStartedEvent struct{}

func (aiResponseStartedEvent) kind() string { return "ai-response-started" }

type aiResponseDoneEvent struct{}

func (aiResponseDoneEvent) kind() string { return "ai-response-done" }

type aiAudioEvent struct {
	pcm []byte
}

func (aiAudioEvent) kind() string { return "ai-audio" }

type aiFatalErrorEvent struct {
	err error
}

func (aiFatalErrorEvent) kind() string { return "ai-fatal-error" }

type aiEndCallEvent struct{}

func (aiEndCallEvent) kind() string { return "ai-end-call" }

// sessionExpiresTimeoutEvent fires at expires-30s per RFC 4028. A re-INVITE
// arriving before it fires cancels and rearms the timer (see handleInvite's
// mid-dialog branch); if none arrives, the session times out.
type sessionExpiresTimeoutEvent struct{}

func (sessionExpiresTimeoutEvent) kind() string { return "session-expires-timeout" }

func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case inviteEvent:
		s.handleInvite(e)
	case ringingTimerEvent:
		s.handleRingingTimer(e)
	case answerTimerEvent:
		s.handleAnswerTimer(e)
	case ackEvent:
		s.handleAck(e)
	case byeEvent:
		s.handleBye(e)
	case cancelEvent:
		s.handleCancel(e)
	case rtpEvent:
		s.handleRTP(e)
	case ackTimeoutEvent:
		s.handleACKTimeout()
	case mediaValidationTimeoutEvent:
		s.handleMediaValidationTimeout()
	case aiSessionUpdatedEvent:
		s.handleAISessionUpdated()
	case aiResponseStartedEvent:
		s.activity.aiResponseActive = true
	case aiResponseDoneEvent:
		s.handleAIResponseDone()
	case aiAudioEvent:
		s.handleAIAudio(e)
	case aiFatalErrorEvent:
		s.logger.Error("ai session fatal error", "error", e.err)
		s.terminate("ai fatal error")
	case aiEndCallEvent:
		s.terminate("ai requested end_call")
	case sessionExpiresTimeoutEvent:
		s.handleSessionExpiresTimeout()
	}
}
