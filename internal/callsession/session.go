package callsession

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/sipaivoice/bridge/internal/codec"
	"github.com/sipaivoice/bridge/internal/events"
	"github.com/sipaivoice/bridge/internal/sipmsg"
	"github.com/sipaivoice/bridge/internal/timerreg"
)

// mailboxCapacity bounds each Session's event queue per the concurrency
// model: the session drains it serially, so no lock guards session-local
// state.
const mailboxCapacity = 32

// AIClient is the subset of internal/airealtime's client a Session needs.
// Defined here so callsession does not import airealtime directly; the
// wiring happens in cmd/sipbridge.
type AIClient interface {
	Open(ctx context.Context, callID string, onAudio func(pcm []byte)) error
	SendAudio(pcm []byte)
	RequestWelcome()
	Close()
}

// activityTracker holds the bookkeeping the BYE-disposition heuristic
// reads, per spec §4.4. Fields are only ever touched from the session's
// own mailbox-draining goroutine.
type activityTracker struct {
	callStart        time.Time
	lastAudioAt      time.Time
	confirmedAt      time.Time
	aiResponseActive bool
	welcomeActive    bool
	pendingCleanup   bool
}

// Session is one call's state machine. All mutable fields are owned by the
// single goroutine running run(); external callers only ever send events
// into the mailbox.
type Session struct {
	CallID string

	logger *slog.Logger
	bus    *events.Bus
	timers *timerreg.Registry
	cfg    Config

	mailbox chan event
	done    chan struct{}

	state State

	localTag  string
	remoteTag string
	remoteSeq uint32

	callerAddr string // source address:port of the INVITE, for BYE matching

	inviteReq *sip.Request
	inviteTx  sip.ServerTransaction

	payloadType    int
	remoteRTP      *net.UDPAddr
	pacer          *codec.Pacer
	rtpConn        *net.UDPConn
	seenFirstRTP   bool
	localMediaIP   string
	localMediaPort int

	sessionExpires int // RFC 4028 Session-Expires seconds offered by the peer, else cfg.SessionExpiresSeconds; 0 if neither

	ai     AIClient
	openAI func(*Session) // invoked on entering MEDIA_READY to open the AI session

	activity activityTracker

	onTerminated func(callID string)

	ctx context.Context
}

// Config toggles the spec's §9 open-question defaults.
type Config struct {
	// RequireRTPBeforeAI, when true, delays CONFIRMED->MEDIA_READY until an
	// actual RTP packet is observed instead of optimistically transitioning
	// when the 2s media-validation timer expires.
	RequireRTPBeforeAI bool
	// StrictBYE, when true, disables the welcome/response-in-progress BYE
	// suppression and always honors a BYE immediately.
	StrictBYE bool

	MediaValidationTimeout time.Duration
	ACKWaitTimeout         time.Duration
	ConfirmedGraceTimeout  time.Duration
	IdleAudioTimeout       time.Duration

	// SessionExpiresSeconds is this bridge's own advertised RFC 4028
	// Session-Expires interval, used as the refresh interval whenever a
	// peer's INVITE or re-INVITE omits the header entirely.
	SessionExpiresSeconds int
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		MediaValidationTimeout: 2 * time.Second,
		ACKWaitTimeout:         32 * time.Second,
		ConfirmedGraceTimeout:  3 * time.Second,
		IdleAudioTimeout:       30 * time.Second,
		SessionExpiresSeconds:  1800,
	}
}

func newSession(callID string, cfg Config, logger *slog.Logger, bus *events.Bus, onTerminated func(string)) *Session {
	now := time.Now()
	return &Session{
		CallID:       callID,
		logger:       logger.With("subsystem", "callsession", "call_id", callID),
		bus:          bus,
		timers:       timerreg.New(),
		cfg:          cfg,
		mailbox:      make(chan event, mailboxCapacity),
		done:         make(chan struct{}),
		state:        StateIdle,
		activity:     activityTracker{callStart: now, lastAudioAt: now},
		onTerminated: onTerminated,
	}
}

// send enqueues an event onto the session's mailbox. Never blocks the
// caller forever: if the mailbox is full the event is dropped and logged,
// since a saturated session mailbox indicates the session is wedged.
func (s *Session) send(ev event) {
	select {
	case s.mailbox <- ev:
	case <-s.done:
	default:
		s.logger.Warn("mailbox full, dropping event", "event", ev.kind())
	}
}

// run drains the mailbox serially until the session terminates.
func (s *Session) run(ctx context.Context) {
	s.ctx = ctx
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.terminate("context cancelled")
			return
		case ev := <-s.mailbox:
			s.handle(ev)
			if s.state == StateTerminated {
				return
			}
		}
	}
}

func (s *Session) transition(next State) bool {
	if !validNext(s.state, next) {
		s.logger.Warn("rejected invalid state transition", "from", s.state, "to", next)
		return false
	}
	s.logger.Debug("state transition", "from", s.state, "to", next)
	s.state = next
	return true
}

// startPacer wires the outbound RTP pacer once the media socket, negotiated
// payload type and remote address are all known, grounded on
// internal/codec.Pacer. Called right after the 200 OK is sent.
func (s *Session) startPacer() {
	if s.rtpConn == nil || s.remoteRTP == nil || s.pacer != nil {
		return
	}
	s.pacer = codec.NewPacer(s.rtpConn, s.remoteRTP, s.payloadType, s.logger)
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go s.pacer.Run(ctx)
}

func (s *Session) setRemoteTag(req *sip.Request) {
	if tag := sipmsg.FromTag(req); tag != "" {
		s.remoteTag = tag
	}
}

func (s *Session) terminate(reason string) {
	if s.state == StateTerminated {
		return
	}
	s.transition(StateTerminated)
	s.timers.CancelAll()
	if s.pacer != nil {
		s.pacer.Stop()
	}
	if s.ai != nil {
		s.ai.Close()
	}
	disposition := "normal"
	s.bus.PublishCallEnded(events.CallEnded{
		CallID:      s.CallID,
		Duration:    time.Since(s.activity.callStart),
		Disposition: disposition,
		At:          time.Now(),
	})
	s.logger.Info("session terminated", "reason", reason)
	if s.onTerminated != nil {
		s.onTerminated(s.CallID)
	}
}
