package callsession

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/emiago/sipgo/sip"
	"golang.org/x/time/rate"

	"github.com/sipaivoice/bridge/internal/events"
	"github.com/sipaivoice/bridge/internal/timerreg"
)

// ErrAdmissionRefused is returned by Admit when the call cannot be
// accepted, either because the concurrent-call ceiling is reached or
// because INVITEs are arriving faster than the admission rate limit.
var ErrAdmissionRefused = fmt.Errorf("callsession: admission refused")

// ManagerConfig bundles the knobs Manager needs beyond the per-session
// Config, grounded on the external interface's MAX_CONCURRENT_CALLS and
// the RTP port range the media sockets are drawn from.
type ManagerConfig struct {
	Session Config

	MaxConcurrentCalls int
	PublicIP           string
	RTPPortMin         int
	RTPPortMax         int

	// InviteRate bounds how many new INVITEs per second are admitted,
	// guarding against signalling floods independent of the concurrent
	// call ceiling.
	InviteRate  rate.Limit
	InviteBurst int
}

// Manager owns every live Session, keyed by Call-ID, and enforces call
// admission. It is the entry point sipgo's server handlers call into.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	bus    *events.Bus

	openAI func(*Session) // supplied by cmd/sipbridge wiring

	// directory holds only weak references: once a session's own goroutines
	// (run, readRTP, pacer) exit and drop their strong references, a stale
	// timer or late lookup should find nothing rather than resurrect it.
	directory *timerreg.SessionDirectory[Session]

	mu       sync.Mutex
	active   map[string]struct{} // live Call-IDs, for ActiveCalls/admission; not a source of truth for lookup
	nextPort int

	limiter *rate.Limiter

	ctx context.Context
}

// NewManager creates a Manager. openAI is invoked once per session, on
// entering MEDIA_READY, and is responsible for constructing and attaching
// that session's AIClient.
func NewManager(ctx context.Context, cfg ManagerConfig, logger *slog.Logger, bus *events.Bus, openAI func(*Session)) *Manager {
	limit := cfg.InviteRate
	if limit == 0 {
		limit = 20
	}
	burst := cfg.InviteBurst
	if burst == 0 {
		burst = 20
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger.With("subsystem", "callsession"),
		bus:       bus,
		openAI:    openAI,
		directory: timerreg.NewSessionDirectory[Session](),
		active:    make(map[string]struct{}),
		nextPort:  cfg.RTPPortMin,
		limiter:   rate.NewLimiter(limit, burst),
		ctx:       ctx,
	}
}

// ActiveCalls returns the number of sessions not yet terminated.
func (m *Manager) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) admit() error {
	if !m.limiter.Allow() {
		return fmt.Errorf("%w: invite rate exceeded", ErrAdmissionRefused)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxConcurrentCalls > 0 && len(m.active) >= m.cfg.MaxConcurrentCalls {
		return fmt.Errorf("%w: %d concurrent calls already active", ErrAdmissionRefused, len(m.active))
	}
	return nil
}

// allocatePort hands out the next RTP port in the configured range,
// wrapping around. The caller is responsible for binding it; if the bind
// fails (port in use) it should call allocatePort again.
func (m *Manager) allocatePort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.nextPort
	m.nextPort++
	if m.nextPort > m.cfg.RTPPortMax {
		m.nextPort = m.cfg.RTPPortMin
	}
	return p
}

func (m *Manager) bindMediaSocket() (*net.UDPConn, int, error) {
	for attempts := 0; attempts < 32; attempts++ {
		port := m.allocatePort()
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err == nil {
			return conn, port, nil
		}
	}
	return nil, 0, fmt.Errorf("callsession: no free RTP port in range %d-%d", m.cfg.RTPPortMin, m.cfg.RTPPortMax)
}

// HandleInvite is registered as the sipgo server's OnInvite callback.
func (m *Manager) HandleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	if callID == "" {
		m.respondDirect(req, tx, 400, "Bad Request")
		return
	}

	if existing, ok := m.directory.Lookup(callID); ok {
		existing.send(inviteEvent{req: req, tx: tx})
		return
	}

	if err := m.admit(); err != nil {
		m.logger.Warn("invite admission refused", "call_id", callID, "error", err)
		m.respondDirect(req, tx, 486, "Busy Here")
		return
	}

	conn, port, err := m.bindMediaSocket()
	if err != nil {
		m.logger.Error("failed to bind rtp socket", "call_id", callID, "error", err)
		m.respondDirect(req, tx, 500, "Internal Server Error")
		return
	}

	sess := newSession(callID, m.cfg.Session, m.logger, m.bus, m.onSessionTerminated)
	sess.rtpConn = conn
	sess.localMediaIP = m.cfg.PublicIP
	sess.localMediaPort = port
	sess.openAI = m.openAI

	m.directory.Register(callID, sess)
	m.mu.Lock()
	m.active[callID] = struct{}{}
	m.mu.Unlock()

	go sess.run(m.ctx)
	go m.readRTP(sess)

	sess.send(inviteEvent{req: req, tx: tx})
}

func (m *Manager) onSessionTerminated(callID string) {
	sess, ok := m.directory.Lookup(callID)
	m.directory.Unregister(callID)
	m.mu.Lock()
	delete(m.active, callID)
	m.mu.Unlock()
	if ok && sess.rtpConn != nil {
		sess.rtpConn.Close()
	}
}

// readRTP pumps datagrams from a session's media socket into its mailbox.
// The observed source address is carried on the event itself rather than
// written to sess directly: sess.remoteRTP and sess.pacer are owned by the
// session's own run() goroutine, and this goroutine must not touch them.
// handleRTP applies the symmetric-RTP address learning on that goroutine.
func (m *Manager) readRTP(sess *Session) {
	buf := make([]byte, 1500)
	for {
		n, addr, err := sess.rtpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		sess.send(rtpEvent{payload: payload, from: addr})
	}
}

// HandleAck, HandleBye, HandleCancel route by Call-ID to the matching
// session. If none is found, HandleBye and HandleCancel answer 481
// themselves; HandleAck drops the ACK, since an ACK gets no response.
func (m *Manager) HandleAck(req *sip.Request) {
	if sess, ok := m.lookup(req); ok {
		sess.send(ackEvent{req: req})
	}
}

func (m *Manager) HandleBye(req *sip.Request, tx sip.ServerTransaction) {
	if sess, ok := m.lookup(req); ok {
		sess.send(byeEvent{req: req, tx: tx})
		return
	}
	m.respondDirect(req, tx, 481, "Call/Transaction Does Not Exist")
}

func (m *Manager) HandleCancel(req *sip.Request, tx sip.ServerTransaction) {
	if sess, ok := m.lookup(req); ok {
		sess.send(cancelEvent{req: req, tx: tx})
		return
	}
	m.respondDirect(req, tx, 481, "Call/Transaction Does Not Exist")
}

func (m *Manager) lookup(req *sip.Request) (*Session, bool) {
	callID := callIDOf(req)
	if callID == "" {
		return nil, false
	}
	return m.directory.Lookup(callID)
}

func (m *Manager) respondDirect(req *sip.Request, tx sip.ServerTransaction, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		m.logger.Error("failed to send direct response", "code", code, "error", err)
	}
}

func callIDOf(req *sip.Request) string {
	h := req.GetHeader("Call-ID")
	if h == nil {
		return ""
	}
	return h.Value()
}
