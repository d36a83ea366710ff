package registrar

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sipaivoice/bridge/internal/events"
	"github.com/sipaivoice/bridge/internal/sipmsg"
	"github.com/sipaivoice/bridge/internal/timerreg"
)

// DefaultExpires is the Expires value this bridge requests in its initial
// REGISTER, per the external interface contract.
const DefaultExpires = 3600

// natKeepAliveInterval and optionsHealthCheckInterval and
// selfLivenessInterval are the engine's three background loop cadences,
// per spec.md §4.3.
const (
	natKeepAliveInterval       = 30 * time.Second
	optionsHealthCheckInterval = 5 * time.Minute
	selfLivenessInterval       = 5 * time.Second
	optionsHealthCheckTimeout  = 5 * time.Second

	// registeringStuckThreshold is how long the record may sit in
	// REGISTERING before self-liveness considers it DEGRADED.
	registeringStuckThreshold = 30 * time.Second

	// socketErrorThreshold is the consecutive-error count at which the NAT
	// keep-alive socket is closed and re-bound.
	socketErrorThreshold = 3
	// socketRebindSettle is how long settleThenReregister waits after a
	// successful rebind before re-triggering registration.
	socketRebindSettle = 2 * time.Second
)

// natKeepAliveDatagram is the RFC 5626 §3.5.1 double-CRLF keep-alive used
// to refresh NAT/firewall bindings between registration refreshes.
var natKeepAliveDatagram = []byte("\r\n\r\n")

// backoff implements the engine's outer retry delay: a flat 5-second pause
// between failed registration cycles, applied indefinitely. It is distinct
// from Timer A, which governs retransmission within a single REGISTER
// attempt and is handled by the sipgo transaction layer.
type backoff struct {
	delay time.Duration
}

func newBackoff() *backoff { return &backoff{delay: 5 * time.Second} }

// Engine owns the Registration Record and the upstream REGISTER
// transaction. At most one REGISTER transaction is outstanding at a time.
// Run drives the registration cycle and also starts the three independent
// background loops (NAT keep-alive, OPTIONS health check, self-liveness)
// that run alongside it for the engine's whole lifetime.
type Engine struct {
	ua     *sipgo.UserAgent
	client *sipgo.Client
	log    *slog.Logger
	bus    *events.Bus

	record *Record
	timers *timerreg.Registry

	contactHost string
	contactPort int

	// reregisterNow lets the background loops request an immediate
	// re-registration (self-liveness DEGRADED, socket rebind recovery)
	// without waiting out Run's current backoff/refresh sleep.
	reregisterNow chan struct{}

	// keepAliveConn and keepAliveErrCount back the NAT keep-alive timer.
	// natKeepAliveLoop sets keepAliveConn before first arming the timer and
	// closes it after cancelling the timer; otherwise both are touched only
	// from the timer's callback, which re-arms itself at its own end, so two
	// fires never overlap. No additional locking is used.
	keepAliveConn     net.Conn
	keepAliveErrCount int

	authUsername string // digest username: Config.AuthUser, else Extension
}

// Config configures a new Engine.
type Config struct {
	Server      string // "host:port" of the upstream registrar
	Extension   string // the account identity (From/To user part)
	AuthUser    string // SIP authorization username, defaults to Extension
	Secret      string
	ContactHost string // public IP this bridge is reachable at
	ContactPort int    // local SIP port
}

// NewEngine creates a registration engine bound to ua/client. The caller
// owns the UserAgent/Client lifecycle; the engine only issues REGISTER
// transactions through them.
func NewEngine(ua *sipgo.UserAgent, client *sipgo.Client, cfg Config, logger *slog.Logger, bus *events.Bus) *Engine {
	authUser := cfg.AuthUser
	if authUser == "" {
		authUser = cfg.Extension
	}
	return &Engine{
		ua:            ua,
		client:        client,
		log:           logger.With("subsystem", "registrar"),
		bus:           bus,
		record:        newRecord(cfg.Server, cfg.Extension, cfg.Secret),
		timers:        timerreg.New(),
		contactHost:   cfg.ContactHost,
		contactPort:   cfg.ContactPort,
		reregisterNow: make(chan struct{}, 1),
		authUsername:  authUser,
	}
}

// Status returns the current Registration Record snapshot.
func (e *Engine) Status() Snapshot { return e.record.Status() }

// Run drives the registration lifecycle until ctx is cancelled: register,
// wait for the scheduled refresh, re-register; on any failure, back off
// 5 seconds and retry indefinitely. It also starts the engine's three
// independent background loops (NAT keep-alive, OPTIONS health check,
// self-liveness), which run for as long as ctx is alive.
func (e *Engine) Run(ctx context.Context) {
	go e.natKeepAliveLoop(ctx)
	go e.optionsHealthCheckLoop(ctx)
	go e.selfLivenessLoop(ctx)

	bo := newBackoff()
	for {
		grantedExpires, err := e.registerOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.record.markFailed(err, e.bus)
			e.log.Error("registration failed", "error", err, "attempt", e.record.Status().Attempt)
			if waitErr := e.waitOrReregister(ctx, bo.delay); waitErr != nil {
				return
			}
			continue
		}

		e.record.markRegistered(grantedExpires, e.bus)
		e.log.Info("registered", "expires", grantedExpires)

		refresh := time.Duration(grantedExpires) / 2 * time.Second
		if waitErr := e.waitOrReregister(ctx, refresh); waitErr != nil {
			return
		}
	}
}

// waitOrReregister sleeps for d, returning early (nil error) if a
// background loop requests an immediate re-registration first.
func (e *Engine) waitOrReregister(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	case <-e.reregisterNow:
		return nil
	}
}

// triggerReregister wakes Run out of its current backoff/refresh sleep.
// Non-blocking: a re-registration already queued is enough, no need to
// queue a second one.
func (e *Engine) triggerReregister() {
	select {
	case e.reregisterNow <- struct{}{}:
	default:
	}
}

// natKeepAliveLoop transmits the RFC 5626 keep-alive datagram every 30s via
// the named timerreg timer, self-rearming on each fire the same way a
// Session's single-shot timers do. Grounded on trunk.go's healthCheckLoop
// for the health-check cadence idiom, narrowed here to a raw UDP socket
// this engine owns directly since the keep-alive is not a SIP transaction.
// Socket resilience (error-counter + rebind) lives here because this
// socket is the one resource under the engine's direct control that can
// observe a write failure.
func (e *Engine) natKeepAliveLoop(ctx context.Context) {
	conn, err := e.dialKeepAlive()
	if err != nil {
		e.log.Error("nat keepalive: failed to dial", "error", err)
		return
	}
	e.keepAliveConn = conn

	e.armNATKeepAlive(ctx)

	<-ctx.Done()
	e.timers.Cancel(timerreg.TimerNATKeepAlive)
	e.keepAliveConn.Close()
}

func (e *Engine) armNATKeepAlive(ctx context.Context) {
	e.timers.Set(timerreg.TimerNATKeepAlive, natKeepAliveInterval, func() {
		e.fireNATKeepAlive(ctx)
	})
}

func (e *Engine) fireNATKeepAlive(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, writeErr := e.keepAliveConn.Write(natKeepAliveDatagram); writeErr != nil {
		e.keepAliveErrCount++
		e.log.Warn("nat keepalive write failed", "error", writeErr, "consecutive_errors", e.keepAliveErrCount)
		if e.keepAliveErrCount >= socketErrorThreshold {
			e.keepAliveConn.Close()
			newConn, dialErr := e.dialKeepAlive()
			if dialErr != nil {
				e.log.Error("nat keepalive: rebind failed, giving up on keep-alive", "error", dialErr)
				return
			}
			e.keepAliveConn = newConn
			e.keepAliveErrCount = 0
			e.log.Info("nat keepalive socket rebound after consecutive errors")
			e.settleThenReregister()
		}
	} else if e.keepAliveErrCount > 0 {
		e.keepAliveErrCount = 0
		e.log.Info("nat keepalive recovered")
		e.settleThenReregister()
	}
	e.armNATKeepAlive(ctx)
}

// settleThenReregister waits the spec's 2-second settle period before
// re-triggering registration, so a just-rebound socket has a moment to
// stabilize before it carries a REGISTER.
func (e *Engine) settleThenReregister() {
	time.AfterFunc(socketRebindSettle, e.triggerReregister)
}

func (e *Engine) dialKeepAlive() (net.Conn, error) {
	return net.Dial("udp", e.record.Server)
}

// optionsHealthCheckLoop pings the registrar with OPTIONS every 5 minutes
// while REGISTERED, via the named timerreg timer, grounded on trunk.go's
// healthCheckLoop/sendOptionsEntry but narrowed to the spec's 5-minute
// cadence.
func (e *Engine) optionsHealthCheckLoop(ctx context.Context) {
	e.armOptionsHealthCheck(ctx)
	<-ctx.Done()
	e.timers.Cancel(timerreg.TimerHealthCheck)
}

func (e *Engine) armOptionsHealthCheck(ctx context.Context) {
	e.timers.Set(timerreg.TimerHealthCheck, optionsHealthCheckInterval, func() {
		e.fireOptionsHealthCheck(ctx)
	})
}

func (e *Engine) fireOptionsHealthCheck(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if e.record.Status().State == StateRegistered {
		if err := e.sendOptionsPing(ctx); err != nil {
			e.log.Warn("options health check failed", "error", err)
		}
	}
	e.armOptionsHealthCheck(ctx)
}

func (e *Engine) sendOptionsPing(ctx context.Context) error {
	recipientURI := fmt.Sprintf("sip:%s", e.record.Server)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientURI, &recipient); err != nil {
		return fmt.Errorf("registrar: parsing options recipient uri: %w", err)
	}
	req := sip.NewRequest(sip.OPTIONS, recipient)
	req.SetTransport("UDP")

	pingCtx, cancel := context.WithTimeout(ctx, optionsHealthCheckTimeout)
	defer cancel()

	res, err := e.send(pingCtx, req)
	if err != nil {
		return fmt.Errorf("registrar: sending options ping: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("registrar: options ping returned %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

// selfLivenessLoop reports ALIVE/DEGRADED every 5s per spec.md §4.3,
// triggering an immediate re-registration whenever the record is DEGRADED.
func (e *Engine) selfLivenessLoop(ctx context.Context) {
	ticker := time.NewTicker(selfLivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.checkLiveness()
		}
	}
}

// checkLiveness implements the spec's liveness predicate: ALIVE iff the
// record is REGISTERED with a still-fresh success timestamp, or
// REGISTERING for no more than registeringStuckThreshold. The engine's
// background loops only run while the process's SIP listener is up, so
// "socket is open" is implied by this loop itself still being scheduled.
func (e *Engine) checkLiveness() {
	snap := e.record.Status()
	now := time.Now()

	alive := false
	switch snap.State {
	case StateRegistered:
		alive = snap.Expires > 0 && now.Sub(snap.LastOK) < time.Duration(snap.Expires)*time.Second
	case StateRegistering:
		alive = now.Sub(e.record.registeringSince()) <= registeringStuckThreshold
	}

	state := events.RegistrationAlive
	if !alive {
		state = events.RegistrationDegraded
	}
	if e.bus != nil {
		e.bus.PublishRegistration(events.RegistrationStatus{
			State:   state,
			At:      now,
			Expires: snap.Expires,
			Attempt: snap.Attempt,
		})
	}
	if !alive {
		e.log.Warn("registration liveness degraded", "state", snap.State)
		e.triggerReregister()
	}
}

// registerOnce performs one full registration cycle: initial REGISTER,
// and, if challenged, a second REGISTER carrying Authorization with a
// freshly generated Call-ID per spec (this matches widely observed real
// client behavior and avoids server-side replay ambiguity across the
// challenge/response pair).
func (e *Engine) registerOnce(ctx context.Context) (int, error) {
	callID := newCallID()
	e.record.markRegistering(callID)

	req, recipientURI, err := e.buildRegister(callID, e.record.nextCSeq())
	if err != nil {
		return 0, err
	}

	res, err := e.send(ctx, req)
	if err != nil {
		return 0, err
	}

	if res.StatusCode == 401 || res.StatusCode == 407 {
		chal, _, err := sipmsg.ParseChallenge(res)
		if err != nil {
			return 0, err
		}

		authCallID := newCallID()
		e.record.markRegistering(authCallID)
		authReq, _, err := e.buildRegister(authCallID, e.record.nextCSeq())
		if err != nil {
			return 0, err
		}

		cred, err := sipmsg.BuildAuthorization(chal, sip.REGISTER.String(), recipientURI, e.authUser(), e.record.Secret)
		if err != nil {
			return 0, err
		}
		authReq.AppendHeader(sip.NewHeader(sipmsg.AuthorizationHeaderName(res.StatusCode), cred))

		res, err = e.send(ctx, authReq)
		if err != nil {
			return 0, err
		}
	}

	if res.StatusCode != 200 {
		return 0, fmt.Errorf("registrar: REGISTER rejected: %d %s", res.StatusCode, res.Reason)
	}

	return grantedExpires(res, DefaultExpires), nil
}

func (e *Engine) authUser() string { return e.authUsername }

func (e *Engine) buildRegister(callID string, cseq uint32) (*sip.Request, string, error) {
	recipientURI := fmt.Sprintf("sip:%s", e.record.Server)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientURI, &recipient); err != nil {
		return nil, "", fmt.Errorf("registrar: parsing recipient uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetTransport("UDP")

	aor := fmt.Sprintf("<sip:%s@%s>", e.record.Extension, e.record.Server)
	req.AppendHeader(sip.NewHeader("From", aor+fmt.Sprintf(";tag=%s", newTag())))
	req.AppendHeader(sip.NewHeader("To", aor))
	req.AppendHeader(sip.NewHeader("Call-ID", callID))
	req.AppendHeader(sip.NewHeader("CSeq", fmt.Sprintf("%d %s", cseq, sip.REGISTER.String())))
	req.AppendHeader(sip.NewHeader("Contact", fmt.Sprintf("<sip:%s@%s:%d>", e.record.Extension, e.contactHost, e.contactPort)))
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(DefaultExpires)))
	req.AppendHeader(sip.NewHeader("Max-Forwards", "70"))

	return req, recipientURI, nil
}

func (e *Engine) send(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	tx, err := e.client.TransactionRequest(ctx, req, sipgo.ClientRequestAddVia)
	if err != nil {
		return nil, fmt.Errorf("registrar: sending request: %w", err)
	}
	defer tx.Terminate()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tx.Done():
		return nil, fmt.Errorf("registrar: transaction terminated: %w", tx.Err())
	case res := <-tx.Responses():
		return res, nil
	}
}

// grantedExpires extracts the server-granted expiry from a 200 OK,
// preferring the Contact header's expires parameter over the Expires
// header, per RFC 3261 §10.2.4 (the registrar may shorten the requested
// value).
func grantedExpires(res *sip.Response, fallback int) int {
	if c := res.GetHeader("Contact"); c != nil {
		if v := parseContactExpires(c.Value()); v > 0 {
			return v
		}
	}
	if e := res.GetHeader("Expires"); e != nil {
		if v, err := strconv.Atoi(strings.TrimSpace(e.Value())); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func parseContactExpires(contactValue string) int {
	lower := strings.ToLower(contactValue)
	idx := strings.Index(lower, ";expires=")
	if idx < 0 {
		return 0
	}
	rest := contactValue[idx+len(";expires="):]
	if end := strings.IndexAny(rest, ";,> \t"); end > 0 {
		rest = rest[:end]
	}
	v, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0
	}
	return v
}

func newCallID() string {
	return newTag() + "@sipaivoice"
}

func newTag() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
