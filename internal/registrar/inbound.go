package registrar

import (
	"log/slog"

	"github.com/emiago/sipgo/sip"
)

// allowedMethods is advertised in response to incoming OPTIONS/NOTIFY
// keepalive pings, grounded on server.go's handleOptions. Unknown methods
// are answered 405 by sipgo's own unhandled-method fallback, so only the
// two explicitly-named methods need a handler here.
const allowedMethods = "INVITE, ACK, CANCEL, BYE, REGISTER, OPTIONS, NOTIFY"

// HandleOptions responds to inbound SIP OPTIONS (keepalive pings from the
// upstream registrar or other peers) with 200 OK and the bridge's
// supported methods/content types, per spec.md §4.3.
func HandleOptions(logger *slog.Logger) func(req *sip.Request, tx sip.ServerTransaction) {
	return func(req *sip.Request, tx sip.ServerTransaction) {
		respondKeepAlive(logger, "options", req, tx)
	}
}

// HandleNotify responds to inbound SIP NOTIFY the same way OPTIONS is
// answered: this bridge does not subscribe to anything, so any NOTIFY it
// receives is an unsolicited keepalive/probe and gets a bare 200 OK.
func HandleNotify(logger *slog.Logger) func(req *sip.Request, tx sip.ServerTransaction) {
	return func(req *sip.Request, tx sip.ServerTransaction) {
		respondKeepAlive(logger, "notify", req, tx)
	}
}

func respondKeepAlive(logger *slog.Logger, kind string, req *sip.Request, tx sip.ServerTransaction) {
	logger.Debug("sip "+kind+" received", "source", req.Source())

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", allowedMethods))
	if err := tx.Respond(res); err != nil {
		logger.Error("failed to respond to sip "+kind, "error", err)
	}
}
