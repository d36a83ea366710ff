// Package sipmsg provides typed accessors over sipgo's sip.Request/Response
// for the header fields this bridge cares about: tags, Answer-Mode,
// Session-Expires, and WWW-Authenticate challenge parameters.
package sipmsg

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

var tagRe = regexp.MustCompile(`tag=([^;\s,]+)`)

// Tag extracts the tag parameter from a To/From header value. Returns ""
// if the header has no tag.
func Tag(headerValue string) string {
	m := tagRe.FindStringSubmatch(headerValue)
	if m == nil {
		return ""
	}
	return m[1]
}

// FromTag returns the tag on the request's From header, or "" if absent.
func FromTag(req *sip.Request) string {
	h := req.GetHeader("From")
	if h == nil {
		return ""
	}
	return Tag(h.Value())
}

// ToTag returns the tag on the request's To header, or "" if absent.
func ToTag(req *sip.Request) string {
	h := req.GetHeader("To")
	if h == nil {
		return ""
	}
	return Tag(h.Value())
}

// AnswerMode classifies the auto-answer hint a caller may request per
// RFC 5373.
type AnswerMode int

const (
	// AnswerModeManual is the default: no auto-answer hint present.
	AnswerModeManual AnswerMode = iota
	// AnswerModeAuto means Answer-Mode or Priv-Answer-Mode carried "Auto".
	AnswerModeAuto
)

// RequestAnswerMode inspects the Answer-Mode and Priv-Answer-Mode headers.
// Priv-Answer-Mode is checked first since it is the privileged (trusted
// network) variant and takes precedence when both are present.
func RequestAnswerMode(req *sip.Request) AnswerMode {
	if h := req.GetHeader("Priv-Answer-Mode"); h != nil && strings.EqualFold(strings.TrimSpace(h.Value()), "Auto") {
		return AnswerModeAuto
	}
	if h := req.GetHeader("Answer-Mode"); h != nil && strings.EqualFold(strings.TrimSpace(h.Value()), "Auto") {
		return AnswerModeAuto
	}
	return AnswerModeManual
}

// SessionExpires is the parsed content of an RFC 4028 Session-Expires header.
type SessionExpires struct {
	Seconds   int
	Refresher string // "uac", "uas", or "" if not specified
}

// ParseSessionExpires parses a "Session-Expires: 1800;refresher=uac" header
// value. Returns ok=false if the header is missing or malformed.
func ParseSessionExpires(req *sip.Request) (SessionExpires, bool) {
	h := req.GetHeader("Session-Expires")
	if h == nil {
		return SessionExpires{}, false
	}
	parts := strings.Split(h.Value(), ";")
	seconds, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return SessionExpires{}, false
	}
	se := SessionExpires{Seconds: seconds}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if name, val, found := strings.Cut(p, "="); found && strings.EqualFold(name, "refresher") {
			se.Refresher = strings.ToLower(val)
		}
	}
	return se, true
}

// HasSDPBody reports whether the request's Content-Type is application/sdp.
func HasSDPBody(req *sip.Request) bool {
	ct := req.GetHeader("Content-Type")
	if ct == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(ct.Value()), "application/sdp")
}
