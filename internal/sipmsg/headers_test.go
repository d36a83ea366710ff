package sipmsg

import (
	"testing"

	"github.com/emiago/sipgo/sip"
)

func newTestRequest(method sip.RequestMethod) *sip.Request {
	return sip.NewRequest(method, sip.Uri{Host: "sip.example.com"})
}

func TestTagExtractsFromHeaderValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"simple", "<sip:alice@203.0.113.10>;tag=abc123", "abc123"},
		{"trailing params", "<sip:alice@203.0.113.10>;tag=abc123;other=x", "abc123"},
		{"no tag", "<sip:alice@203.0.113.10>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Tag(tt.value); got != tt.want {
				t.Errorf("Tag(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestFromTagAndToTag(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	req.AppendHeader(sip.NewHeader("From", "<sip:alice@203.0.113.10>;tag=fromtag"))
	req.AppendHeader(sip.NewHeader("To", "<sip:bob@203.0.113.11>;tag=totag"))

	if got := FromTag(req); got != "fromtag" {
		t.Errorf("FromTag = %q, want fromtag", got)
	}
	if got := ToTag(req); got != "totag" {
		t.Errorf("ToTag = %q, want totag", got)
	}
}

func TestFromTagAbsentHeaderReturnsEmpty(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	if got := FromTag(req); got != "" {
		t.Errorf("FromTag = %q, want empty for missing header", got)
	}
}

func TestRequestAnswerMode(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   AnswerMode
	}{
		{"answer-mode auto", "Answer-Mode", "Auto", AnswerModeAuto},
		{"answer-mode case insensitive", "Answer-Mode", "AUTO", AnswerModeAuto},
		{"priv-answer-mode auto", "Priv-Answer-Mode", "Auto", AnswerModeAuto},
		{"manual value", "Answer-Mode", "Manual", AnswerModeManual},
		{"absent", "", "", AnswerModeManual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newTestRequest(sip.INVITE)
			if tt.header != "" {
				req.AppendHeader(sip.NewHeader(tt.header, tt.value))
			}
			if got := RequestAnswerMode(req); got != tt.want {
				t.Errorf("RequestAnswerMode = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestAnswerModePrivPrecedesPublic(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	req.AppendHeader(sip.NewHeader("Priv-Answer-Mode", "Auto"))
	req.AppendHeader(sip.NewHeader("Answer-Mode", "Manual"))

	if got := RequestAnswerMode(req); got != AnswerModeAuto {
		t.Errorf("RequestAnswerMode = %v, want AnswerModeAuto when Priv-Answer-Mode wins", got)
	}
}

func TestParseSessionExpires(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	req.AppendHeader(sip.NewHeader("Session-Expires", "1800;refresher=uac"))

	se, ok := ParseSessionExpires(req)
	if !ok {
		t.Fatal("expected ParseSessionExpires to succeed")
	}
	if se.Seconds != 1800 {
		t.Errorf("Seconds = %d, want 1800", se.Seconds)
	}
	if se.Refresher != "uac" {
		t.Errorf("Refresher = %q, want uac", se.Refresher)
	}
}

func TestParseSessionExpiresWithoutRefresher(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	req.AppendHeader(sip.NewHeader("Session-Expires", "600"))

	se, ok := ParseSessionExpires(req)
	if !ok {
		t.Fatal("expected ParseSessionExpires to succeed")
	}
	if se.Seconds != 600 || se.Refresher != "" {
		t.Errorf("got %+v, want Seconds=600 Refresher=\"\"", se)
	}
}

func TestParseSessionExpiresAbsentHeader(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	if _, ok := ParseSessionExpires(req); ok {
		t.Fatal("expected ok=false when Session-Expires header is missing")
	}
}

func TestParseSessionExpiresMalformed(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	req.AppendHeader(sip.NewHeader("Session-Expires", "not-a-number"))
	if _, ok := ParseSessionExpires(req); ok {
		t.Fatal("expected ok=false for a malformed Session-Expires value")
	}
}

func TestHasSDPBody(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if !HasSDPBody(req) {
		t.Error("expected HasSDPBody to be true for application/sdp")
	}
}

func TestHasSDPBodyFalseForOtherType(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	req.AppendHeader(sip.NewHeader("Content-Type", "text/plain"))
	if HasSDPBody(req) {
		t.Error("expected HasSDPBody to be false for text/plain")
	}
}

func TestHasSDPBodyFalseWhenAbsent(t *testing.T) {
	req := newTestRequest(sip.INVITE)
	if HasSDPBody(req) {
		t.Error("expected HasSDPBody to be false when Content-Type is absent")
	}
}
