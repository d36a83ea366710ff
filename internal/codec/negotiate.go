package codec

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoCommonCodec indicates an SDP offer contained no payload type this
// system can serve (only PCMU/PCMA are supported). Callers translate this
// into a 488 Not Acceptable Here response.
var ErrNoCommonCodec = errors.New("codec: no mutually supported codec in offer")

// NegotiateCodec picks the payload type to answer with: the first payload
// type in the offer's m=audio format list that we support (PCMU or PCMA),
// preserving the offerer's stated preference order. Returns ErrNoCommonCodec
// if neither appears.
func NegotiateCodec(m *MediaDescription) (int, error) {
	for _, pt := range m.Formats {
		if pt == PayloadPCMU || pt == PayloadPCMA {
			return pt, nil
		}
	}
	return 0, ErrNoCommonCodec
}

// RemoteAudioAddr resolves the remote RTP address advertised in an SDP
// offer: the media-level connection address if present, falling back to
// the session-level one, paired with the m=audio port.
func RemoteAudioAddr(sd *SessionDescription) (*net.UDPAddr, error) {
	m := sd.AudioMedia()
	if m == nil {
		return nil, fmt.Errorf("sdp: no audio media section")
	}
	host := sd.ConnectionAddress(m)
	if host == "" {
		return nil, fmt.Errorf("sdp: no connection address for audio media")
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("sdp: invalid connection address %q", host)
	}
	return &net.UDPAddr{IP: ip, Port: m.Port}, nil
}

// codecName maps a supported payload type to its SDP rtpmap encoding name.
func codecName(pt int) string {
	if pt == PayloadPCMA {
		return "PCMA"
	}
	return "PCMU"
}

// BuildAnswer renders the minimum SDP answer template this system emits:
// one audio m= line advertising the negotiated codec at 8000Hz, bound to
// localIP:rtpPort, with a=sendrecv. sessID should be stable for the life of
// the dialog; sessVersion increments on each re-offer (unused for the
// initial answer, where 0 is conventional).
func BuildAnswer(localIP string, rtpPort int, payloadType int, sessID, sessVersion string) []byte {
	pt := fmt.Sprintf("%d", payloadType)
	body := "v=0\r\n" +
		fmt.Sprintf("o=- %s %s IN IP4 %s\r\n", sessID, sessVersion, localIP) +
		"s=-\r\n" +
		fmt.Sprintf("c=IN IP4 %s\r\n", localIP) +
		"t=0 0\r\n" +
		fmt.Sprintf("m=audio %d RTP/AVP %s\r\n", rtpPort, pt) +
		fmt.Sprintf("a=rtpmap:%s %s/8000\r\n", pt, codecName(payloadType)) +
		"a=sendrecv\r\n"
	return []byte(body)
}
