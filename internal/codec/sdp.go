package codec

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// SDP field-type prefixes per RFC 4566.
const (
	sdpVersion    = "v="
	sdpOrigin     = "o="
	sdpSession    = "s="
	sdpConnection = "c="
	sdpTime       = "t="
	sdpMedia      = "m="
	sdpAttribute  = "a="
)

// Connection holds SDP connection data from a c= line:
// c=<nettype> <addrtype> <connection-address>
type Connection struct {
	NetType  string
	AddrType string
	Address  string
}

func (c Connection) String() string {
	return c.NetType + " " + c.AddrType + " " + c.Address
}

// Origin holds SDP origin data from an o= line:
// o=<username> <sess-id> <sess-version> <nettype> <addrtype> <unicast-address>
type Origin struct {
	Username       string
	SessionID      string
	SessionVersion string
	NetType        string
	AddrType       string
	Address        string
}

func (o Origin) String() string {
	return o.Username + " " + o.SessionID + " " + o.SessionVersion + " " +
		o.NetType + " " + o.AddrType + " " + o.Address
}

// Codec is a single a=rtpmap entry.
type Codec struct {
	PayloadType int
	Name        string
	ClockRate   int
	Channels    int
	Fmtp        string
}

// MediaDescription holds one parsed m= section and its attributes.
type MediaDescription struct {
	Type       string
	Port       int
	NumPorts   int
	Proto      string
	Formats    []int
	Connection *Connection
	Codecs     []Codec
	Attributes []string
	Direction  string
}

// CodecByPayloadType returns the codec with the given payload type, or nil.
func (m *MediaDescription) CodecByPayloadType(pt int) *Codec {
	for i := range m.Codecs {
		if m.Codecs[i].PayloadType == pt {
			return &m.Codecs[i]
		}
	}
	return nil
}

// SessionDescription holds a fully parsed SDP session.
type SessionDescription struct {
	Version     int
	Origin      Origin
	SessionName string
	Connection  *Connection
	Time        string
	Media       []MediaDescription
	Attributes  []string
}

// AudioMedia returns the first audio media description, or nil if none.
func (s *SessionDescription) AudioMedia() *MediaDescription {
	for i := range s.Media {
		if s.Media[i].Type == "audio" {
			return &s.Media[i]
		}
	}
	return nil
}

// ConnectionAddress returns the effective connection address for a media
// description, preferring the media-level c= line over the session-level one.
func (s *SessionDescription) ConnectionAddress(m *MediaDescription) string {
	if m != nil && m.Connection != nil {
		return m.Connection.Address
	}
	if s.Connection != nil {
		return s.Connection.Address
	}
	return ""
}

// ParseSDP parses an SDP body into a SessionDescription.
func ParseSDP(data []byte) (*SessionDescription, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	lines := strings.Split(text, "\n")

	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil, fmt.Errorf("sdp: empty body")
	}

	sd := &SessionDescription{}
	var currentMedia *MediaDescription

	for _, line := range lines {
		if len(line) < 2 || line[1] != '=' {
			continue
		}

		switch {
		case strings.HasPrefix(line, sdpVersion):
			v, err := strconv.Atoi(line[2:])
			if err != nil {
				return nil, fmt.Errorf("sdp: invalid version: %w", err)
			}
			sd.Version = v

		case strings.HasPrefix(line, sdpOrigin):
			o, err := parseOrigin(line[2:])
			if err != nil {
				return nil, fmt.Errorf("sdp: invalid origin: %w", err)
			}
			sd.Origin = o

		case strings.HasPrefix(line, sdpSession):
			sd.SessionName = line[2:]

		case strings.HasPrefix(line, sdpConnection):
			c, err := parseConnection(line[2:])
			if err != nil {
				return nil, fmt.Errorf("sdp: invalid connection: %w", err)
			}
			if currentMedia != nil {
				currentMedia.Connection = &c
			} else {
				sd.Connection = &c
			}

		case strings.HasPrefix(line, sdpTime):
			sd.Time = line[2:]

		case strings.HasPrefix(line, sdpMedia):
			md, err := parseMediaLine(line[2:])
			if err != nil {
				return nil, fmt.Errorf("sdp: invalid media line: %w", err)
			}
			sd.Media = append(sd.Media, md)
			currentMedia = &sd.Media[len(sd.Media)-1]

		case strings.HasPrefix(line, sdpAttribute):
			attr := line[2:]
			if currentMedia != nil {
				currentMedia.Attributes = append(currentMedia.Attributes, attr)
				parseMediaAttribute(currentMedia, attr)
			} else {
				sd.Attributes = append(sd.Attributes, attr)
			}
		}
	}

	return sd, nil
}

func parseConnection(value string) (Connection, error) {
	parts := strings.Fields(value)
	if len(parts) < 3 {
		return Connection{}, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}
	addr := parts[2]
	if idx := strings.Index(addr, "/"); idx >= 0 {
		addr = addr[:idx]
	}
	if net.ParseIP(addr) == nil {
		return Connection{}, fmt.Errorf("invalid ip address %q", addr)
	}
	return Connection{NetType: parts[0], AddrType: parts[1], Address: addr}, nil
}

func parseOrigin(value string) (Origin, error) {
	parts := strings.Fields(value)
	if len(parts) < 6 {
		return Origin{}, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}
	return Origin{
		Username:       parts[0],
		SessionID:      parts[1],
		SessionVersion: parts[2],
		NetType:        parts[3],
		AddrType:       parts[4],
		Address:        parts[5],
	}, nil
}

func parseMediaLine(value string) (MediaDescription, error) {
	parts := strings.Fields(value)
	if len(parts) < 4 {
		return MediaDescription{}, fmt.Errorf("expected at least 4 fields, got %d", len(parts))
	}

	md := MediaDescription{Type: parts[0], Proto: parts[2], Direction: "sendrecv"}

	portStr := parts[1]
	if idx := strings.Index(portStr, "/"); idx >= 0 {
		n, err := strconv.Atoi(portStr[idx+1:])
		if err != nil {
			return MediaDescription{}, fmt.Errorf("invalid port count: %w", err)
		}
		md.NumPorts = n
		portStr = portStr[:idx]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return MediaDescription{}, fmt.Errorf("invalid port: %w", err)
	}
	md.Port = port

	for _, f := range parts[3:] {
		pt, err := strconv.Atoi(f)
		if err != nil {
			return MediaDescription{}, fmt.Errorf("invalid payload type %q: %w", f, err)
		}
		md.Formats = append(md.Formats, pt)
	}

	return md, nil
}

func parseMediaAttribute(md *MediaDescription, attr string) {
	switch {
	case strings.HasPrefix(attr, "rtpmap:"):
		c, err := parseRtpmap(attr[7:])
		if err == nil {
			for i := range md.Codecs {
				if md.Codecs[i].PayloadType == c.PayloadType {
					c.Fmtp = md.Codecs[i].Fmtp
					md.Codecs[i] = c
					return
				}
			}
			md.Codecs = append(md.Codecs, c)
		}

	case strings.HasPrefix(attr, "fmtp:"):
		pt, params, ok := parseFmtp(attr[5:])
		if ok {
			for i := range md.Codecs {
				if md.Codecs[i].PayloadType == pt {
					md.Codecs[i].Fmtp = params
					return
				}
			}
			md.Codecs = append(md.Codecs, Codec{PayloadType: pt, Fmtp: params})
		}

	case attr == "sendrecv" || attr == "sendonly" || attr == "recvonly" || attr == "inactive":
		md.Direction = attr
	}
}

func parseRtpmap(value string) (Codec, error) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return Codec{}, fmt.Errorf("expected '<pt> <encoding>', got %q", value)
	}
	pt, err := strconv.Atoi(parts[0])
	if err != nil {
		return Codec{}, fmt.Errorf("invalid payload type: %w", err)
	}
	encParts := strings.Split(parts[1], "/")
	if len(encParts) < 2 {
		return Codec{}, fmt.Errorf("expected '<name>/<rate>', got %q", parts[1])
	}
	clockRate, err := strconv.Atoi(encParts[1])
	if err != nil {
		return Codec{}, fmt.Errorf("invalid clock rate: %w", err)
	}
	c := Codec{PayloadType: pt, Name: encParts[0], ClockRate: clockRate}
	if len(encParts) >= 3 {
		if ch, err := strconv.Atoi(encParts[2]); err == nil {
			c.Channels = ch
		}
	}
	return c, nil
}

func parseFmtp(value string) (int, string, bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) < 2 {
		return 0, "", false
	}
	pt, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return pt, parts[1], true
}
