package codec

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed RTP header size with no CSRCs or extensions.
	HeaderSize = 12

	// Version is the only RTP protocol version this package understands.
	Version = 2

	// SamplesPerPacket is the number of 8 kHz samples carried by one 20ms
	// G.711 RTP packet.
	SamplesPerPacket = 160

	// TimestampIncrement is the RTP timestamp step per packet at 8 kHz
	// with 20ms ptime (8000 * 0.020).
	TimestampIncrement = 160
)

// Header is a parsed RTP header (RFC 3550 §5.1). Only the fixed 12-byte
// fields are modeled; CSRC list and header extensions are neither produced
// nor required by this system.
type Header struct {
	Marker         bool
	PayloadType    int
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRCCount      int
	HasExtension   bool
}

// BuildHeader writes a 12-byte RTP header into buf, which must be at least
// HeaderSize bytes long.
func BuildHeader(buf []byte, h Header) {
	buf[0] = Version << 6
	buf[1] = byte(h.PayloadType & 0x7F)
	if h.Marker {
		buf[1] |= 0x80
	}
	binary.BigEndian.PutUint16(buf[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
}

// ParseHeader parses the fixed RTP header from pkt. It rejects packets
// shorter than HeaderSize or carrying a version other than 2, and accounts
// for the CSRC count and extension bit when reporting the payload offset.
func ParseHeader(pkt []byte) (Header, int, error) {
	if len(pkt) < HeaderSize {
		return Header{}, 0, fmt.Errorf("rtp: packet too short (%d bytes)", len(pkt))
	}
	version := pkt[0] >> 6
	if version != Version {
		return Header{}, 0, fmt.Errorf("rtp: unsupported version %d", version)
	}
	cc := int(pkt[0] & 0x0F)
	hasExt := pkt[0]&0x10 != 0

	h := Header{
		Marker:         pkt[1]&0x80 != 0,
		PayloadType:    int(pkt[1] & 0x7F),
		SequenceNumber: binary.BigEndian.Uint16(pkt[2:4]),
		Timestamp:      binary.BigEndian.Uint32(pkt[4:8]),
		SSRC:           binary.BigEndian.Uint32(pkt[8:12]),
		CSRCCount:      cc,
		HasExtension:   hasExt,
	}

	offset := HeaderSize + cc*4
	if offset > len(pkt) {
		return Header{}, 0, fmt.Errorf("rtp: csrc count %d overruns packet", cc)
	}
	if hasExt {
		if offset+4 > len(pkt) {
			return Header{}, 0, fmt.Errorf("rtp: truncated extension header")
		}
		extLenWords := int(binary.BigEndian.Uint16(pkt[offset+2 : offset+4]))
		offset += 4 + extLenWords*4
		if offset > len(pkt) {
			return Header{}, 0, fmt.Errorf("rtp: extension overruns packet")
		}
	}

	return h, offset, nil
}

// PayloadType extracts just the payload type byte from a packet without
// fully parsing the header. Returns -1 if the packet is too small to be
// valid RTP. Used on the hot path to filter unwanted payload types before
// committing to a full parse.
func PayloadType(pkt []byte) int {
	if len(pkt) < HeaderSize {
		return -1
	}
	return int(pkt[1] & 0x7F)
}
