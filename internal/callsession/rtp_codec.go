package callsession

import "github.com/sipaivoice/bridge/internal/codec"

// rtpPayload strips the RTP header from a raw datagram, returning the
// encoded G.711 payload unchanged. The AI realtime session is configured
// for g711_ulaw/g711_alaw input so no transcoding happens on this path.
func rtpPayload(packet []byte) ([]byte, error) {
	_, offset, err := codec.ParseHeader(packet)
	if err != nil {
		return nil, err
	}
	return packet[offset:], nil
}
