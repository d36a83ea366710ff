package codec

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync/atomic"
	"time"
)

// packetDuration is the wall-clock spacing between successive RTP packets
// for 8 kHz G.711 at 20ms ptime.
const packetDuration = 20 * time.Millisecond

// maxBufferedPackets bounds how much audio the pacer will hold before it
// starts dropping the oldest frame, per the 40ms backpressure rule: at
// 20ms/packet this is two packets of slack beyond the one in flight.
const maxBufferedPackets = 2

// Pacer paces outbound RTP packets for one session at a strict 20ms
// cadence, incrementing sequence number and timestamp monotonically and
// holding SSRC constant for the session's lifetime. It owns a bounded
// internal queue so producers (the AI client decoding response.audio.delta)
// never block on the network.
type Pacer struct {
	conn   *net.UDPConn
	remote atomic.Pointer[net.UDPAddr]
	logger *slog.Logger

	payloadType int
	ssrc        uint32
	seq         uint16
	ts          uint32

	in   chan []byte
	done chan struct{}
}

// NewPacer creates a pacer bound to conn, sending to remote, encoding the
// given RTP payload type. SSRC, initial sequence number, and initial
// timestamp are drawn at random per spec: each session gets an
// unpredictable starting point.
func NewPacer(conn *net.UDPConn, remote *net.UDPAddr, payloadType int, logger *slog.Logger) *Pacer {
	p := &Pacer{
		conn:        conn,
		logger:      logger.With("subsystem", "rtp-pacer"),
		payloadType: payloadType,
		ssrc:        rand.Uint32(),
		seq:         uint16(rand.UintN(65536)),
		ts:          rand.Uint32(),
		in:          make(chan []byte, maxBufferedPackets+1),
		done:        make(chan struct{}),
	}
	p.remote.Store(remote)
	return p
}

// SetRemote updates the destination address packets are sent to, letting
// symmetric RTP learning correct the SDP-negotiated address once the far
// end's actual source address is observed. Safe to call from any goroutine;
// Run reloads it each tick.
func (p *Pacer) SetRemote(addr *net.UDPAddr) {
	p.remote.Store(addr)
}

// Enqueue submits one 160-byte G.711 payload for transmission. If the
// internal queue is already full, the oldest queued payload is dropped to
// make room — the far end cannot use stale audio, per the backpressure
// rule in the concurrency model.
func (p *Pacer) Enqueue(payload []byte) {
	for {
		select {
		case p.in <- payload:
			return
		default:
		}
		select {
		case <-p.in:
			p.logger.Debug("rtp pacer dropped oldest buffered frame under backpressure")
		default:
			return
		}
	}
}

// Run drains the queue at 20ms cadence until ctx is cancelled or Stop is
// called. It paces using wall-clock deadlines (not a naive sleep-per-packet
// loop) so that processing jitter does not accumulate drift across a long
// call, the same technique the pacing comment in the teacher's player used.
func (p *Pacer) Run(ctx context.Context) {
	ticker := time.NewTicker(packetDuration)
	defer ticker.Stop()

	pkt := make([]byte, HeaderSize+SamplesPerPacket)
	marker := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
		}

		var payload []byte
		select {
		case payload = <-p.in:
		default:
			continue // nothing buffered this tick; no silence insertion
		}

		BuildHeader(pkt[:HeaderSize], Header{
			Marker:         marker,
			PayloadType:    p.payloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.ts,
			SSRC:           p.ssrc,
		})
		marker = false
		n := copy(pkt[HeaderSize:], payload)

		if _, err := p.conn.WriteToUDP(pkt[:HeaderSize+n], p.remote.Load()); err != nil {
			p.logger.Debug("rtp send failed", "error", err)
		}

		p.seq++
		p.ts += TimestampIncrement
	}
}

// Stop halts the pacer goroutine.
func (p *Pacer) Stop() {
	close(p.done)
}

// SSRC returns the session's constant SSRC, useful for tests asserting on
// packet identity across the stream.
func (p *Pacer) SSRC() uint32 { return p.ssrc }
