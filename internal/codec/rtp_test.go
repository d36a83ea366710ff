package codec

import "testing"

func TestBuildParseHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderSize+SamplesPerPacket)
	want := Header{
		Marker:         true,
		PayloadType:    PayloadPCMU,
		SequenceNumber: 1000,
		Timestamp:      160000,
		SSRC:           0xdeadbeef,
	}
	BuildHeader(buf[:HeaderSize], want)

	got, offset, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("ParseHeader error: %v", err)
	}
	if offset != HeaderSize {
		t.Errorf("offset = %d, want %d", offset, HeaderSize)
	}
	if got != want {
		t.Errorf("parsed header = %+v, want %+v", got, want)
	}
}

func TestParseHeaderRejectsShortPacket(t *testing.T) {
	if _, _, err := ParseHeader(make([]byte, 11)); err == nil {
		t.Error("expected error for 11-byte packet")
	}
}

func TestParseHeaderRejectsBadVersion(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 0x40 // version 1
	if _, _, err := ParseHeader(buf); err == nil {
		t.Error("expected error for version != 2")
	}
}

func TestPayloadTypeFast(t *testing.T) {
	buf := make([]byte, HeaderSize)
	BuildHeader(buf, Header{PayloadType: PayloadPCMA, Marker: true})
	if pt := PayloadType(buf); pt != PayloadPCMA {
		t.Errorf("PayloadType = %d, want %d", pt, PayloadPCMA)
	}
	if pt := PayloadType(make([]byte, 4)); pt != -1 {
		t.Errorf("PayloadType on short packet = %d, want -1", pt)
	}
}

func TestSequenceProgression(t *testing.T) {
	// S4/invariant 6: sequence numbers increment by 1 and wrap mod 2^16;
	// timestamps advance by TimestampIncrement (160) per packet.
	buf := make([]byte, HeaderSize)
	seq := uint16(65534)
	ts := uint32(0)
	for i := 0; i < 4; i++ {
		BuildHeader(buf, Header{SequenceNumber: seq, Timestamp: ts, PayloadType: PayloadPCMU})
		h, _, err := ParseHeader(append(buf, make([]byte, SamplesPerPacket)...))
		if err != nil {
			t.Fatalf("ParseHeader: %v", err)
		}
		if h.SequenceNumber != seq {
			t.Errorf("packet %d: sequence = %d, want %d", i, h.SequenceNumber, seq)
		}
		if h.Timestamp != ts {
			t.Errorf("packet %d: timestamp = %d, want %d", i, h.Timestamp, ts)
		}
		seq++
		ts += TimestampIncrement
	}
}
