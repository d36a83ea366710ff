package codec

import "testing"

func TestMulawRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 32000, -32000, 32635, -32635}
	for _, want := range samples {
		enc := linearToUlaw[uint16(want)]
		got := ulawToLinear[enc]
		diff := int(got) - int(want)
		if diff < 0 {
			diff = -diff
		}
		// Quantization error grows with magnitude; allow half a quantization
		// step, scaled to the sample's exponent band rather than a fixed bound.
		mag := int(want)
		if mag < 0 {
			mag = -mag
		}
		maxErr := 4 // half the step of the lowest band
		for band := (mag + 0x84) >> 8; band > 0; band >>= 1 {
			maxErr <<= 1
		}
		if diff > maxErr {
			t.Errorf("mulaw round trip for %d: got %d, error %d exceeds %d", want, got, diff, maxErr)
		}
	}
}

func TestAlawRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 32000, -32000}
	for _, want := range samples {
		enc := linearToAlaw[uint16(want)]
		got := alawToLinear[enc]
		diff := int(got) - int(want)
		if diff < 0 {
			diff = -diff
		}
		if diff > 1<<8 {
			t.Errorf("alaw round trip for %d: got %d, error %d", want, got, diff)
		}
	}
}

func TestMulawSilence(t *testing.T) {
	// 0xFF is the conventional mu-law silence byte.
	got := ulawToLinear[0xFF]
	if got < -10 || got > 10 {
		t.Errorf("mulaw silence byte decoded to %d, want near 0", got)
	}
}

func TestDecodeEncodeDispatch(t *testing.T) {
	in := []byte{0xFF, 0x7F, 0x00}
	pcm, err := Decode(PayloadPCMU, in)
	if err != nil {
		t.Fatalf("Decode(PCMU) error: %v", err)
	}
	if len(pcm) != len(in) {
		t.Fatalf("Decode(PCMU) length = %d, want %d", len(pcm), len(in))
	}
	back, err := Encode(PayloadPCMU, pcm)
	if err != nil {
		t.Fatalf("Encode(PCMU) error: %v", err)
	}
	if len(back) != len(in) {
		t.Fatalf("Encode(PCMU) length = %d, want %d", len(back), len(in))
	}

	if _, err := Decode(111, in); err == nil {
		t.Error("Decode with unsupported payload type should error")
	}
	if _, err := Encode(111, pcm); err == nil {
		t.Error("Encode with unsupported payload type should error")
	}
}
