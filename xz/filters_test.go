package xz

import "testing"

func TestValidateChainRequiresLZMA2Last(t *testing.T) {
	err := ValidateChain([]FilterSpec{
		{ID: FilterLZMA2, Props: []byte{0}},
		{ID: FilterX86},
	})
	if err == nil {
		t.Fatalf("expected error when lzma2 is not last")
	}
}

func TestValidateChainAcceptsDeltaThenLZMA2(t *testing.T) {
	err := ValidateChain([]FilterSpec{
		{ID: FilterDelta, Props: []byte{3}},
		{ID: FilterLZMA2, Props: []byte{24}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateChainRejectsMisalignedBCJOffset(t *testing.T) {
	err := ValidateChain([]FilterSpec{
		{ID: FilterARM64, Props: []byte{1, 0, 0, 0}}, // offset 1, needs multiple of 4
		{ID: FilterLZMA2, Props: []byte{24}},
	})
	if err == nil {
		t.Fatalf("expected misalignment error")
	}
}

func TestDeltaDecoderRoundTrip(t *testing.T) {
	// Encode: out[i] = in[i] - in[i-distance]; decode should invert it.
	distance := 2
	original := []byte{10, 20, 30, 40, 50, 60}
	encoded := make([]byte, len(original))
	var history [256]byte
	pos := 0
	for i, b := range original {
		encoded[i] = b - history[(pos-distance)&0xff]
		history[pos&0xff] = b
		pos++
	}
	dec := NewDeltaDecoder(byte(distance - 1))
	buf := append([]byte(nil), encoded...)
	dec.Decode(buf)
	for i := range original {
		if buf[i] != original[i] {
			t.Fatalf("byte %d: got %d want %d", i, buf[i], original[i])
		}
	}
}

func TestBCJX86NoOpOnNonCallBytes(t *testing.T) {
	s := NewBCJDecoder(FilterX86, nil)
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	orig := append([]byte(nil), buf...)
	n := s.Decode(buf, true)
	if n != len(buf) {
		t.Fatalf("expected all bytes consumed at final, got %d", n)
	}
	for i := range orig {
		if buf[i] != orig[i] {
			t.Fatalf("expected non-call bytes untouched, byte %d changed", i)
		}
	}
}
