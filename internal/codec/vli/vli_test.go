package vli

import "testing"

func TestRoundTrip(t *testing.T) {
	vals := []uint64{0, 1, 127, 128, 16384, 1 << 34, MaxValue}
	for _, v := range vals {
		enc := Append(nil, v)
		got, n, err := ReadBytes(enc)
		if err != nil {
			t.Fatalf("v=%d: %v", v, err)
		}
		if n != len(enc) {
			t.Fatalf("v=%d: consumed %d, want %d", v, n, len(enc))
		}
		if got != v {
			t.Fatalf("v=%d: got %d", v, got)
		}
		if Len(v) != len(enc) {
			t.Fatalf("v=%d: Len=%d, encoded=%d", v, Len(v), len(enc))
		}
	}
}

func TestTooLong(t *testing.T) {
	// 10 bytes, all with continuation bit set.
	b := make([]byte, 10)
	for i := range b {
		b[i] = 0x80
	}
	_, _, err := ReadBytes(b)
	if err != ErrTooLong {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestNonMinimal(t *testing.T) {
	b := make([]byte, 9)
	for i := 0; i < 8; i++ {
		b[i] = 0x80
	}
	b[8] = 0x00
	_, _, err := ReadBytes(b)
	if err != ErrNonMinimal {
		t.Fatalf("expected ErrNonMinimal, got %v", err)
	}
}
