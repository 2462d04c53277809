package lzma2

import "testing"

func TestDictSizeBoundaries(t *testing.T) {
	v, err := DictSize(0)
	if err != nil || v != 1<<12 {
		t.Fatalf("bits=0: got %d, %v", v, err)
	}
	v, err = DictSize(40)
	if err != nil || v != 1<<32-1 {
		t.Fatalf("bits=40: got %d, %v", v, err)
	}
	if _, err := DictSize(41); err == nil {
		t.Fatalf("expected error for bits>40")
	}
}

func TestDecodePropsRoundTrip(t *testing.T) {
	// lc=3, lp=0, pb=2 is the common default encoding (pb*45+lp*9+lc).
	b := byte(2*45 + 0*9 + 3)
	p, err := decodeProps(b)
	if err != nil {
		t.Fatal(err)
	}
	if p.lc != 3 || p.lp != 0 || p.pb != 2 {
		t.Fatalf("got %+v", p)
	}
}

func TestUncompressedChunkRoundTrip(t *testing.T) {
	payload := []byte("hello, lzma2 uncompressed chunk")
	var frame []byte
	frame = append(frame, 0x01) // uncompressed, dict reset
	n := len(payload) - 1
	frame = append(frame, byte(n>>8), byte(n))
	frame = append(frame, payload...)
	frame = append(frame, 0x00) // end of LZMA2 stream

	var out boundWriteBuf
	dec, err := NewDecoder(&byteSliceReader{b: frame}, &out, 12, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := dec.Run(); err != nil {
		t.Fatal(err)
	}
	if string(out.b) != string(payload) {
		t.Fatalf("got %q want %q", out.b, payload)
	}
}

type byteSliceReader struct {
	b []byte
	i int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.i >= len(r.b) {
		return 0, errEOF{}
	}
	v := r.b[r.i]
	r.i++
	return v, nil
}

type errEOF struct{}

func (errEOF) Error() string { return "EOF" }

type boundWriteBuf struct{ b []byte }

func (w *boundWriteBuf) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
