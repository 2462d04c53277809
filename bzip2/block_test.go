package bzip2

import (
	"sort"
	"testing"

	"github.com/Ismail-elkorchi/bytefold/internal/codec/bitio"
)

func TestCRC32BzipKnownVector(t *testing.T) {
	got := crcBzip2([]byte("123456789"))
	const want = 0xFC891918
	if got != want {
		t.Fatalf("got %#x want %#x", got, want)
	}
}

// bruteForceBWT computes the Burrows-Wheeler transform by sorting all
// rotations, the textbook (non-bzip2-specific) way, purely to build a known
// L-column + origPtr pair for round-tripping inverseBWT.
func bruteForceBWT(s []byte) (l []byte, origPtr int) {
	n := len(s)
	rotations := make([]int, n)
	for i := range rotations {
		rotations[i] = i
	}
	rot := func(start, i int) byte { return s[(start+i)%n] }
	sort.Slice(rotations, func(a, b int) bool {
		ra, rb := rotations[a], rotations[b]
		for i := 0; i < n; i++ {
			ca, cb := rot(ra, i), rot(rb, i)
			if ca != cb {
				return ca < cb
			}
		}
		return false
	})
	l = make([]byte, n)
	for i, start := range rotations {
		l[i] = rot(start, n-1)
		if start == 0 {
			origPtr = i
		}
	}
	return l, origPtr
}

func TestInverseBWTRoundTrip(t *testing.T) {
	original := []byte("abracadabra")
	l, origPtr := bruteForceBWT(original)
	got := inverseBWT(l, origPtr)
	if string(got) != string(original) {
		t.Fatalf("got %q want %q", got, original)
	}
}

func TestInverseRLE1ExpandsRuns(t *testing.T) {
	// Four 'a's followed by an extra-count byte of 3 means 4+3=7 total 'a's.
	in := []byte{'a', 'a', 'a', 'a', 3, 'b', 'c'}
	out := inverseRLE1(in)
	want := "aaaaaaabc"
	if string(out) != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestInverseRLE1NoRun(t *testing.T) {
	in := []byte{'x', 'y', 'z'}
	out := inverseRLE1(in)
	if string(out) != "xyz" {
		t.Fatalf("got %q", out)
	}
}

// bitWriter is a minimal MSB-first bit writer used only by this test to
// hand-construct a bitstream for huffTable.decodeSymbol.
type bitWriter struct {
	buf  []byte
	cur  byte
	nbit int
}

func (w *bitWriter) writeBit(b uint32) {
	w.cur = (w.cur << 1) | byte(b&1)
	w.nbit++
	if w.nbit == 8 {
		w.buf = append(w.buf, w.cur)
		w.cur = 0
		w.nbit = 0
	}
}

func (w *bitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> uint(i)) & 1)
	}
}

func (w *bitWriter) bytes() []byte {
	if w.nbit > 0 {
		w.cur <<= uint(8 - w.nbit)
		w.buf = append(w.buf, w.cur)
		w.cur = 0
		w.nbit = 0
	}
	return w.buf
}

type sliceByteReader struct {
	b []byte
	i int
}

func (r *sliceByteReader) ReadByte() (byte, error) {
	if r.i >= len(r.b) {
		return 0, bitio.ErrShortRead
	}
	v := r.b[r.i]
	r.i++
	return v, nil
}

func TestHuffmanTableDecodesCanonicalCodes(t *testing.T) {
	// 4 symbols with lengths [1,2,3,3] is a valid canonical code:
	// symbol0=0, symbol1=10, symbol2=110, symbol3=111.
	lengths := []int{1, 2, 3, 3}
	table, err := buildHuffTable(lengths)
	if err != nil {
		t.Fatal(err)
	}

	w := &bitWriter{}
	w.writeBits(0, 1)   // symbol 0
	w.writeBits(2, 2)   // "10" -> symbol 1
	w.writeBits(6, 3)   // "110" -> symbol 2
	w.writeBits(7, 3)   // "111" -> symbol 3

	r := &sliceByteReader{b: w.bytes()}
	bits := bitio.NewReader(r)

	want := []int{0, 1, 2, 3}
	for _, w := range want {
		got, err := table.decodeSymbol(bits)
		if err != nil {
			t.Fatal(err)
		}
		if got != w {
			t.Fatalf("got %d want %d", got, w)
		}
	}
}
