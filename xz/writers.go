package xz

import (
	"crypto/sha256"
	"hash"
	"io"

	"github.com/Ismail-elkorchi/bytefold/aerr"
)

// countingWriter tracks the total number of bytes written, used to report
// a block's uncompressed size and to enforce MaxTotalUncompressedBytes.
type countingWriter struct {
	dest io.Writer
	n    uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.dest.Write(p)
	c.n += uint64(n)
	return n, err
}

// multiTap fans writes out to dest plus optional hash.Hash / shaWriter taps
// used for integrity-check verification, without altering dest's error
// behavior.
func multiTap(dest io.Writer, h hash.Hash, sha *shaWriter) io.Writer {
	var taps []io.Writer
	taps = append(taps, dest)
	if h != nil {
		taps = append(taps, h)
	}
	if sha != nil {
		taps = append(taps, sha)
	}
	if len(taps) == 1 {
		return dest
	}
	return io.MultiWriter(taps...)
}

// shaWriter accumulates a running SHA-256 for the CheckSHA256 integrity
// check; crypto/sha256's own hash.Hash would work equally well, but a named
// wrapper keeps the call sites in stream.go symmetric with the CRC cases.
type shaWriter struct {
	h hash.Hash
}

func newSHAWriter() *shaWriter { return &shaWriter{h: sha256.New()} }

func (s *shaWriter) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *shaWriter) Sum(b []byte) []byte         { return s.h.Sum(b) }

// boundedWriter enforces spec §4.4/§4.6's MaxXzBufferedBytes: the total
// number of decoded bytes passed through any single block's output path.
type boundedWriter struct {
	dest     io.Writer
	max      int64
	produced int64
}

func (b *boundedWriter) Write(p []byte) (int, error) {
	if b.max > 0 {
		if b.produced+int64(len(p)) > b.max {
			return 0, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "xz.boundedwriter", "decoded block bytes exceeded configured buffer limit")
		}
	}
	n, err := b.dest.Write(p)
	b.produced += int64(n)
	return n, err
}

// deltaWriter applies the inverse Delta filter to bytes flowing through it,
// per spec §4.5.
type deltaWriter struct {
	dest io.Writer
	d    *DeltaDecoder
}

func (w *deltaWriter) Write(p []byte) (int, error) {
	buf := append([]byte(nil), p...)
	w.d.Decode(buf)
	if _, err := w.dest.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// bcjWriter applies a stateful BCJ filter to bytes flowing through it,
// holding back any unconsumed tail until the next Write or Flush, per
// bcjState.Decode's contract in filters.go.
type bcjWriter struct {
	dest    io.Writer
	s       *bcjState
	pending []byte
}

func (w *bcjWriter) Write(p []byte) (int, error) {
	buf := append(w.pending, p...)
	w.pending = nil
	n := w.s.Decode(buf, false)
	if _, err := w.dest.Write(buf[:n]); err != nil {
		return 0, err
	}
	w.pending = append(w.pending, buf[n:]...)
	return len(p), nil
}

func (w *bcjWriter) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	buf := w.pending
	w.pending = nil
	n := w.s.Decode(buf, true)
	_, err := w.dest.Write(buf[:n])
	return err
}

// blockBodyReader bounds reads to a block's declared compressed size (when
// known) and tracks bytes consumed so discardPadding can skip the 4-byte
// block-alignment padding that follows every block's payload (spec §4.4).
type blockBodyReader struct {
	r         io.ByteReader
	remaining int64 // -1 when the block header omitted compressed size
	consumed  int64
}

func (b *blockBodyReader) ReadByte() (byte, error) {
	if b.remaining >= 0 && b.consumed >= b.remaining {
		return 0, io.EOF
	}
	v, err := b.r.ReadByte()
	if err != nil {
		return 0, err
	}
	b.consumed++
	return v, nil
}

func (b *blockBodyReader) discardPadding() error {
	pad := (4 - b.consumed%4) % 4
	for i := int64(0); i < pad; i++ {
		// Padding lies past the declared compressed size, so read it from
		// the underlying reader rather than through the size bound.
		if _, err := b.r.ReadByte(); err != nil {
			return aerr.Wrap(aerr.CodeZipTruncated, aerr.KindFormat, "xz.blockpadding", "truncated block padding", err)
		}
		b.consumed++
	}
	return nil
}
