// Package pipeline implements the codec pipeline scaffold from spec §4.3
// (C5): a lazily-constructed pair of (writable input, readable output) ends,
// a progress tap, an output-byte limiter, and cancellation propagation.
//
// Grounded on the teacher's pooled-codec lifecycle (pkg/tarfs/pool.go's
// get/put pairs for *gzip.Reader and *zstd.Decoder): construction of a real
// decoder can be non-trivial (allocating dictionaries, resetting pooled
// state), so Lazy defers that work behind a Pending -> Ready -> Failed state
// machine (spec §9's translation of "lazy async transforms").
package pipeline

import (
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Ismail-elkorchi/bytefold/aerr"
)

// Transform is a constructed pair of ends: Input accepts compressed or raw
// bytes, Output yields the transformed bytes.
type Transform struct {
	Input  io.WriteCloser
	Output io.ReadCloser
}

// Factory constructs a Transform, possibly after expensive setup
// (capability probing, dictionary allocation).
type Factory func(ctx context.Context) (Transform, error)

// state values for Lazy's construction state machine.
type state int32

const (
	statePending state = iota
	stateReady
	stateFailed
)

// Lazy exposes immediate Input/Output ends that park until the underlying
// Transform resolves, forwarding any construction error on first use (spec
// §4.3).
type Lazy struct {
	state  atomic.Int32
	ready  chan struct{}
	err    error
	errMu  sync.Mutex
	inner  Transform

	inR *io.PipeReader
	inW *io.PipeWriter

	outR *io.PipeReader
	outW *io.PipeWriter
}

// NewLazy starts constructing via factory in the background and returns
// immediately-usable Input/Output ends.
func NewLazy(ctx context.Context, factory Factory) *Transform {
	l := &Lazy{ready: make(chan struct{})}
	l.inR, l.inW = io.Pipe()
	l.outR, l.outW = io.Pipe()

	go func() {
		inner, err := factory(ctx)
		if err != nil {
			l.errMu.Lock()
			l.err = err
			l.errMu.Unlock()
			l.state.Store(int32(stateFailed))
			close(l.ready)
			l.inR.CloseWithError(err)
			l.outW.CloseWithError(err)
			return
		}
		l.inner = inner
		l.state.Store(int32(stateReady))
		close(l.ready)

		go func() {
			_, err := io.Copy(inner.Input, l.inR)
			inner.Input.Close()
			if err != nil {
				l.inR.CloseWithError(err)
			}
		}()
		_, err = io.Copy(l.outW, inner.Output)
		inner.Output.Close()
		l.outW.CloseWithError(err) // err==nil closes cleanly
	}()

	return &Transform{
		Input:  &lazyInput{l: l},
		Output: &lazyOutput{l: l},
	}
}

type lazyInput struct{ l *Lazy }

func (w *lazyInput) Write(p []byte) (int, error) { return w.l.inW.Write(p) }
func (w *lazyInput) Close() error                { return w.l.inW.Close() }

type lazyOutput struct{ l *Lazy }

func (r *lazyOutput) Read(p []byte) (int, error) { return r.l.outR.Read(p) }
func (r *lazyOutput) Close() error {
	r.l.outR.Close()
	return nil
}

// Abort implements the cancellation semantics of spec §4.3/§5: both ends are
// aborted with the cancellation reason, and any pending I/O is rejected.
func Abort(t Transform, reason error) {
	if reason == nil {
		reason = aerr.New(aerr.CodeCancelled, aerr.KindCancelled, "pipeline", "aborted")
	}
	if c, ok := t.Input.(interface{ CloseWithError(error) error }); ok {
		c.CloseWithError(reason)
	} else {
		t.Input.Close()
	}
	if c, ok := t.Output.(interface{ CloseWithError(error) error }); ok {
		c.CloseWithError(reason)
	} else {
		t.Output.Close()
	}
}

// LimitWriter enforces maxOutputBytes on a downstream writer, failing with
// COMPRESSION_RESOURCE_LIMIT before the offending bytes reach the consumer
// (spec §4.3, §5).
type LimitWriter struct {
	Dest       io.Writer
	Max        int64
	written    int64
}

func (l *LimitWriter) Write(p []byte) (int, error) {
	if l.Max > 0 && l.written+int64(len(p)) > l.Max {
		allowed := l.Max - l.written
		if allowed > 0 {
			n, err := l.Dest.Write(p[:allowed])
			l.written += int64(n)
			if err != nil {
				return n, err
			}
		}
		return int(allowed), aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "pipeline", "maxOutputBytes exceeded").
			WithContext("limitOutputBytes", strconv.FormatInt(l.Max, 10))
	}
	n, err := l.Dest.Write(p)
	l.written += int64(n)
	return n, err
}

// BufferLimiter bounds upstream buffering (maxBufferedInputBytes); it wraps
// a writer used to stage input bytes before a transform consumes them.
type BufferLimiter struct {
	Dest      io.Writer
	Max       int64
	buffered  int64
}

func (b *BufferLimiter) Write(p []byte) (int, error) {
	if b.Max > 0 && b.buffered+int64(len(p)) > b.Max {
		return 0, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "pipeline", "maxBufferedInputBytes exceeded").
			WithContext("limitBufferedInputBytes", strconv.FormatInt(b.Max, 10))
	}
	n, err := b.Dest.Write(p)
	b.buffered += int64(n)
	return n, err
}

// ProgressFunc receives monotone bytesIn/bytesOut totals (spec §5).
type ProgressFunc func(bytesIn, bytesOut uint64)

// ProgressTap wraps a reader, invoking OnRead with a running output byte count
// every time bytes are read.
type ProgressTap struct {
	Src      io.Reader
	OnRead   func(n uint64)
	total    uint64
}

func (p *ProgressTap) Read(buf []byte) (int, error) {
	n, err := p.Src.Read(buf)
	if n > 0 {
		p.total += uint64(n)
		if p.OnRead != nil {
			p.OnRead(p.total)
		}
	}
	return n, err
}

