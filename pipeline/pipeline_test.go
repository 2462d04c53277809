package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

func TestLazyForwardsConstructionError(t *testing.T) {
	wantErr := errors.New("boom")
	tr := NewLazy(context.Background(), func(ctx context.Context) (Transform, error) {
		return Transform{}, wantErr
	})
	_, err := io.ReadAll(tr.Output)
	if err == nil {
		t.Fatalf("expected construction error to surface on Output read")
	}
}

func TestLazyPassthrough(t *testing.T) {
	tr := NewLazy(context.Background(), func(ctx context.Context) (Transform, error) {
		r, w := io.Pipe()
		go func() {
			io.Copy(w, bytes.NewReader([]byte("payload")))
			w.Close()
		}()
		return Transform{Input: discardInput{}, Output: r}, nil
	})
	out, err := io.ReadAll(tr.Output)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "payload" {
		t.Fatalf("got %q", out)
	}
}

func TestLimitWriterTripsAtExactBoundary(t *testing.T) {
	var buf bytes.Buffer
	lw := &LimitWriter{Dest: &buf, Max: 5}
	n, err := lw.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("expected exact-boundary write to succeed, got n=%d err=%v", n, err)
	}
	_, err = lw.Write([]byte("x"))
	if err == nil {
		t.Fatalf("expected resource limit error past boundary")
	}
}

func TestProgressTapMonotone(t *testing.T) {
	src := bytes.NewReader(bytes.Repeat([]byte("a"), 100))
	var last uint64
	tap := &ProgressTap{Src: src, OnRead: func(n uint64) {
		if n < last {
			t.Fatalf("progress went backwards: %d < %d", n, last)
		}
		last = n
	}}
	buf := make([]byte, 7)
	for {
		_, err := tap.Read(buf)
		if err != nil {
			break
		}
	}
	if last != 100 {
		t.Fatalf("expected final total 100, got %d", last)
	}
}
