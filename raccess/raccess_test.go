package raccess

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestMemorySizeAndRead(t *testing.T) {
	m := NewMemory([]byte("hello world"))
	ctx := context.Background()
	sz, err := m.Size(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sz != 11 {
		t.Fatalf("expected size 11, got %d", sz)
	}
	buf := make([]byte, 5)
	n, err := m.ReadAt(ctx, buf, 6)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || string(buf) != "world" {
		t.Fatalf("unexpected read: %q", buf[:n])
	}
}

func TestMemoryReadPastEnd(t *testing.T) {
	m := NewMemory([]byte("abc"))
	ctx := context.Background()
	buf := make([]byte, 5)
	n, err := m.ReadAt(ctx, buf, 1)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if n != 2 || !bytes.Equal(buf[:n], []byte("bc")) {
		t.Fatalf("unexpected short read: %q (%d)", buf[:n], n)
	}
}

func TestMemoryClosedIsUnusable(t *testing.T) {
	m := NewMemory([]byte("abc"))
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close should be idempotent, got %v", err)
	}
	if _, err := m.Size(context.Background()); err == nil {
		t.Fatalf("expected error reading from closed RandomAccess")
	}
}

func TestMemoryCancellation(t *testing.T) {
	m := NewMemory([]byte("abc"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Size(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
}
