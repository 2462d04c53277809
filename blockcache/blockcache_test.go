package blockcache

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/Ismail-elkorchi/bytefold/raccess"
)

func mkData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestCacheReadsExactRange(t *testing.T) {
	data := mkData(100 * 1024)
	ra := raccess.NewMemory(data)
	c := New(ra, 4096, 4)
	ctx := context.Background()

	buf := make([]byte, 10000)
	n, err := c.ReadAt(ctx, buf, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10000 {
		t.Fatalf("expected 10000 bytes, got %d", n)
	}
	if !bytes.Equal(buf, data[5000:15000]) {
		t.Fatalf("mismatched data")
	}
}

func TestCacheReadsAtEOF(t *testing.T) {
	data := mkData(10000)
	ra := raccess.NewMemory(data)
	c := New(ra, 4096, 4)
	ctx := context.Background()

	buf := make([]byte, 1000)
	n, err := c.ReadAt(ctx, buf, 9500)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if n != 500 {
		t.Fatalf("expected 500 bytes, got %d", n)
	}
	if !bytes.Equal(buf[:n], data[9500:10000]) {
		t.Fatalf("mismatched tail data")
	}
}

func TestCachePassThroughWhenZeroBlocks(t *testing.T) {
	data := mkData(4096)
	ra := raccess.NewMemory(data)
	c := New(ra, 1024, 0)
	ctx := context.Background()

	buf := make([]byte, 100)
	n, err := c.ReadAt(ctx, buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 || !bytes.Equal(buf, data[:100]) {
		t.Fatalf("unexpected pass-through read")
	}
	if c.lru.Len() != 0 {
		t.Fatalf("expected no retained blocks in pass-through mode")
	}
}

func TestCacheEvictsLRU(t *testing.T) {
	data := mkData(10 * 4096)
	ra := raccess.NewMemory(data)
	c := New(ra, 4096, 2)
	ctx := context.Background()

	buf := make([]byte, 10)
	for i := 0; i < 5; i++ {
		if _, err := c.ReadAt(ctx, buf, uint64(i)*4096); err != nil {
			t.Fatal(err)
		}
	}
	if c.lru.Len() > 2 {
		t.Fatalf("expected at most 2 resident blocks, got %d", c.lru.Len())
	}
}
