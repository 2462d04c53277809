package tarfile

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/Ismail-elkorchi/bytefold/limits"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, WriteOptions{IsDeterministic: true})

	content := []byte("hello, tarfile")
	hdr := &Header{Name: "a/b/hello.txt", Size: int64(len(content)), Typeflag: TypeRegular, ModTime: time.Unix(1000, 0)}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := tw.WriteData(content); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr := NewReader(context.Background(), &buf, Options{Limits: limits.Normalize(limits.ResourceLimits{}, limits.ProfileCompat)})
	got, err := tr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Name != hdr.Name {
		t.Fatalf("got name %q want %q", got.Name, hdr.Name)
	}
	if got.ModTime.Unix() != 1000 {
		t.Fatalf("deterministic writer should preserve an explicitly-set mtime, got %v", got.ModTime)
	}

	data, err := io.ReadAll(tr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != string(content) {
		t.Fatalf("got %q want %q", data, content)
	}

	if _, err := tr.Next(); err != io.EOF {
		t.Fatalf("got err %v, want io.EOF", err)
	}
}

func TestWriterZeroesUnsetMTime(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, WriteOptions{IsDeterministic: true})
	hdr := &Header{Name: "empty.txt", Typeflag: TypeRegular}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr := NewReader(context.Background(), &buf, Options{Limits: limits.Normalize(limits.ResourceLimits{}, limits.ProfileCompat)})
	got, err := tr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.ModTime.Unix() != 0 {
		t.Fatalf("unset mtime should zero to epoch, got %v", got.ModTime)
	}
}

func TestPAXRecordsOverrideName(t *testing.T) {
	records, err := parsePAXRecords([]byte("17 path=long.txt\n"))
	if err != nil {
		t.Fatalf("parsePAXRecords: %v", err)
	}
	if records["path"] != "long.txt" {
		t.Fatalf("got %q", records["path"])
	}
}

func TestSplitNameForUstar(t *testing.T) {
	name, prefix := splitNameForUstar("short.txt")
	if name != "short.txt" || prefix != "" {
		t.Fatalf("got name=%q prefix=%q", name, prefix)
	}
}
