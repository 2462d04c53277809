package archivefmt

import (
	"bufio"
	"bytes"
	"context"
	"testing"
)

func peekerFor(b []byte) *bufio.Reader {
	return bufio.NewReaderSize(bytes.NewReader(b), peekWindow)
}

func TestDetectZip(t *testing.T) {
	head := append([]byte{'P', 'K', 0x03, 0x04}, make([]byte, 20)...)
	report, err := Detect(context.Background(), peekerFor(head), Hint{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if report.InputKind != KindZip || report.Confidence != ConfidenceHigh {
		t.Fatalf("got %+v", report)
	}
}

func TestDetectUstarTar(t *testing.T) {
	head := make([]byte, 300)
	copy(head[257:], "ustar\x00")
	report, err := Detect(context.Background(), peekerFor(head), Hint{})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if report.InputKind != KindTar {
		t.Fatalf("got %+v", report)
	}
}

func TestDetectBrotliRequiresHint(t *testing.T) {
	head := make([]byte, 16)
	if _, err := Detect(context.Background(), peekerFor(head), Hint{}); err == nil {
		t.Fatalf("expected detection failure without a brotli hint")
	}
	report, err := Detect(context.Background(), peekerFor(head), Hint{Format: "brotli", Filename: "payload.br"})
	if err != nil {
		t.Fatalf("Detect with hint: %v", err)
	}
	if report.InputKind != KindSingleBrotli || report.InferredEntryName != "payload" {
		t.Fatalf("got %+v", report)
	}
}

func TestInferEntryName(t *testing.T) {
	if got := inferEntryName("archive.tar.gz", "gz"); got != "archive.tar" {
		t.Fatalf("got %q", got)
	}
	if got := inferEntryName("", "gz"); got != "data" {
		t.Fatalf("got %q", got)
	}
}
