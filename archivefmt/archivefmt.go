// Package archivefmt implements the archive facade (spec §4.11, C12):
// sniffing up to 16 bytes to identify a container format or compression
// wrapper, and peeking past a wrapper's decompressed head to tell a
// single-file-compressed stream from a wrapped TAR.
//
// Grounded on the teacher's pkg/tarfs/tarfs.go magic-byte constants and
// parse.go's buildTOC decompressor dispatch over gzip/zstd, generalized to
// the full wrapper/format matrix spec §4.11 names.
package archivefmt

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/Ismail-elkorchi/bytefold/aerr"
	"github.com/Ismail-elkorchi/bytefold/internal/obslog"
	"github.com/Ismail-elkorchi/bytefold/pipeline"
)

// InputKind is the detected logical shape of an input stream.
type InputKind string

// Recognized input kinds, per spec §4.11.
const (
	KindZip             InputKind = "zip"
	KindTar             InputKind = "tar"
	KindTarGzip         InputKind = "tar.gzip"
	KindTarBzip2        InputKind = "tar.bzip2"
	KindTarXZ           InputKind = "tar.xz"
	KindTarZstd         InputKind = "tar.zstd"
	KindTarBrotli       InputKind = "tar.brotli"
	KindSingleGzip      InputKind = "single.gzip"
	KindSingleBzip2     InputKind = "single.bzip2"
	KindSingleXZ        InputKind = "single.xz"
	KindSingleZstd      InputKind = "single.zstd"
	KindSingleBrotli    InputKind = "single.brotli"
	KindUnknown         InputKind = "unknown"
)

// Confidence is a coarse detection-strength indicator.
type Confidence string

// Recognized confidence levels.
const (
	ConfidenceHigh Confidence = "high" // magic bytes matched and content peek confirmed
	ConfidenceMed  Confidence = "medium" // magic bytes matched, content unconfirmed
	ConfidenceLow  Confidence = "low"   // format accepted only via an explicit hint
)

// Hint lets a caller force recognition of a magicless format (brotli), per
// spec §4.11.
type Hint struct {
	Format   string // "brotli", or "" for none
	Filename string
}

// ArchiveDetectionReport is the result of Detect, per spec §4.11.
type ArchiveDetectionReport struct {
	InputKind  InputKind
	Confidence Confidence
	Notes      []string
	// InferredEntryName is set for single-file-compressed inputs: the
	// wrapper extension stripped from the hinted filename, or "data" if no
	// filename was provided.
	InferredEntryName string
}

// peekWindow is how far Detect reads to identify a format. Magic-byte
// signatures only need the first few bytes, but telling a TAR apart from
// anything else requires seeing its "ustar" magic at offset 257, so the
// window has to cover a full 512-byte TAR header block (spec §4.11's "up to
// 16 bytes" describes the signature length, not the read size this
// requires).
const peekWindow = 512

var (
	magicZip     = []byte{'P', 'K'}
	magicGzip    = []byte{0x1F, 0x8B}
	magicBzip2   = []byte{'B', 'Z', 'h'}
	magicXZ      = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	magicZstd    = []byte{0x28, 0xB5, 0x2F, 0xFD}
	magicUstar   = []byte{'u', 's', 't', 'a', 'r'}
)

// ustarOffset is the byte offset of the "ustar" magic within a TAR header.
const ustarOffset = 257

// Detect reads up to peekWindow bytes from r (which must support Peek-like
// behavior via a *bufio.Reader-shaped peeker, so callers typically wrap
// their source in bufio.NewReaderSize first) and returns the detected
// format, per spec §4.11's detection table.
func Detect(ctx context.Context, peeker interface{ Peek(int) ([]byte, error) }, hint Hint) (ArchiveDetectionReport, error) {
	obslog.Op(ctx, "archivefmt.detect").Debug("detecting archive format")

	head, _ := peeker.Peek(peekWindow)

	switch {
	case bytes.HasPrefix(head, magicZip):
		return report(KindZip, ConfidenceHigh, nil, ""), nil
	case bytes.HasPrefix(head, magicGzip):
		return detectWrapped(ctx, peeker, KindTarGzip, KindSingleGzip, "gz", hint)
	case bytes.HasPrefix(head, magicBzip2):
		return detectWrapped(ctx, peeker, KindTarBzip2, KindSingleBzip2, "bz2", hint)
	case bytes.HasPrefix(head, magicXZ):
		return detectWrapped(ctx, peeker, KindTarXZ, KindSingleXZ, "xz", hint)
	case bytes.HasPrefix(head, magicZstd):
		return detectWrapped(ctx, peeker, KindTarZstd, KindSingleZstd, "zst", hint)
	}

	if len(head) >= ustarOffset+5 && bytes.Equal(head[ustarOffset:ustarOffset+5], magicUstar) {
		return report(KindTar, ConfidenceHigh, nil, ""), nil
	}

	// Brotli has no magic: only accepted via an explicit hint, per spec
	// §4.11's "requires format hint or filename ending in .br/.tar.br".
	if hint.Format == "brotli" || strings.HasSuffix(hint.Filename, ".br") || strings.HasSuffix(hint.Filename, ".tar.br") {
		if strings.HasSuffix(hint.Filename, ".tar.br") {
			return report(KindTarBrotli, ConfidenceLow, []string{"brotli has no magic; accepted via hint"}, ""), nil
		}
		return report(KindSingleBrotli, ConfidenceLow, []string{"brotli has no magic; accepted via hint"}, inferEntryName(hint.Filename, "br")), nil
	}

	obslog.Op(ctx, "archivefmt.detect").Warn("unrecognized input", "headLen", len(head))
	return ArchiveDetectionReport{}, aerr.New(aerr.CodeArchiveDetectFailed, aerr.KindFormat, "archivefmt.detect", "unrecognized input: no known magic bytes and no applicable hint")
}

func report(kind InputKind, conf Confidence, notes []string, entryName string) ArchiveDetectionReport {
	return ArchiveDetectionReport{InputKind: kind, Confidence: conf, Notes: notes, InferredEntryName: entryName}
}

// detectWrapped peeks past a compression wrapper's decompressed head to
// tell a wrapped TAR from a single compressed file, per spec §4.11.
func detectWrapped(ctx context.Context, peeker interface{ Peek(int) ([]byte, error) }, tarKind, singleKind InputKind, ext string, hint Hint) (ArchiveDetectionReport, error) {
	head, _ := peeker.Peek(peekWindow)
	method := wrapperMethod(tarKind)

	decoded, err := peekDecoded(ctx, head, method, ustarOffset+5)
	if err != nil {
		// Couldn't peek through the wrapper (e.g. truncated input); fall
		// back to treating it as single-file-compressed rather than
		// failing detection outright.
		return report(singleKind, ConfidenceMed, []string{"could not peek past wrapper: " + err.Error()}, inferEntryName(hint.Filename, ext)), nil
	}
	if len(decoded) >= ustarOffset+5 && bytes.Equal(decoded[ustarOffset:ustarOffset+5], magicUstar) {
		return report(tarKind, ConfidenceHigh, nil, ""), nil
	}
	return report(singleKind, ConfidenceHigh, nil, inferEntryName(hint.Filename, ext)), nil
}

func wrapperMethod(tarKind InputKind) pipeline.Method {
	switch tarKind {
	case KindTarGzip:
		return pipeline.MethodGzip
	case KindTarZstd:
		return pipeline.MethodZstd
	default:
		return pipeline.MethodStore // bzip2/xz: no content peek (see peekDecoded)
	}
}

// peekDecoded decodes up to n bytes of decompressed output from head, for
// wrapper formats the shared pipeline already knows (gzip, zstd); bzip2 and
// xz are intentionally not peeked here since their decoders need the full
// preflight machinery, so those wrappers are always reported at medium
// confidence without a content peek.
func peekDecoded(ctx context.Context, head []byte, method pipeline.Method, n int) ([]byte, error) {
	if method != pipeline.MethodGzip && method != pipeline.MethodZstd {
		return nil, aerr.New(aerr.CodeArchiveUnsupportedFeature, aerr.KindUnsupported, "archivefmt.detect", "content peek not supported for this wrapper")
	}
	f := pipeline.NewDecodeFactory(method, bytes.NewReader(head))
	tr, err := f(ctx)
	if err != nil {
		return nil, err
	}
	defer tr.Output.Close()
	buf := make([]byte, n)
	read, _ := io.ReadFull(tr.Output, buf)
	return buf[:read], nil
}

func inferEntryName(filename, ext string) string {
	if filename == "" {
		return "data"
	}
	base := filename
	if strings.HasSuffix(base, "."+ext) {
		return strings.TrimSuffix(base, "."+ext)
	}
	return base
}
