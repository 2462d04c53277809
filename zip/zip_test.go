package zip

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/Ismail-elkorchi/bytefold/limits"
	"github.com/Ismail-elkorchi/bytefold/raccess"
)

// buildMinimalZip hand-assembles a single-entry, method-0 (stored) ZIP
// archive with no extras, descriptors, or ZIP64 fields, to exercise the
// EOCD/CD/entry-open path end to end.
func buildMinimalZip(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	crc := crc32.ChecksumIEEE(content)

	lfhOffset := buf.Len()
	le := binary.LittleEndian
	var lfh [30]byte
	le.PutUint32(lfh[0:4], sigLocalFileHeader)
	le.PutUint16(lfh[6:8], 0) // gp flags
	le.PutUint16(lfh[8:10], 0) // method: store
	le.PutUint32(lfh[14:18], crc)
	le.PutUint32(lfh[18:22], uint32(len(content)))
	le.PutUint32(lfh[22:26], uint32(len(content)))
	le.PutUint16(lfh[26:28], uint16(len(name)))
	buf.Write(lfh[:])
	buf.WriteString(name)
	buf.Write(content)

	cdOffset := buf.Len()
	var cdfh [46]byte
	le.PutUint32(cdfh[0:4], sigCentralDirectory)
	le.PutUint16(cdfh[4:6], 0)               // version made by
	le.PutUint16(cdfh[6:8], 0)               // version needed
	le.PutUint16(cdfh[8:10], gpBitUTF8)       // gp flags
	le.PutUint16(cdfh[10:12], 0)              // method
	le.PutUint32(cdfh[16:20], crc)
	le.PutUint32(cdfh[20:24], uint32(len(content)))
	le.PutUint32(cdfh[24:28], uint32(len(content)))
	le.PutUint16(cdfh[28:30], uint16(len(name)))
	le.PutUint32(cdfh[42:46], uint32(lfhOffset))
	buf.Write(cdfh[:])
	buf.WriteString(name)
	cdSize := buf.Len() - cdOffset

	var eocd [22]byte
	le.PutUint32(eocd[0:4], sigEOCD)
	le.PutUint16(eocd[8:10], 1)
	le.PutUint16(eocd[10:12], 1)
	le.PutUint32(eocd[12:16], uint32(cdSize))
	le.PutUint32(eocd[16:20], uint32(cdOffset))
	buf.Write(eocd[:])

	return buf.Bytes()
}

func TestOpenArchiveAndEntryRoundTrip(t *testing.T) {
	content := []byte("hello, bytefold")
	data := buildMinimalZip(t, "hello.txt", content)

	ra := raccess.NewMemory(data)
	ctx := context.Background()
	lim := limits.Normalize(limits.ResourceLimits{}, limits.ProfileCompat)

	arc, err := OpenArchive(ctx, ra, lim)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	if len(arc.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(arc.Entries))
	}
	e := arc.Entries[0]
	if e.Name != "hello.txt" {
		t.Fatalf("got name %q", e.Name)
	}
	if e.NameSource != NameSourceUTF8 {
		t.Fatalf("got nameSource %q", e.NameSource)
	}

	rc, err := arc.OpenEntry(ctx, ra, 0, true, lim)
	if err != nil {
		t.Fatalf("OpenEntry: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q want %q", got, content)
	}
}

func TestDecodeCP437ASCIIIdentity(t *testing.T) {
	if got := decodeCP437([]byte("plain/ascii.txt")); got != "plain/ascii.txt" {
		t.Fatalf("got %q", got)
	}
}

func TestFindEOCDWithComment(t *testing.T) {
	data := buildMinimalZip(t, "a.txt", []byte("x"))
	comment := "a trailing comment"
	le := binary.LittleEndian
	eocdStart := len(data) - 22
	le.PutUint16(data[eocdStart+20:eocdStart+22], uint16(len(comment)))
	data = append(data, []byte(comment)...)

	ra := raccess.NewMemory(data)
	ctx := context.Background()
	lim := limits.Normalize(limits.ResourceLimits{}, limits.ProfileCompat)
	offset, cl, err := findEOCD(ctx, ra, uint64(len(data)), lim)
	if err != nil {
		t.Fatalf("findEOCD: %v", err)
	}
	if int(offset) != eocdStart || int(cl) != len(comment) {
		t.Fatalf("got offset=%d commentLen=%d", offset, cl)
	}
}
