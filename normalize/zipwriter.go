package normalize

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/Ismail-elkorchi/bytefold/aerr"
)

// zipOutRecord is one entry as written into a canonical ZIP, retained until
// Close so the central directory can be emitted after all entries.
type zipOutRecord struct {
	name             string
	method           uint16
	modTime          time.Time
	crc32            uint32
	compressedSize   uint64
	uncompressedSize uint64
	offset           uint64
}

// zipWriter emits a minimal, non-ZIP64 canonical ZIP: a local file header
// plus raw bytes per entry, followed by a central directory and EOCD. It
// exists to give the normalize engine's ZIP path something to write a
// canonical archive into; spec §4.13 does not require bytefold's ZIP reader
// to also be a general-purpose ZIP writer, so this stays package-private
// and only supports what normalization needs (store/deflate, no encryption,
// no ZIP64).
type zipWriter struct {
	w       io.Writer
	offset  uint64
	records []zipOutRecord
	err     error
}

func newZipWriter(w io.Writer) *zipWriter { return &zipWriter{w: w} }

func (zw *zipWriter) write(b []byte) {
	if zw.err != nil {
		return
	}
	n, err := zw.w.Write(b)
	zw.offset += uint64(n)
	if err != nil {
		zw.err = aerr.Wrap(aerr.CodeInternal, aerr.KindInternal, "normalize.zip_writer", "write failed", err)
	}
}

// writeStoredOrDeflated writes decoded bytes raw: deflated for ModeSafe
// (stored instead if the deflate write fails), stored uncompressed for
// ModeLossless. Pre-compressed bytes go through writeRaw instead.
func (zw *zipWriter) writeStoredOrDeflated(name string, mode RecompressMode, raw []byte, modTime time.Time) {
	var method uint16
	var compressed []byte
	switch mode {
	case ModeLossless:
		method = 0
		compressed = raw
	default: // ModeSafe
		var buf bytes.Buffer
		fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
		if _, err := fw.Write(raw); err == nil {
			fw.Close()
			method = 8
			compressed = buf.Bytes()
		} else {
			method = 0
			compressed = raw
		}
	}
	zw.emit(name, method, modTime, compressed, crc32.ChecksumIEEE(raw), uint64(len(raw)))
}

// writeRaw re-emits a RawEntry's compressed bytes unchanged, for
// ModeLossless entries that were never decoded.
func (zw *zipWriter) writeRaw(name string, method uint16, modTime time.Time, compressed []byte, crc uint32, uncompSize uint64) {
	zw.emit(name, method, modTime, compressed, crc, uncompSize)
}

func (zw *zipWriter) emit(name string, method uint16, modTime time.Time, compressed []byte, crc uint32, uncompSize uint64) {
	if zw.err != nil {
		return
	}
	rec := zipOutRecord{
		name:             name,
		method:           method,
		modTime:          modTime,
		crc32:            crc,
		compressedSize:   uint64(len(compressed)),
		uncompressedSize: uncompSize,
		offset:           zw.offset,
	}

	dosTime, dosDate := toDOSTime(modTime)
	lfh := make([]byte, 30+len(name))
	binary.LittleEndian.PutUint32(lfh[0:4], 0x04034B50)
	binary.LittleEndian.PutUint16(lfh[4:6], 20)
	binary.LittleEndian.PutUint16(lfh[6:8], 1<<11) // UTF-8 name flag
	binary.LittleEndian.PutUint16(lfh[8:10], method)
	binary.LittleEndian.PutUint16(lfh[10:12], dosTime)
	binary.LittleEndian.PutUint16(lfh[12:14], dosDate)
	binary.LittleEndian.PutUint32(lfh[14:18], rec.crc32)
	binary.LittleEndian.PutUint32(lfh[18:22], uint32(rec.compressedSize))
	binary.LittleEndian.PutUint32(lfh[22:26], uint32(rec.uncompressedSize))
	binary.LittleEndian.PutUint16(lfh[26:28], uint16(len(name)))
	binary.LittleEndian.PutUint16(lfh[28:30], 0)
	copy(lfh[30:], name)

	zw.write(lfh)
	zw.write(compressed)
	zw.records = append(zw.records, rec)
}

// close writes the central directory and EOCD record and returns any error
// accumulated during writing.
func (zw *zipWriter) close() error {
	if zw.err != nil {
		return zw.err
	}
	cdStart := zw.offset
	for _, rec := range zw.records {
		dosTime, dosDate := toDOSTime(rec.modTime)
		cdfh := make([]byte, 46+len(rec.name))
		binary.LittleEndian.PutUint32(cdfh[0:4], 0x02014B50)
		binary.LittleEndian.PutUint16(cdfh[4:6], 20)
		binary.LittleEndian.PutUint16(cdfh[6:8], 20)
		binary.LittleEndian.PutUint16(cdfh[8:10], 1<<11)
		binary.LittleEndian.PutUint16(cdfh[10:12], rec.method)
		binary.LittleEndian.PutUint16(cdfh[12:14], dosTime)
		binary.LittleEndian.PutUint16(cdfh[14:16], dosDate)
		binary.LittleEndian.PutUint32(cdfh[16:20], rec.crc32)
		binary.LittleEndian.PutUint32(cdfh[20:24], uint32(rec.compressedSize))
		binary.LittleEndian.PutUint32(cdfh[24:28], uint32(rec.uncompressedSize))
		binary.LittleEndian.PutUint16(cdfh[28:30], uint16(len(rec.name)))
		binary.LittleEndian.PutUint32(cdfh[42:46], uint32(rec.offset))
		copy(cdfh[46:], rec.name)
		zw.write(cdfh)
	}
	cdSize := zw.offset - cdStart

	eocd := make([]byte, 22)
	binary.LittleEndian.PutUint32(eocd[0:4], 0x06054B50)
	binary.LittleEndian.PutUint16(eocd[8:10], uint16(len(zw.records)))
	binary.LittleEndian.PutUint16(eocd[10:12], uint16(len(zw.records)))
	binary.LittleEndian.PutUint32(eocd[12:16], uint32(cdSize))
	binary.LittleEndian.PutUint32(eocd[16:20], uint32(cdStart))
	zw.write(eocd)

	return zw.err
}

func toDOSTime(t time.Time) (dosTime, dosDate uint16) {
	if t.IsZero() {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if t.Year() < 1980 {
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	dosTime = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	dosDate = uint16(t.Year()-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	return
}
