package zip

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/Ismail-elkorchi/bytefold/aerr"
	"github.com/Ismail-elkorchi/bytefold/limits"
	"github.com/Ismail-elkorchi/bytefold/raccess"
)

// cdChunkSize is the streaming read granularity for the central directory,
// per spec §4.8 ("stream the central directory in 64 KiB chunks").
const cdChunkSize = 64 << 10

// cdCursor streams bytes from a RandomAccess source in fixed-size chunks,
// refilling an internal buffer as records are consumed. This lets CDFH
// records that straddle a chunk boundary be read without re-fetching the
// whole central directory into memory at once.
type cdCursor struct {
	ctx    context.Context
	ra     raccess.RandomAccess
	base   uint64 // absolute offset of cdCursor's logical start
	end    uint64 // absolute offset, exclusive, past which nothing is valid
	pos    uint64 // absolute offset of the next unread byte
	buf    []byte
	bufOff uint64 // absolute offset of buf[0]
}

func newCDCursor(ctx context.Context, ra raccess.RandomAccess, base, size uint64) *cdCursor {
	return &cdCursor{ctx: ctx, ra: ra, base: base, end: base + size, pos: base}
}

func (c *cdCursor) remaining() uint64 {
	if c.pos >= c.end {
		return 0
	}
	return c.end - c.pos
}

// need ensures at least n bytes starting at c.pos are buffered, refilling in
// cdChunkSize-or-larger increments from the underlying source.
func (c *cdCursor) need(n uint64) ([]byte, error) {
	have := c.bufOff + uint64(len(c.buf))
	if c.pos+n <= have {
		start := c.pos - c.bufOff
		return c.buf[start : start+n], nil
	}
	if c.pos+n > c.end {
		return nil, aerr.New(aerr.CodeZipTruncated, aerr.KindFormat, "zip.cd", "central directory record truncated")
	}
	fetchLen := n
	if fetchLen < cdChunkSize {
		fetchLen = cdChunkSize
	}
	if c.pos+fetchLen > c.end {
		fetchLen = c.end - c.pos
	}
	buf, err := raccess.ReadRange(c.ctx, c.ra, c.pos, fetchLen)
	if err != nil {
		return nil, err
	}
	if uint64(len(buf)) < n {
		return nil, aerr.New(aerr.CodeZipTruncated, aerr.KindFormat, "zip.cd", "central directory record truncated")
	}
	c.buf = buf
	c.bufOff = c.pos
	return c.buf[:n], nil
}

// take consumes and returns n bytes.
func (c *cdCursor) take(n uint64) ([]byte, error) {
	b, err := c.need(n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	// b aliases c.buf; copy so the next refill can't invalidate it.
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// parseCentralDirectory streams and decodes totalEntries CDFH records,
// enforcing maxEntries incrementally as records are read (spec §4.8).
func parseCentralDirectory(ctx context.Context, ra raccess.RandomAccess, cdOffset, cdSize, totalEntries uint64, lim limits.ResourceLimits) ([]Entry, error) {
	cur := newCDCursor(ctx, ra, cdOffset, cdSize)
	entries := make([]Entry, 0, clampCap(totalEntries))

	var count uint64
	for cur.remaining() > 0 {
		if lim.MaxEntries > 0 && int64(count) >= lim.MaxEntries {
			return nil, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "zip.cd", "entry count exceeds configured limit")
		}
		sigBuf, err := cur.take(4)
		if err != nil {
			return nil, err
		}
		sig := binary.LittleEndian.Uint32(sigBuf)
		if sig != sigCentralDirectory {
			return nil, aerr.New(aerr.CodeZipBadCentralDirectory, aerr.KindFormat, "zip.cd", "unexpected signature while streaming central directory")
		}
		e, err := parseCDFH(cur)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		count++
	}

	if totalEntries > 0 && count != totalEntries {
		return nil, aerr.New(aerr.CodeZipBadCentralDirectory, aerr.KindFormat, "zip.cd", "central directory entry count does not match EOCD total")
	}
	return entries, nil
}

func clampCap(n uint64) int {
	const maxPrealloc = 1 << 20
	if n > maxPrealloc {
		return maxPrealloc
	}
	return int(n)
}

// parseCDFH parses one Central Directory File Header, with cur positioned
// just after the 4-byte signature already consumed by the caller.
func parseCDFH(cur *cdCursor) (Entry, error) {
	rest, err := cur.take(cdfhFixedSize - 4)
	if err != nil {
		return Entry{}, err
	}

	gpFlags := binary.LittleEndian.Uint16(rest[4:6])
	method := binary.LittleEndian.Uint16(rest[6:8])
	modTime := binary.LittleEndian.Uint16(rest[8:10])
	modDate := binary.LittleEndian.Uint16(rest[10:12])
	crc := binary.LittleEndian.Uint32(rest[12:16])
	compSize := uint64(binary.LittleEndian.Uint32(rest[16:20]))
	uncompSize := uint64(binary.LittleEndian.Uint32(rest[20:24]))
	nameLen := binary.LittleEndian.Uint16(rest[24:26])
	extraLen := binary.LittleEndian.Uint16(rest[26:28])
	commentLen := binary.LittleEndian.Uint16(rest[28:30])
	extAttrs := binary.LittleEndian.Uint32(rest[34:38])
	localOffset := uint64(binary.LittleEndian.Uint32(rest[38:42]))

	nameBytes, err := cur.take(uint64(nameLen))
	if err != nil {
		return Entry{}, err
	}
	extraBytes, err := cur.take(uint64(extraLen))
	if err != nil {
		return Entry{}, err
	}
	commentBytes, err := cur.take(uint64(commentLen))
	if err != nil {
		return Entry{}, err
	}

	ef := parseExtraFields(extraBytes)

	if z := ef.zip64; z != nil {
		var vals []uint64
		if z.hasUncompSize {
			vals = append(vals, z.uncompSize)
		}
		if z.hasCompSize {
			vals = append(vals, z.compSize)
		}
		if z.hasLocalOffset {
			vals = append(vals, z.localOffset)
		}
		for _, f := range []*uint64{&uncompSize, &compSize, &localOffset} {
			if *f == 0xFFFFFFFF && len(vals) > 0 {
				*f, vals = vals[0], vals[1:]
			}
		}
	}

	name, source := decodeEntryName(nameBytes, gpFlags, ef)

	e := Entry{
		Name:                name,
		NameSource:          source,
		Comment:             decodeCP437(commentBytes),
		Method:              method,
		CompressedSize:      compSize,
		UncompressedSize:    uncompSize,
		CRC32:               crc,
		LocalHeaderOffset:   localOffset,
		GeneralPurposeFlags: gpFlags,
		DOSTime:             modTime,
		DOSDate:             modDate,
		ExternalAttrs:       extAttrs,
		ModTime:             dosTimeToUTC(modDate, modTime),
	}
	if ef.timestamp != nil {
		if ef.timestamp.hasModTime {
			e.ModTime = ef.timestamp.modTime
		}
		if ef.timestamp.hasAccessTime {
			e.AccessTime = ef.timestamp.accessTime
		}
		if ef.timestamp.hasChangeTime {
			e.ChangeTime = ef.timestamp.changeTime
		}
	}

	// Unix-style external attributes pack the mode in the high 16 bits;
	// S_IFLNK (0xA000) in the top nibble marks a symlink entry.
	unixMode := extAttrs >> 16
	e.IsSymlink = unixMode&0xF000 == 0xA000
	e.IsDirectory = len(name) > 0 && name[len(name)-1] == '/'

	if ef.aes != nil {
		e.AES = ef.aes
		e.Method = methodAES
	}

	return e, nil
}

func dosTimeToUTC(date, t uint16) time.Time {
	if date == 0 {
		return time.Time{}
	}
	year := int(date>>9&0x7F) + 1980
	month := int(date >> 5 & 0x0F)
	day := int(date & 0x1F)
	hour := int(t >> 11 & 0x1F)
	min := int(t >> 5 & 0x3F)
	sec := int(t&0x1F) * 2
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

// crcMatchesUnicodeExtra checks an Info-ZIP Unicode Path/Comment extra
// field's embedded CRC32 against the legacy (CP437) bytes it supersedes,
// per spec §4.8's "adopt only if the embedded CRC32 matches" rule.
func crcMatchesUnicodeExtra(legacyBytes []byte, wantCRC uint32) bool {
	return crc32.ChecksumIEEE(legacyBytes) == wantCRC
}
