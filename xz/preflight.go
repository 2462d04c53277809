package xz

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"strconv"

	"github.com/Ismail-elkorchi/bytefold/aerr"
	"github.com/Ismail-elkorchi/bytefold/internal/codec/vli"
	"github.com/Ismail-elkorchi/bytefold/limits"
	"github.com/Ismail-elkorchi/bytefold/raccess"
	"github.com/Ismail-elkorchi/bytefold/xz/lzma2"
)

// backScanWindow is the chunk size used when scanning backward for
// stream-padding zero bytes (spec §4.6 step 1).
const backScanWindow = 32 * 1024

// PreflightStream summarizes one XZ stream found by the backward scan.
type PreflightStream struct {
	IndexRecords        int
	RequiredDictionary  uint64
	HeaderScanIncomplete bool
}

// PreflightReport is the result of scanning an entire (possibly
// multi-stream) XZ source tail-to-head without decoding any payload.
type PreflightReport struct {
	Streams              []PreflightStream
	TotalIndexBytes       uint64
	TotalIndexRecords     uint64
	RequiredDictionaryMax uint64
	Incomplete            bool
}

// Preflight runs the seekable XZ index preflight (spec §4.6): it proves the
// worst-case resource bounds of every stream in ra before any byte of
// payload is decompressed, scanning from the tail toward the head.
func Preflight(ctx context.Context, ra raccess.RandomAccess, lim limits.ResourceLimits) (PreflightReport, error) {
	size, err := ra.Size(ctx)
	if err != nil {
		return PreflightReport{}, err
	}
	var report PreflightReport
	end := size
	for end > 0 {
		newEnd, stream, err := preflightOneStream(ctx, ra, end, lim, &report)
		if err != nil {
			return PreflightReport{}, err
		}
		report.Streams = append(report.Streams, stream)
		if stream.RequiredDictionary > report.RequiredDictionaryMax {
			report.RequiredDictionaryMax = stream.RequiredDictionary
		}
		if stream.HeaderScanIncomplete {
			report.Incomplete = true
		}
		if newEnd >= end {
			return PreflightReport{}, aerr.New(aerr.CodeCompressionUnsupportedFilter, aerr.KindFormat, "xz.preflight", "stream scan made no backward progress")
		}
		end = newEnd
	}
	return report, nil
}

// preflightOneStream scans the single stream ending at end (exclusive),
// returning this stream's start offset, which is where the previous stream's
// trailing padding ends (step 7's "recurse into the previous stream").
func preflightOneStream(ctx context.Context, ra raccess.RandomAccess, end uint64, lim limits.ResourceLimits, report *PreflightReport) (uint64, PreflightStream, error) {
	// Step 1: skip stream-padding zero bytes, scanning backward in windows.
	pos := end
	for pos > 0 {
		winLen := uint64(backScanWindow)
		if winLen > pos {
			winLen = pos
		}
		buf, err := raccess.ReadRange(ctx, ra, pos-winLen, winLen)
		if err != nil {
			return 0, PreflightStream{}, err
		}
		i := len(buf)
		for i > 0 && buf[i-1] == 0 {
			i--
		}
		if i > 0 {
			pos = pos - winLen + uint64(i)
			break
		}
		pos -= winLen
	}
	// pos now marks the byte immediately after the last nonzero byte: the
	// true end of the stream's footer. Footer+padding must align to 4 bytes.
	streamEnd := (pos + 3) &^ 3

	// Step 2: read the 12-byte footer.
	if streamEnd < 12 {
		return 0, PreflightStream{}, aerr.New(aerr.CodeZipTruncated, aerr.KindFormat, "xz.preflight", "truncated xz stream footer")
	}
	footer, err := raccess.ReadRange(ctx, ra, streamEnd-12, 12)
	if err != nil {
		return 0, PreflightStream{}, err
	}
	if footer[10] != footerMagic[0] || footer[11] != footerMagic[1] {
		return 0, PreflightStream{}, aerr.New(aerr.CodeCompressionUnsupportedFilter, aerr.KindFormat, "xz.preflight", "bad xz footer magic")
	}
	crcWant := binary.LittleEndian.Uint32(footer[0:4])
	crcGot := crc32.ChecksumIEEE(footer[4:10])
	if crcGot != crcWant {
		return 0, PreflightStream{}, aerr.New(aerr.CodeCompressionXZBadCheck, aerr.KindIntegrity, "xz.preflight", "stream footer CRC mismatch")
	}
	backwardSize := (uint64(binary.LittleEndian.Uint32(footer[4:8])) + 1) * 4

	// Step 3: compute and accumulate index size.
	indexSize := backwardSize
	report.TotalIndexBytes += indexSize
	if lim.MaxXzIndexBytes > 0 && report.TotalIndexBytes > uint64(lim.MaxXzIndexBytes) {
		return 0, PreflightStream{}, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "xz.preflight", "total xz index bytes exceeded configured limit").
			WithContext("limitBytes", formatU64(uint64(lim.MaxXzIndexBytes))).
			WithContext("requiredBytes", formatU64(report.TotalIndexBytes))
	}

	indexStart := streamEnd - 12 - indexSize
	indexBuf, err := raccess.ReadRange(ctx, ra, indexStart, indexSize)
	if err != nil {
		return 0, PreflightStream{}, err
	}
	if len(indexBuf) == 0 || indexBuf[0] != 0x00 {
		return 0, PreflightStream{}, aerr.New(aerr.CodeCompressionUnsupportedFilter, aerr.KindFormat, "xz.preflight", "bad xz index indicator byte")
	}

	// Step 4: parse record count.
	count, n, err := vli.ReadBytes(indexBuf[1:])
	if err != nil {
		return 0, PreflightStream{}, aerr.Wrap(aerr.CodeZipBadCentralDirectory, aerr.KindFormat, "xz.preflight", "bad index record count", err)
	}
	report.TotalIndexRecords += count
	if lim.MaxXzIndexRecords > 0 && report.TotalIndexRecords > uint64(lim.MaxXzIndexRecords) {
		return 0, PreflightStream{}, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "xz.preflight", "total xz index records exceeded configured limit").
			WithContext("limitRecords", formatU64(uint64(lim.MaxXzIndexRecords))).
			WithContext("requiredRecords", formatU64(report.TotalIndexRecords))
	}

	pos2 := 1 + n
	records := make([]indexRecord, 0, count)
	for i := uint64(0); i < count; i++ {
		u1, n1, err := vli.ReadBytes(indexBuf[pos2:])
		if err != nil {
			return 0, PreflightStream{}, aerr.Wrap(aerr.CodeZipBadCentralDirectory, aerr.KindFormat, "xz.preflight", "bad index unpadded size", err)
		}
		pos2 += n1
		u2, n2, err := vli.ReadBytes(indexBuf[pos2:])
		if err != nil {
			return 0, PreflightStream{}, aerr.Wrap(aerr.CodeZipBadCentralDirectory, aerr.KindFormat, "xz.preflight", "bad index uncompressed size", err)
		}
		pos2 += n2
		records = append(records, indexRecord{unpaddedSize: u1, uncompSize: u2})
	}

	// Step 5/6: walk block headers in file order, up to the per-stream cap,
	// reading each header and its LZMA2 dictionary property.
	stream := PreflightStream{IndexRecords: int(count)}
	headerCap := lim.MaxXzPreflightBlockHeaders
	blockStart := streamHeaderEndOffset(streamEnd, indexSize, records)
	offset := blockStart
	for i, r := range records {
		if headerCap > 0 && int64(i) >= headerCap {
			stream.HeaderScanIncomplete = true
			break
		}
		dictSize, err := preflightBlockHeader(ctx, ra, offset, lim)
		if err != nil {
			return 0, PreflightStream{}, err
		}
		if dictSize > stream.RequiredDictionary {
			stream.RequiredDictionary = dictSize
		}
		// Advance by this block's total on-disk size: header+compressed
		// payload+padding+check, rounded to 4 bytes, per the unpadded size
		// recorded in the index (unpadded size already excludes padding).
		blockTotal := r.unpaddedSize
		if blockTotal%4 != 0 {
			blockTotal += 4 - blockTotal%4
		}
		offset += blockTotal
	}

	return blockStart - 12, stream, nil
}

// indexRecord is one parsed XZ index record (spec §4.6 step 4).
type indexRecord struct{ unpaddedSize, uncompSize uint64 }

// streamHeaderEndOffset computes where this stream's first block begins:
// 12 bytes of stream header, immediately followed by the first block.
// Since the backward scan does not independently know the stream's start,
// it derives the first block offset from the index's accounting: the
// stream header sits immediately before the first block, and the index
// position is known (streamEnd - 12 - indexSize - sum(blockTotal)).
func streamHeaderEndOffset(streamEnd, indexSize uint64, records []indexRecord) uint64 {
	var total uint64
	for _, r := range records {
		bt := r.unpaddedSize
		if bt%4 != 0 {
			bt += 4 - bt%4
		}
		total += bt
	}
	return streamEnd - 12 - indexSize - total
}

// preflightBlockHeader reads one block header at offset and returns its
// LZMA2 dictionary size requirement, failing fast per spec §4.6 step 5 if
// it exceeds MaxXzDictionaryBytes.
func preflightBlockHeader(ctx context.Context, ra raccess.RandomAccess, offset uint64, lim limits.ResourceLimits) (uint64, error) {
	sizeByte, err := raccess.ReadRange(ctx, ra, offset, 1)
	if err != nil {
		return 0, err
	}
	if len(sizeByte) == 0 || sizeByte[0] == 0 {
		return 0, aerr.New(aerr.CodeCompressionUnsupportedFilter, aerr.KindFormat, "xz.preflight", "unexpected index marker where block header expected")
	}
	headerSize := (int(sizeByte[0]) + 1) * 4
	body, err := raccess.ReadRange(ctx, ra, offset, uint64(headerSize))
	if err != nil {
		return 0, err
	}
	crcWant := binary.LittleEndian.Uint32(body[headerSize-4:])
	crcGot := crc32.ChecksumIEEE(body[:headerSize-4])
	if crcGot != crcWant {
		return 0, aerr.New(aerr.CodeCompressionXZBadCheck, aerr.KindIntegrity, "xz.preflight", "block header CRC mismatch")
	}
	flags := body[1]
	numFilters := int(flags&0x03) + 1
	hasCompSize := flags&0x40 != 0
	hasUncompSize := flags&0x80 != 0
	pos := 2
	if hasCompSize {
		_, n, err := vli.ReadBytes(body[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
	}
	if hasUncompSize {
		_, n, err := vli.ReadBytes(body[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
	}
	var dictSize uint64
	for i := 0; i < numFilters; i++ {
		id, n, err := vli.ReadBytes(body[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
		sz, n, err := vli.ReadBytes(body[pos:])
		if err != nil {
			return 0, err
		}
		pos += n
		props := body[pos : pos+int(sz)]
		pos += int(sz)
		if FilterID(id) == FilterLZMA2 && len(props) == 1 {
			ds, err := lzma2.DictSize(props[0])
			if err != nil {
				return 0, aerr.Wrap(aerr.CodeCompressionUnsupportedFilter, aerr.KindFormat, "xz.preflight", "bad lzma2 dictionary property", err)
			}
			dictSize = ds
		}
	}
	if lim.MaxXzDictionaryBytes > 0 && dictSize > uint64(lim.MaxXzDictionaryBytes) {
		return 0, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "xz.preflight", "required lzma2 dictionary exceeds configured limit").
			WithContext("requiredBytes", formatU64(dictSize)).
			WithContext("limitBytes", formatU64(uint64(lim.MaxXzDictionaryBytes)))
	}
	return dictSize, nil
}

func formatU64(n uint64) string {
	return strconv.FormatUint(n, 10)
}
