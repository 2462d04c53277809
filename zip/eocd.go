package zip

import (
	"context"
	"encoding/binary"

	"github.com/Ismail-elkorchi/bytefold/aerr"
	"github.com/Ismail-elkorchi/bytefold/limits"
	"github.com/Ismail-elkorchi/bytefold/raccess"
)

// OpenArchive locates the end-of-central-directory record (promoting to its
// ZIP64 variant when required), then streams and parses the full central
// directory, per spec §4.8.
func OpenArchive(ctx context.Context, ra raccess.RandomAccess, lim limits.ResourceLimits) (*Archive, error) {
	size, err := ra.Size(ctx)
	if err != nil {
		return nil, err
	}
	if size < eocdFixedSize {
		return nil, aerr.New(aerr.CodeZipTruncated, aerr.KindFormat, "zip.open", "input too small to hold an EOCD record")
	}

	eocdOffset, commentLen, err := findEOCD(ctx, ra, size, lim)
	if err != nil {
		return nil, err
	}

	rec, err := raccess.ReadRange(ctx, ra, eocdOffset, eocdFixedSize)
	if err != nil {
		return nil, err
	}
	diskNumber := binary.LittleEndian.Uint16(rec[4:6])
	cdStartDisk := binary.LittleEndian.Uint16(rec[6:8])
	entriesThisDisk := binary.LittleEndian.Uint16(rec[8:10])
	totalEntries := uint64(binary.LittleEndian.Uint16(rec[10:12]))
	cdSize := uint64(binary.LittleEndian.Uint32(rec[12:16]))
	cdOffset := uint64(binary.LittleEndian.Uint32(rec[16:20]))

	if diskNumber != 0 || cdStartDisk != 0 || entriesThisDisk != uint16(totalEntries&0xFFFF) {
		// entriesThisDisk != total on a single-disk archive always means a
		// spanned/split archive, which bytefold does not support.
		return nil, aerr.New(aerr.CodeZipUnsupportedFeature, aerr.KindUnsupported, "zip.open", "multi-disk ZIP archives are not supported")
	}

	needsZip64 := cdOffset == 0xFFFFFFFF || cdSize == 0xFFFFFFFF ||
		totalEntries == 0xFFFF || uint64(entriesThisDisk) == 0xFFFF

	isZip64 := false
	if needsZip64 || eocdOffset >= zip64LocatorSize {
		locOffset := eocdOffset - zip64LocatorSize
		if eocdOffset >= zip64LocatorSize {
			loc, err := raccess.ReadRange(ctx, ra, locOffset, zip64LocatorSize)
			if err == nil && len(loc) == zip64LocatorSize && binary.LittleEndian.Uint32(loc[0:4]) == sigZip64EOCDLocator {
				zip64EOCDOffset := binary.LittleEndian.Uint64(loc[8:16])
				rec64, err := raccess.ReadRange(ctx, ra, zip64EOCDOffset, zip64EOCDFixedSize)
				if err != nil {
					return nil, err
				}
				if len(rec64) != zip64EOCDFixedSize || binary.LittleEndian.Uint32(rec64[0:4]) != sigZip64EOCDRecord {
					if needsZip64 {
						return nil, aerr.New(aerr.CodeZipBadZip64, aerr.KindFormat, "zip.open", "zip64 locator present but record signature mismatch")
					}
				} else {
					isZip64 = true
					totalEntries = binary.LittleEndian.Uint64(rec64[32:40])
					cdSize = binary.LittleEndian.Uint64(rec64[40:48])
					cdOffset = binary.LittleEndian.Uint64(rec64[48:56])
				}
			} else if needsZip64 {
				return nil, aerr.New(aerr.CodeZipBadZip64, aerr.KindFormat, "zip.open", "zip64 fields present but no zip64 locator found")
			}
		} else if needsZip64 {
			return nil, aerr.New(aerr.CodeZipBadZip64, aerr.KindFormat, "zip.open", "zip64 fields present but archive too small for a locator")
		}
	}

	if lim.MaxZipCentralDirectoryBytes > 0 && int64(cdSize) > lim.MaxZipCentralDirectoryBytes {
		return nil, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "zip.open", "central directory size exceeds configured limit")
	}
	if lim.MaxEntries > 0 && int64(totalEntries) > lim.MaxEntries {
		return nil, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "zip.open", "entry count exceeds configured limit")
	}
	if lim.MaxZipCommentBytes > 0 && int64(commentLen) > lim.MaxZipCommentBytes {
		return nil, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "zip.open", "archive comment exceeds configured limit")
	}
	if cdOffset+cdSize > size {
		return nil, aerr.New(aerr.CodeZipBadCentralDirectory, aerr.KindFormat, "zip.open", "central directory extends past end of input")
	}

	var comment string
	if commentLen > 0 {
		cb, err := raccess.ReadRange(ctx, ra, eocdOffset+eocdFixedSize, uint64(commentLen))
		if err != nil {
			return nil, err
		}
		comment = decodeCP437(cb)
	}

	entries, err := parseCentralDirectory(ctx, ra, cdOffset, cdSize, totalEntries, lim)
	if err != nil {
		return nil, err
	}

	logicalEnd := eocdOffset + eocdFixedSize + uint64(commentLen)
	trailing := int64(0)
	if size > logicalEnd {
		trailing = int64(size - logicalEnd)
	}

	return &Archive{
		Entries:       entries,
		Comment:       comment,
		IsZip64:       isZip64,
		CDOffset:      cdOffset,
		CDSize:        cdSize,
		EOCDOffset:    eocdOffset,
		TrailingBytes: trailing,
	}, nil
}

// findEOCD performs the backward scan for the EOCD signature, per spec
// §4.8: search a bounded tail window, nearest EOF first, and accept only a
// signature match whose declared comment length lands exactly at EOF; if no
// candidate does, it returns an error.
func findEOCD(ctx context.Context, ra raccess.RandomAccess, size uint64, lim limits.ResourceLimits) (offset uint64, commentLen uint16, err error) {
	window := uint64(lim.MaxZipEocdSearchBytes)
	if window < eocdFixedSize {
		window = eocdFixedSize
	}
	if window > size {
		window = size
	}
	start := size - window
	buf, rerr := raccess.ReadRange(ctx, ra, start, window)
	if rerr != nil {
		return 0, 0, rerr
	}

	for i := len(buf) - eocdFixedSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:i+4]) != sigEOCD {
			continue
		}
		cl := binary.LittleEndian.Uint16(buf[i+20 : i+22])
		candidateOffset := start + uint64(i)
		if candidateOffset+eocdFixedSize+uint64(cl) == size {
			return candidateOffset, cl, nil
		}
	}
	return 0, 0, aerr.New(aerr.CodeZipBadCentralDirectory, aerr.KindFormat, "zip.open", "end-of-central-directory record not found within search window")
}
