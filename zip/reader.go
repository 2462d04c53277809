package zip

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/Ismail-elkorchi/bytefold/aerr"
	"github.com/Ismail-elkorchi/bytefold/bzip2"
	"github.com/Ismail-elkorchi/bytefold/internal/obs"
	"github.com/Ismail-elkorchi/bytefold/internal/obslog"
	"github.com/Ismail-elkorchi/bytefold/limits"
	"github.com/Ismail-elkorchi/bytefold/pipeline"
	"github.com/Ismail-elkorchi/bytefold/raccess"
	"github.com/Ismail-elkorchi/bytefold/xz"
)

// lfhFixedSize is the Local File Header's length before the variable-length
// name/extra fields.
const lfhFixedSize = 30

// OpenEntry opens the idx'th entry for streaming decompression, per spec
// §4.9's six-step procedure: locate and parse the LFH, reconcile it against
// the CD record, compute the data start offset, handle a trailing data
// descriptor, dispatch through the codec pipeline, and verify CRC32 as the
// returned reader is drained.
func (a *Archive) OpenEntry(ctx context.Context, ra raccess.RandomAccess, idx int, strict bool, lim limits.ResourceLimits) (io.ReadCloser, error) {
	ctx, span := obs.Start(ctx, "zip.open_entry")
	defer span.End()

	if idx < 0 || idx >= len(a.Entries) {
		return nil, aerr.New(aerr.CodeInvalidArgs, aerr.KindFormat, "zip.open_entry", "entry index out of range")
	}
	e := &a.Entries[idx]
	obslog.Op(ctx, "zip.open_entry").Debug("opening zip entry", "name", e.Name, "method", e.Method)

	if e.AES != nil || e.Method == methodAES {
		return nil, aerr.New(aerr.CodeZipUnsupportedFeature, aerr.KindUnsupported, "zip.open_entry", "AES-encrypted entries are recognized but decryption is out of scope").WithContext("entryName", e.Name)
	}

	lfh, err := raccess.ReadRange(ctx, ra, e.LocalHeaderOffset, lfhFixedSize)
	if err != nil {
		return nil, err
	}
	if len(lfh) != lfhFixedSize || binary.LittleEndian.Uint32(lfh[0:4]) != sigLocalFileHeader {
		return nil, aerr.New(aerr.CodeZipBadCentralDirectory, aerr.KindFormat, "zip.open_entry", "local file header signature mismatch").WithContext("entryName", e.Name)
	}

	lfhMethod := binary.LittleEndian.Uint16(lfh[8:10])
	lfhGPFlags := binary.LittleEndian.Uint16(lfh[6:8])
	lfhNameLen := binary.LittleEndian.Uint16(lfh[26:28])
	lfhExtraLen := binary.LittleEndian.Uint16(lfh[28:30])

	if lfhMethod != e.Method && e.Method != methodAES {
		err := aerr.New(aerr.CodeZipHeaderMismatch, aerr.KindFormat, "zip.open_entry", "local and central directory method disagree").WithContext("entryName", e.Name)
		if strict {
			return nil, err
		}
	}

	dataStart := e.LocalHeaderOffset + lfhFixedSize + uint64(lfhNameLen) + uint64(lfhExtraLen)

	compSize := e.CompressedSize
	uncompSize := e.UncompressedSize
	crcWant := e.CRC32

	if lfhGPFlags&gpBitDataDescriptor != 0 {
		// Sizes and CRC in the LFH are zero; the true values trail the
		// compressed data in a (possibly unsigned) data descriptor. Without
		// re-scanning we trust the CD's copies, which spec §4.9/Open
		// Question (c) allows; strict mode cross-checks them below once the
		// descriptor is located.
		dd, ddErr := locateDataDescriptor(ctx, ra, dataStart, compSize)
		if ddErr == nil && strict {
			if dd.compSize != compSize || dd.uncompSize != uncompSize || dd.crc32 != crcWant {
				return nil, aerr.New(aerr.CodeZipHeaderMismatch, aerr.KindFormat, "zip.open_entry", "data descriptor disagrees with central directory").WithContext("entryName", e.Name)
			}
		}
	}

	limited := io.NewSectionReader(sectionAt{ctx: ctx, ra: ra}, int64(dataStart), int64(compSize))

	raw, err := decodeByMethod(ctx, e.Method, limited, lim)
	if err != nil {
		return nil, err
	}
	obs.EntriesRead.WithLabelValues("zip").Inc()

	return &crcVerifyingReader{
		r:          raw,
		wantCRC:    crcWant,
		wantSize:   uncompSize,
		entryName:  e.Name,
		codec:      codecLabel(e.Method),
		skipCheck:  e.AES != nil, // AE-2 entries carry a zero CRC32, spec §4.9
		maxBytes:   lim.MaxUncompressedEntryBytes,
	}, nil
}

// codecLabel maps a ZIP method number to the obs.BytesDecoded "codec" label.
func codecLabel(method uint16) string {
	switch method {
	case uint16(pipeline.MethodStore):
		return "store"
	case uint16(pipeline.MethodDeflate):
		return "deflate"
	case uint16(pipeline.MethodDeflate64):
		return "deflate64"
	case uint16(pipeline.MethodZstd):
		return "zstd"
	case uint16(pipeline.MethodXZ):
		return "xz"
	case uint16(pipeline.MethodBzip2):
		return "bzip2"
	case methodAES:
		return "aes"
	default:
		return "unknown"
	}
}

// VerifyEntryPassword tests a candidate password against a WinZip AES
// entry's stored password-verification value without decrypting any entry
// content (spec §1's decryption Non-goal; see zip.VerifyPasswordCandidate).
// It returns false, nil for a non-AES entry rather than erroring, since
// "does this password work" is vacuously false when there is nothing to
// unlock.
func (a *Archive) VerifyEntryPassword(ctx context.Context, ra raccess.RandomAccess, idx int, password string) (bool, error) {
	if idx < 0 || idx >= len(a.Entries) {
		return false, aerr.New(aerr.CodeInvalidArgs, aerr.KindFormat, "zip.verify_entry_password", "entry index out of range")
	}
	e := &a.Entries[idx]
	if e.AES == nil {
		return false, nil
	}

	lfh, err := raccess.ReadRange(ctx, ra, e.LocalHeaderOffset, lfhFixedSize)
	if err != nil {
		return false, err
	}
	if len(lfh) != lfhFixedSize {
		return false, aerr.New(aerr.CodeZipTruncated, aerr.KindFormat, "zip.verify_entry_password", "truncated local file header")
	}
	lfhNameLen := binary.LittleEndian.Uint16(lfh[26:28])
	lfhExtraLen := binary.LittleEndian.Uint16(lfh[28:30])
	dataStart := e.LocalHeaderOffset + lfhFixedSize + uint64(lfhNameLen) + uint64(lfhExtraLen)

	saltSize, err := AESSaltSize(e.AES.Strength)
	if err != nil {
		return false, err
	}
	header, err := raccess.ReadRange(ctx, ra, dataStart, uint64(saltSize+2))
	if err != nil {
		return false, err
	}
	if len(header) != saltSize+2 {
		return false, aerr.New(aerr.CodeZipTruncated, aerr.KindFormat, "zip.verify_entry_password", "truncated AES salt/verifier")
	}
	var verifier [2]byte
	copy(verifier[:], header[saltSize:])
	return VerifyPasswordCandidate(e.AES.Strength, header[:saltSize], password, verifier)
}

// RawEntry is the entry's compressed bytes plus the header fields needed to
// re-emit it unchanged into another ZIP (spec §4.13's normalize lossless
// mode), obtained without running it through the codec pipeline.
type RawEntry struct {
	Method           uint16
	Compressed       []byte
	CRC32            uint32
	UncompressedSize uint64
}

// ReadRawEntry locates idx's local file header and returns its compressed
// bytes verbatim, for callers (the normalize engine's lossless mode) that
// want to re-wrap an entry into a new archive without decoding it.
func (a *Archive) ReadRawEntry(ctx context.Context, ra raccess.RandomAccess, idx int) (RawEntry, error) {
	if idx < 0 || idx >= len(a.Entries) {
		return RawEntry{}, aerr.New(aerr.CodeInvalidArgs, aerr.KindFormat, "zip.read_raw_entry", "entry index out of range")
	}
	e := &a.Entries[idx]

	lfh, err := raccess.ReadRange(ctx, ra, e.LocalHeaderOffset, lfhFixedSize)
	if err != nil {
		return RawEntry{}, err
	}
	if len(lfh) != lfhFixedSize || binary.LittleEndian.Uint32(lfh[0:4]) != sigLocalFileHeader {
		return RawEntry{}, aerr.New(aerr.CodeZipBadCentralDirectory, aerr.KindFormat, "zip.read_raw_entry", "local file header signature mismatch").WithContext("entryName", e.Name)
	}
	lfhNameLen := binary.LittleEndian.Uint16(lfh[26:28])
	lfhExtraLen := binary.LittleEndian.Uint16(lfh[28:30])
	dataStart := e.LocalHeaderOffset + lfhFixedSize + uint64(lfhNameLen) + uint64(lfhExtraLen)

	compressed, err := raccess.ReadRange(ctx, ra, dataStart, e.CompressedSize)
	if err != nil {
		return RawEntry{}, err
	}
	if uint64(len(compressed)) != e.CompressedSize {
		return RawEntry{}, aerr.New(aerr.CodeZipTruncated, aerr.KindFormat, "zip.read_raw_entry", "truncated entry data").WithContext("entryName", e.Name)
	}
	return RawEntry{Method: e.Method, Compressed: compressed, CRC32: e.CRC32, UncompressedSize: e.UncompressedSize}, nil
}

// decodeByMethod dispatches store/deflate/zstd/gzip/brotli through the
// shared codec pipeline, and xz/bzip2 through their own preflight-aware
// decoders (spec §4.9's method dispatch table).
func decodeByMethod(ctx context.Context, method uint16, src io.Reader, lim limits.ResourceLimits) (io.ReadCloser, error) {
	obslog.Op(ctx, "zip.decode_by_method").Debug("dispatching codec", "method", method)
	switch method {
	case uint16(pipeline.MethodXZ):
		pr, pw := io.Pipe()
		go func() {
			_, span := obs.Start(ctx, "xz.decode")
			defer span.End()
			err := xz.Decode(src, pw, xz.DecodeOptions{Limits: lim})
			pw.CloseWithError(err)
		}()
		return pr, nil
	case uint16(pipeline.MethodBzip2):
		pr, pw := io.Pipe()
		go func() {
			_, span := obs.Start(ctx, "bzip2.decode")
			defer span.End()
			err := bzip2.Decode(src, pw, bzip2.Options{
				MaxBlockSize:   int(lim.MaxBzip2BlockSize),
				MaxOutputBytes: lim.MaxUncompressedEntryBytes,
			})
			pw.CloseWithError(err)
		}()
		return pr, nil
	default:
		f := pipeline.NewDecodeFactory(pipeline.Method(method), src)
		tr, err := f(ctx)
		if err != nil {
			return nil, err
		}
		return tr.Output, nil
	}
}

// sectionAt adapts raccess.RandomAccess to io.ReaderAt so io.SectionReader
// can bound reads to an entry's compressed-data span without a copy.
type sectionAt struct {
	ctx context.Context
	ra  raccess.RandomAccess
}

func (s sectionAt) ReadAt(p []byte, off int64) (int, error) {
	return s.ra.ReadAt(s.ctx, p, uint64(off))
}

type dataDescriptor struct {
	crc32              uint32
	compSize, uncompSize uint64
}

// locateDataDescriptor reads the 12 (or 16, signed form) bytes immediately
// following compSize bytes of entry data and parses whichever form is
// present, per spec §4.9 Open Question (c).
func locateDataDescriptor(ctx context.Context, ra raccess.RandomAccess, dataStart, compSize uint64) (dataDescriptor, error) {
	off := dataStart + compSize
	b, err := raccess.ReadRange(ctx, ra, off, 16)
	if err != nil || len(b) < 12 {
		return dataDescriptor{}, aerr.New(aerr.CodeZipTruncated, aerr.KindFormat, "zip.data_descriptor", "truncated data descriptor")
	}
	if binary.LittleEndian.Uint32(b[0:4]) == sigDataDescriptor && len(b) >= 16 {
		return dataDescriptor{
			crc32:      binary.LittleEndian.Uint32(b[4:8]),
			compSize:   uint64(binary.LittleEndian.Uint32(b[8:12])),
			uncompSize: uint64(binary.LittleEndian.Uint32(b[12:16])),
		}, nil
	}
	return dataDescriptor{
		crc32:      binary.LittleEndian.Uint32(b[0:4]),
		compSize:   uint64(binary.LittleEndian.Uint32(b[4:8])),
		uncompSize: uint64(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

// crcVerifyingReader taps decoded bytes through a running CRC32 and byte
// counter, failing the final Read once EOF is reached if either mismatches
// the central directory's recorded values, or if the per-entry resource
// limit is exceeded mid-stream (spec §4.9/§3).
type crcVerifyingReader struct {
	r         io.ReadCloser
	h         uint32
	hashInit  bool
	n         uint64
	wantCRC   uint32
	wantSize  uint64
	maxBytes  int64
	entryName string
	codec     string
	skipCheck bool
	done      bool
}

func (c *crcVerifyingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.h = crc32.Update(c.h, crc32.IEEETable, p[:n])
		c.hashInit = true
		c.n += uint64(n)
		obs.BytesDecoded.WithLabelValues(c.codec).Add(float64(n))
		if c.maxBytes > 0 && int64(c.n) > c.maxBytes {
			obs.ResourceLimitTrips.WithLabelValues("MaxUncompressedEntryBytes").Inc()
			return n, aerr.New(aerr.CodeCompressionResourceLimit, aerr.KindResourceLimit, "zip.read_entry", "entry uncompressed size exceeds configured limit").WithContext("entryName", c.entryName)
		}
	}
	if err == io.EOF {
		if verr := c.verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

func (c *crcVerifyingReader) verify() error {
	if c.done {
		return nil
	}
	c.done = true
	if c.wantSize != 0 && c.n != c.wantSize {
		return aerr.New(aerr.CodeZipBadCentralDirectory, aerr.KindIntegrity, "zip.read_entry", "decoded size does not match central directory").WithContext("entryName", c.entryName)
	}
	if !c.skipCheck && c.h != c.wantCRC {
		return aerr.New(aerr.CodeZipBadCRC, aerr.KindIntegrity, "zip.read_entry", "CRC32 mismatch").WithContext("entryName", c.entryName)
	}
	return nil
}

func (c *crcVerifyingReader) Close() error { return c.r.Close() }
