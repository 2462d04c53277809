package tarfile

import (
	"io"
	"strconv"
	"time"

	"github.com/Ismail-elkorchi/bytefold/aerr"
)

// WriteOptions configures Writer.
type WriteOptions struct {
	// IsDeterministic, when true, zeroes uid/gid, normalizes mode, zeroes
	// mtime unless Header.ModTime is explicitly set non-zero, and skips any
	// PAX global header, per spec §4.10.
	IsDeterministic bool
}

// Writer emits a ustar-framed TAR stream. It never writes PAX records: every
// field bytefold accepts fits the ustar fixed-width/base-256 encoding, so
// the simpler, fully-deterministic ustar form is always sufficient here.
type Writer struct {
	w    io.Writer
	opts WriteOptions
	err  error
}

// NewWriter wraps w.
func NewWriter(w io.Writer, opts WriteOptions) *Writer {
	return &Writer{w: w, opts: opts}
}

// WriteHeader writes hdr's ustar block. The caller must then pass exactly
// hdr.Size bytes to a single WriteData call before the next WriteHeader or
// Close call.
func (tw *Writer) WriteHeader(hdr *Header) error {
	if tw.err != nil {
		return tw.err
	}
	h := *hdr
	if tw.opts.IsDeterministic {
		h.UID = 0
		h.GID = 0
		h.Uname = ""
		h.Gname = ""
		h.Mode = normalizeMode(h.Mode, h.Typeflag)
		if h.ModTime.IsZero() {
			h.ModTime = time.Unix(0, 0).UTC()
		}
	}

	block, err := marshalUstarBlock(&h)
	if err != nil {
		tw.err = err
		return err
	}
	if _, err := tw.w.Write(block); err != nil {
		tw.err = aerr.Wrap(aerr.CodeInternal, aerr.KindInternal, "tarfile.write_header", "write failed", err)
		return tw.err
	}
	return nil
}

// WriteData writes one entry's body plus its zero-padding to the next
// 512-byte boundary, stable regardless of content (spec §4.10's "stable
// padding bytes").
func (tw *Writer) WriteData(data []byte) error {
	if tw.err != nil {
		return tw.err
	}
	if _, err := tw.w.Write(data); err != nil {
		tw.err = aerr.Wrap(aerr.CodeInternal, aerr.KindInternal, "tarfile.write_data", "write failed", err)
		return tw.err
	}
	if pad := paddingFor(int64(len(data))); pad > 0 {
		if _, err := tw.w.Write(make([]byte, pad)); err != nil {
			tw.err = aerr.Wrap(aerr.CodeInternal, aerr.KindInternal, "tarfile.write_data", "padding write failed", err)
			return tw.err
		}
	}
	return nil
}

// Close writes the two trailing zero blocks that mark the end of the
// archive, per spec §4.10.
func (tw *Writer) Close() error {
	if tw.err != nil {
		return tw.err
	}
	_, err := tw.w.Write(make([]byte, 2*blockSize))
	if err != nil {
		tw.err = aerr.Wrap(aerr.CodeInternal, aerr.KindInternal, "tarfile.close", "write failed", err)
	}
	return tw.err
}

// normalizeMode clears setuid/setgid/sticky bits and any bits beyond the
// standard rwx triad, then collapses permissions to one of two canonical
// values so two archives built from differently-permissioned source trees
// serialize identically (spec §4.10's "mode-normalized").
func normalizeMode(mode int64, typeflag byte) int64 {
	if typeflag == TypeDir {
		return 0o755
	}
	const executeBits = 0o111
	if mode&executeBits != 0 {
		return 0o755
	}
	return 0o644
}

func marshalUstarBlock(h *Header) ([]byte, error) {
	b := make([]byte, blockSize)

	name, prefix := splitNameForUstar(h.Name)
	if len(name) > 100 || len(prefix) > 155 {
		return nil, aerr.New(aerr.CodeTarBadHeader, aerr.KindUnsupported, "tarfile.write_header", "name too long for ustar encoding")
	}
	copy(b[0:100], name)
	putOctal(b[100:108], h.Mode, 7)
	putOctal(b[108:116], h.UID, 7)
	putOctal(b[116:124], h.GID, 7)
	putOctal(b[124:136], h.Size, 11)
	putOctal(b[136:148], h.ModTime.Unix(), 11)
	for i := 148; i < 156; i++ {
		b[i] = ' '
	}
	b[156] = h.Typeflag
	if h.Typeflag == 0 {
		b[156] = TypeRegular
	}
	copy(b[157:257], h.LinkName)
	copy(b[257:263], "ustar\x00")
	copy(b[263:265], "00")
	copy(b[265:297], h.Uname)
	copy(b[297:329], h.Gname)
	putOctal(b[329:337], h.Devmajor, 7)
	putOctal(b[337:345], h.Devminor, 7)
	copy(b[345:500], prefix)

	var unsigned int64
	for _, c := range b {
		unsigned += int64(c)
	}
	putOctalChecksum(b[148:156], unsigned)
	return b, nil
}

// splitNameForUstar splits a long POSIX path into ustar's name/prefix pair,
// breaking at the last '/' that keeps both halves within their field
// widths, per spec §4.10's "prefix + '/' + name" rule.
func splitNameForUstar(name string) (shortName, prefix string) {
	if len(name) <= 100 {
		return name, ""
	}
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' && i <= 155 && len(name)-i-1 <= 100 {
			return name[i+1:], name[:i]
		}
	}
	return name, ""
}

func putOctal(field []byte, v int64, digits int) {
	s := strconv.FormatInt(v, 8)
	if len(s) > digits {
		s = s[len(s)-digits:]
	}
	for i := range field {
		field[i] = ' '
	}
	copy(field[digits-len(s):digits], s)
	field[digits] = 0
}

func putOctalChecksum(field []byte, v int64) {
	s := strconv.FormatInt(v, 8)
	if len(s) > 6 {
		s = s[len(s)-6:]
	}
	for i := range field {
		field[i] = '0'
	}
	copy(field[6-len(s):6], s)
	field[6] = 0
	field[7] = ' '
}
