// Package tarfile implements the TAR reader/writer (spec §4.10, C11):
// ustar + PAX + GNU longname/longlink parsing, and a deterministic writer.
// Parsing is independent of the standard library's archive/tar so bytefold
// owns the resource-limit enforcement and deterministic-writer invariants
// spec §4.10/§5 name, rather than wrapping a library that doesn't expose
// those hooks.
//
// Grounded on the teacher's pkg/tarfs/parse.go (`buildTOC`'s header-to-Entry
// mapping) and tarfs.go's `normPath`, generalized from tarfs's read-only
// TOC-building to a full ustar/PAX/GNU reader plus writer.
package tarfile

import "time"

// Typeflag values, per the ustar format (spec §4.10).
const (
	TypeRegular  byte = '0'
	TypeRegularA byte = 0 // legacy pre-POSIX regular-file flag
	TypeHardLink byte = '1'
	TypeSymlink  byte = '2'
	TypeChar     byte = '3'
	TypeBlock    byte = '4'
	TypeDir      byte = '5'
	TypeFIFO     byte = '6'
	TypeContig   byte = '7'
	TypeXHeader  byte = 'x' // PAX extended header for the next entry
	TypeXGlobal  byte = 'g' // PAX global extended header
	TypeGNULong  byte = 'L' // GNU long name
	TypeGNULink  byte = 'K' // GNU long linkname
)

// Header is one parsed TAR entry, with ustar fields overridden by any PAX
// or GNU long-name/long-link records that precede it (spec §4.10).
type Header struct {
	Name     string
	LinkName string
	Size     int64
	Mode     int64
	UID      int64
	GID      int64
	ModTime  time.Time
	Typeflag byte
	Uname    string
	Gname    string
	Devmajor int64
	Devminor int64

	// PAXRecords holds every recognized PAX key/value pair that applied to
	// this entry (spec §4.10's recognized-key list), including any not
	// mapped onto a named field above.
	PAXRecords map[string]string

	// dataOffset is not set by Reader.Next and stays zero; Reader always
	// streams sequentially.
	dataOffset int64
}

func (h *Header) IsDir() bool {
	return h.Typeflag == TypeDir || (len(h.Name) > 0 && h.Name[len(h.Name)-1] == '/')
}

func (h *Header) IsSymlink() bool { return h.Typeflag == TypeSymlink }
func (h *Header) IsHardLink() bool { return h.Typeflag == TypeHardLink }
