// Package zip implements the ZIP central-directory reader (spec §4.8, C9)
// and entry reader (spec §4.9, C10): EOCD/ZIP64 discovery, streaming CDFH
// parsing, extra-field interpretation, and LFH-reconciled entry opening
// dispatched through the codec pipeline.
//
// Grounded on the teacher's offset/central-directory bookkeeping style in
// pkg/tarfs/srv.go (the inode/meta/lazy-realize split) generalized to
// ZIP's CDFH/LFH split.
package zip

import "time"

// NameSource records how an entry's decoded name was derived, per spec
// §4.8's "record nameSource = unicode-extra".
type NameSource string

// Recognized name sources.
const (
	NameSourceUTF8    NameSource = "utf8-flag"
	NameSourceCP437   NameSource = "cp437"
	NameSourceUnicode NameSource = "unicode-extra"
)

// Entry is one parsed central-directory file header, plus the bookkeeping
// needed to open it lazily (spec §4.8/§4.9).
type Entry struct {
	Name       string
	NameSource NameSource
	Comment    string

	Method           uint16
	CompressedSize   uint64
	UncompressedSize uint64
	CRC32            uint32
	LocalHeaderOffset uint64

	GeneralPurposeFlags uint16
	DOSTime             uint16
	DOSDate             uint16
	ModTime             time.Time
	AccessTime          time.Time
	ChangeTime          time.Time

	ExternalAttrs uint32
	IsDirectory   bool
	IsSymlink     bool

	AES *AESInfo
}

// AESInfo carries WinZip AES (extra field 0x9901) encryption metadata, for
// recognition only; decryption is out of scope (spec §1 Non-goals).
type AESInfo struct {
	VendorVersion  uint16
	VendorID       [2]byte
	Strength       byte
	ActualMethod   uint16
}

// Archive is a parsed ZIP central directory, ready to open entries from.
type Archive struct {
	Entries       []Entry
	Comment       string
	IsZip64       bool
	CDOffset      uint64
	CDSize        uint64
	EOCDOffset    uint64
	TrailingBytes int64 // bytes after the logical archive end, if any
}
