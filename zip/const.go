package zip

// Wire-format signatures (little-endian 4-byte magic values), spec §4.8/§4.9.
const (
	sigLocalFileHeader   uint32 = 0x04034B50
	sigDataDescriptor    uint32 = 0x08074B50
	sigCentralDirectory  uint32 = 0x02014B50
	sigEOCD              uint32 = 0x06054B50
	sigZip64EOCDLocator  uint32 = 0x07064B50
	sigZip64EOCDRecord   uint32 = 0x06064B50
)

// Extra-field header IDs, spec §4.8.
const (
	extraZip64             uint16 = 0x0001
	extraExtendedTimestamp uint16 = 0x5455
	extraUnicodePath       uint16 = 0x7075
	extraUnicodeComment    uint16 = 0x6375
	extraWinZipAES         uint16 = 0x9901
)

// General-purpose bit-flag bits, spec §4.8/§4.9.
const (
	gpBitDataDescriptor uint16 = 1 << 3
	gpBitUTF8           uint16 = 1 << 11
)

// eocdFixedSize is the End Of Central Directory record's length before the
// variable-length comment.
const eocdFixedSize = 22

// cdfhFixedSize is the Central Directory File Header's length before the
// variable-length name/extra/comment fields.
const cdfhFixedSize = 46

// zip64LocatorSize is the fixed size of the ZIP64 end-of-central-directory
// locator record.
const zip64LocatorSize = 20

// zip64EOCDFixedSize is the fixed prefix size of the ZIP64
// end-of-central-directory record (the 12-byte signature+size header plus
// the 44 bytes that follow it).
const zip64EOCDFixedSize = 56

// methodAES is the method number (99) WinZip AES entries carry in their
// headers; it has no pipeline.Method counterpart.
const methodAES = 99
