package lzma2

import (
	"errors"
	"io"
)

const (
	numStates        = 12
	numPosBitsMax    = 4
	numLenToPosStates = 4
	numAlignBits      = 4
	numFullDistances  = 1 << (14 >> 1) // kept for documentation parity with the LZMA SDK's kNumFullDistances
	matchMinLen       = 2
)

// ErrBadDictSize is returned when the 1-byte LZMA2 dictionary property
// decodes to an unreasonable value.
var ErrBadDictSize = errors.New("lzma2: invalid dictionary size property")

// DictSize decodes the 1-byte LZMA2 dictionary-size property per spec §4.4:
// bits<=40, dictSize = (2 | (bits&1)) << ((bits>>1)+11); 40 maps to 2^32-1.
func DictSize(propByte byte) (uint64, error) {
	bits := uint(propByte)
	if bits > 40 {
		return 0, ErrBadDictSize
	}
	if bits == 40 {
		return 1<<32 - 1, nil
	}
	return uint64(2|(bits&1)) << (bits/2 + 11), nil
}

// props holds the lc/lp/pb decode-time parameters (spec §4.6's "new props").
type props struct {
	lc, lp, pb uint
}

func decodeProps(b byte) (props, error) {
	if b >= 9*5*5 {
		return props{}, errors.New("lzma2: invalid lclppb byte")
	}
	pb := uint(b) / 45
	rem := uint(b) % 45
	lp := rem / 9
	lc := rem % 9
	return props{lc: lc, lp: lp, pb: pb}, nil
}

// state is the LZMA decoder's full probability-model and dictionary state,
// reset selectively per LZMA2 chunk control bits (spec §4.4).
type state struct {
	p props

	// dictionary: a ring buffer sized to the stream's negotiated dict size.
	dict     []byte
	dictPos  int
	dictFull bool // has the ring wrapped at least once
	fullLen  uint64

	// LZMA probability models.
	litProbs []prob

	isMatch    [numStates << numPosBitsMax]prob
	isRep      [numStates]prob
	isRepG0    [numStates]prob
	isRepG1    [numStates]prob
	isRepG2    [numStates]prob
	isRep0Long [numStates << numPosBitsMax]prob

	posSlot      [numLenToPosStates][1 << 6]prob
	specPos      [115]prob
	alignProbs   [1 << numAlignBits]prob

	lenCoder    lenDecoder
	repLenCoder lenDecoder

	st      uint32
	reps    [4]uint32
}

type lenDecoder struct {
	choice  prob
	choice2 prob
	low     [1 << numPosBitsMax][8]prob
	mid     [1 << numPosBitsMax][8]prob
	high    [256]prob
}

func newLenDecoder() lenDecoder {
	var l lenDecoder
	l.choice = bitModelTotal / 2
	l.choice2 = bitModelTotal / 2
	for i := range l.low {
		for j := range l.low[i] {
			l.low[i][j] = bitModelTotal / 2
		}
	}
	for i := range l.mid {
		for j := range l.mid[i] {
			l.mid[i][j] = bitModelTotal / 2
		}
	}
	for i := range l.high {
		l.high[i] = bitModelTotal / 2
	}
	return l
}

func (l *lenDecoder) decode(rc *rangeDecoder, posState uint32) (uint32, error) {
	bit, err := rc.decodeBit(&l.choice)
	if err != nil {
		return 0, err
	}
	if bit == 0 {
		v, err := rc.bitTree(l.low[posState][:], 3)
		return v, err
	}
	bit2, err := rc.decodeBit(&l.choice2)
	if err != nil {
		return 0, err
	}
	if bit2 == 0 {
		v, err := rc.bitTree(l.mid[posState][:], 3)
		return 8 + v, err
	}
	v, err := rc.bitTree(l.high[:], 8)
	return 16 + v, err
}

// newState constructs a decoder state with the given dictionary size; probs
// are reset to the flat distribution (dictionary-reset level, the strongest
// reset an LZMA2 chunk can request).
func newState(dictSize uint64, p props) *state {
	s := &state{p: p}
	if dictSize < 4096 {
		dictSize = 4096
	}
	s.dict = make([]byte, dictSize)
	s.resetProbs()
	s.resetState()
	return s
}

func (s *state) resetState() {
	s.st = 0
	s.reps = [4]uint32{0, 0, 0, 0}
}

func (s *state) resetProbs() {
	numLitStates := uint32(1) << (s.p.lc + s.p.lp)
	s.litProbs = newProbs(int(0x300 * numLitStates))
	for i := range s.isMatch {
		s.isMatch[i] = bitModelTotal / 2
	}
	for i := range s.isRep {
		s.isRep[i] = bitModelTotal / 2
		s.isRepG0[i] = bitModelTotal / 2
		s.isRepG1[i] = bitModelTotal / 2
		s.isRepG2[i] = bitModelTotal / 2
	}
	for i := range s.isRep0Long {
		s.isRep0Long[i] = bitModelTotal / 2
	}
	for i := range s.posSlot {
		for j := range s.posSlot[i] {
			s.posSlot[i][j] = bitModelTotal / 2
		}
	}
	for i := range s.specPos {
		s.specPos[i] = bitModelTotal / 2
	}
	for i := range s.alignProbs {
		s.alignProbs[i] = bitModelTotal / 2
	}
	s.lenCoder = newLenDecoder()
	s.repLenCoder = newLenDecoder()
}

func (s *state) resetDict() {
	s.dictPos = 0
	s.dictFull = false
	s.fullLen = 0
}

func (s *state) putByte(b byte) {
	s.dict[s.dictPos] = b
	s.dictPos++
	s.fullLen++
	if s.dictPos == len(s.dict) {
		s.dictPos = 0
		s.dictFull = true
	}
}

func (s *state) byteAt(dist uint32) byte {
	idx := s.dictPos - int(dist) - 1
	if idx < 0 {
		idx += len(s.dict)
	}
	return s.dict[idx]
}

// Decoder is a streaming LZMA2 decoder producing output bytes from an XZ
// block's LZMA2-filtered payload.
type Decoder struct {
	r        io.ByteReader
	s        *state
	dictSize uint64
	out      io.Writer

	needDictReset  bool
	needPropsReset bool

	maxDictionaryBytes uint64
}

// NewDecoder constructs a streaming LZMA2 decoder reading chunk-framed data
// from r and writing decoded output to out, with a dictionary sized per the
// 1-byte property byte. maxDictionaryBytes enforces spec §4.4's "Dictionary
// allocation must not exceed maxXzDictionaryBytes".
func NewDecoder(r io.ByteReader, out io.Writer, dictPropByte byte, maxDictionaryBytes uint64) (*Decoder, error) {
	dictSize, err := DictSize(dictPropByte)
	if err != nil {
		return nil, err
	}
	if maxDictionaryBytes > 0 && dictSize > maxDictionaryBytes {
		return nil, errDictTooLarge{required: dictSize, limit: maxDictionaryBytes}
	}
	return &Decoder{r: r, dictSize: dictSize, out: out, needDictReset: true, needPropsReset: true, maxDictionaryBytes: maxDictionaryBytes}, nil
}

// errDictTooLarge is returned (and type-asserted by the xz package) when the
// decoded dictionary size would exceed the configured resource limit.
type errDictTooLarge struct {
	required uint64
	limit    uint64
}

func (e errDictTooLarge) Error() string { return "lzma2: dictionary size exceeds configured limit" }

// Required exposes the dictionary size that would have been required, for
// the COMPRESSION_RESOURCE_LIMIT context fields named in spec §4.6/§8.
func (e errDictTooLarge) Required() uint64 { return e.required }

// Limit exposes the configured limit that was exceeded.
func (e errDictTooLarge) Limit() uint64 { return e.limit }

// Run decodes the full sequence of LZMA2 chunks until the 0x00 end-of-stream
// control byte, per spec §4.4/§4.6.
func (d *Decoder) Run() error {
	for {
		ctrl, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		if ctrl == 0x00 {
			return nil
		}
		switch {
		case ctrl == 0x01 || ctrl == 0x02:
			if err := d.uncompressedChunk(ctrl == 0x01); err != nil {
				return err
			}
		case ctrl >= 0x80:
			if err := d.compressedChunk(ctrl); err != nil {
				return err
			}
		default:
			return errors.New("lzma2: invalid chunk control byte")
		}
	}
}

func (d *Decoder) readU16() (uint16, error) {
	b0, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	b1, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	return uint16(b0)<<8 | uint16(b1), nil
}

func (d *Decoder) ensureState(p props) {
	if d.s == nil {
		d.s = newState(d.dictSize, p)
	}
}

func (d *Decoder) uncompressedChunk(reset bool) error {
	sz, err := d.readU16()
	if err != nil {
		return err
	}
	n := int(sz) + 1
	if reset || d.s == nil {
		d.ensureState(props{})
		d.s.resetDict()
		d.needDictReset = false
	}
	d.s.resetState()
	buf := make([]byte, 4096)
	remaining := n
	for remaining > 0 {
		chunk := len(buf)
		if chunk > remaining {
			chunk = remaining
		}
		got := 0
		for got < chunk {
			b, err := d.r.ReadByte()
			if err != nil {
				return err
			}
			buf[got] = b
			d.s.putByte(b)
			got++
		}
		if _, err := d.out.Write(buf[:chunk]); err != nil {
			return err
		}
		remaining -= chunk
	}
	return nil
}

func (d *Decoder) compressedChunk(ctrl byte) error {
	resetKind := (ctrl >> 5) & 0x3
	uncompHigh := uint32(ctrl & 0x1F)
	uLow, err := d.readU16()
	if err != nil {
		return err
	}
	uncompressedSize := (uncompHigh<<16 | uint32(uLow)) + 1

	cSize16, err := d.readU16()
	if err != nil {
		return err
	}
	compressedSize := int(cSize16) + 1

	var newProps props
	havePropsReset := resetKind >= 2
	if havePropsReset {
		pb, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		newProps, err = decodeProps(pb)
		if err != nil {
			return err
		}
	}

	switch {
	case resetKind == 3: // reset state, new props, reset dict
		d.ensureState(newProps)
		d.s.p = newProps
		d.s.resetDict()
		d.s.resetProbs()
		d.s.resetState()
	case resetKind == 2: // reset state, new props
		d.ensureState(newProps)
		d.s.p = newProps
		d.s.resetProbs()
		d.s.resetState()
	case resetKind == 1: // reset state only
		d.ensureState(d.s.p)
		d.s.resetState()
	case resetKind == 0: // no reset
		if d.s == nil {
			return errors.New("lzma2: first chunk must include a reset")
		}
	}

	lr := &limitedByteReader{r: d.r, n: compressedSize}
	rc, err := newRangeDecoder(lr)
	if err != nil {
		return err
	}
	return d.s.decodeChunk(rc, d.out, int(uncompressedSize))
}

// limitedByteReader bounds the range coder to exactly n bytes of compressed
// input, matching the LZMA2 chunk's declared compressed size.
type limitedByteReader struct {
	r io.ByteReader
	n int
}

func (l *limitedByteReader) ReadByte() (byte, error) {
	if l.n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	b, err := l.r.ReadByte()
	if err != nil {
		return 0, err
	}
	l.n--
	return b, nil
}

const (
	stateLitLit = iota
)

func updateStateLiteral(st uint32) uint32 {
	switch {
	case st < 4:
		return 0
	case st < 10:
		return st - 3
	default:
		return st - 6
	}
}

func updateStateMatch(st uint32) uint32 {
	if st < 7 {
		return 7
	}
	return 10
}

func updateStateRep(st uint32) uint32 {
	if st < 7 {
		return 8
	}
	return 11
}

func updateStateShortRep(st uint32) uint32 {
	if st < 7 {
		return 9
	}
	return 11
}

// decodeChunk decodes exactly outLen bytes of one LZMA2 LZMA chunk.
func (s *state) decodeChunk(rc *rangeDecoder, out io.Writer, outLen int) error {
	produced := 0
	buf := make([]byte, 0, 4096)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		_, err := out.Write(buf)
		buf = buf[:0]
		return err
	}
	pbMask := uint32(1)<<s.p.pb - 1
	lpMask := uint32(1)<<s.p.lp - 1

	for produced < outLen {
		posState := uint32(s.fullLen) & pbMask
		isMatchIdx := (s.st << numPosBitsMax) + posState
		bit, err := rc.decodeBit(&s.isMatch[isMatchIdx])
		if err != nil {
			return err
		}
		if bit == 0 {
			// Literal.
			prevByte := byte(0)
			if s.fullLen > 0 {
				prevByte = s.byteAt(0)
			}
			litState := ((uint32(s.fullLen) & lpMask) << s.p.lc) + uint32(prevByte>>(8-s.p.lc))
			probsOff := int(0x300) * int(litState)
			probs := s.litProbs[probsOff : probsOff+0x300]

			var sym uint32 = 1
			if s.st >= 7 {
				matchByte := s.byteAt(s.reps[0])
				for sym < 0x100 {
					matchBit := uint32(matchByte>>7) & 1
					matchByte <<= 1
					bit, err := rc.decodeBit(&probs[((1+matchBit)<<8)+sym])
					if err != nil {
						return err
					}
					sym = (sym << 1) | bit
					if matchBit != bit {
						break
					}
				}
			}
			for sym < 0x100 {
				bit, err := rc.decodeBit(&probs[sym])
				if err != nil {
					return err
				}
				sym = (sym << 1) | bit
			}
			b := byte(sym)
			s.putByte(b)
			buf = append(buf, b)
			produced++
			s.st = updateStateLiteral(s.st)
			if len(buf) >= 4096 {
				if err := flush(); err != nil {
					return err
				}
			}
			continue
		}

		// Match or rep.
		var length uint32
		isRepBit, err := rc.decodeBit(&s.isRep[s.st])
		if err != nil {
			return err
		}
		if isRepBit == 0 {
			// New match: shift reps, decode length then distance.
			s.reps[3], s.reps[2], s.reps[1] = s.reps[2], s.reps[1], s.reps[0]
			length, err = s.lenCoder.decode(rc, posState)
			if err != nil {
				return err
			}
			lenState := length
			if lenState > numLenToPosStates-1 {
				lenState = numLenToPosStates - 1
			}
			posSlot, err := rc.bitTree(s.posSlot[lenState][:], 6)
			if err != nil {
				return err
			}
			if posSlot < 4 {
				s.reps[0] = posSlot
			} else {
				numDirectBits := (posSlot >> 1) - 1
				dist := (2 | (posSlot & 1)) << numDirectBits
				if posSlot < 14 {
					base := dist - posSlot
					v, err := rc.bitTreeReverse(s.specPos[base:], int(numDirectBits))
					if err != nil {
						return err
					}
					dist += v
				} else {
					hi, err := rc.decodeDirectBits(int(numDirectBits - numAlignBits))
					if err != nil {
						return err
					}
					dist += hi << numAlignBits
					lo, err := rc.bitTreeReverse(s.alignProbs[:], numAlignBits)
					if err != nil {
						return err
					}
					dist += lo
				}
				s.reps[0] = dist
			}
			if s.reps[0] == 0xFFFFFFFF {
				// End-of-stream marker inside an LZMA chunk; treat as done.
				return flush()
			}
			length += matchMinLen
			s.st = updateStateMatch(s.st)
		} else {
			g0, err := rc.decodeBit(&s.isRepG0[s.st])
			if err != nil {
				return err
			}
			if g0 == 0 {
				shortRep, err := rc.decodeBit(&s.isRep0Long[isMatchIdx])
				if err != nil {
					return err
				}
				if shortRep == 0 {
					b := s.byteAt(s.reps[0])
					s.putByte(b)
					buf = append(buf, b)
					produced++
					s.st = updateStateShortRep(s.st)
					if len(buf) >= 4096 {
						if err := flush(); err != nil {
							return err
						}
					}
					continue
				}
			} else {
				var dist uint32
				g1, err := rc.decodeBit(&s.isRepG1[s.st])
				if err != nil {
					return err
				}
				if g1 == 0 {
					dist = s.reps[1]
				} else {
					g2, err := rc.decodeBit(&s.isRepG2[s.st])
					if err != nil {
						return err
					}
					if g2 == 0 {
						dist = s.reps[2]
					} else {
						dist = s.reps[3]
						s.reps[3] = s.reps[2]
					}
					s.reps[2] = s.reps[1]
				}
				s.reps[1] = s.reps[0]
				s.reps[0] = dist
			}
			length, err = s.repLenCoder.decode(rc, posState)
			if err != nil {
				return err
			}
			length += matchMinLen
			s.st = updateStateRep(s.st)
		}

		for i := uint32(0); i < length && produced < outLen; i++ {
			b := s.byteAt(s.reps[0])
			s.putByte(b)
			buf = append(buf, b)
			produced++
			if len(buf) >= 4096 {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}
