package bzip2

import (
	"github.com/Ismail-elkorchi/bytefold/aerr"
	"github.com/Ismail-elkorchi/bytefold/internal/codec/bitio"
)

// decodeBlock decodes one compressed block (everything after the 48-bit
// block magic) and returns its stored CRC plus the fully decompressed
// bytes (after inverse BWT and inverse RLE-1), per spec §4.7.
func decodeBlock(bits *bitio.Reader) (uint32, []byte, error) {
	crc32bits, err := bits.ReadBits(32)
	if err != nil {
		return 0, nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated block CRC", err)
	}

	randomised, err := bits.ReadBool()
	if err != nil {
		return 0, nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated randomised flag", err)
	}
	if randomised {
		return 0, nil, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindUnsupported, "bzip2.block", "deprecated randomised blocks are not supported")
	}

	origPtr, err := bits.ReadBits(24)
	if err != nil {
		return 0, nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated origPtr", err)
	}

	usedBytes, err := readUsedBytes(bits)
	if err != nil {
		return 0, nil, err
	}
	alphaSize := len(usedBytes) + 2

	numGroups, err := bits.ReadBits(3)
	if err != nil {
		return 0, nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated group count", err)
	}
	if numGroups < 2 || numGroups > maxGroups {
		return 0, nil, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "group count out of range")
	}

	numSelectors, err := bits.ReadBits(15)
	if err != nil {
		return 0, nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated selector count", err)
	}

	selectorMTF := make([]byte, numSelectors)
	for i := range selectorMTF {
		j := byte(0)
		for {
			bit, err := bits.ReadBool()
			if err != nil {
				return 0, nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated selector MTF code", err)
			}
			if !bit {
				break
			}
			j++
			if int(j) >= int(numGroups) {
				return 0, nil, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "selector MTF index out of range")
			}
		}
		selectorMTF[i] = j
	}

	// Undo the MTF applied to the table-selector list itself.
	tableOrder := make([]byte, numGroups)
	for i := range tableOrder {
		tableOrder[i] = byte(i)
	}
	selectors := make([]byte, numSelectors)
	for i, j := range selectorMTF {
		v := tableOrder[j]
		copy(tableOrder[1:j+1], tableOrder[0:j])
		tableOrder[0] = v
		selectors[i] = v
	}

	tables := make([]*huffTable, numGroups)
	for g := 0; g < int(numGroups); g++ {
		lengths, err := readCodeLengths(bits, alphaSize)
		if err != nil {
			return 0, nil, err
		}
		t, err := buildHuffTable(lengths)
		if err != nil {
			return 0, nil, err
		}
		tables[g] = t
	}

	mtfSymbols, err := decodeMTFSymbols(bits, tables, selectors, alphaSize, usedBytes)
	if err != nil {
		return 0, nil, err
	}

	if int(origPtr) >= len(mtfSymbols) {
		return 0, nil, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "origPtr out of range")
	}
	bwtOut := inverseBWT(mtfSymbols, int(origPtr))
	out := inverseRLE1(bwtOut)
	return crc32bits, out, nil
}

// readUsedBytes parses the two-level inUse16/inUse bitmap and returns the
// sorted list of byte values that appear in this block's alphabet.
func readUsedBytes(bits *bitio.Reader) ([]byte, error) {
	used16, err := bits.ReadBits(16)
	if err != nil {
		return nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated inUse16 bitmap", err)
	}
	var used []byte
	for group := 0; group < 16; group++ {
		if used16&(1<<uint(15-group)) == 0 {
			continue
		}
		bits16, err := bits.ReadBits(16)
		if err != nil {
			return nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated inUse bitmap", err)
		}
		for bit := 0; bit < 16; bit++ {
			if bits16&(1<<uint(15-bit)) != 0 {
				used = append(used, byte(group*16+bit))
			}
		}
	}
	if len(used) == 0 {
		return nil, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "empty used-byte alphabet")
	}
	return used, nil
}

// readCodeLengths decodes one group's canonical code lengths via the
// unary delta encoding spec §4.7 names.
func readCodeLengths(bits *bitio.Reader, alphaSize int) ([]int, error) {
	curr, err := bits.ReadBits(5)
	if err != nil {
		return nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated initial code length", err)
	}
	lengths := make([]int, alphaSize)
	c := int(curr)
	for i := 0; i < alphaSize; i++ {
		for {
			if c < 1 || c > maxCodeLen {
				return nil, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "code length out of range")
			}
			more, err := bits.ReadBool()
			if err != nil {
				return nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated code length delta", err)
			}
			if !more {
				break
			}
			up, err := bits.ReadBool()
			if err != nil {
				return nil, aerr.Wrap(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "truncated code length delta", err)
			}
			if up {
				c--
			} else {
				c++
			}
		}
		lengths[i] = c
	}
	return lengths, nil
}

// decodeMTFSymbols decodes the Huffman-coded symbol stream, expanding
// RUNA/RUNB run-length codes and inverting the move-to-front transform, per
// spec §4.7. The returned slice is the BWT's "L" column (block input to
// the inverse Burrows-Wheeler transform).
func decodeMTFSymbols(bits *bitio.Reader, tables []*huffTable, selectors []byte, alphaSize int, usedBytes []byte) ([]byte, error) {
	mtf := append([]byte(nil), usedBytes...)
	eob := alphaSize - 1

	var out []byte
	groupPos := 0
	groupNo := -1
	var table *huffTable

	var runLength int
	var runBit uint

	flushRun := func() {
		if runLength == 0 {
			return
		}
		for i := 0; i < runLength; i++ {
			out = append(out, mtf[0])
		}
		runLength = 0
		runBit = 0
	}

	for {
		if groupPos == 0 {
			groupNo++
			if groupNo >= len(selectors) {
				return nil, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "ran out of selectors mid-block")
			}
			table = tables[selectors[groupNo]]
			groupPos = groupSize
		}
		groupPos--

		sym, err := table.decodeSymbol(bits)
		if err != nil {
			return nil, err
		}

		if sym == 0 || sym == 1 { // RUNA, RUNB
			if sym == 0 {
				runLength += 1 << runBit
			} else {
				runLength += 2 << runBit
			}
			runBit++
			continue
		}

		flushRun()

		if sym == eob {
			return out, nil
		}

		mtfIdx := sym - 1
		if mtfIdx < 0 || mtfIdx >= len(mtf) {
			return nil, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.block", "MTF index out of range")
		}
		v := mtf[mtfIdx]
		copy(mtf[1:mtfIdx+1], mtf[0:mtfIdx])
		mtf[0] = v
		out = append(out, v)
	}
}

// inverseBWT reverses the Burrows-Wheeler transform using the standard
// counting-sort "next pointer" construction, starting from origPtr.
func inverseBWT(l []byte, origPtr int) []byte {
	n := len(l)
	var count [256]int
	for _, b := range l {
		count[b]++
	}
	var cum [256]int
	sum := 0
	for i := 0; i < 256; i++ {
		cum[i] = sum
		sum += count[i]
	}
	next := make([]int, n)
	pos := cum
	for i, b := range l {
		next[pos[b]] = i
		pos[b]++
	}
	out := make([]byte, n)
	p := next[origPtr]
	for i := 0; i < n; i++ {
		out[i] = l[p]
		p = next[p]
	}
	return out
}

// inverseRLE1 reverses bzip2's initial run-length limiting pass: four
// consecutive identical bytes are followed by a count byte giving the
// number of additional repeats (spec §4.7's "RLE-1 inverse").
func inverseRLE1(in []byte) []byte {
	out := make([]byte, 0, len(in))
	i := 0
	for i < len(in) {
		b := in[i]
		run := 1
		for run < 4 && i+run < len(in) && in[i+run] == b {
			run++
		}
		for k := 0; k < run; k++ {
			out = append(out, b)
		}
		i += run
		if run == 4 {
			if i >= len(in) {
				break
			}
			extra := int(in[i])
			i++
			for k := 0; k < extra; k++ {
				out = append(out, b)
			}
		}
	}
	return out
}
