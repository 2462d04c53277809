package bzip2

import (
	"github.com/Ismail-elkorchi/bytefold/aerr"
	"github.com/Ismail-elkorchi/bytefold/internal/codec/bitio"
)

// huffTable is a canonical-Huffman decode table built from a set of code
// lengths, following the standard limit/base/perm construction (spec
// §4.7's "Huffman tables (per-group canonical, code lengths produced by
// unary delta encoding)").
type huffTable struct {
	limit          [maxCodeLen + 2]int32
	base           [maxCodeLen + 2]int32
	perm           []int32
	minLen, maxLen int
}

func buildHuffTable(lengths []int) (*huffTable, error) {
	minLen, maxLen := maxCodeLen+1, 0
	for _, l := range lengths {
		if l < minLen {
			minLen = l
		}
		if l > maxLen {
			maxLen = l
		}
	}
	if maxLen > maxCodeLen || minLen < 1 {
		return nil, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.huffman", "code length out of range")
	}
	t := &huffTable{minLen: minLen, maxLen: maxLen, perm: make([]int32, len(lengths))}

	pp := 0
	for length := minLen; length <= maxLen; length++ {
		for sym, l := range lengths {
			if l == length {
				t.perm[pp] = int32(sym)
				pp++
			}
		}
	}

	var count [maxCodeLen + 2]int32
	for _, l := range lengths {
		count[l]++
	}
	var base [maxCodeLen + 2]int32
	for i := 1; i <= maxCodeLen+1; i++ {
		base[i] = 0
	}
	for _, l := range lengths {
		base[l+1]++
	}
	for i := 1; i <= maxCodeLen+1; i++ {
		base[i] += base[i-1]
	}

	var vec int32
	for length := minLen; length <= maxLen; length++ {
		vec += base[length+1] - base[length]
		t.limit[length] = vec - 1
		vec <<= 1
	}
	for length := minLen + 1; length <= maxLen; length++ {
		base[length] = ((t.limit[length-1] + 1) << 1) - base[length]
	}
	copy(t.base[:], base[:])
	return t, nil
}

// decodeSymbol decodes one Huffman-coded symbol using canonical decoding:
// grow the candidate code bit by bit until it falls within [base, limit]
// for some length, per the standard bzip2 decode algorithm.
func (t *huffTable) decodeSymbol(bits *bitio.Reader) (int, error) {
	length := t.minLen
	code, err := bits.ReadBits(length)
	if err != nil {
		return 0, err
	}
	for {
		if length > t.maxLen {
			return 0, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.huffman", "huffman code not found in table")
		}
		if int32(code) <= t.limit[length] {
			break
		}
		length++
		bit, err := bits.ReadBit()
		if err != nil {
			return 0, err
		}
		code = (code << 1) | bit
	}
	idx := int32(code) - t.base[length]
	if idx < 0 || int(idx) >= len(t.perm) {
		return 0, aerr.New(aerr.CodeCompressionBzip2Unsupported, aerr.KindFormat, "bzip2.huffman", "huffman symbol index out of range")
	}
	return int(t.perm[idx]), nil
}
