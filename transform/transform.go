// Package transform implements Stage 1 of the compression pipeline
// (spec §4.5): BWTS (bijective Burrows-Wheeler), SBRT in rank mode (a
// move-to-front variant), and ZRLT (zero run-length), chained and
// terminated by the documented trailing flags byte.
//
// None of BWTS, a Schindler-style rank coder, or ZRLT has a published
// Go implementation reachable from the retrieved example pack (see
// DESIGN.md); these are hand-written ports of the algorithms the
// original source links against via kanzi.
package transform

import (
	"sort"

	"github.com/ndl/dwarf-idea-tools/internal/varint"
)

// FlagZRLTSkipped marks the trailing Stage-1 byte when ZRLT could not
// shrink its input and the SBRT output was emitted unchanged instead.
const (
	FlagZRLTApplied byte = 0x00
	FlagZRLTSkipped byte = 0x01
)

// CompressStream runs the full Stage-1 chain (BWTS -> SBRT(rank) ->
// ZRLT) over input and appends the trailing flags byte, per §4.5.
func CompressStream(input []byte) ([]byte, error) {
	bwtsOut, err := BWTSForward(input)
	if err != nil {
		return nil, err
	}
	sbrtOut := SBRTRankForward(bwtsOut)
	zrltOut, ok := ZRLTForward(sbrtOut)
	if ok {
		return append(zrltOut, FlagZRLTApplied), nil
	}
	out := make([]byte, 0, len(sbrtOut)+1)
	out = append(out, sbrtOut...)
	return append(out, FlagZRLTSkipped), nil
}

// rotation is one cyclic rotation, starting at `start`, of a Lyndon
// factor of the bijective BWT's Chen-Fox-Lyndon factorization.
type rotation struct {
	factor []byte
	start  int
}

func rotationByte(r rotation, pos int) byte {
	m := len(r.factor)
	return r.factor[(r.start+pos)%m]
}

// lyndonFactorize returns the Chen-Fox-Lyndon factorization of s: a
// sequence of non-increasing Lyndon words whose concatenation is s
// (Duval's algorithm).
func lyndonFactorize(s []byte) [][]byte {
	n := len(s)
	var factors [][]byte
	i := 0
	for i < n {
		j := i + 1
		k := i
		for j < n && s[k] <= s[j] {
			if s[k] < s[j] {
				k = i
			} else {
				k++
			}
			j++
		}
		for i <= k {
			factors = append(factors, s[i:i+j-k])
			i += j - k
		}
	}
	return factors
}

// BWTSForward is the bijective Burrows-Wheeler transform: factor the
// input into Lyndon words, gather every cyclic rotation of every
// factor, sort all rotations together, and emit the byte preceding
// each sorted rotation. Output length equals input length. This
// hand-rolled port is total: it never fails on any byte sequence, so
// it always returns a nil error.
func BWTSForward(input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}

	factors := lyndonFactorize(input)
	rotations := make([]rotation, 0, len(input))
	for _, f := range factors {
		for start := 0; start < len(f); start++ {
			rotations = append(rotations, rotation{factor: f, start: start})
		}
	}

	sort.SliceStable(rotations, func(i, j int) bool {
		a, b := rotations[i], rotations[j]
		n := len(a.factor) + len(b.factor)
		for p := 0; p < n; p++ {
			ca, cb := rotationByte(a, p), rotationByte(b, p)
			if ca != cb {
				return ca < cb
			}
		}
		return false
	})

	out := make([]byte, len(rotations))
	for i, r := range rotations {
		m := len(r.factor)
		out[i] = r.factor[(r.start-1+m)%m]
	}
	return out, nil
}

// SBRTRankForward is a classic move-to-front rank coder: the i-th
// output byte is the position of input[i] in a list of all 256 byte
// values ordered by recency, after which that value is moved to the
// front of the list. This is the rank-mode variant the original
// source names SBRT.
func SBRTRankForward(input []byte) []byte {
	var order [256]byte
	for i := range order {
		order[i] = byte(i)
	}
	out := make([]byte, len(input))
	for i, c := range input {
		idx := 0
		for order[idx] != c {
			idx++
		}
		out[i] = byte(idx)
		copy(order[1:idx+1], order[:idx])
		order[0] = c
	}
	return out
}

// ZRLTForward replaces every maximal run of zero bytes (including
// isolated zeros, a run of length 1) with a 0x00 marker followed by a
// varint run-length-minus-one. Non-zero bytes pass through unchanged,
// so 0x00 appears in the output only as a run marker or as the varint
// length 0 that follows the marker of a run of one. ok is
// false when the encoded form is not strictly shorter than the input,
// signaling the documented fallback.
func ZRLTForward(input []byte) (output []byte, ok bool) {
	out := make([]byte, 0, len(input))
	i := 0
	for i < len(input) {
		if input[i] == 0 {
			j := i
			for j < len(input) && input[j] == 0 {
				j++
			}
			out = append(out, 0x00)
			out = varint.Append(out, uint64(j-i-1))
			i = j
		} else {
			out = append(out, input[i])
			i++
		}
	}
	return out, len(out) < len(input)
}
