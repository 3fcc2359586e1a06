// Package fse implements Stage 2 of the compression pipeline (spec
// §4.5/§4.6): a finite-state entropy coder trained once, in Pass 0,
// from a histogram aggregated across every block's Stage-1 output,
// then applied unchanged to every block in Pass 1.
//
// klauspost/compress/fse (the one FSE implementation anywhere in the
// retrieved example pack) only exposes a one-shot Compress(in,
// scratch) entry point that trains its table from the single slice
// being compressed. That API has no hook for "train once externally,
// apply the frozen table many times", which is exactly what the
// two-pass design and its determinism guarantee require (see
// DESIGN.md). This package is therefore a from-scratch port, named
// after the reference FSE_* API it stands in for, implemented as a
// single-state range coder (rANS) rather than a literal tANS table
// walk; the algorithmic family and the two-pass table-training
// contract are the parts that matter here, not bit-for-bit parity
// with any particular reference encoder.
package fse

import (
	"sort"

	"github.com/ndl/dwarf-idea-tools/internal/varint"
)

const (
	minTableLog = 5
	maxTableLog = 12
	// ransL is the lower renormalization bound for the coder state.
	ransL = uint64(1) << 16
)

// Histogram accumulates byte frequencies across every block's Stage-1
// output, ready to train a single global Table between Pass 0 and
// Pass 1.
type Histogram struct {
	Freqs [256]uint64
	Total uint64
}

// Add folds data's byte frequencies into the histogram. Per the
// original encodeFreqs, data is the *entire* Stage-1 output including
// its trailing ZRLT flag byte: that byte is real alphabet data for
// training purposes even though it is excluded from the portion that
// actually gets entropy-coded.
func (h *Histogram) Add(data []byte) {
	for _, b := range data {
		h.Freqs[b]++
	}
	h.Total += uint64(len(data))
}

// Merge folds src into dst, for combining per-worker histograms
// gathered during a concurrent Pass 0 fan-out.
func Merge(dst, src *Histogram) {
	for i := range dst.Freqs {
		dst.Freqs[i] += src.Freqs[i]
	}
	dst.Total += src.Total
}

// Table is the frozen, globally-trained entropy coding table produced
// once between Pass 0 and Pass 1.
type Table struct {
	tableLog uint8
	norm     [256]int32
	cumFreq  [257]uint64
}

// OptimalTableLog picks a table_log proportional to the trained
// corpus size, clamped to [minTableLog, maxTableLog], mirroring
// FSE_optimalTableLog's intent of not building a table finer than the
// data justifies.
func OptimalTableLog(totalSize uint64) uint8 {
	if totalSize == 0 {
		return minTableLog
	}
	log := maxTableLog
	for log > minTableLog && (uint64(1)<<uint(log)) > totalSize*2 {
		log--
	}
	return uint8(log)
}

// NormalizeCount scales h's frequencies to sum to exactly 1<<tableLog,
// using the largest-remainder method, guaranteeing every symbol with
// a non-zero observed frequency keeps a non-zero normalized count
// (FSE_normalizeCount's "every symbol must remain representable").
func NormalizeCount(h *Histogram, tableLog uint8) [256]int32 {
	var norm [256]int32
	if h.Total == 0 {
		return norm
	}
	tableSize := int64(1) << tableLog
	rest := tableSize

	type remainder struct {
		sym int
		rem float64
	}
	var rems []remainder
	for s := 0; s < 256; s++ {
		if h.Freqs[s] == 0 {
			continue
		}
		exact := float64(h.Freqs[s]) * float64(tableSize) / float64(h.Total)
		n := int32(exact)
		if n < 1 {
			n = 1
		}
		norm[s] = n
		rest -= int64(n)
		rems = append(rems, remainder{s, exact - float64(n)})
	}
	sort.Slice(rems, func(i, j int) bool { return rems[i].rem > rems[j].rem })

	// Largest-remainder method may still leave us over or under
	// tableSize once every symbol's floor has been bumped to 1; true
	// up against the symbols with the largest (or smallest) fractional
	// parts, the frequencies least disturbed by the adjustment.
	i := 0
	for rest > 0 && len(rems) > 0 {
		norm[rems[i%len(rems)].sym]++
		rest--
		i++
	}
	// This only triggers when the corpus is larger than the table
	// (tableLog capped at maxTableLog) and enough rare symbols were
	// bumped up to 1 to overshoot tableSize; the correction is bounded
	// by guard.
	guard := 0
	for j := len(rems) - 1; rest < 0 && len(rems) > 0 && guard < 4*len(rems)+tableSizeInt(tableLog); guard++ {
		s := rems[j].sym
		if norm[s] > 1 {
			norm[s]--
			rest++
		} else {
			j--
			if j < 0 {
				j = len(rems) - 1
			}
		}
	}
	return norm
}

func tableSizeInt(tableLog uint8) int {
	return int(1) << tableLog
}

// BuildCTable freezes normalized counts into a Table with a
// precomputed cumulative-frequency index, ready for repeated use
// across every block in Pass 1.
func BuildCTable(norm [256]int32, tableLog uint8) *Table {
	t := &Table{tableLog: tableLog, norm: norm}
	var cum uint64
	for s := 0; s < 256; s++ {
		t.cumFreq[s] = cum
		cum += uint64(norm[s])
	}
	t.cumFreq[256] = cum
	return t
}

// WriteNCount serializes a table's normalized counts into the
// ncount_blob written once per builder run (§6.3): a table_log byte
// followed by 256 varint-encoded counts.
func WriteNCount(t *Table) []byte {
	out := make([]byte, 0, 1+256)
	out = append(out, t.tableLog)
	for _, n := range t.norm {
		out = varint.Append(out, uint64(n))
	}
	return out
}

// CompressUsingTable entropy-codes data with a previously frozen
// Table via a single-state rANS coder. ok is false if any byte in
// data has zero normalized frequency (not present at training time;
// the caller must fall back to raw storage, per §4.5/§4.6).
func CompressUsingTable(data []byte, t *Table) (out []byte, ok bool) {
	for _, b := range data {
		if t.norm[b] == 0 {
			return nil, false
		}
	}

	state := ransL
	var bytesOut []byte
	tableSize := uint64(1) << t.tableLog

	for i := len(data) - 1; i >= 0; i-- {
		sym := data[i]
		freq := uint64(t.norm[sym])
		cum := t.cumFreq[sym]

		xmax := ((ransL / tableSize) << 8) * freq
		for state >= xmax {
			bytesOut = append(bytesOut, byte(state&0xFF))
			state >>= 8
		}
		state = ((state / freq) << t.tableLog) + (state % freq) + cum
	}

	for k := 0; k < 4; k++ {
		bytesOut = append(bytesOut, byte(state&0xFF))
		state >>= 8
	}

	// bytesOut was built in reverse stream order (last-encoded symbol
	// first); reverse once to produce the final encoded form.
	for l, r := 0, len(bytesOut)-1; l < r; l, r = l+1, r-1 {
		bytesOut[l], bytesOut[r] = bytesOut[r], bytesOut[l]
	}
	return bytesOut, true
}

// Encode applies the full Stage-2 step to one block's Stage-1 output
// (stage1, which ends with the ZRLT flags byte): it entropy-codes
// everything but that trailing byte, falls back to storing it raw
// when compression fails or does not shrink the block, and prefixes
// the result with a varint((length<<2)|flags), matching §4.5's
// entropyCompress.
func Encode(stage1 []byte, table *Table) (out []byte, flags byte) {
	if len(stage1) == 0 {
		return varint.Append(nil, 0), 0
	}
	flags = stage1[len(stage1)-1]
	body := stage1[:len(stage1)-1]

	compressed, ok := CompressUsingTable(body, table)
	var payload []byte
	if ok && len(compressed) < len(body) {
		payload = compressed
	} else {
		flags |= FlagEntropySkipped
		payload = body
	}

	header := varint.Append(nil, (uint64(len(payload))<<2)|uint64(flags))
	out = make([]byte, 0, len(header)+len(payload))
	out = append(out, header...)
	out = append(out, payload...)
	return out, flags
}

// FlagEntropySkipped marks, in the low bits of the length+flags
// varint prefix, that Stage 2 left the block's payload raw because
// entropy coding failed or did not shrink it.
const FlagEntropySkipped byte = 0x02
