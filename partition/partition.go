// Package partition implements the recursive max-gap index
// partitioner of spec §4.3.
package partition

import (
	"sort"

	"github.com/ndl/dwarf-idea-tools/entrylist"
	"github.com/ndl/dwarf-idea-tools/geo"
)

// Gaps precomputes gap[i] = distance(entries[i], entries[i+1]) for
// i in [0, N-1).
func Gaps(entries []entrylist.Entry) []float64 {
	if len(entries) == 0 {
		return nil
	}
	gaps := make([]float64, len(entries)-1)
	for i := 0; i < len(entries)-1; i++ {
		gaps[i] = geo.Distance(entries[i].Point, entries[i+1].Point)
	}
	return gaps
}

// Split returns the split vector for n entries given their
// precomputed gaps, honoring [minPerBlock, maxPerBlock] per entry
// block. The returned vector is strictly ascending, starts at 0, and
// its length is the number of blocks.
func Split(gaps []float64, n, minPerBlock, maxPerBlock int) []int {
	if n == 0 {
		return nil
	}
	splits := map[int]struct{}{0: {}}
	findSplit(gaps, 0, n-1, minPerBlock, maxPerBlock, splits)

	result := make([]int, 0, len(splits))
	for s := range splits {
		result = append(result, s)
	}
	sort.Ints(result)
	return result
}

// findSplit mirrors findIndexSplit: recurse on the closed interval
// [lo, hi] of entry indices, picking the interior split with the
// largest preceding gap (ties break to the earliest index).
func findSplit(gaps []float64, lo, hi, minPerBlock, maxPerBlock int, splits map[int]struct{}) {
	if hi-lo+1 <= maxPerBlock {
		return
	}

	splitIndex := lo + minPerBlock
	maxGap := gaps[splitIndex-1]
	for i := splitIndex + 1; i <= hi-minPerBlock; i++ {
		if gaps[i-1] > maxGap {
			maxGap = gaps[i-1]
			splitIndex = i
		}
	}

	splits[splitIndex] = struct{}{}

	findSplit(gaps, lo, splitIndex-1, minPerBlock, maxPerBlock, splits)
	findSplit(gaps, splitIndex, hi, minPerBlock, maxPerBlock, splits)
}

// BlockBounds returns the half-open [start, end) range of entry
// indices covered by block i of the split vector, given the total
// entry count n.
func BlockBounds(splitVec []int, i, n int) (start, end int) {
	start = splitVec[i]
	if i == len(splitVec)-1 {
		end = n
	} else {
		end = splitVec[i+1]
	}
	return start, end
}
