package partition

import "testing"

func TestSplitSingleBlockWhenUnderMax(t *testing.T) {
	gaps := []float64{1, 2, 3}
	s := Split(gaps, 4, 1, 8)
	if len(s) != 1 || s[0] != 0 {
		t.Fatalf("expected single block starting at 0, got %v", s)
	}
}

func TestSplitStartsAtZeroAndAscending(t *testing.T) {
	gaps := make([]float64, 999)
	for i := range gaps {
		gaps[i] = 1
	}
	gaps[346] = 1_000_000 // huge gap at index 347 boundary (S5 scenario)
	s := Split(gaps, 1000, 64, 256)

	if s[0] != 0 {
		t.Fatalf("split vector must start at 0, got %v", s[0])
	}
	for i := 1; i < len(s); i++ {
		if s[i] <= s[i-1] {
			t.Fatalf("split vector must be strictly ascending: %v", s)
		}
	}
	found := false
	for _, v := range s {
		if v == 347 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected split at the huge-gap index 347, got %v", s)
	}
}

func TestSplitRespectsBlockBounds(t *testing.T) {
	gaps := make([]float64, 999)
	for i := range gaps {
		gaps[i] = float64(i % 7)
	}
	n := 1000
	minPer, maxPer := 64, 256
	s := Split(gaps, n, minPer, maxPer)

	for i := range s {
		start, end := BlockBounds(s, i, n)
		size := end - start
		if size > maxPer {
			t.Fatalf("block %d has size %d > max %d", i, size, maxPer)
		}
		// every block not at the recursion base honors min on both sides of a split;
		// the very first/last block of the whole list may be smaller only if the
		// entire list itself is small, which isn't the case here.
		if size < minPer && len(s) > 1 {
			t.Fatalf("block %d has size %d < min %d", i, size, minPer)
		}
	}
}

func TestSplitEmpty(t *testing.T) {
	s := Split(nil, 0, 1, 8)
	if len(s) != 0 {
		t.Fatalf("expected no blocks for empty entry list, got %v", s)
	}
}

func TestSplitTwoIdenticalPointsZeroGaps(t *testing.T) {
	gaps := []float64{0}
	s := Split(gaps, 2, 1, 8)
	if len(s) != 1 || s[0] != 0 {
		t.Fatalf("expected single block, got %v", s)
	}
}
