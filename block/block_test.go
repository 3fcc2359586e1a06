package block

import (
	"testing"

	"github.com/ndl/dwarf-idea-tools/entrylist"
	"github.com/ndl/dwarf-idea-tools/geo"
)

func TestComputeInfoRoundTripWithinErrorBudget(t *testing.T) {
	grid := NewGrid(16)
	budget := geo.NewErrorBudget(50)
	points := []geo.Point{
		{Lat: 46.200000, Lon: 6.140000},
		{Lat: 46.200100, Lon: 6.140050},
		{Lat: 46.200100, Lon: 6.140100},
	}
	info, err := ComputeInfo(points, grid, budget)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range points {
		latIdx, lonIdx := info.QuantizePoint(p)
		rec := info.Reconstruct(latIdx, lonIdx)
		if d := geo.Distance(p, rec); d >= 50 {
			t.Fatalf("reconstruction error %v >= 50m for point %+v", d, p)
		}
	}
}

func TestComputeInfoTinyErrorBudgetOverflows(t *testing.T) {
	grid := NewGrid(16)
	// An absurdly small error budget blows past 31 bits for any
	// non-trivial span.
	budget := geo.NewErrorBudget(1e-9)
	points := []geo.Point{
		{Lat: -80, Lon: -170},
		{Lat: 80, Lon: 170},
	}
	_, err := ComputeInfo(points, grid, budget)
	if err == nil {
		t.Fatalf("expected capacity error for impossibly tight error budget")
	}
}

func TestComputeInfoSinglePointClampsBitsToOne(t *testing.T) {
	grid := NewGrid(16)
	budget := geo.NewErrorBudget(50)
	points := []geo.Point{{Lat: 10, Lon: 20}}
	info, err := ComputeInfo(points, grid, budget)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.LatBits < 1 || info.LonBits < 1 {
		t.Fatalf("expected bits clamped to >= 1, got lat=%d lon=%d", info.LatBits, info.LonBits)
	}
}

func TestComputeInfoNearPoleClampsRatherThanOverflows(t *testing.T) {
	grid := NewGrid(16)
	budget := geo.NewErrorBudget(50)
	points := []geo.Point{
		{Lat: 89.9999, Lon: -10},
		{Lat: 90, Lon: 10},
	}
	info, err := ComputeInfo(points, grid, budget)
	if err != nil {
		t.Fatalf("unexpected error near pole: %v", err)
	}
	if info.LonBits >= 32 {
		t.Fatalf("lon_bits must clamp rather than overflow near a pole, got %d", info.LonBits)
	}
}

func TestEncodeCoordsZeroPaddedToByte(t *testing.T) {
	grid := NewGrid(16)
	budget := geo.NewErrorBudget(50)
	points := []geo.Point{{Lat: 1, Lon: 1}}
	info, err := ComputeInfo(points, grid, budget)
	if err != nil {
		t.Fatal(err)
	}
	out := EncodeCoords(info, grid, points)
	if len(out) == 0 {
		t.Fatalf("expected non-empty coord stream")
	}
	totalBits := 4*int(grid.Bits) + 10 + len(points)*int(info.LatBits+info.LonBits)
	if len(out) != (totalBits+7)/8 {
		t.Fatalf("expected %d bytes for %d bits, got %d", (totalBits+7)/8, totalBits, len(out))
	}
	if pad := len(out)*8 - totalBits; pad > 0 && out[len(out)-1]&byte(1<<pad-1) != 0 {
		t.Fatalf("expected %d zero padding bits, got last byte %08b", pad, out[len(out)-1])
	}
}

func TestEncodeKeysSkipsFirstAndDeltaEncodes(t *testing.T) {
	keys := [][]byte{
		{0x00, 0x00, 0x00, 0x01},
		{0x00, 0x00, 0x00, 0x05},
		{0x00, 0x00, 0x00, 0x0A},
	}
	out := EncodeKeys(keys)
	if len(out) == 0 {
		t.Fatalf("expected non-empty key stream for 3 keys")
	}
	// Two deltas (4, 5), both single-byte varints.
	if len(out) != 2 {
		t.Fatalf("expected 2-byte key stream for small deltas, got %d bytes: %x", len(out), out)
	}
	if out[0] != 4 || out[1] != 5 {
		t.Fatalf("unexpected deltas: %v", out)
	}
}

func TestEncodeKeysSingleEntryIsEmpty(t *testing.T) {
	out := EncodeKeys([][]byte{{1, 2, 3}})
	if len(out) != 0 {
		t.Fatalf("expected empty key stream for single-entry block, got %x", out)
	}
}

func TestEncodeExtraConcatenates(t *testing.T) {
	entries := []entrylist.Entry{
		{Extra: []byte{0x01}},
		{Extra: []byte{0x02}},
	}
	out := EncodeExtra(entries)
	if len(out) != 2 || out[0] != 1 || out[1] != 2 {
		t.Fatalf("unexpected extra stream: %x", out)
	}
}

func TestEncodeExtraEmptyWhenNoExtraBytes(t *testing.T) {
	entries := []entrylist.Entry{{Extra: nil}, {Extra: nil}}
	out := EncodeExtra(entries)
	if len(out) != 0 {
		t.Fatalf("expected empty extra stream, got %x", out)
	}
}
