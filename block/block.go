// Package block implements the per-block geometric quantization and
// byte-stream encoding of spec §4.4: bounding-box computation, bit-width
// selection bounded by a geo.ErrorBudget, and the three parallel block
// streams (coords, keys, extra).
package block

import (
	"math"

	"github.com/ndl/dwarf-idea-tools/entrylist"
	"github.com/ndl/dwarf-idea-tools/geo"
	"github.com/ndl/dwarf-idea-tools/internal/bitio"
	"github.com/ndl/dwarf-idea-tools/internal/varint"
)

// Grid is the shared global coordinate grid every block's bounding
// box is quantized against, parameterized by bounding_box_bits.
type Grid struct {
	Bits     uint8
	MaxIndex int32
	LatStep  float64
	LonStep  float64
}

// NewGrid derives the global grid from the builder's bounding_box_bits
// parameter (must be < 32).
func NewGrid(bits uint8) Grid {
	maxIndex := int32(1<<uint(bits)) - 1
	return Grid{
		Bits:     bits,
		MaxIndex: maxIndex,
		LatStep:  (geo.MaxLat - geo.MinLat) / float64(maxIndex),
		LonStep:  (geo.MaxLon - geo.MinLon) / float64(maxIndex),
	}
}

// Info is the per-block metadata computed at encode time (BlockInfo).
type Info struct {
	LatMinIndex, LonMinIndex, LatMaxIndex, LonMaxIndex int32
	MinCorner, MaxCorner                               geo.Point
	MaxLatDiff, MaxLonDiff                              float64
	LatBits, LonBits                                   uint8
}

func clampIndex(v float64, max int32) int32 {
	i := int32(v)
	if v < 0 {
		i = 0
	}
	if i > max {
		i = max
	}
	if i < 0 {
		i = 0
	}
	return i
}

func bitsFor(span, delta float64) uint8 {
	if span <= 0 || delta <= 0 {
		return 1
	}
	n := math.Ceil(span / delta)
	bits := int(math.Ceil(math.Log2(n)))
	if bits < 1 {
		bits = 1
	}
	return uint8(bits)
}

// ComputeInfo computes the bounding box and bit widths for one block's
// points, per the §4.4 "Bounding box" and "Bit-width selection" rules.
// It returns a capacity error if either bit width would reach 32.
func ComputeInfo(points []geo.Point, grid Grid, budget geo.ErrorBudget) (Info, error) {
	minLat, minLon := float64(geo.MaxLat), float64(geo.MaxLon)
	maxLat, maxLon := float64(geo.MinLat), float64(geo.MinLon)
	for _, p := range points {
		if float64(p.Lat) < minLat {
			minLat = float64(p.Lat)
		}
		if float64(p.Lon) < minLon {
			minLon = float64(p.Lon)
		}
		if float64(p.Lat) > maxLat {
			maxLat = float64(p.Lat)
		}
		if float64(p.Lon) > maxLon {
			maxLon = float64(p.Lon)
		}
	}

	info := Info{}
	info.LatMinIndex = clampIndex(math.Floor((minLat-geo.MinLat)/grid.LatStep), grid.MaxIndex)
	info.LonMinIndex = clampIndex(math.Floor((minLon-geo.MinLon)/grid.LonStep), grid.MaxIndex)
	info.LatMaxIndex = clampIndex(math.Ceil((maxLat-geo.MinLat)/grid.LatStep), grid.MaxIndex)
	info.LonMaxIndex = clampIndex(math.Ceil((maxLon-geo.MinLon)/grid.LonStep), grid.MaxIndex)

	info.MinCorner = geo.Point{
		Lat: float32(float64(info.LatMinIndex)*grid.LatStep + geo.MinLat),
		Lon: float32(float64(info.LonMinIndex)*grid.LonStep + geo.MinLon),
	}
	info.MaxCorner = geo.Point{
		Lat: float32(float64(info.LatMaxIndex)*grid.LatStep + geo.MinLat),
		Lon: float32(float64(info.LonMaxIndex)*grid.LonStep + geo.MinLon),
	}
	info.MaxLatDiff = float64(info.MaxCorner.Lat) - float64(info.MinCorner.Lat)
	info.MaxLonDiff = float64(info.MaxCorner.Lon) - float64(info.MinCorner.Lon)

	info.LatBits = bitsFor(info.MaxLatDiff, budget.DeltaLat())

	lonBits := uint8(1)
	for _, p := range points {
		dlon := budget.DeltaLon(p.Lat)
		b := bitsFor(info.MaxLonDiff, dlon)
		if b > lonBits {
			lonBits = b
		}
	}
	info.LonBits = lonBits

	if info.LatBits >= 32 || info.LonBits >= 32 {
		return Info{}, errTooManyBits(info.LatBits, info.LonBits)
	}

	return info, nil
}

type bitWidthError struct {
	latBits, lonBits uint8
}

func (e *bitWidthError) Error() string {
	return "block: bit width overflow (lat_bits=" + itoa(int(e.latBits)) + " lon_bits=" + itoa(int(e.lonBits)) + "), block spans too much area for the requested error"
}

func errTooManyBits(latBits, lonBits uint8) error {
	return &bitWidthError{latBits: latBits, lonBits: lonBits}
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// quantizeAxis maps value into [0, mask] given the axis corner and
// span, per §4.4's ratio/round/clamp rule.
func quantizeAxis(value, cornerMin, span float64, bits uint8) uint32 {
	mask := uint32(1<<uint(bits)) - 1
	if span <= 0 {
		return 0
	}
	ratio := (value - cornerMin) / span
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	idx := uint32(math.Round(ratio * float64(mask)))
	if idx > mask {
		idx = mask
	}
	return idx
}

// Reconstruct returns the point recovered from a block-local
// (latIdx, lonIdx) pair, as a reader would compute it.
func (info Info) Reconstruct(latIdx, lonIdx uint32) geo.Point {
	latMask := float64((uint32(1) << info.LatBits) - 1)
	lonMask := float64((uint32(1) << info.LonBits) - 1)
	lat := float64(info.MinCorner.Lat)
	lon := float64(info.MinCorner.Lon)
	if latMask > 0 {
		lat += info.MaxLatDiff * float64(latIdx) / latMask
	}
	if lonMask > 0 {
		lon += info.MaxLonDiff * float64(lonIdx) / lonMask
	}
	return geo.Point{Lat: float32(lat), Lon: float32(lon)}
}

// QuantizePoint returns the (latIdx, lonIdx) pair for a point within
// this block's bounding box.
func (info Info) QuantizePoint(p geo.Point) (latIdx, lonIdx uint32) {
	latIdx = quantizeAxis(float64(p.Lat), float64(info.MinCorner.Lat), info.MaxLatDiff, info.LatBits)
	lonIdx = quantizeAxis(float64(p.Lon), float64(info.MinCorner.Lon), info.MaxLonDiff, info.LonBits)
	return latIdx, lonIdx
}

// EncodeCoords bit-packs the bounding box header and every point's
// quantized (lon,lat) pair, MSB first, zero-padded to a byte.
func EncodeCoords(info Info, grid Grid, points []geo.Point) []byte {
	w := bitio.NewWriter()
	w.WriteBits(uint64(info.LatMinIndex), grid.Bits)
	w.WriteBits(uint64(info.LonMinIndex), grid.Bits)
	w.WriteBits(uint64(info.LatMaxIndex), grid.Bits)
	w.WriteBits(uint64(info.LonMaxIndex), grid.Bits)
	w.WriteBits(uint64(info.LatBits), 5)
	w.WriteBits(uint64(info.LonBits), 5)

	for _, p := range points {
		latIdx, lonIdx := info.QuantizePoint(p)
		combined := (uint64(lonIdx) << info.LatBits) | uint64(latIdx)
		w.WriteBits(combined, info.LatBits+info.LonBits)
	}
	return w.Close()
}

// mappedKeyAsUint interprets a mapped key (big-endian, <= 8 bytes) as
// an unsigned integer, mirroring asInt<uint64_t>(key, big_endian=true).
func mappedKeyAsUint(key []byte) uint64 {
	var v uint64
	for _, b := range key {
		v = (v << 8) | uint64(b)
	}
	return v
}

// EncodeKeys delta-varint-encodes every mapped key after the block's
// first (which is recoverable from the sparse index), per §4.4.
func EncodeKeys(mappedKeys [][]byte) []byte {
	if len(mappedKeys) <= 1 {
		return nil
	}
	out := make([]byte, 0, (len(mappedKeys)-1)*2)
	prev := mappedKeyAsUint(mappedKeys[0])
	for _, k := range mappedKeys[1:] {
		cur := mappedKeyAsUint(k)
		out = varint.Append(out, cur-prev)
		prev = cur
	}
	return out
}

// EncodeExtra concatenates each entry's extra-data bytes in block
// order. Callers should skip this entirely when ExtraDataSize == 0.
func EncodeExtra(entries []entrylist.Entry) []byte {
	out := make([]byte, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Extra...)
	}
	return out
}
