// Package keymap implements the per-radio-type key mapping strategies
// of spec §4.6: BSSID keys pass through unchanged, cell keys are
// remapped from their 4-byte MCC||MNC prefix to a 2-byte dictionary
// index. The original source expresses this as a virtual-method
// specialization (IDwarfIdeaBuilder::mapKey/mappedKeySize/
// writeHeaderExtra, overridden by CellsDwarfIdeaBuilder); a small Go
// interface is the natural idiom for the same seam.
package keymap

import (
	"encoding/binary"
	"io"

	"github.com/ndl/dwarf-idea-tools/dwarferr"
)

// Strategy maps a fixed-size radio-identifier key to its on-disk
// mapped form, and writes whatever header-extra bytes the reader
// needs to invert that mapping.
type Strategy interface {
	// MapKey returns the mapped form of key, which must be exactly
	// MappedKeySize() bytes.
	MapKey(key []byte) ([]byte, error)
	// MappedKeySize is the fixed byte width of every mapped key this
	// strategy produces.
	MappedKeySize() int
	// WriteHeaderExtra writes any strategy-specific dictionary the
	// header needs, after the fixed fields of §6.3.
	WriteHeaderExtra(w io.Writer) error
}

// Identity is the BSSID strategy: the key is used as-is.
type Identity struct {
	KeySize int
}

// NewIdentity returns the pass-through strategy for a fixed key size
// (6 bytes for BSSIDs, per §4.1).
func NewIdentity(keySize int) *Identity {
	return &Identity{KeySize: keySize}
}

func (s *Identity) MapKey(key []byte) ([]byte, error) {
	if len(key) != s.KeySize {
		return nil, dwarferr.Configf("keymap: identity key must be %d bytes, got %d", s.KeySize, len(key))
	}
	return key, nil
}

func (s *Identity) MappedKeySize() int { return s.KeySize }

// WriteHeaderExtra writes the BSSID header-extra form: a little-endian
// u16 count of zero, per §4.6/§6.3.
func (s *Identity) WriteHeaderExtra(w io.Writer) error {
	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], 0)
	if _, err := w.Write(countBuf[:]); err != nil {
		return dwarferr.WrapIO(err, "keymap: writing empty header-extra count")
	}
	return nil
}

// mccMncSize is the width, in bytes, of a cell key's MCC||MNC prefix
// (§4.1/§4.6): a 2-byte MCC followed by a 2-byte MNC.
const mccMncSize = 4

// CellRemap is the cell-tower strategy: the leading MCC||MNC prefix of
// every key is replaced by a 2-byte index into a dictionary of the
// distinct prefixes observed, built once up front over the whole
// entry set (§4.6's "scans every entry once before encoding begins").
type CellRemap struct {
	keySize int
	index   map[[mccMncSize]byte]uint16
	values  [][mccMncSize]byte // insertion order, mirrors the header's encoding order
}

// NewCellRemap scans keys (each keySize bytes, cell keys are 10 bytes
// per §4.1) and builds the MCC||MNC dictionary. It fails if more than
// 65535 distinct prefixes are observed, since the header's dictionary
// count is a u16 (§4.6).
func NewCellRemap(keys [][]byte, keySize int) (*CellRemap, error) {
	r := &CellRemap{
		keySize: keySize,
		index:   make(map[[mccMncSize]byte]uint16),
	}
	for _, key := range keys {
		if len(key) != keySize {
			return nil, dwarferr.Configf("keymap: cell key must be %d bytes, got %d", keySize, len(key))
		}
		var prefix [mccMncSize]byte
		copy(prefix[:], key[:mccMncSize])
		if _, ok := r.index[prefix]; !ok {
			if len(r.values) >= 1<<16-1 {
				return nil, dwarferr.Capacityf("keymap: more than 65535 distinct MCC/MNC pairs")
			}
			r.index[prefix] = uint16(len(r.values))
			r.values = append(r.values, prefix)
		}
	}
	return r, nil
}

// MappedKeySize is keySize - 2: the 4-byte MCC||MNC prefix shrinks to
// a 2-byte dictionary index.
func (r *CellRemap) MappedKeySize() int { return r.keySize - mccMncSize + 2 }

func (r *CellRemap) MapKey(key []byte) ([]byte, error) {
	if len(key) != r.keySize {
		return nil, dwarferr.Configf("keymap: cell key must be %d bytes, got %d", r.keySize, len(key))
	}
	var prefix [mccMncSize]byte
	copy(prefix[:], key[:mccMncSize])
	idx, ok := r.index[prefix]
	if !ok {
		return nil, dwarferr.Configf("keymap: key has an MCC/MNC prefix not seen during dictionary scan")
	}
	mapped := make([]byte, 0, r.MappedKeySize())
	var idxBuf [2]byte
	binary.BigEndian.PutUint16(idxBuf[:], idx)
	mapped = append(mapped, idxBuf[:]...)
	mapped = append(mapped, key[mccMncSize:]...)
	return mapped, nil
}

// WriteHeaderExtra writes the dictionary as a little-endian u16 count
// followed by count*u32 big-endian MCC||MNC values in insertion order,
// per §4.6/§6.3.
func (r *CellRemap) WriteHeaderExtra(w io.Writer) error {
	var countBuf [2]byte
	binary.LittleEndian.PutUint16(countBuf[:], uint16(len(r.values)))
	if _, err := w.Write(countBuf[:]); err != nil {
		return dwarferr.WrapIO(err, "keymap: writing MCC/MNC dictionary count")
	}
	for _, v := range r.values {
		if _, err := w.Write(v[:]); err != nil {
			return dwarferr.WrapIO(err, "keymap: writing MCC/MNC dictionary entry")
		}
	}
	return nil
}
