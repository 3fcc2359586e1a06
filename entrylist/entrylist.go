// Package entrylist is the append-only entry store of spec §3/§4.2:
// a flat, key-sorted list of (key, point, extra) records, as handed
// to the builder by the (out-of-scope) aggregator.
package entrylist

import (
	"fmt"

	"github.com/ndl/dwarf-idea-tools/geo"
)

// Entry is one location record: a fixed-size key, a lat/lon point and
// a fixed-size extra-data tail (0 bytes for BSSIDs, 1 byte for cells).
type Entry struct {
	Key   []byte
	Point geo.Point
	Extra []byte
}

// Store is the builder's append-only entry list. KeySize/ExtraSize
// play the role of the C++ template parameters KeySize/ExtraDataSize:
// every Entry added must match them exactly.
type Store struct {
	KeySize   int
	ExtraSize int
	entries   []Entry
}

// NewStore returns an empty store for the given key/extra-data sizes.
func NewStore(keySize, extraSize int) *Store {
	return &Store{KeySize: keySize, ExtraSize: extraSize}
}

// Add validates and appends one location record. It is the Go
// counterpart of addLocation; length mismatches are caller bugs
// (inputs are programmatically assembled upstream) and are reported
// as plain errors rather than panics so the library caller decides
// how fatal that is.
func (s *Store) Add(key []byte, lat, lon float32, extra []byte) error {
	if len(key) != s.KeySize {
		return fmt.Errorf("entrylist: key size %d, want %d", len(key), s.KeySize)
	}
	if len(extra) != s.ExtraSize {
		return fmt.Errorf("entrylist: extra size %d, want %d", len(extra), s.ExtraSize)
	}
	keyCopy := append([]byte(nil), key...)
	extraCopy := append([]byte(nil), extra...)
	s.entries = append(s.entries, Entry{
		Key:   keyCopy,
		Point: geo.Point{Lat: lat, Lon: lon},
		Extra: extraCopy,
	})
	return nil
}

// Len returns the number of entries appended so far.
func (s *Store) Len() int {
	return len(s.entries)
}

// Entries returns the underlying entry slice. Callers must not mutate
// it; the store performs no further processing or copying after Add.
func (s *Store) Entries() []Entry {
	return s.entries
}
