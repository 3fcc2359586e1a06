package keymap

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestIdentityPassesKeyThrough(t *testing.T) {
	s := NewIdentity(6)
	key := []byte{1, 2, 3, 4, 5, 6}
	mapped, err := s.MapKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(mapped, key) {
		t.Fatalf("expected identity passthrough, got %x", mapped)
	}
	if s.MappedKeySize() != 6 {
		t.Fatalf("expected mapped size 6, got %d", s.MappedKeySize())
	}
}

func TestIdentityWriteHeaderExtraWritesZeroCount(t *testing.T) {
	s := NewIdentity(6)
	var buf bytes.Buffer
	if err := s.WriteHeaderExtra(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 2 || binary.LittleEndian.Uint16(buf.Bytes()) != 0 {
		t.Fatalf("expected a single u16 zero, got %x", buf.Bytes())
	}
}

func TestIdentityRejectsWrongSize(t *testing.T) {
	s := NewIdentity(6)
	if _, err := s.MapKey([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for wrong key size")
	}
}

func cellKey(mcc, mnc uint16, cellID uint32) []byte {
	key := make([]byte, 10)
	binary.BigEndian.PutUint16(key[0:2], mcc)
	binary.BigEndian.PutUint16(key[2:4], mnc)
	binary.BigEndian.PutUint32(key[4:8], cellID)
	return key
}

func TestCellRemapAssignsStableIndicesInInsertionOrder(t *testing.T) {
	keys := [][]byte{
		cellKey(310, 1, 100),
		cellKey(310, 2, 200),
		cellKey(310, 1, 300), // repeats the first prefix
	}
	r, err := NewCellRemap(keys, 10)
	if err != nil {
		t.Fatal(err)
	}
	if r.MappedKeySize() != 8 {
		t.Fatalf("expected mapped key size 8 (10 - 4 + 2), got %d", r.MappedKeySize())
	}

	m0, err := r.MapKey(keys[0])
	if err != nil {
		t.Fatal(err)
	}
	m2, err := r.MapKey(keys[2])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(m0[:2], m2[:2]) {
		t.Fatalf("expected the same MCC/MNC prefix to map to the same index: %x vs %x", m0[:2], m2[:2])
	}
	if binary.BigEndian.Uint16(m0[:2]) != 0 {
		t.Fatalf("expected first distinct prefix to be index 0, got %d", binary.BigEndian.Uint16(m0[:2]))
	}

	m1, err := r.MapKey(keys[1])
	if err != nil {
		t.Fatal(err)
	}
	if binary.BigEndian.Uint16(m1[:2]) != 1 {
		t.Fatalf("expected second distinct prefix to be index 1, got %d", binary.BigEndian.Uint16(m1[:2]))
	}
}

func TestCellRemapRejectsUnknownPrefixAtMapTime(t *testing.T) {
	r, err := NewCellRemap([][]byte{cellKey(310, 1, 1)}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.MapKey(cellKey(999, 99, 1)); err == nil {
		t.Fatalf("expected error for a key whose prefix was never scanned")
	}
}

func TestCellRemapWriteHeaderExtra(t *testing.T) {
	keys := [][]byte{cellKey(310, 1, 1), cellKey(311, 5, 2)}
	r, err := NewCellRemap(keys, 10)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := r.WriteHeaderExtra(&buf); err != nil {
		t.Fatal(err)
	}
	// u16 count + 2 * u32 values.
	if buf.Len() != 2+2*4 {
		t.Fatalf("expected %d bytes, got %d", 2+2*4, buf.Len())
	}
	count := binary.LittleEndian.Uint16(buf.Bytes()[:2])
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}

func TestNewCellRemapRejectsWrongKeySize(t *testing.T) {
	if _, err := NewCellRemap([][]byte{{1, 2, 3}}, 10); err == nil {
		t.Fatalf("expected error for short key during dictionary scan")
	}
}
