package bitio

import (
	"bytes"
	"testing"
)

func TestSingleByteAligned(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0xAB, 8)
	got := w.Close()
	if !bytes.Equal(got, []byte{0xAB}) {
		t.Fatalf("got %x", got)
	}
}

func TestSubByteFieldsPackMSBFirst(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b101, 3)
	w.WriteBits(0b01, 2)
	w.WriteBits(0b001, 3)
	got := w.Close()
	// 101 01 001 = 10101001 = 0xA9
	if !bytes.Equal(got, []byte{0xA9}) {
		t.Fatalf("got %x, want a9", got)
	}
}

func TestCrossesByteBoundary(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0x3, 2)    // 11
	w.WriteBits(0xFF, 8)   // 11111111
	w.WriteBits(0x0, 6)    // 000000
	got := w.Close()
	// bits: 11 11111111 000000 = 1111111111000000 (16 bits) -> 0xFF, 0xC0
	want := []byte{0xFF, 0xC0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestZeroPaddedOnClose(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b1, 1)
	got := w.Close()
	if len(got) != 1 {
		t.Fatalf("expected 1 padded byte, got %d bytes", len(got))
	}
	if got[0] != 0x80 {
		t.Fatalf("expected top bit set and rest zero-padded, got %x", got[0])
	}
}

func TestWideField(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0x1234ABCD, 32)
	got := w.Close()
	want := []byte{0x12, 0x34, 0xAB, 0xCD}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}
