// Package varint implements the continuation-bit varint codec from
// spec §6.4: 7 data bits per byte, little-endian byte order, MSB=1
// means "more bytes follow". It is used for key deltas within a block
// and for the (payload_length<<2)|flags stream-length prefix.
package varint

import "encoding/binary"

// MaxLen is the maximum number of bytes a uint64 varint can occupy.
const MaxLen = binary.MaxVarintLen64

// Append encodes value as a varint and appends it to dst, returning
// the extended slice.
func Append(dst []byte, value uint64) []byte {
	var buf [MaxLen]byte
	n := binary.PutUvarint(buf[:], value)
	return append(dst, buf[:n]...)
}

// Encode returns value encoded as a standalone varint.
func Encode(value uint64) []byte {
	return Append(nil, value)
}

// Decode reads a varint from the front of src, returning the decoded
// value and the number of bytes consumed. It returns n <= 0 if src
// does not hold a complete, valid varint (n == 0: too short; n < 0:
// overflow), matching binary.Uvarint's convention.
func Decode(src []byte) (value uint64, n int) {
	return binary.Uvarint(src)
}
