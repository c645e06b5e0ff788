// Package uid creates random identifiers in the version 4 UUID layout.
package uid

import (
	"encoding/binary"

	"github.com/zhangyunhao116/fastrand"
)

const hexDigits = "0123456789abcdef"

// New returns a random 36-character identifier: one random nibble per
// character, the literal version digit at position 14, a two-bit variant
// at position 19 and hyphens at the usual four positions.
func New() string {
	var bytes [36]byte
	var word [4]byte
	for i := 0; i < len(bytes); i += 4 {
		binary.LittleEndian.PutUint32(word[:], fastrand.Uint32())
		copy(bytes[i:], word[:])
	}
	return FromBytes(bytes)
}

// FromBytes renders the identifier for one fixed byte array, one byte per
// output character. Deterministic, so tests can feed known vectors.
func FromBytes(bytes [36]byte) string {
	out := make([]byte, len(bytes))
	for i, b := range bytes {
		switch i {
		case 8, 13, 18, 23:
			out[i] = '-'
		case 14:
			out[i] = '4'
		case 19:
			out[i] = hexDigits[(b&0x3)+8]
		default:
			out[i] = hexDigits[b&0xf]
		}
	}
	return string(out)
}
