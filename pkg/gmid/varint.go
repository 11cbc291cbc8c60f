package gmid

import "fmt"

// MaxVarIntBytes is the longest variable-length integer accepted on input.
const MaxVarIntBytes = 4

// MaxVarIntValue is the largest value that encodes in MaxVarIntBytes bytes.
const MaxVarIntValue = 0x0FFFFFFF

// VarInt is a MIDI variable-length quantity: big-endian groups of 7 bits, the
// high bit set on every byte except the last.
type VarInt struct {
	Value    uint32
	NumBytes int
}

// NewVarInt returns the canonical encoding metadata for v.
func NewVarInt(v uint32) VarInt {
	return VarInt{Value: v, NumBytes: varIntLen(v)}
}

func varIntLen(v uint32) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// DecodeVarInt reads a variable-length integer from the start of buf, looking
// at no more than maxBytes bytes.
func DecodeVarInt(buf []byte, maxBytes int) (VarInt, error) {
	if maxBytes <= 0 || maxBytes > MaxVarIntBytes {
		maxBytes = MaxVarIntBytes
	}
	var v uint32
	for i := 0; i < maxBytes; i++ {
		if i >= len(buf) {
			return VarInt{}, fmt.Errorf("%w: variable-length integer", ErrTruncated)
		}
		b := buf[i]
		v = v<<7 | uint32(b&0x7F)
		if b&0x80 == 0 {
			return VarInt{Value: v, NumBytes: i + 1}, nil
		}
	}
	return VarInt{}, fmt.Errorf("%w: no terminator within %d bytes", ErrBadVarInt, maxBytes)
}

// EncodeVarInt returns the canonical byte form of v.
func EncodeVarInt(v uint32) []byte {
	return appendVarInt(nil, v)
}

// Bytes returns the canonical byte form of the value.
func (v VarInt) Bytes() []byte {
	return EncodeVarInt(v.Value)
}

func appendVarInt(dst []byte, v uint32) []byte {
	n := varIntLen(v)
	for i := n - 1; i >= 0; i-- {
		b := byte(v>>(7*uint(i))) & 0x7F
		if i > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}
