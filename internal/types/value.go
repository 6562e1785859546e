package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ValueKind tags the on-disk representation of a Value. Adding a new kind
// is backward compatible: older readers reject unknown tags with
// UnsupportedValueType instead of misinterpreting the payload.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBoolean
	KindNumber
	KindString
)

// MaxStringLength is the maximum encoded length, in bytes, of a String
// value.
const MaxStringLength = 1024

// Value is the tagged union stored as a triple's object.
type Value struct {
	Kind ValueKind
	Bool bool
	Num  float64
	Str  string
}

func NullValue() Value               { return Value{Kind: KindNull} }
func BooleanValue(b bool) Value      { return Value{Kind: KindBoolean, Bool: b} }
func NumberValue(n float64) Value    { return Value{Kind: KindNumber, Num: n} }
func StringValue(s string) Value     { return Value{Kind: KindString, Str: s} }

// Validate enforces the boundary rule that strings are non-empty and at
// most MaxStringLength bytes; other kinds have no additional constraints.
func (v Value) Validate() error {
	if v.Kind == KindString {
		if len(v.Str) == 0 {
			return fmt.Errorf("%w: string value must be non-empty", ErrValidation)
		}
		if len(v.Str) > MaxStringLength {
			return fmt.Errorf("%w: string value length %d exceeds max %d", ErrValidation, len(v.Str), MaxStringLength)
		}
	}
	return nil
}

// Equal reports whether two values represent the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBoolean:
		return v.Bool == other.Bool
	case KindNumber:
		return v.Num == other.Num
	case KindString:
		return v.Str == other.Str
	default:
		return false
	}
}

// EncodedSize returns the number of bytes Encode would produce.
func (v Value) EncodedSize() int {
	switch v.Kind {
	case KindNull:
		return 1
	case KindBoolean:
		return 2
	case KindNumber:
		return 9
	case KindString:
		return 1 + 2 + len(v.Str)
	default:
		return 1
	}
}

// Encode appends the 1-byte tag plus type-specific payload to dst and
// returns the extended slice.
func (v Value) Encode(dst []byte) []byte {
	dst = append(dst, byte(v.Kind))
	switch v.Kind {
	case KindNull:
		// no payload
	case KindBoolean:
		if v.Bool {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case KindNumber:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Num))
		dst = append(dst, buf[:]...)
	case KindString:
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(v.Str)))
		dst = append(dst, lenBuf[:]...)
		dst = append(dst, v.Str...)
	}
	return dst
}

// UnsupportedValueTypeError is returned by DecodeValue for an unrecognized
// tag byte, preserving forward-compatibility with future value kinds.
type UnsupportedValueTypeError struct {
	Tag byte
}

func (e *UnsupportedValueTypeError) Error() string {
	return fmt.Sprintf("unsupported value type tag 0x%02x", e.Tag)
}
func (e *UnsupportedValueTypeError) Unwrap() error { return ErrCorruption }

// DecodeValue reads a tagged value from the front of b, returning the
// value and the number of bytes consumed.
func DecodeValue(b []byte) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, &CorruptionError{Reason: "empty value buffer"}
	}
	kind := ValueKind(b[0])
	switch kind {
	case KindNull:
		return Value{Kind: KindNull}, 1, nil
	case KindBoolean:
		if len(b) < 2 {
			return Value{}, 0, &CorruptionError{Reason: "truncated boolean value"}
		}
		return Value{Kind: KindBoolean, Bool: b[1] != 0}, 2, nil
	case KindNumber:
		if len(b) < 9 {
			return Value{}, 0, &CorruptionError{Reason: "truncated number value"}
		}
		bits := binary.LittleEndian.Uint64(b[1:9])
		return Value{Kind: KindNumber, Num: math.Float64frombits(bits)}, 9, nil
	case KindString:
		if len(b) < 3 {
			return Value{}, 0, &CorruptionError{Reason: "truncated string length"}
		}
		strLen := int(binary.LittleEndian.Uint16(b[1:3]))
		if len(b) < 3+strLen {
			return Value{}, 0, &CorruptionError{Reason: "truncated string payload"}
		}
		return Value{Kind: KindString, Str: string(b[3 : 3+strLen])}, 3 + strLen, nil
	default:
		return Value{}, 0, &UnsupportedValueTypeError{Tag: byte(kind)}
	}
}
