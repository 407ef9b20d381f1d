package codec

import (
	"errors"
	"fmt"
	"math"
)

// ByteOrder selects how payload bytes are assembled into the 64-bit word.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota // byte i at bit offset 8*i
	BigEndian                     // byte i at bit offset 8*(length-1-i)
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return fmt.Sprintf("ByteOrder(%d)", uint8(o))
	}
}

var (
	// ErrInvalidFrameLayout reports a length outside [1,8] or a bit range
	// that does not fit the 64-bit word. Fatal to one decode call only.
	ErrInvalidFrameLayout = errors.New("codec: invalid frame layout")

	// ErrValueOutOfRange reports a physical value that does not fit the field.
	ErrValueOutOfRange = errors.New("codec: value out of range")
)

// FieldSpec describes one signal inside an 8-byte payload.
// Static: compiled into the frame matrix and command layouts.
type FieldSpec struct {
	BitStart  int
	BitLength int // 1..64
	Scale     float64
	Offset    float64
	Order     ByteOrder
	Signed    bool
}

func checkLayout(length, bitStart, bitLength int) error {
	if length < 1 || length > 8 {
		return fmt.Errorf("%w: length %d", ErrInvalidFrameLayout, length)
	}
	if bitLength < 1 || bitLength > 64 {
		return fmt.Errorf("%w: bit length %d", ErrInvalidFrameLayout, bitLength)
	}
	if bitStart < 0 || bitStart+bitLength > 64 {
		return fmt.Errorf("%w: bits %d+%d exceed 64", ErrInvalidFrameLayout, bitStart, bitLength)
	}
	return nil
}

func mask(bitLength int) uint64 {
	if bitLength >= 64 {
		return math.MaxUint64
	}
	return uint64(1)<<uint(bitLength) - 1
}

// assemble builds the word from the first length payload bytes.
func assemble(payload [8]byte, length int, order ByteOrder) uint64 {
	var word uint64
	for i := 0; i < length; i++ {
		if order == LittleEndian {
			word |= uint64(payload[i]) << (8 * uint(i))
		} else {
			word |= uint64(payload[i]) << (8 * uint(length-1-i))
		}
	}
	return word
}

// scatter is the inverse of assemble.
func scatter(word uint64, payload *[8]byte, length int, order ByteOrder) {
	for i := 0; i < length; i++ {
		if order == LittleEndian {
			payload[i] = byte(word >> (8 * uint(i)))
		} else {
			payload[i] = byte(word >> (8 * uint(length-1-i)))
		}
	}
}

// Extract returns the unsigned raw bits of a field.
func Extract(payload [8]byte, length, bitStart, bitLength int, order ByteOrder) (uint64, error) {
	if err := checkLayout(length, bitStart, bitLength); err != nil {
		return 0, err
	}
	word := assemble(payload, length, order)
	return (word >> uint(bitStart)) & mask(bitLength), nil
}

// TwosComplement reinterprets raw as a signed integer over exactly bitLength bits.
func TwosComplement(raw uint64, bitLength int) int64 {
	m := mask(bitLength)
	raw &= m
	if raw&(uint64(1)<<uint(bitLength-1)) != 0 {
		return -int64(((^raw) & m) + 1)
	}
	return int64(raw)
}

// Raw returns the field's integer value, sign-extended when Signed.
func (f FieldSpec) Raw(payload [8]byte, length int) (int64, error) {
	raw, err := Extract(payload, length, f.BitStart, f.BitLength, f.Order)
	if err != nil {
		return 0, err
	}
	if f.Signed {
		return TwosComplement(raw, f.BitLength), nil
	}
	return int64(raw), nil
}

// Decode converts the field to its physical value: raw/scale - offset.
// The offset is subtracted after division; that is the bus convention.
func (f FieldSpec) Decode(payload [8]byte, length int) (float64, error) {
	raw, err := Extract(payload, length, f.BitStart, f.BitLength, f.Order)
	if err != nil {
		return 0, err
	}
	var v float64
	if f.Signed {
		v = float64(TwosComplement(raw, f.BitLength))
	} else {
		v = float64(raw)
	}
	return v/f.scale() - f.Offset, nil
}

// Encode packs a physical value into payload, leaving the other bits alone.
// raw = round(scale*(physical+offset)); the field must fit in 8*length bits.
func (f FieldSpec) Encode(physical float64, payload *[8]byte, length int) error {
	if err := checkLayout(length, f.BitStart, f.BitLength); err != nil {
		return err
	}
	if f.BitStart+f.BitLength > 8*length {
		return fmt.Errorf("%w: bits %d+%d exceed %d-byte payload",
			ErrInvalidFrameLayout, f.BitStart, f.BitLength, length)
	}
	if math.IsNaN(physical) || math.IsInf(physical, 0) {
		return fmt.Errorf("%w: %v", ErrValueOutOfRange, physical)
	}

	scaled := math.Round(f.scale() * (physical + f.Offset))
	lo, hi := f.rawBounds()
	if scaled < lo || scaled > hi {
		return fmt.Errorf("%w: %v encodes to %v, field range [%v, %v]",
			ErrValueOutOfRange, physical, scaled, lo, hi)
	}

	var raw uint64
	if f.Signed {
		raw = uint64(int64(scaled))
	} else {
		raw = uint64(scaled)
	}

	m := mask(f.BitLength)
	word := assemble(*payload, length, f.Order)
	word &^= m << uint(f.BitStart)
	word |= (raw & m) << uint(f.BitStart)
	scatter(word, payload, length, f.Order)
	return nil
}

func (f FieldSpec) scale() float64 {
	if f.Scale == 0 {
		return 1
	}
	return f.Scale
}

// rawBounds is the representable integer range as float64.
// 64-bit fields are clipped to what float64 round-trips exactly.
func (f FieldSpec) rawBounds() (float64, float64) {
	if f.Signed {
		if f.BitLength >= 64 {
			return math.MinInt64, math.Nextafter(math.MaxInt64, 0)
		}
		half := float64(uint64(1) << uint(f.BitLength-1))
		return -half, half - 1
	}
	if f.BitLength >= 64 {
		return 0, math.Nextafter(math.MaxUint64, 0)
	}
	return 0, float64(mask(f.BitLength))
}
