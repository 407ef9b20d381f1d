package codec

import (
	"errors"
	"math"
	"testing"
)

func TestTwosComplement8Bit(t *testing.T) {
	cases := []struct {
		raw  uint64
		want int64
	}{
		{0xFF, -1},
		{0x80, -128},
		{0x7F, 127},
		{0x00, 0},
	}
	for _, tc := range cases {
		if got := TwosComplement(tc.raw, 8); got != tc.want {
			t.Fatalf("TwosComplement(0x%X, 8) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestTwosComplement64Bit(t *testing.T) {
	if got := TwosComplement(math.MaxUint64, 64); got != -1 {
		t.Fatalf("got %d, want -1", got)
	}
	if got := TwosComplement(1<<63, 64); got != math.MinInt64 {
		t.Fatalf("got %d, want MinInt64", got)
	}
}

func TestExtractByteOrder(t *testing.T) {
	payload := [8]byte{0x01, 0x02, 0x03, 0x04}

	le, err := Extract(payload, 4, 0, 16, LittleEndian)
	if err != nil {
		t.Fatalf("Extract LE err=%v", err)
	}
	if le != 0x0201 {
		t.Fatalf("LE got 0x%X want 0x0201", le)
	}

	be, err := Extract(payload, 4, 16, 16, BigEndian)
	if err != nil {
		t.Fatalf("Extract BE err=%v", err)
	}
	if be != 0x0102 {
		t.Fatalf("BE got 0x%X want 0x0102", be)
	}
}

func TestExtractIgnoresBytesBeyondLength(t *testing.T) {
	payload := [8]byte{0x11, 0x22, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	got, err := Extract(payload, 2, 0, 32, LittleEndian)
	if err != nil {
		t.Fatalf("Extract err=%v", err)
	}
	if got != 0x2211 {
		t.Fatalf("got 0x%X want 0x2211", got)
	}
}

func TestInvalidLayout(t *testing.T) {
	var p [8]byte
	cases := []struct {
		name                     string
		length, bitStart, bitLen int
	}{
		{"length zero", 0, 0, 8},
		{"length nine", 9, 0, 8},
		{"bit length zero", 8, 0, 0},
		{"bit length 65", 8, 0, 65},
		{"past word", 8, 60, 8},
		{"negative start", 8, -1, 8},
	}
	for _, tc := range cases {
		_, err := Extract(p, tc.length, tc.bitStart, tc.bitLen, LittleEndian)
		if !errors.Is(err, ErrInvalidFrameLayout) {
			t.Fatalf("%s: err=%v, want ErrInvalidFrameLayout", tc.name, err)
		}
	}
}

func TestDecodeTemperatureConvention(t *testing.T) {
	f := FieldSpec{BitStart: 8, BitLength: 16, Scale: 100, Offset: 128, Signed: true}
	payload := [8]byte{0x00, 228, 0x00}

	got, err := f.Decode(payload, 8)
	if err != nil {
		t.Fatalf("Decode err=%v", err)
	}
	if math.Abs(got-(-125.72)) > 1e-9 {
		t.Fatalf("got %v want -125.72", got)
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	var p [8]byte
	u8 := FieldSpec{BitStart: 0, BitLength: 8, Scale: 1}
	if err := u8.Encode(256, &p, 8); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("err=%v, want ErrValueOutOfRange", err)
	}
	if err := u8.Encode(-1, &p, 8); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("err=%v, want ErrValueOutOfRange", err)
	}
	s8 := FieldSpec{BitStart: 0, BitLength: 8, Scale: 1, Signed: true}
	if err := s8.Encode(128, &p, 8); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("err=%v, want ErrValueOutOfRange", err)
	}
	if err := s8.Encode(math.NaN(), &p, 8); !errors.Is(err, ErrValueOutOfRange) {
		t.Fatalf("NaN err=%v", err)
	}
}

func TestEncodeRejectsFieldBeyondLength(t *testing.T) {
	var p [8]byte
	f := FieldSpec{BitStart: 8, BitLength: 16, Scale: 1}
	if err := f.Encode(1, &p, 2); !errors.Is(err, ErrInvalidFrameLayout) {
		t.Fatalf("err=%v, want ErrInvalidFrameLayout", err)
	}
}

func TestEncodePreservesNeighbourBits(t *testing.T) {
	p := [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	f := FieldSpec{BitStart: 4, BitLength: 8, Scale: 1}
	if err := f.Encode(0, &p, 8); err != nil {
		t.Fatalf("Encode err=%v", err)
	}
	if p[0] != 0x0F || p[1] != 0xF0 || p[2] != 0xFF {
		t.Fatalf("unexpected payload % X", p)
	}
}

// sampleRaws picks boundary raw values that float64 represents exactly.
func sampleRaws(bitLength int, signed bool) []int64 {
	limit := bitLength
	if limit > 53 {
		limit = 53
	}
	if signed {
		if limit == 1 {
			return []int64{0, -1}
		}
		maxV := int64(1)<<uint(limit-1) - 1
		return []int64{0, -1, 1, maxV, -maxV - 1}
	}
	maxV := int64(1)<<uint(limit) - 1
	return []int64{0, 1, maxV, maxV / 2}
}

func TestRoundTripAllLayouts(t *testing.T) {
	type mode struct {
		order  ByteOrder
		signed bool
	}
	modes := []mode{
		{LittleEndian, false},
		{LittleEndian, true},
		{BigEndian, false},
		{BigEndian, true},
	}

	for length := 1; length <= 8; length++ {
		bits := 8 * length
		for bitLength := 1; bitLength <= bits; bitLength++ {
			for bitStart := 0; bitStart+bitLength <= bits; bitStart++ {
				for _, m := range modes {
					f := FieldSpec{
						BitStart:  bitStart,
						BitLength: bitLength,
						Scale:     1,
						Order:     m.order,
						Signed:    m.signed,
					}
					for _, raw := range sampleRaws(bitLength, m.signed) {
						var p [8]byte
						x := float64(raw)
						if err := f.Encode(x, &p, length); err != nil {
							t.Fatalf("Encode(%v) len=%d start=%d bits=%d %v signed=%v: %v",
								x, length, bitStart, bitLength, m.order, m.signed, err)
						}
						got, err := f.Decode(p, length)
						if err != nil {
							t.Fatalf("Decode err=%v", err)
						}
						if got != x {
							t.Fatalf("roundtrip len=%d start=%d bits=%d %v signed=%v: got %v want %v",
								length, bitStart, bitLength, m.order, m.signed, got, x)
						}
					}
				}
			}
		}
	}
}

func TestRoundTripScaledFields(t *testing.T) {
	cases := []struct {
		name  string
		f     FieldSpec
		value float64
	}{
		{"soc", FieldSpec{BitStart: 16, BitLength: 16, Scale: 100}, 42.37},
		{"temperature", FieldSpec{BitStart: 24, BitLength: 16, Scale: 100, Offset: 128, Signed: true}, 25.5},
		{"negative temperature", FieldSpec{BitStart: 40, BitLength: 16, Scale: 100, Offset: 128, Signed: true}, -150.25},
		{"current", FieldSpec{BitStart: 0, BitLength: 32, Scale: 1000, Order: BigEndian, Signed: true}, -12.345},
	}
	for _, tc := range cases {
		var p [8]byte
		if err := tc.f.Encode(tc.value, &p, 8); err != nil {
			t.Fatalf("%s: Encode err=%v", tc.name, err)
		}
		got, err := tc.f.Decode(p, 8)
		if err != nil {
			t.Fatalf("%s: Decode err=%v", tc.name, err)
		}
		if math.Abs(got-tc.value) > 0.5/tc.f.Scale {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.value)
		}
	}
}
