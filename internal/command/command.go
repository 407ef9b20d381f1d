package command

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/codec"
)

// Command frame layout constants.
// These values define the protocol and MUST NOT be configurable.
const (
	IDSetSOC       = 0x100
	IDStateRequest = 0x120

	socHeader byte = 0x0B
	fillByte  byte = 0xFF

	MaxPeriod     = time.Second
	DefaultPeriod = 100 * time.Millisecond
)

var (
	ErrInvalidSOC     = errors.New("command: soc must be within 0..100 percent")
	ErrInvalidPeriod  = errors.New("command: period must be within (0, 1s]")
	ErrUnknownRequest = errors.New("command: unknown request kind")
)

var (
	// bytes 1..2, high byte first
	socField    = codec.FieldSpec{BitStart: 40, BitLength: 16, Scale: 100, Order: codec.BigEndian}
	headerField = codec.FieldSpec{BitStart: 56, BitLength: 8, Scale: 1, Order: codec.BigEndian}
	// byte 1
	requestField = codec.FieldSpec{BitStart: 8, BitLength: 8, Scale: 1}
)

// RequestKind is the state requested from the BMS by the periodic emitter.
type RequestKind uint8

const (
	NoRequest RequestKind = 0x00
	Normal    RequestKind = 0x03
	Standby   RequestKind = 0x08
)

func (k RequestKind) String() string {
	switch k {
	case NoRequest:
		return "none"
	case Standby:
		return "standby"
	case Normal:
		return "normal"
	default:
		return fmt.Sprintf("RequestKind(0x%02X)", uint8(k))
	}
}

// ParseRequestKind accepts "none", "standby" or "normal" (case-insensitive).
func ParseRequestKind(s string) (RequestKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "norequest", "no_request":
		return NoRequest, nil
	case "standby":
		return Standby, nil
	case "normal":
		return Normal, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRequest, s)
	}
}

// PeriodicRequest is the latest state request and its emission period.
type PeriodicRequest struct {
	Kind   RequestKind
	Period time.Duration
}

// DefaultRequest is what the emitter holds before any intent arrives.
var DefaultRequest = PeriodicRequest{Kind: NoRequest, Period: DefaultPeriod}

func (r PeriodicRequest) Validate() error {
	switch r.Kind {
	case NoRequest, Standby, Normal:
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownRequest, uint8(r.Kind))
	}
	if r.Period <= 0 || r.Period > MaxPeriod {
		return fmt.Errorf("%w: got %s", ErrInvalidPeriod, r.Period)
	}
	return nil
}

// SetSOC builds the state-of-charge set frame:
// [0x0B, hi, lo, 0, 0, 0, 0, 0] with value = round(percent*100).
func SetSOC(percent float64) (can.Frame, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return can.Frame{}, fmt.Errorf("%w: got %v", ErrInvalidSOC, percent)
	}

	f := can.Frame{ID: IDSetSOC, Len: 8}
	if err := headerField.Encode(float64(socHeader), &f.Data, 8); err != nil {
		return can.Frame{}, err
	}
	if err := socField.Encode(percent, &f.Data, 8); err != nil {
		return can.Frame{}, err
	}
	return f, nil
}

// StateRequest builds the periodic state request frame:
// [0x00, code, 0xFF x6].
func StateRequest(kind RequestKind) (can.Frame, error) {
	switch kind {
	case NoRequest, Standby, Normal:
	default:
		return can.Frame{}, fmt.Errorf("%w: 0x%02X", ErrUnknownRequest, uint8(kind))
	}

	f := can.Frame{ID: IDStateRequest, Len: 8}
	for i := 2; i < len(f.Data); i++ {
		f.Data[i] = fillByte
	}
	if err := requestField.Encode(float64(kind), &f.Data, 8); err != nil {
		return can.Frame{}, err
	}
	return f, nil
}
