package can

import (
	"errors"
	"fmt"
	"strings"
)

// Frame is one classical CAN data frame as seen by the monitor.
// Immutable once received: workers pass it by value.
type Frame struct {
	ID       uint32 // 11-bit (std) or 29-bit (ext)
	Extended bool
	Len      uint8 // data length code, 1..8 for telemetry
	Data     [8]byte
}

const (
	MaxStdID = 0x7FF
	MaxExtID = 0x1FFFFFFF
)

var (
	ErrInvalidID  = errors.New("can: invalid identifier")
	ErrInvalidLen = errors.New("can: invalid data length")
)

// New builds a frame from an identifier and payload.
// Identifiers above the 11-bit range are marked extended.
func New(id uint32, data []byte) (Frame, error) {
	if len(data) == 0 || len(data) > 8 {
		return Frame{}, ErrInvalidLen
	}
	f := Frame{ID: id, Extended: id > MaxStdID, Len: uint8(len(data))}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks the identifier range and that Len is within 1..8.
func (f Frame) Validate() error {
	if f.Len < 1 || f.Len > 8 {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > MaxExtID {
			return ErrInvalidID
		}
	} else if f.ID > MaxStdID {
		return ErrInvalidID
	}
	return nil
}

// Payload returns the valid bytes (Data[:Len]); trailing bytes are ignored.
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	return f.Data[:n]
}

// String renders "ID [LEN] B0 B1 ..." in hex.
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	for _, v := range f.Payload() {
		fmt.Fprintf(&b, " %02X", v)
	}
	return b.String()
}
