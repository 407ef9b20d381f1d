package adapter

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/config"
)

var (
	// ErrNoData is returned by ReadFrame when nothing is pending.
	ErrNoData = errors.New("adapter: no data")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("adapter: closed")
)

// Channel is the hardware handle. It is owned by exactly one I/O worker.
type Channel interface {
	// WriteFrame transmits one frame. No acknowledgment, no retry.
	WriteFrame(f can.Frame) error
	// ReadFrame never blocks: it returns ErrNoData when nothing is pending.
	ReadFrame() (can.Frame, error)
	// Close releases the handle. Safe to call more than once.
	Close() error
}

// Error codes reported through the device status block.
const (
	CodeOpen    uint16 = 0x10
	CodeWrite   uint16 = 0x11
	CodeRead    uint16 = 0x12
	CodeOverrun uint16 = 0x13
	CodeBus     uint16 = 0x14
)

// IOError is a driver failure tagged with a status code.
type IOError struct {
	Op   string
	code uint16
	Err  error
}

func ioError(op string, code uint16, err error) *IOError {
	return &IOError{Op: op, code: code, Err: err}
}

func (e *IOError) Error() string { return fmt.Sprintf("adapter: %s: %v", e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }
func (e *IOError) Code() uint16  { return e.code }

// Build opens the channel selected by cfg.Kind.
// Fail fast: open errors are returned, not retried.
func Build(cfg config.AdapterConfig, log zerolog.Logger) (Channel, error) {
	log = log.With().Str("adapter", cfg.Kind).Logger()

	switch cfg.Kind {
	case config.AdapterSocketCAN:
		return openSocketCAN(cfg, log)
	case config.AdapterSLCAN:
		return openSLCAN(cfg, log)
	case config.AdapterVirtual:
		return NewVirtual(log), nil
	default:
		return nil, fmt.Errorf("adapter: unknown kind %q", cfg.Kind)
	}
}
