package adapter

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/can"
)

// rxDepth bounds frames buffered between a driver pump and ReadFrame.
const rxDepth = 1024

// rxBuffer decouples a blocking driver receive from the non-blocking
// ReadFrame. Frames are dropped when the buffer is full.
type rxBuffer struct {
	frames  chan can.Frame
	errs    chan error
	dropped atomic.Uint64
	log     zerolog.Logger
}

func newRxBuffer(log zerolog.Logger) *rxBuffer {
	return &rxBuffer{
		frames: make(chan can.Frame, rxDepth),
		errs:   make(chan error, 1),
		log:    log,
	}
}

func (r *rxBuffer) put(f can.Frame) {
	select {
	case r.frames <- f:
	default:
		if r.dropped.Add(1) == 1 {
			r.log.Warn().Str("frame", f.String()).Msg("receive buffer full, dropping frames")
		}
		r.fail(ioError("receive", CodeOverrun, errOverrun))
	}
}

// fail records an error for the next ReadFrame. Only one is kept.
func (r *rxBuffer) fail(err error) {
	select {
	case r.errs <- err:
	default:
	}
}

func (r *rxBuffer) next() (can.Frame, error) {
	select {
	case f := <-r.frames:
		return f, nil
	default:
	}
	select {
	case err := <-r.errs:
		return can.Frame{}, err
	default:
		return can.Frame{}, ErrNoData
	}
}
