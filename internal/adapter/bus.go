package adapter

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/can"
)

var errOverrun = errors.New("receive buffer overrun")

// receiveBackoff paces the pump while the bus keeps failing.
const receiveBackoff = 10 * time.Millisecond

// errBusClosed is returned by a frameBus once it has been closed.
var errBusClosed = errors.New("bus closed")

// frameBus is a blocking, bidirectional frame transport.
type frameBus interface {
	Send(f can.Frame) error
	// Receive blocks until a frame arrives or the bus fails.
	// Remote and error frames are dropped before they reach the caller.
	Receive() (can.Frame, error)
	Close() error
}

// busChannel adapts a blocking frameBus to Channel.
// A pump goroutine owns Receive; ReadFrame only polls the buffer.
type busChannel struct {
	name string
	bus  frameBus
	rx   *rxBuffer
	log  zerolog.Logger

	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func newBusChannel(name string, bus frameBus, log zerolog.Logger) *busChannel {
	c := &busChannel{
		name: name,
		bus:  bus,
		rx:   newRxBuffer(log),
		log:  log,
		done: make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *busChannel) pump() {
	defer close(c.done)

	for {
		f, err := c.bus.Receive()
		if err != nil {
			if c.closed.Load() || errors.Is(err, errBusClosed) {
				return
			}
			c.rx.fail(ioError("receive", CodeRead, err))
			time.Sleep(receiveBackoff)
			continue
		}
		// empty frames carry no telemetry
		if f.Len == 0 {
			continue
		}
		c.rx.put(f)
	}
}

func (c *busChannel) WriteFrame(f can.Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := f.Validate(); err != nil {
		return ioError("send", CodeWrite, err)
	}
	if err := c.bus.Send(f); err != nil {
		if errors.Is(err, errBusClosed) {
			return ErrClosed
		}
		return ioError("send", CodeWrite, err)
	}
	return nil
}

func (c *busChannel) ReadFrame() (can.Frame, error) {
	if c.closed.Load() {
		return can.Frame{}, ErrClosed
	}
	return c.rx.next()
}

func (c *busChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.bus.Close()
		c.log.Debug().Str("channel", c.name).Uint64("dropped", c.rx.dropped.Load()).Msg("channel closed")
	})
	return err
}
