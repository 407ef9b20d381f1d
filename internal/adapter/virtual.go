package adapter

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/queue"
)

// Virtual is an in-memory channel.
// The far end plays the BMS: Inject sends telemetry to the monitor and
// Sent collects every command the monitor transmitted.
type Virtual struct {
	*busChannel

	mem *memBus
}

func NewVirtual(log zerolog.Logger) *Virtual {
	mem := &memBus{
		in:  queue.New[can.Frame](),
		out: queue.New[can.Frame](),
	}
	return &Virtual{
		busChannel: newBusChannel("virtual", mem, log),
		mem:        mem,
	}
}

// Inject delivers a frame to the monitor side.
func (v *Virtual) Inject(f can.Frame) error {
	if err := v.mem.in.Push(f); err != nil {
		return ErrClosed
	}
	return nil
}

// Sent returns the frames the monitor has transmitted, oldest first.
func (v *Virtual) Sent() *queue.Queue[can.Frame] { return v.mem.out }

// memBus is a loopback pair of unbounded queues.
// Send never blocks, so the monitor can never stall on a slow peer.
type memBus struct {
	in  *queue.Queue[can.Frame] // peer -> monitor
	out *queue.Queue[can.Frame] // monitor -> peer
}

func (b *memBus) Send(f can.Frame) error {
	if err := b.out.Push(f); err != nil {
		return errBusClosed
	}
	return nil
}

func (b *memBus) Receive() (can.Frame, error) {
	f, err := b.in.Pop(context.Background())
	if errors.Is(err, queue.ErrClosed) {
		return can.Frame{}, errBusClosed
	}
	return f, err
}

func (b *memBus) Close() error {
	b.in.Close()
	b.out.Close()
	return nil
}
