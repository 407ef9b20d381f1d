package queue

import (
	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/command"
	"github.com/tamzrod/bms-telemetry/internal/control"
)

// Fabric is the fixed set of queues connecting the workers.
// FIFO per queue; no ordering across queues.
type Fabric struct {
	Inbound  *Queue[can.Frame] // I/O worker -> decoder
	Outbound *Queue[can.Frame] // intake, emitter -> I/O worker
	Periodic *Queue[command.PeriodicRequest]

	// one control queue per worker
	IOControl      *Queue[control.Signal]
	EmitterControl *Queue[control.Signal]
	DecoderControl *Queue[control.Signal]
}

func NewFabric() *Fabric {
	return &Fabric{
		Inbound:        New[can.Frame](),
		Outbound:       New[can.Frame](),
		Periodic:       New[command.PeriodicRequest](),
		IOControl:      New[control.Signal](),
		EmitterControl: New[control.Signal](),
		DecoderControl: New[control.Signal](),
	}
}

// Broadcast posts s to every worker's control queue.
func (f *Fabric) Broadcast(s control.Signal) {
	_ = f.IOControl.Push(s)
	_ = f.EmitterControl.Push(s)
	_ = f.DecoderControl.Push(s)
}

// Close closes every queue.
func (f *Fabric) Close() {
	f.Inbound.Close()
	f.Outbound.Close()
	f.Periodic.Close()
	f.IOControl.Close()
	f.EmitterControl.Close()
	f.DecoderControl.Close()
}
