// internal/poller/poller.go
package poller

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/adapter"
	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/control"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/queue"
)

// DefaultInterval is the control tick of the poller.
const DefaultInterval = time.Millisecond

// Config is the minimal runtime config the poller needs.
type Config struct {
	Interval time.Duration

	Control  *queue.Queue[control.Signal]
	Outbound *queue.Queue[can.Frame]
	Inbound  *queue.Queue[can.Frame]
	Faults   *queue.Queue[Fault]
}

// Poller is a dumb, clock-driven channel owner.
// Each tick: observe control, write at most one outbound frame, attempt
// one non-blocking read. It is the only user of the channel.
type Poller struct {
	cfg     Config
	ch      adapter.Channel
	metrics *observability.Metrics
	log     zerolog.Logger

	state     control.Signal
	failing   map[string]bool // ops currently in a run of errors
	reads     atomic.Uint32   // wrapping
	lastRead  atomic.Int64    // unix nanos
	closeOnce sync.Once
	closeErr  error
}

// New creates a poller with immutable config. The poller takes ownership of ch.
func New(cfg Config, ch adapter.Channel, m *observability.Metrics, log zerolog.Logger) (*Poller, error) {
	if ch == nil {
		return nil, errors.New("poller: channel required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.Control == nil || cfg.Outbound == nil || cfg.Inbound == nil || cfg.Faults == nil {
		return nil, errors.New("poller: control, outbound, inbound and fault queues required")
	}
	if m == nil {
		m = observability.Discard()
	}
	return &Poller{
		cfg:     cfg,
		ch:      ch,
		metrics: m,
		log:     log,
		state:   control.Wait,
		failing: make(map[string]bool),
	}, nil
}

// State reports the state after the last tick. Not safe for concurrent use
// with Run.
func (p *Poller) State() control.Signal { return p.state }

// Tick performs exactly one poll cycle and returns the resulting state.
// Outbound frames are written in Wait as well; reads made in Wait are
// drained from the channel and discarded.
func (p *Poller) Tick() control.Signal {
	p.state = control.Next(p.state, p.cfg.Control.Drain())
	if p.state == control.Exit {
		return p.state
	}

	// ---- write: at most once, no retry ----
	if f, ok := p.cfg.Outbound.TryPop(); ok {
		if err := p.ch.WriteFrame(f); err != nil {
			p.fault("write", err)
		} else {
			p.recovered("write")
			p.metrics.FramesSent.Inc()
		}
	}

	// ---- read: never blocks ----
	f, err := p.ch.ReadFrame()
	switch {
	case err == nil:
		p.recovered("read")
		p.reads.Add(1)
		p.lastRead.Store(time.Now().UnixNano())
		if p.state == control.Run {
			_ = p.cfg.Inbound.Push(f)
			p.metrics.FramesReceived.Inc()
		} else {
			p.metrics.FramesDiscarded.Inc()
		}
	case errors.Is(err, adapter.ErrNoData):
		// nothing pending
	default:
		p.fault("read", err)
	}

	return p.state
}

// fault reports err to the fault queue. The first error of a run is logged
// at warn, repeats at debug.
func (p *Poller) fault(op string, err error) {
	p.metrics.IOErrors.WithLabelValues(op).Inc()

	ev := p.log.Debug()
	if !p.failing[op] {
		ev = p.log.Warn()
		p.failing[op] = true
	}
	ev.Str("op", op).Err(err).Msg("hardware io error")

	_ = p.cfg.Faults.Push(Fault{Op: op, Err: err, At: time.Now()})
}

func (p *Poller) recovered(op string) {
	if p.failing[op] {
		p.failing[op] = false
		p.log.Info().Str("op", op).Msg("hardware io recovered")
	}
}

// Traffic reports the time of the last successful read and the number
// of frames read so far, in any state. Safe for concurrent use.
func (p *Poller) Traffic() (time.Time, uint32) {
	ns := p.lastRead.Load()
	if ns == 0 {
		return time.Time{}, p.reads.Load()
	}
	return time.Unix(0, ns), p.reads.Load()
}

// Release closes the channel exactly once.
func (p *Poller) Release() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.ch.Close()
		if p.closeErr != nil {
			p.log.Warn().Err(p.closeErr).Msg("channel close failed")
		} else {
			p.log.Debug().Msg("channel released")
		}
	})
	return p.closeErr
}
