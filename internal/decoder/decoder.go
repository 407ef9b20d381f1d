package decoder

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/control"
	"github.com/tamzrod/bms-telemetry/internal/matrix"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/queue"
)

type Config struct {
	Layout matrix.Layout

	Control *queue.Queue[control.Signal]
	Inbound *queue.Queue[can.Frame]
}

// Decoder applies the frame matrix to inbound frames and hands decoded
// events to the hub. Layout errors cost one frame, never the worker.
type Decoder struct {
	cfg     Config
	hub     *Hub
	metrics *observability.Metrics
	log     zerolog.Logger

	state control.Signal
}

func New(cfg Config, hub *Hub, m *observability.Metrics, log zerolog.Logger) (*Decoder, error) {
	if cfg.Control == nil || cfg.Inbound == nil {
		return nil, errors.New("decoder: control and inbound queues required")
	}
	if hub == nil {
		return nil, errors.New("decoder: hub required")
	}
	if cfg.Layout.Modules < 1 || cfg.Layout.Cells < 1 || cfg.Layout.Temperatures < 1 {
		return nil, errors.New("decoder: layout counts must be > 0")
	}
	if m == nil {
		m = observability.Discard()
	}
	return &Decoder{cfg: cfg, hub: hub, metrics: m, log: log, state: control.Wait}, nil
}

// Run consumes inbound frames while armed and idles otherwise.
// It returns nil after Exit and ctx.Err() when forced.
func (d *Decoder) Run(ctx context.Context) error {
	for {
		d.state = control.Next(d.state, d.cfg.Control.Drain())
		if d.state == control.Exit {
			d.log.Debug().Msg("decoder exit")
			return nil
		}

		var inbound <-chan struct{}
		if d.state == control.Run {
			if f, ok := d.cfg.Inbound.TryPop(); ok {
				d.Handle(f)
				continue
			}
			inbound = d.cfg.Inbound.Ready()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.cfg.Control.Ready():
		case <-inbound:
		}
	}
}

// Handle classifies one frame and publishes the result.
func (d *Decoder) Handle(f can.Frame) {
	ev, ok, err := matrix.Classify(f, d.cfg.Layout)
	switch {
	case err != nil:
		d.metrics.LayoutErrors.Inc()
		d.log.Warn().Err(err).Str("frame", f.String()).Msg("frame layout error")
	case !ok:
		d.metrics.Unroutable.Inc()
	default:
		d.metrics.Events.WithLabelValues(ev.Kind().String()).Inc()
		d.hub.Publish(Record{At: time.Now(), Event: ev})
	}
}
