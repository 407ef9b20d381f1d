package emitter

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/command"
	"github.com/tamzrod/bms-telemetry/internal/control"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/queue"
)

type Config struct {
	Initial command.PeriodicRequest

	Control  *queue.Queue[control.Signal]
	Requests *queue.Queue[command.PeriodicRequest]
	Outbound *queue.Queue[can.Frame]
}

// Emitter re-sends the latest state request once per period while armed.
// Requests are adopted only at cycle boundaries; an in-flight sleep is
// never cut short by a new request or by Run.
type Emitter struct {
	cfg     Config
	metrics *observability.Metrics
	log     zerolog.Logger

	state control.Signal
	req   command.PeriodicRequest
}

func New(cfg Config, m *observability.Metrics, log zerolog.Logger) (*Emitter, error) {
	if cfg.Control == nil || cfg.Requests == nil || cfg.Outbound == nil {
		return nil, errors.New("emitter: control, request and outbound queues required")
	}
	if err := cfg.Initial.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = observability.Discard()
	}
	return &Emitter{
		cfg:     cfg,
		metrics: m,
		log:     log,
		state:   control.Wait,
		req:     cfg.Initial,
	}, nil
}

// Run loops until Exit (returns nil) or ctx is cancelled (returns ctx.Err()).
func (e *Emitter) Run(ctx context.Context) error {
	e.log.Debug().Str("request", e.req.Kind.String()).Dur("period", e.req.Period).Msg("emitter started")

	for {
		e.boundary()
		if e.state == control.Exit {
			e.log.Debug().Msg("emitter exit")
			return nil
		}

		period := command.DefaultPeriod
		if e.state == control.Run {
			e.emit()
			period = e.req.Period
		}

		if err := e.sleep(ctx, period); err != nil {
			return err
		}
	}
}

// boundary adopts pending control signals and the newest valid request.
func (e *Emitter) boundary() {
	e.state = control.Next(e.state, e.cfg.Control.Drain())

	for _, r := range e.cfg.Requests.Drain() {
		if err := r.Validate(); err != nil {
			e.log.Warn().Err(err).Msg("periodic request ignored")
			continue
		}
		if r != e.req {
			e.log.Info().Str("request", r.Kind.String()).Dur("period", r.Period).Msg("periodic request updated")
		}
		e.req = r
	}
}

func (e *Emitter) emit() {
	f, err := command.StateRequest(e.req.Kind)
	if err != nil {
		e.log.Warn().Err(err).Msg("state request encode failed")
		return
	}
	if err := e.cfg.Outbound.Push(f); err != nil {
		e.log.Debug().Err(err).Msg("outbound queue closed")
		return
	}
	e.metrics.PeriodicSent.WithLabelValues(e.req.Kind.String()).Inc()
}

// sleep waits for d. Control signals are observed while sleeping so Exit
// and Wait take effect promptly; Run does not end the sleep.
func (e *Emitter) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-e.cfg.Control.Ready():
			prev := e.state
			e.state = control.Next(e.state, e.cfg.Control.Drain())
			if e.state == control.Exit || (e.state == control.Wait && prev != control.Wait) {
				return nil
			}
		}
	}
}
