// Package session owns one monitoring session: the queue fabric, the
// three workers and the link health loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/adapter"
	"github.com/tamzrod/bms-telemetry/internal/command"
	"github.com/tamzrod/bms-telemetry/internal/config"
	"github.com/tamzrod/bms-telemetry/internal/control"
	"github.com/tamzrod/bms-telemetry/internal/decoder"
	"github.com/tamzrod/bms-telemetry/internal/emitter"
	"github.com/tamzrod/bms-telemetry/internal/matrix"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/poller"
	"github.com/tamzrod/bms-telemetry/internal/queue"
	"github.com/tamzrod/bms-telemetry/internal/status"
)

var (
	// ErrShutdownTimeout is returned when a worker had to be forced.
	ErrShutdownTimeout = errors.New("session: shutdown grace exceeded, workers forced")
	ErrNotStarted      = errors.New("session: not started")
	ErrStopped         = errors.New("session: stopped")
	ErrAlreadyStarted  = errors.New("session: already started")
)

// StatusFunc receives every changed link status snapshot.
type StatusFunc func(status.Snapshot) error

// Session wires the workers of one adapter together.
type Session struct {
	id   string
	name string
	cfg  *config.Config

	fabric  *queue.Fabric
	faults  *queue.Queue[poller.Fault]
	hub     *decoder.Hub
	tracker *status.Tracker

	io  *poller.Poller
	emi *emitter.Emitter
	dec *decoder.Decoder

	metrics *observability.Metrics
	log     zerolog.Logger

	onStatus    StatusFunc
	healthEvery time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	armed   bool
	request command.PeriodicRequest

	wctx       context.Context
	cancel     context.CancelFunc
	workers    sync.WaitGroup
	stopHealth context.CancelFunc
	healthDone chan struct{}
}

// Open builds the configured adapter and a session around it.
func Open(c *config.Config, m *observability.Metrics, log zerolog.Logger) (*Session, error) {
	s, err := prepare(c, m, log)
	if err != nil {
		return nil, err
	}
	p, err := poller.Build(c.Adapter, s.fabric, s.faults, s.metrics, observability.Component(log, "io"))
	if err != nil {
		return nil, err
	}
	return s.finish(p)
}

// New builds a session around an already open channel. The session owns
// ch from here on and closes it on shutdown.
func New(c *config.Config, ch adapter.Channel, m *observability.Metrics, log zerolog.Logger) (*Session, error) {
	s, err := prepare(c, m, log)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	p, err := poller.Wire(c.Adapter, ch, s.fabric, s.faults, s.metrics, observability.Component(log, "io"))
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return s.finish(p)
}

func prepare(c *config.Config, m *observability.Metrics, log zerolog.Logger) (*Session, error) {
	if c == nil {
		return nil, errors.New("session: config required")
	}
	if m == nil {
		m = observability.Discard()
	}

	req, err := initialRequest(c.Periodic)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &Session{
		id:          id,
		name:        c.Session.Name,
		cfg:         c,
		fabric:      queue.NewFabric(),
		faults:      queue.New[poller.Fault](),
		hub:         decoder.NewHub(),
		tracker:     status.NewTracker(time.Duration(c.Session.StaleAfterMs) * time.Millisecond),
		metrics:     m,
		log:         log.With().Str("session", c.Session.Name).Str("session_id", id).Logger(),
		healthEvery: time.Second,
		request:     req,
	}, nil
}

func (s *Session) finish(p *poller.Poller) (*Session, error) {
	s.io = p

	emi, err := emitter.New(emitter.Config{
		Initial:  s.request,
		Control:  s.fabric.EmitterControl,
		Requests: s.fabric.Periodic,
		Outbound: s.fabric.Outbound,
	}, s.metrics, observability.Component(s.log, "emitter"))
	if err != nil {
		_ = p.Release()
		return nil, err
	}
	s.emi = emi

	dec, err := decoder.New(decoder.Config{
		Layout: matrix.Layout{
			Modules:      s.cfg.Adapter.ModuleCount,
			Cells:        s.cfg.Adapter.CellCount,
			Temperatures: s.cfg.Adapter.TemperatureCount,
		},
		Control: s.fabric.DecoderControl,
		Inbound: s.fabric.Inbound,
	}, s.hub, s.metrics, observability.Component(s.log, "decoder"))
	if err != nil {
		_ = p.Release()
		return nil, err
	}
	s.dec = dec

	return s, nil
}

func initialRequest(p config.PeriodicConfig) (command.PeriodicRequest, error) {
	req := command.DefaultRequest
	if p.Request != "" {
		kind, err := command.ParseRequestKind(p.Request)
		if err != nil {
			return req, err
		}
		req.Kind = kind
	}
	if p.PeriodMs > 0 {
		req.Period = time.Duration(p.PeriodMs) * time.Millisecond
	}
	return req, req.Validate()
}

// OnStatus registers the link status sink. Must be called before Start.
func (s *Session) OnStatus(fn StatusFunc) { s.onStatus = fn }

func (s *Session) ID() string   { return s.id }
func (s *Session) Name() string { return s.name }

// Start launches the workers in Wait and, with session.autostart, arms them.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.stopped:
		return ErrStopped
	case s.started:
		return ErrAlreadyStarted
	}
	s.started = true

	s.wctx, s.cancel = context.WithCancel(ctx)

	// Subscribed before any worker runs so no early state frame is missed.
	sub := s.hub.Subscribe()
	hctx, stop := context.WithCancel(ctx)
	s.stopHealth = stop
	s.healthDone = make(chan struct{})
	go s.health(hctx, sub)

	// Run is queued ahead of the workers so their first tick is already armed.
	if s.cfg.Session.Autostart {
		s.armLocked(true)
	}

	s.spawn(s.wctx, "io", s.io.Run)
	s.spawn(s.wctx, "emitter", s.emi.Run)
	s.spawn(s.wctx, "decoder", s.dec.Run)

	s.log.Info().
		Str("adapter", s.cfg.Adapter.Kind).
		Str("request", s.request.Kind.String()).
		Dur("period", s.request.Period).
		Bool("armed", s.armed).
		Msg("session started")
	return nil
}

func (s *Session) spawn(ctx context.Context, name string, run func(context.Context) error) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Str("worker", name).Msg("worker stopped")
		}
	}()
}

// Run arms every worker.
func (s *Session) Run() error { return s.arm(true) }

// Wait disarms every worker. The adapter keeps draining the bus.
func (s *Session) Wait() error { return s.arm(false) }

func (s *Session) arm(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.usableLocked(); err != nil {
		return err
	}
	s.armLocked(on)
	return nil
}

func (s *Session) armLocked(on bool) {
	sig := control.Wait
	if on {
		sig = control.Run
	}
	s.fabric.Broadcast(sig)
	s.armed = on
	s.log.Info().Str("signal", sig.String()).Msg("session control")
}

func (s *Session) usableLocked() error {
	if s.stopped {
		return ErrStopped
	}
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Subscribe returns a new stream of decoded events.
func (s *Session) Subscribe() *decoder.Subscription { return s.hub.Subscribe() }

// SetSOC queues one state-of-charge set command.
func (s *Session) SetSOC(percent float64) error {
	f, err := command.SetSOC(percent)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usableLocked(); err != nil {
		return err
	}
	if err := s.fabric.Outbound.Push(f); err != nil {
		return fmt.Errorf("session: queue soc command: %w", err)
	}
	s.log.Info().Float64("percent", percent).Msg("soc set queued")
	return nil
}

// RequestState replaces the periodic request. An invalid request leaves
// the previous one in force.
func (s *Session) RequestState(kind command.RequestKind, period time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestLocked(kind, period)
}

// StopRequests reverts to NoRequest at the current period.
func (s *Session) StopRequests() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestLocked(command.NoRequest, s.request.Period)
}

func (s *Session) requestLocked(kind command.RequestKind, period time.Duration) error {
	req := command.PeriodicRequest{Kind: kind, Period: period}
	if err := req.Validate(); err != nil {
		return err
	}
	if err := s.usableLocked(); err != nil {
		return err
	}
	if err := s.fabric.Periodic.Push(req); err != nil {
		return fmt.Errorf("session: queue periodic request: %w", err)
	}
	s.request = req
	s.log.Info().Str("request", kind.String()).Dur("period", period).Msg("periodic request queued")
	return nil
}

// Shutdown posts Exit, joins the workers for at most grace and then
// forces them. If they still hang, the adapter is released from here.
// It returns ErrShutdownTimeout when forcing was needed.
func (s *Session) Shutdown(grace time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if !started {
		err := s.io.Release()
		s.fabric.Close()
		s.hub.Close()
		return err
	}

	s.fabric.Broadcast(control.Exit)

	joined := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(joined)
	}()

	var err error
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-joined:
	case <-timer.C:
		err = ErrShutdownTimeout
		s.log.Warn().Dur("grace", grace).Msg("workers did not exit in time, forcing")
		s.cancel()
		select {
		case <-joined:
		case <-time.After(grace):
			// a worker is stuck inside the driver; closing the handle unblocks it
			s.log.Error().Msg("workers still running after forced cancel, releasing adapter")
			err = errors.Join(ErrShutdownTimeout, s.io.Release())
		}
	}
	s.cancel()

	s.stopHealth()
	<-s.healthDone

	s.fabric.Close()
	s.hub.Close()

	s.log.Info().Err(err).Msg("session stopped")
	return err
}
