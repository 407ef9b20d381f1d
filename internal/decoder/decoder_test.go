package decoder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/control"
	"github.com/tamzrod/bms-telemetry/internal/matrix"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/queue"
)

var layout = matrix.Layout{Modules: 1, Cells: 18, Temperatures: 8}

func socFrame() can.Frame {
	// mean 50.00 %, min 40.00 %, max 60.00 %
	return can.Frame{ID: matrix.IDSocMinMax, Len: 8, Data: [8]byte{0x88, 0x13, 0xA0, 0x0F, 0x70, 0x17}}
}

type rig struct {
	fabric  *queue.Fabric
	hub     *Hub
	metrics *observability.Metrics
	d       *Decoder
	errc    chan error
	cancel  context.CancelFunc
}

func start(t *testing.T) *rig {
	t.Helper()
	f := queue.NewFabric()
	r := &rig{fabric: f, hub: NewHub(), metrics: observability.Discard(), errc: make(chan error, 1)}

	d, err := New(Config{Layout: layout, Control: f.DecoderControl, Inbound: f.Inbound}, r.hub, r.metrics, zerolog.Nop())
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	r.d = d

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.errc <- d.Run(ctx) }()
	t.Cleanup(cancel)
	return r
}

func nextWithin(t *testing.T, s *Subscription, d time.Duration) Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	rec, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next err=%v", err)
	}
	return rec
}

func TestNew_Validation(t *testing.T) {
	f := queue.NewFabric()
	if _, err := New(Config{Layout: layout}, NewHub(), nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected queue error")
	}
	if _, err := New(Config{Layout: layout, Control: f.DecoderControl, Inbound: f.Inbound}, nil, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected hub error")
	}
	if _, err := New(Config{Control: f.DecoderControl, Inbound: f.Inbound}, NewHub(), nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected layout error")
	}
}

func TestRun_DecodesAndPublishes(t *testing.T) {
	r := start(t)
	sub := r.hub.Subscribe()

	_ = r.fabric.DecoderControl.Push(control.Run)
	_ = r.fabric.Inbound.Push(socFrame())

	rec := nextWithin(t, sub, time.Second)
	soc, ok := rec.Event.(matrix.SocMinMax)
	if !ok {
		t.Fatalf("event = %T", rec.Event)
	}
	if soc.Mean != 50 || soc.Min != 40 || soc.Max != 60 {
		t.Fatalf("soc = %+v", soc)
	}
	if rec.At.IsZero() {
		t.Fatalf("record has no timestamp")
	}
}

func TestRun_WaitIdles(t *testing.T) {
	r := start(t)
	sub := r.hub.Subscribe()

	_ = r.fabric.Inbound.Push(socFrame())
	time.Sleep(20 * time.Millisecond)
	if sub.Pending() != 0 {
		t.Fatalf("decoded while waiting")
	}
	if r.fabric.Inbound.Len() != 1 {
		t.Fatalf("inbound consumed while waiting")
	}

	_ = r.fabric.DecoderControl.Push(control.Run)
	nextWithin(t, sub, time.Second)
}

func TestRun_ExitAndCancel(t *testing.T) {
	r := start(t)
	_ = r.fabric.DecoderControl.Push(control.Exit)

	select {
	case err := <-r.errc:
		if err != nil {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("decoder did not exit")
	}

	r2 := start(t)
	r2.cancel()
	select {
	case err := <-r2.errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("decoder ignored cancellation")
	}
}

func TestHandle_CountsOutcomes(t *testing.T) {
	m := observability.Discard()
	hub := NewHub()
	f := queue.NewFabric()
	d, err := New(Config{Layout: layout, Control: f.DecoderControl, Inbound: f.Inbound}, hub, m, zerolog.Nop())
	if err != nil {
		t.Fatalf("New err=%v", err)
	}
	sub := hub.Subscribe()

	d.Handle(can.Frame{ID: 0x7E0, Len: 8})             // unrelated traffic
	d.Handle(can.Frame{ID: matrix.IDSocMinMax, Len: 0}) // matched, malformed
	d.Handle(socFrame())

	if got := testutil.ToFloat64(m.Unroutable); got != 1 {
		t.Fatalf("unroutable = %v", got)
	}
	if got := testutil.ToFloat64(m.LayoutErrors); got != 1 {
		t.Fatalf("layout errors = %v", got)
	}
	if got := testutil.ToFloat64(m.Events.WithLabelValues(matrix.KindSocMinMax.String())); got != 1 {
		t.Fatalf("events = %v", got)
	}
	if sub.Pending() != 1 {
		t.Fatalf("pending = %d", sub.Pending())
	}
}

func TestHub_FanOutAndUnsubscribe(t *testing.T) {
	h := NewHub()
	a, b := h.Subscribe(), h.Subscribe()
	if h.Subscribers() != 2 {
		t.Fatalf("subscribers = %d", h.Subscribers())
	}

	h.Publish(Record{Event: matrix.Current{Amps: 1.5}})
	if a.Pending() != 1 || b.Pending() != 1 {
		t.Fatalf("pending a=%d b=%d", a.Pending(), b.Pending())
	}

	b.Close()
	b.Close()
	h.Publish(Record{Event: matrix.Current{Amps: 2}})
	if a.Pending() != 2 {
		t.Fatalf("a pending = %d", a.Pending())
	}
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", h.Subscribers())
	}

	// closed subscription drains then reports closed
	if _, ok := b.TryNext(); !ok {
		t.Fatalf("pending record lost on close")
	}
	if _, err := b.Next(context.Background()); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("err=%v", err)
	}
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	h := NewHub()
	s := h.Subscribe()
	h.Close()
	h.Close()

	if _, err := s.Next(context.Background()); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("err=%v", err)
	}
	late := h.Subscribe()
	if _, err := late.Next(context.Background()); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("late err=%v", err)
	}
}
