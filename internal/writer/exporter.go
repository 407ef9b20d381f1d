// internal/writer/exporter.go
package writer

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/decoder"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/queue"
	"github.com/tamzrod/bms-telemetry/internal/status"
)

// Exporter mirrors decoded events and link status into register targets.
type Exporter struct {
	w       *writerImpl
	status  StatusWriter
	closeFn func() error
	metrics *observability.Metrics
	log     zerolog.Logger
}

// NewExporter binds a plan to its clients. closeFn releases the clients
// and may be nil.
func NewExporter(
	plan Plan,
	clients map[string]endpointClient,
	closeFn func() error,
	m *observability.Metrics,
	log zerolog.Logger,
) *Exporter {
	if m == nil {
		m = observability.Discard()
	}
	sw, _ := NewDeviceStatusWriter(plan, clients)
	return &Exporter{
		w:       newWriter(plan, clients),
		status:  sw,
		closeFn: closeFn,
		metrics: m,
		log:     log,
	}
}

// Build opens clients for every target in plan and returns a ready exporter.
func Build(plan Plan, m *observability.Metrics, log zerolog.Logger) (*Exporter, error) {
	clients, closeAll, err := BuildEndpointClients(plan)
	if err != nil {
		return nil, err
	}
	return NewExporter(plan, clients, closeAll, m, log), nil
}

// Targets reports how many register targets the exporter feeds.
func (e *Exporter) Targets() int { return len(e.w.plan.Targets) }

// Run exports every record delivered on sub until ctx ends or sub closes.
func (e *Exporter) Run(ctx context.Context, sub *decoder.Subscription) error {
	for {
		rec, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		e.Handle(rec)
	}
}

// Handle writes one record to every target. Failures are counted and
// logged; they never stop the export.
func (e *Exporter) Handle(rec decoder.Record) {
	kind := rec.Event.Kind()
	_ = e.w.Write(rec.Event, func(tgt TargetEndpoint, err error) {
		id := strconv.FormatUint(uint64(tgt.TargetID), 10)
		if err != nil {
			e.metrics.ExportWrites.WithLabelValues(id, "error").Inc()
			e.log.Warn().
				Err(err).
				Uint32("target", tgt.TargetID).
				Str("kind", kind.String()).
				Msg("export write failed")
			return
		}
		e.metrics.ExportWrites.WithLabelValues(id, "ok").Inc()
	})
}

// WriteStatus delivers a link status snapshot; a no-op when no target
// carries a status block.
func (e *Exporter) WriteStatus(s status.Snapshot) error {
	if e.status == nil {
		return nil
	}
	return e.status.WriteStatus(s)
}

// Close releases the endpoint clients.
func (e *Exporter) Close() error {
	if e.closeFn == nil {
		return nil
	}
	return e.closeFn()
}
