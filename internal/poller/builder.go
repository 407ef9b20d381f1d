// internal/poller/builder.go
package poller

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/adapter"
	cfg "github.com/tamzrod/bms-telemetry/internal/config"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/queue"
)

// Build opens the configured channel and wires it to the fabric.
// Open failures are returned (fail fast at startup), never retried.
func Build(a cfg.AdapterConfig, f *queue.Fabric, faults *queue.Queue[Fault], m *observability.Metrics, log zerolog.Logger) (*Poller, error) {
	ch, err := adapter.Build(a, log)
	if err != nil {
		return nil, err
	}

	p, err := Wire(a, ch, f, faults, m, log)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return p, nil
}

// Wire builds a poller around an already open channel.
func Wire(a cfg.AdapterConfig, ch adapter.Channel, f *queue.Fabric, faults *queue.Queue[Fault], m *observability.Metrics, log zerolog.Logger) (*Poller, error) {
	interval := DefaultInterval
	if a.PollIntervalMs > 0 {
		interval = time.Duration(a.PollIntervalMs) * time.Millisecond
	}

	return New(
		Config{
			Interval: interval,
			Control:  f.IOControl,
			Outbound: f.Outbound,
			Inbound:  f.Inbound,
			Faults:   faults,
		},
		ch,
		m,
		log,
	)
}
