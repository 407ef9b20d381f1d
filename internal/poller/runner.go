// internal/poller/runner.go
package poller

import (
	"context"
	"time"

	"github.com/tamzrod/bms-telemetry/internal/control"
)

// Run starts the ticker loop. It returns nil after Exit and ctx.Err()
// when forced. The channel is released on both paths.
// One goroutine per channel. No overlap. No retries.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	defer p.Release()

	p.log.Debug().Dur("interval", p.cfg.Interval).Msg("poller started")

	for {
		if p.Tick() == control.Exit {
			p.log.Debug().Msg("poller exit")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
