// internal/session/health.go
package session

import (
	"context"
	"time"

	"github.com/tamzrod/bms-telemetry/internal/decoder"
	"github.com/tamzrod/bms-telemetry/internal/matrix"
	"github.com/tamzrod/bms-telemetry/internal/status"
)

// health is the runner-owned link status loop: faults as they arrive,
// traffic and staleness at the tick rate.
// sub delivers error flags 0, which carries the BMS state code.
func (s *Session) health(ctx context.Context, sub *decoder.Subscription) {
	defer close(s.healthDone)
	defer sub.Close()

	ticker := time.NewTicker(s.healthEvery)
	defer ticker.Stop()

	var seen uint32

	// Full block write on start (identity re-assert).
	s.publishStatus(s.tracker.Snapshot())

	for {
		changed := false

		select {
		case <-ctx.Done():
			return

		case <-s.faults.Ready():
			for _, f := range s.faults.Drain() {
				if s.tracker.Fault(f.Code()) {
					changed = true
				}
			}

		case <-sub.Ready():
			for {
				rec, ok := sub.TryNext()
				if !ok {
					break
				}
				if ef, ok := rec.Event.(matrix.ErrorFlags0); ok && s.tracker.BMSState(uint8(ef.State)) {
					changed = true
				}
			}

		case now := <-ticker.C:
			if at, frames := s.io.Traffic(); frames != seen {
				seen = frames
				s.tracker.Traffic(at, frames)
				changed = true // frame counter moved
			}
			if s.tracker.Tick(now) {
				changed = true
			}
		}

		if changed {
			s.publishStatus(s.tracker.Snapshot())
		}
	}
}

func (s *Session) publishStatus(snap status.Snapshot) {
	s.metrics.LinkHealth.Set(float64(snap.Health))
	if s.onStatus == nil {
		return
	}
	if err := s.onStatus(snap); err != nil {
		s.log.Warn().Err(err).Msg("status write failed")
	}
}
