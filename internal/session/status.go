// internal/session/status.go
package session

import (
	"time"

	"github.com/tamzrod/bms-telemetry/internal/status"
)

// Status is a point-in-time view of the session for operators.
type Status struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	State   string `json:"state"` // idle | waiting | running | stopped
	Adapter string `json:"adapter"`

	Health         string    `json:"health"`
	LastErrorCode  uint16    `json:"last_error_code"`
	SecondsInError uint16    `json:"seconds_in_error"`
	BMSState       uint16    `json:"bms_state"`
	Frames         uint32    `json:"frames"`
	LastFrame      time.Time `json:"last_frame,omitempty"`

	Request  string `json:"request"`
	PeriodMs int64  `json:"period_ms"`

	Subscribers     int `json:"subscribers"`
	PendingInbound  int `json:"pending_inbound"`
	PendingOutbound int `json:"pending_outbound"`
}

// Status reports the session state, link health and queue depths.
func (s *Session) Status() Status {
	s.mu.Lock()
	state := "idle"
	switch {
	case s.stopped:
		state = "stopped"
	case s.started && s.armed:
		state = "running"
	case s.started:
		state = "waiting"
	}
	req := s.request
	s.mu.Unlock()

	snap := s.tracker.Snapshot()
	return Status{
		ID:      s.id,
		Name:    s.name,
		State:   state,
		Adapter: s.cfg.Adapter.Kind,

		Health:         status.HealthName(snap.Health),
		LastErrorCode:  snap.LastErrorCode,
		SecondsInError: snap.SecondsInError,
		BMSState:       snap.BMSState,
		Frames:         snap.Frames,
		LastFrame:      s.tracker.LastFrame(),

		Request:  req.Kind.String(),
		PeriodMs: req.Period.Milliseconds(),

		Subscribers:     s.hub.Subscribers(),
		PendingInbound:  s.fabric.Inbound.Len(),
		PendingOutbound: s.fabric.Outbound.Len(),
	}
}
