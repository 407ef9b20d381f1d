// internal/status/tracker.go
package status

import (
	"sync"
	"time"
)

// Tracker owns the link health state. Transitions:
//
//	traffic          -> OK (error code and seconds reset)
//	fault            -> Error (code recorded)
//	OK and no frame for staleAfter -> Stale
//
// seconds_in_error increments on Tick only, while not OK, and never wraps.
type Tracker struct {
	mu         sync.Mutex
	snap       Snapshot
	lastFrame  time.Time
	staleAfter time.Duration
}

// NewTracker starts in HealthUnknown. staleAfter <= 0 disables staleness.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		snap:       Snapshot{Health: HealthUnknown},
		staleAfter: staleAfter,
	}
}

// Traffic records that frames arrived at 'at'. frames is the running count.
// It reports whether the snapshot changed.
func (t *Tracker) Traffic(at time.Time, frames uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if at.After(t.lastFrame) {
		t.lastFrame = at
	}
	t.snap.Frames = frames

	changed := false
	if t.snap.Health != HealthOK {
		t.snap.Health = HealthOK
		changed = true
	}
	// Reset last error code when healthy.
	if t.snap.LastErrorCode != 0 {
		t.snap.LastErrorCode = 0
		changed = true
	}
	// Reset seconds-in-error on recovery.
	if t.snap.SecondsInError != 0 {
		t.snap.SecondsInError = 0
		changed = true
	}
	return changed
}

// Fault records an I/O failure. It reports whether the snapshot changed.
func (t *Tracker) Fault(code uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	if t.snap.Health != HealthError {
		t.snap.Health = HealthError
		changed = true
	}
	if t.snap.LastErrorCode != code {
		t.snap.LastErrorCode = code
		changed = true
	}
	// NOTE: seconds_in_error increments on Tick only.
	return changed
}

// BMSState records the last BMS state code.
func (t *Tracker) BMSState(code uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.BMSState == uint16(code) {
		return false
	}
	t.snap.BMSState = uint16(code)
	return true
}

// Tick is called at 1 Hz. It reports whether the snapshot changed.
func (t *Tracker) Tick(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	if t.snap.Health == HealthOK && t.staleAfter > 0 && now.Sub(t.lastFrame) > t.staleAfter {
		t.snap.Health = HealthStale
		changed = true
	}

	// Tick 1 Hz while not OK.
	if t.snap.Health != HealthOK && t.snap.SecondsInError < 65535 {
		t.snap.SecondsInError++
		changed = true
	}
	return changed
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// LastFrame returns the time of the newest recorded traffic.
func (t *Tracker) LastFrame() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFrame
}
