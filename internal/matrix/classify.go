package matrix

import (
	"fmt"

	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/codec"
)

// Layout is the configured battery geometry used to bound module,
// cell and temperature indices. Passed by value into every call.
type Layout struct {
	Modules      int
	Cells        int // per module
	Temperatures int // per module
}

// Classify maps one frame to a decoded event.
//
// ok is false for frames no rule matches; that is normal bus traffic.
// A matched frame with a malformed layout returns an error wrapping
// codec.ErrInvalidFrameLayout; only that frame is lost.
// Classify has no hidden state: equal inputs give equal results.
func Classify(f can.Frame, l Layout) (Event, bool, error) {
	for i := range rules {
		r := &rules[i]
		s, matched := r.match(f.ID, l)
		if !matched {
			continue
		}
		if f.Len < 1 || f.Len > 8 {
			return nil, true, fmt.Errorf("matrix: %s frame 0x%03X: %w: length %d",
				r.name, f.ID, codec.ErrInvalidFrameLayout, f.Len)
		}
		fr := fields{f: f}
		ev := r.decode(&fr, s, l)
		if fr.err != nil {
			return nil, true, fmt.Errorf("matrix: %s frame 0x%03X: %w", r.name, f.ID, fr.err)
		}
		return ev, true, nil
	}
	return nil, false, nil
}
