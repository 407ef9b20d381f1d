// internal/poller/types.go
package poller

import (
	"errors"
	"fmt"
	"time"
)

// Fault is a hardware I/O failure surfaced by the poller.
// The poller keeps running after a fault.
type Fault struct {
	Op  string // "read" or "write"
	Err error
	At  time.Time
}

func (f Fault) Error() string { return fmt.Sprintf("poller: %s: %v", f.Op, f.Err) }
func (f Fault) Unwrap() error { return f.Err }

// Code extracts a best-effort uint16 code from the underlying error
// without assuming concrete types. Errors without a code report 1.
func (f Fault) Code() uint16 {
	if f.Err == nil {
		return 0
	}

	type coderA interface{ Code() uint16 }
	type coderB interface{ ErrorCode() uint16 }

	var a coderA
	if errors.As(f.Err, &a) {
		return a.Code()
	}
	var b coderB
	if errors.As(f.Err, &b) {
		return b.ErrorCode()
	}
	return 1
}
