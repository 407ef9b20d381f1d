// internal/writer/types.go
package writer

import "time"

// TargetEndpoint is one export destination: a register window on one
// unit of one endpoint.
type TargetEndpoint struct {
	TargetID    uint32
	Endpoint    string
	Transport   string
	UnitID      uint8
	BaseAddress uint16
	Timeout     time.Duration
}

// StatusPlan places the link status block on one target.
type StatusPlan struct {
	Client     string // client key
	UnitID     uint8
	BaseSlot   uint16
	DeviceName string
}

// Plan is the fully-built export plan of one session.
type Plan struct {
	Targets []TargetEndpoint
	Status  []StatusPlan // empty: status disabled
}

// clientKey identifies the connection a target uses.
func clientKey(transport, endpoint string) string {
	return transport + "|" + endpoint
}
