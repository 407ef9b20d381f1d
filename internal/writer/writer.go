// internal/writer/writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/bms-telemetry/internal/matrix"
)

// endpointClient is the exact contract the writer uses.
// IMPORTANT: There must be NO other version of this interface anywhere.
type endpointClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// reportFunc receives the outcome of one event on one target.
type reportFunc func(tgt TargetEndpoint, err error)

type writerImpl struct {
	plan    Plan
	clients map[string]endpointClient
}

func newWriter(plan Plan, clients map[string]endpointClient) *writerImpl {
	return &writerImpl{
		plan:    plan,
		clients: clients,
	}
}

// Write delivers one event to every target. A failing target does not
// stop delivery to the others; all failures are joined. report, when
// set, sees every target's outcome.
func (w *writerImpl) Write(ev matrix.Event, report reportFunc) error {
	blocks := Encode(ev)
	if len(blocks) == 0 {
		return nil
	}

	var errs []error
	for _, tgt := range w.plan.Targets {
		err := w.writeTarget(tgt, ev.Kind(), blocks)
		if report != nil {
			report(tgt, err)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *writerImpl) writeTarget(tgt TargetEndpoint, kind matrix.Kind, blocks []Block) error {
	cli := w.clients[clientKey(tgt.Transport, tgt.Endpoint)]
	if cli == nil {
		return fmt.Errorf("writer: missing client for endpoint %s", tgt.Endpoint)
	}

	var errs []string
	for _, b := range blocks {
		addr := uint32(tgt.BaseAddress) + uint32(b.Offset)
		if addr+uint32(len(b.Regs)) > 0x10000 {
			errs = append(errs, fmt.Sprintf(
				"writer: target=%d addr=%d beyond register space",
				tgt.TargetID, addr,
			))
			continue
		}

		if err := cli.WriteRegisters(tgt.UnitID, uint16(addr), b.Regs); err != nil {
			errs = append(errs, fmt.Sprintf(
				"writer: ep=%s unit=%d addr=%d kind=%s err=%v",
				tgt.Endpoint, tgt.UnitID, addr, kind, err,
			))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, " | "))
	}
	return nil
}
