// internal/writer/builder.go
package writer

import (
	"fmt"
	"time"

	cfg "github.com/tamzrod/bms-telemetry/internal/config"
	"github.com/tamzrod/bms-telemetry/internal/writer/ingest"
	wmodbus "github.com/tamzrod/bms-telemetry/internal/writer/modbus"
)

// BuildPlan converts a validated config into an export Plan.
// Assumes config has already passed conflict validation.
func BuildPlan(c *cfg.Config) (Plan, error) {
	var plan Plan

	for _, t := range c.Export.Targets {
		if t.Endpoint == "" {
			return Plan{}, fmt.Errorf("writer: target %d: endpoint required", t.ID)
		}

		plan.Targets = append(plan.Targets, TargetEndpoint{
			TargetID:    t.ID,
			Endpoint:    t.Endpoint,
			Transport:   t.Transport,
			UnitID:      t.UnitID,
			BaseAddress: t.BaseAddress,
			Timeout:     time.Duration(t.TimeoutMs) * time.Millisecond,
		})

		// status block is opt-in per target
		if c.Export.StatusSlot == nil || t.StatusUnitID == nil {
			continue
		}
		plan.Status = append(plan.Status, StatusPlan{
			Client:     clientKey(t.Transport, t.Endpoint),
			UnitID:     *t.StatusUnitID,
			BaseSlot:   *c.Export.StatusSlot,
			DeviceName: c.Export.DeviceName,
		})
	}

	return plan, nil
}

// BuildEndpointClients creates one client per unique transport and endpoint.
func BuildEndpointClients(plan Plan) (map[string]endpointClient, func() error, error) {
	clients := make(map[string]endpointClient)
	var closers []func() error

	closeAll := func() error {
		var last error
		for _, fn := range closers {
			if err := fn(); err != nil {
				last = err
			}
		}
		return last
	}

	for _, t := range plan.Targets {
		key := clientKey(t.Transport, t.Endpoint)
		if _, ok := clients[key]; ok {
			continue
		}

		switch t.Transport {
		case cfg.TransportIngest:
			c, err := ingest.NewEndpointClient(ingest.Config{
				Endpoint: t.Endpoint,
				Timeout:  t.Timeout,
			})
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			clients[key] = c
			closers = append(closers, c.Close)

		case cfg.TransportModbus, "":
			c, err := wmodbus.NewEndpointClient(wmodbus.Config{
				Endpoint: t.Endpoint,
				Timeout:  t.Timeout,
			})
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			clients[key] = c
			closers = append(closers, c.Close)

		default:
			_ = closeAll()
			return nil, nil, fmt.Errorf("writer: target %d: unknown transport %q", t.TargetID, t.Transport)
		}
	}

	return clients, closeAll, nil
}
