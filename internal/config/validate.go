// internal/config/validate.go
package config

import (
	"fmt"
)

// Adapter geometry limits.
const (
	MaxModules      = 100
	MaxCells        = 20
	MaxTemperatures = 16
	MaxPeriodMs     = 1000
)

// BaudRates lists the bus bit rates an adapter accepts.
var BaudRates = []int{10000, 20000, 50000, 100000, 125000, 250000, 500000, 800000, 1000000}

// ExportSpan is the number of holding registers one target occupies for
// the given module count: summaries, cell voltages, then temperatures.
func ExportSpan(modules int) int {
	return 2200 + 16*modules
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := validateAdapter(cfg.Adapter); err != nil {
		return err
	}
	if err := validatePeriodic(cfg.Periodic); err != nil {
		return err
	}
	if cfg.Session.ShutdownGraceMs < 0 || cfg.Session.StaleAfterMs < 0 {
		return fmt.Errorf("session: durations must be >= 0")
	}
	if err := validateExport(cfg.Export, cfg.Adapter.ModuleCount); err != nil {
		return err
	}
	if err := validateMQTT(cfg.MQTT); err != nil {
		return err
	}
	return nil
}

func validateAdapter(a AdapterConfig) error {
	switch a.Kind {
	case AdapterSocketCAN, AdapterVirtual:
	case AdapterSLCAN:
		if a.Channel == "" {
			return fmt.Errorf("adapter: slcan requires channel (serial device)")
		}
		if a.SerialBaud < 0 {
			return fmt.Errorf("adapter: serial_baud must be >= 0")
		}
	default:
		return fmt.Errorf("adapter: unknown kind %q", a.Kind)
	}

	if a.HardwareID < 0 {
		return fmt.Errorf("adapter: hardware_id must be >= 0")
	}

	ok := false
	for _, b := range BaudRates {
		if a.BaudRate == b {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("adapter: unsupported baud_rate %d", a.BaudRate)
	}

	if a.ModuleCount < 1 || a.ModuleCount > MaxModules {
		return fmt.Errorf("adapter: module_count %d out of range 1..%d", a.ModuleCount, MaxModules)
	}
	if a.CellCount < 1 || a.CellCount > MaxCells {
		return fmt.Errorf("adapter: cell_count %d out of range 1..%d", a.CellCount, MaxCells)
	}
	if a.TemperatureCount < 1 || a.TemperatureCount > MaxTemperatures {
		return fmt.Errorf("adapter: temperature_count %d out of range 1..%d", a.TemperatureCount, MaxTemperatures)
	}
	if a.PollIntervalMs < 0 {
		return fmt.Errorf("adapter: poll_interval_ms must be >= 0")
	}
	return nil
}

func validatePeriodic(p PeriodicConfig) error {
	switch p.Request {
	case "", "none", "standby", "normal":
	default:
		return fmt.Errorf("periodic: unknown request %q", p.Request)
	}
	// 0 means default
	if p.PeriodMs < 0 || p.PeriodMs > MaxPeriodMs {
		return fmt.Errorf("periodic: period_ms %d out of range (0,%d]", p.PeriodMs, MaxPeriodMs)
	}
	return nil
}

func validateMQTT(m MQTTConfig) error {
	if !m.Enabled {
		return nil
	}
	if m.Broker == "" {
		return fmt.Errorf("mqtt: broker required when enabled")
	}
	if m.QoS > 2 {
		return fmt.Errorf("mqtt: qos %d out of range 0..2", m.QoS)
	}
	switch m.Format {
	case "", FormatJSON, FormatMsgpack:
	default:
		return fmt.Errorf("mqtt: unknown format %q", m.Format)
	}
	return nil
}

func validateExport(e ExportConfig, modules int) error {
	type span struct {
		start  int
		end    int
		target uint32
	}

	// device_name sanity (ASCII only)
	for i := 0; i < len(e.DeviceName); i++ {
		if e.DeviceName[i] > 0x7F {
			return fmt.Errorf("export: device_name must contain ASCII characters only")
		}
	}

	for _, t := range e.Targets {
		if t.Endpoint == "" {
			return fmt.Errorf("export: target %d has no endpoint", t.ID)
		}
		switch t.Transport {
		case "", TransportModbus, TransportIngest:
		default:
			return fmt.Errorf("export: target %d has unknown transport %q", t.ID, t.Transport)
		}
		if t.TimeoutMs < 0 {
			return fmt.Errorf("export: target %d timeout_ms must be >= 0", t.ID)
		}
	}

	// ------------------------------------------------------------
	// DEVICE STATUS BLOCK VALIDATION (PER-TARGET, OPT-IN)
	// ------------------------------------------------------------

	if e.StatusSlot != nil {
		if len(e.Targets) == 0 {
			return fmt.Errorf("export: status_slot is set but no targets are defined")
		}

		// key = endpoint | status_unit_id | status_slot
		statusOwner := make(map[string]uint32)
		slot := *e.StatusSlot

		for _, t := range e.Targets {
			if t.StatusUnitID == nil {
				return fmt.Errorf(
					"export: status_slot is set but target %d (%s) has no status_unit_id",
					t.ID,
					t.Endpoint,
				)
			}

			key := fmt.Sprintf("%s|%d|%d", t.Endpoint, *t.StatusUnitID, slot)
			if prev, exists := statusOwner[key]; exists {
				return fmt.Errorf(
					"status_slot collision: endpoint=%s status_unit_id=%d slot=%d used by targets %d and %d",
					t.Endpoint,
					*t.StatusUnitID,
					slot,
					prev,
					t.ID,
				)
			}
			statusOwner[key] = t.ID
		}
	}

	// ------------------------------------------------------------
	// DESTINATION MEMORY GEOMETRY VALIDATION
	// ------------------------------------------------------------

	size := ExportSpan(modules)

	// key = endpoint | unit_id
	spans := make(map[string][]span)

	for _, t := range e.Targets {
		start := int(t.BaseAddress)
		end := start + size - 1
		if end > 0xFFFF {
			return fmt.Errorf(
				"export: target %d register window %d-%d exceeds address space",
				t.ID, start, end,
			)
		}

		key := fmt.Sprintf("%s|%d", t.Endpoint, t.UnitID)
		for _, s := range spans[key] {
			// overlap check (inclusive)
			if !(end < s.start || start > s.end) {
				return fmt.Errorf(
					"memory overlap: endpoint=%s unit_id=%d range=%d-%d overlaps with target=%d range=%d-%d",
					t.Endpoint,
					t.UnitID,
					start,
					end,
					s.target,
					s.start,
					s.end,
				)
			}
		}
		spans[key] = append(spans[key], span{start: start, end: end, target: t.ID})
	}

	return nil
}
