// internal/config/normalize.go
package config

import "fmt"

// Defaults applied by Normalize.
const (
	DefaultPollIntervalMs  = 1
	DefaultPeriodMs        = 100
	DefaultShutdownGraceMs = 2000
	DefaultStaleAfterMs    = 5000
	DefaultAPIAddr         = ":8080"
	DefaultTopicPrefix     = "bms"
	DefaultSessionName     = "bms"
	DefaultTargetTimeoutMs = 1000
	DefaultSerialBaud      = 115200
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// ---- session ----

	if cfg.Session.Name == "" {
		cfg.Session.Name = DefaultSessionName
	}
	if cfg.Session.ShutdownGraceMs == 0 {
		cfg.Session.ShutdownGraceMs = DefaultShutdownGraceMs
	}
	if cfg.Session.StaleAfterMs == 0 {
		cfg.Session.StaleAfterMs = DefaultStaleAfterMs
	}

	// ---- adapter ----

	a := &cfg.Adapter
	if a.PollIntervalMs == 0 {
		a.PollIntervalMs = DefaultPollIntervalMs
	}
	if a.Channel == "" && a.Kind == AdapterSocketCAN {
		a.Channel = fmt.Sprintf("can%d", a.HardwareID)
	}
	if a.Kind == AdapterSLCAN && a.SerialBaud == 0 {
		a.SerialBaud = DefaultSerialBaud
	}

	// ---- periodic ----

	if cfg.Periodic.Request == "" {
		cfg.Periodic.Request = "none"
	}
	if cfg.Periodic.PeriodMs == 0 {
		cfg.Periodic.PeriodMs = DefaultPeriodMs
	}

	// ---- export ----

	// device_name: ASCII already validated, truncate to 16 characters
	if len(cfg.Export.DeviceName) > 16 {
		cfg.Export.DeviceName = cfg.Export.DeviceName[:16]
	}
	for i := range cfg.Export.Targets {
		t := &cfg.Export.Targets[i]
		if t.Transport == "" {
			t.Transport = TransportModbus
		}
		if t.TimeoutMs == 0 {
			t.TimeoutMs = DefaultTargetTimeoutMs
		}
	}

	// ---- sinks ----

	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.MQTT.Format == "" {
		cfg.MQTT.Format = FormatJSON
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		cfg.API.Addr = DefaultAPIAddr
	}
}
