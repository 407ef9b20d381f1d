// internal/config/config.go
package config

// Config is one monitoring session: one adapter, one periodic request
// stream and the sinks decoded telemetry is exported to.
type Config struct {
	Log      LogConfig      `yaml:"log" toml:"log"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Adapter  AdapterConfig  `yaml:"adapter" toml:"adapter"`
	Periodic PeriodicConfig `yaml:"periodic" toml:"periodic"`
	Export   ExportConfig   `yaml:"export" toml:"export"`
	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	API      APIConfig      `yaml:"api" toml:"api"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Pretty bool   `yaml:"pretty" toml:"pretty"` // console writer instead of JSON
}

// ---- SESSION ----

type SessionConfig struct {
	Name            string `yaml:"name" toml:"name"`
	Autostart       bool   `yaml:"autostart" toml:"autostart"` // arm monitoring on start
	ShutdownGraceMs int    `yaml:"shutdown_grace_ms" toml:"shutdown_grace_ms"`
	StaleAfterMs    int    `yaml:"stale_after_ms" toml:"stale_after_ms"`
}

// ---- ADAPTER ----

const (
	AdapterSocketCAN = "socketcan"
	AdapterSLCAN     = "slcan"
	AdapterVirtual   = "virtual"
)

type AdapterConfig struct {
	Kind       string `yaml:"kind" toml:"kind"`
	HardwareID int    `yaml:"hardware_id" toml:"hardware_id"`

	// Channel overrides the interface name (socketcan) or names the
	// serial device (slcan). Empty means can<hardware_id>.
	Channel  string `yaml:"channel" toml:"channel"`
	BaudRate int    `yaml:"baud_rate" toml:"baud_rate"`

	// ConfigureInterface applies baud_rate to the SocketCAN interface
	// before dialing. Needs CAP_NET_ADMIN.
	ConfigureInterface bool `yaml:"configure_interface" toml:"configure_interface"`

	SerialBaud int `yaml:"serial_baud" toml:"serial_baud"` // slcan only

	ModuleCount      int `yaml:"module_count" toml:"module_count"`
	CellCount        int `yaml:"cell_count" toml:"cell_count"`
	TemperatureCount int `yaml:"temperature_count" toml:"temperature_count"`

	PollIntervalMs int `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
}

// ---- PERIODIC REQUEST ----

type PeriodicConfig struct {
	Request  string `yaml:"request" toml:"request"` // none | standby | normal
	PeriodMs int    `yaml:"period_ms" toml:"period_ms"`
}

// ---- EXPORT ----

const (
	TransportModbus = "modbus"
	TransportIngest = "ingest"
)

type ExportConfig struct {
	// Device status block (optional, opt-in)
	StatusSlot *uint16 `yaml:"status_slot" toml:"status_slot"`
	DeviceName string  `yaml:"device_name" toml:"device_name"`

	Targets []TargetConfig `yaml:"targets" toml:"targets"`
}

type TargetConfig struct {
	ID           uint32 `yaml:"id" toml:"id"`
	Endpoint     string `yaml:"endpoint" toml:"endpoint"`
	Transport    string `yaml:"transport" toml:"transport"`
	UnitID       uint8  `yaml:"unit_id" toml:"unit_id"`               // telemetry memory
	StatusUnitID *uint8 `yaml:"status_unit_id" toml:"status_unit_id"` // status memory (optional)
	BaseAddress  uint16 `yaml:"base_address" toml:"base_address"`
	TimeoutMs    int    `yaml:"timeout_ms" toml:"timeout_ms"`
}

// ---- MQTT ----

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	QoS         byte   `yaml:"qos" toml:"qos"`
	Format      string `yaml:"format" toml:"format"`
}

// ---- API ----

type APIConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}
