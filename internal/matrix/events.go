package matrix

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags each Event case.
type Kind uint8

const (
	KindVoltage Kind = iota + 1
	KindVoltageMinMax
	KindTemperature
	KindTemperatureMinMax
	KindSocMinMax
	KindErrorFlags0
	KindErrorFlags1
	KindErrorFlags2
	KindCurrent
	KindCurrentSenseVoltage
)

var kindNames = map[Kind]string{
	KindVoltage:             "voltage",
	KindVoltageMinMax:       "voltage_minmax",
	KindTemperature:         "temperature",
	KindTemperatureMinMax:   "temperature_minmax",
	KindSocMinMax:           "soc_minmax",
	KindErrorFlags0:         "error_flags0",
	KindErrorFlags1:         "error_flags1",
	KindErrorFlags2:         "error_flags2",
	KindCurrent:             "current",
	KindCurrentSenseVoltage: "current_sense_voltage",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Event is the closed set of decoded telemetry records.
// Only types in this package implement it.
type Event interface {
	Kind() Kind
	event()
}

// Reading is one decoded physical value, or absent when the configured
// module layout leaves the slot unpopulated.
type Reading struct {
	Value   float64
	Present bool
}

// Absent is the unpopulated reading.
var Absent = Reading{}

// Present wraps a decoded value.
func Present(v float64) Reading { return Reading{Value: v, Present: true} }

func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Present {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r Reading) EncodeMsgpack(enc *msgpack.Encoder) error {
	if !r.Present {
		return enc.EncodeNil()
	}
	return enc.EncodeFloat64(r.Value)
}

// ---- cell and sensor banks ----

// Voltage is one bank of up to three cell voltages of a module (mV).
type Voltage struct {
	Module int        `json:"module" msgpack:"module"`
	Bank   int        `json:"bank" msgpack:"bank"`
	Cells  [3]Reading `json:"cells" msgpack:"cells"`
}

// Temperature is one bank of up to three temperature sensors of a module (°C).
type Temperature struct {
	Module  int        `json:"module" msgpack:"module"`
	Bank    int        `json:"bank" msgpack:"bank"`
	Sensors [3]Reading `json:"sensors" msgpack:"sensors"`
}

// ---- pack summaries ----

type VoltageMinMax struct {
	Mean      float64 `json:"mean" msgpack:"mean"`
	Min       float64 `json:"min" msgpack:"min"`
	Max       float64 `json:"max" msgpack:"max"`
	MinModule int     `json:"min_module" msgpack:"min_module"`
	MaxModule int     `json:"max_module" msgpack:"max_module"`
}

type TemperatureMinMax struct {
	Mean      float64 `json:"mean" msgpack:"mean"`
	Min       float64 `json:"min" msgpack:"min"`
	Max       float64 `json:"max" msgpack:"max"`
	MinModule int     `json:"min_module" msgpack:"min_module"`
	MaxModule int     `json:"max_module" msgpack:"max_module"`
}

// SocMinMax is the state of charge summary in percent.
type SocMinMax struct {
	Mean float64 `json:"mean" msgpack:"mean"`
	Min  float64 `json:"min" msgpack:"min"`
	Max  float64 `json:"max" msgpack:"max"`
}

// ---- error flags ----

type ErrorFlags0 struct {
	GeneralError         uint8    `json:"general_error" msgpack:"general_error"`
	State                BMSState `json:"state" msgpack:"state"`
	OverTempCharge       uint8    `json:"over_temperature_charge" msgpack:"over_temperature_charge"`
	UnderTempCharge      uint8    `json:"under_temperature_charge" msgpack:"under_temperature_charge"`
	OverTempDischarge    uint8    `json:"over_temperature_discharge" msgpack:"over_temperature_discharge"`
	UnderTempDischarge   uint8    `json:"under_temperature_discharge" msgpack:"under_temperature_discharge"`
	OverCurrentCharge    uint8    `json:"over_current_charge" msgpack:"over_current_charge"`
	OverCurrentDischarge uint8    `json:"over_current_discharge" msgpack:"over_current_discharge"`
}

type ErrorFlags1 struct {
	OverVoltage        uint8 `json:"over_voltage" msgpack:"over_voltage"`
	UnderVoltage       uint8 `json:"under_voltage" msgpack:"under_voltage"`
	OverTempIC         uint8 `json:"over_temperature_ic" msgpack:"over_temperature_ic"`
	ContactorError     uint8 `json:"contactor_error" msgpack:"contactor_error"`
	SelfTestError      uint8 `json:"selftest_error" msgpack:"selftest_error"`
	CANTimingError     uint8 `json:"cantiming_error" msgpack:"cantiming_error"`
	CurrentSensorError uint8 `json:"current_sensor_error" msgpack:"current_sensor_error"`
	BalancingActive    uint8 `json:"balancing_active" msgpack:"balancing_active"`
}

// ErrorFlags2 carries contactor feedback, interlock and the remaining flags.
type ErrorFlags2 struct {
	MainPlus        bool `json:"main_plus" msgpack:"main_plus"`
	MainPrecharge   bool `json:"main_precharge" msgpack:"main_precharge"`
	MainMinus       bool `json:"main_minus" msgpack:"main_minus"`
	ChargePlus      bool `json:"charge_plus" msgpack:"charge_plus"`
	ChargePrecharge bool `json:"charge_precharge" msgpack:"charge_precharge"`
	ChargeMinus     bool `json:"charge_minus" msgpack:"charge_minus"`
	Interlock       bool `json:"interlock" msgpack:"interlock"`

	InsulationError    uint8 `json:"insulation_error" msgpack:"insulation_error"`
	FuseState          uint8 `json:"fuse_state" msgpack:"fuse_state"`
	LowCoinCellVoltage uint8 `json:"low_coin_cell_voltage" msgpack:"low_coin_cell_voltage"`
	OpenWireError      uint8 `json:"open_wire_error" msgpack:"open_wire_error"`
	DaisyChainError    uint8 `json:"daisy_chain_error" msgpack:"daisy_chain_error"`
}

// ---- current sensor ----

type Current struct {
	Amps float64 `json:"amps" msgpack:"amps"`
}

// CurrentSenseVoltage is one of the current sensor's voltage inputs (1..3).
type CurrentSenseVoltage struct {
	Channel int     `json:"channel" msgpack:"channel"`
	Volts   float64 `json:"volts" msgpack:"volts"`
}

func (Voltage) Kind() Kind             { return KindVoltage }
func (VoltageMinMax) Kind() Kind       { return KindVoltageMinMax }
func (Temperature) Kind() Kind         { return KindTemperature }
func (TemperatureMinMax) Kind() Kind   { return KindTemperatureMinMax }
func (SocMinMax) Kind() Kind           { return KindSocMinMax }
func (ErrorFlags0) Kind() Kind         { return KindErrorFlags0 }
func (ErrorFlags1) Kind() Kind         { return KindErrorFlags1 }
func (ErrorFlags2) Kind() Kind         { return KindErrorFlags2 }
func (Current) Kind() Kind             { return KindCurrent }
func (CurrentSenseVoltage) Kind() Kind { return KindCurrentSenseVoltage }

func (Voltage) event()             {}
func (VoltageMinMax) event()       {}
func (Temperature) event()         {}
func (TemperatureMinMax) event()   {}
func (SocMinMax) event()           {}
func (ErrorFlags0) event()         {}
func (ErrorFlags1) event()         {}
func (ErrorFlags2) event()         {}
func (Current) event()             {}
func (CurrentSenseVoltage) event() {}
