package matrix

import (
	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/codec"
)

// Identifier layout of the telemetry matrix.
// These values define the protocol and MUST NOT be configurable.
const (
	IDErrorFlags0       = 0x110
	IDErrorFlags1       = 0x111
	IDErrorFlags2       = 0x112
	IDSocMinMax         = 0x140
	IDVoltageMinMax     = 0x170
	IDTemperatureMinMax = 0x180

	// Per-module banks: base + ModuleStride*module + bank.
	IDVoltageBase     = 0x200
	IDTemperatureBase = 0x210
	ModuleStride      = 0x20
	VoltageBanks      = 6
	TemperatureBanks  = 4
	SlotsPerBank      = 3
)

// Current sensor identifiers; two identifier sets are in use.
var (
	idCurrent       = [2]uint32{0x35C, 0x521}
	idSenseVoltages = [3][2]uint32{
		{0x35D, 0x522},
		{0x35E, 0x523},
		{0x35F, 0x524},
	}
)

// ---- field layouts ----

var (
	bankSlots = [SlotsPerBank]int{8, 24, 40}

	cellVoltage = codec.FieldSpec{BitLength: 16, Scale: 1}
	cellTemp    = codec.FieldSpec{BitLength: 16, Scale: 100, Offset: 128, Signed: true}

	socField     = codec.FieldSpec{BitLength: 16, Scale: 100}
	voltageField = codec.FieldSpec{BitLength: 16, Scale: 1}
	tempField    = codec.FieldSpec{BitLength: 16, Scale: 100, Offset: 128, Signed: true}
	moduleField  = codec.FieldSpec{BitLength: 8, Scale: 1}
	flagField    = codec.FieldSpec{BitLength: 8, Scale: 1}
	bitField     = codec.FieldSpec{BitLength: 1, Scale: 1}

	sensorField = codec.FieldSpec{BitLength: 32, Scale: 1000, Order: codec.BigEndian, Signed: true}
)

func at(spec codec.FieldSpec, bitStart int) codec.FieldSpec {
	spec.BitStart = bitStart
	return spec
}

// fields decodes several specs from one frame, keeping the first error.
type fields struct {
	f   can.Frame
	err error
}

func (r *fields) value(spec codec.FieldSpec) float64 {
	if r.err != nil {
		return 0
	}
	v, err := spec.Decode(r.f.Data, int(r.f.Len))
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

func (r *fields) u8(bitStart int) uint8 {
	return uint8(r.value(at(flagField, bitStart)))
}

func (r *fields) bit(bitStart int) bool {
	return r.value(at(bitField, bitStart)) != 0
}

// ---- rule table ----

type slot struct {
	module  int
	bank    int
	channel int
}

type rule struct {
	name   string
	match  func(id uint32, l Layout) (slot, bool)
	decode func(r *fields, s slot, l Layout) Event
}

// rules is evaluated in order; the first match wins.
var rules = [...]rule{
	{"voltage", matchVoltage, decodeVoltage},
	{"soc_minmax", exact(IDSocMinMax), decodeSoc},
	{"voltage_minmax", exact(IDVoltageMinMax), decodeVoltageMinMax},
	{"temperature", matchTemperature, decodeTemperature},
	{"temperature_minmax", exact(IDTemperatureMinMax), decodeTemperatureMinMax},
	{"error_flags0", exact(IDErrorFlags0), decodeErrorFlags0},
	{"error_flags1", exact(IDErrorFlags1), decodeErrorFlags1},
	{"error_flags2", exact(IDErrorFlags2), decodeErrorFlags2},
	{"current", anyOf(idCurrent, 0), decodeCurrent},
	{"current_sense_voltage1", anyOf(idSenseVoltages[0], 1), decodeSenseVoltage},
	{"current_sense_voltage2", anyOf(idSenseVoltages[1], 2), decodeSenseVoltage},
	{"current_sense_voltage3", anyOf(idSenseVoltages[2], 3), decodeSenseVoltage},
}

func exact(want uint32) func(uint32, Layout) (slot, bool) {
	return func(id uint32, _ Layout) (slot, bool) {
		return slot{}, id == want
	}
}

func anyOf(ids [2]uint32, channel int) func(uint32, Layout) (slot, bool) {
	return func(id uint32, _ Layout) (slot, bool) {
		return slot{channel: channel}, id == ids[0] || id == ids[1]
	}
}

// moduleBank splits a per-module identifier with integer arithmetic.
// Modules outside the configured count do not match.
func moduleBank(id, base uint32, banks int, l Layout) (slot, bool) {
	if id < base {
		return slot{}, false
	}
	off := id - base
	bank := int(off % ModuleStride)
	module := int(off / ModuleStride)
	if bank >= banks {
		return slot{}, false
	}
	if module >= l.Modules {
		return slot{}, false
	}
	return slot{module: module, bank: bank}, true
}

func matchVoltage(id uint32, l Layout) (slot, bool) {
	return moduleBank(id, IDVoltageBase, VoltageBanks, l)
}

func matchTemperature(id uint32, l Layout) (slot, bool) {
	return moduleBank(id, IDTemperatureBase, TemperatureBanks, l)
}

// ---- decoders ----

func decodeVoltage(r *fields, s slot, l Layout) Event {
	ev := Voltage{Module: s.module, Bank: s.bank}
	for i, bitStart := range bankSlots {
		if SlotsPerBank*s.bank+i >= l.Cells {
			ev.Cells[i] = Absent
			continue
		}
		ev.Cells[i] = Present(r.value(at(cellVoltage, bitStart)))
	}
	return ev
}

func decodeTemperature(r *fields, s slot, l Layout) Event {
	ev := Temperature{Module: s.module, Bank: s.bank}
	for i, bitStart := range bankSlots {
		if SlotsPerBank*s.bank+i >= l.Temperatures {
			ev.Sensors[i] = Absent
			continue
		}
		ev.Sensors[i] = Present(r.value(at(cellTemp, bitStart)))
	}
	return ev
}

func decodeSoc(r *fields, _ slot, _ Layout) Event {
	return SocMinMax{
		Mean: r.value(at(socField, 0)),
		Min:  r.value(at(socField, 16)),
		Max:  r.value(at(socField, 32)),
	}
}

func decodeVoltageMinMax(r *fields, _ slot, _ Layout) Event {
	return VoltageMinMax{
		Mean:      r.value(at(voltageField, 0)),
		Min:       r.value(at(voltageField, 16)),
		Max:       r.value(at(voltageField, 32)),
		MinModule: int(r.value(at(moduleField, 48))),
		MaxModule: int(r.value(at(moduleField, 56))),
	}
}

func decodeTemperatureMinMax(r *fields, _ slot, _ Layout) Event {
	return TemperatureMinMax{
		Mean:      r.value(at(tempField, 0)),
		Min:       r.value(at(tempField, 16)),
		Max:       r.value(at(tempField, 32)),
		MinModule: int(r.value(at(moduleField, 48))),
		MaxModule: int(r.value(at(moduleField, 56))),
	}
}

func decodeErrorFlags0(r *fields, _ slot, _ Layout) Event {
	return ErrorFlags0{
		GeneralError:         r.u8(0),
		State:                BMSState(r.u8(8)),
		OverTempCharge:       r.u8(16),
		UnderTempCharge:      r.u8(24),
		OverTempDischarge:    r.u8(32),
		UnderTempDischarge:   r.u8(40),
		OverCurrentCharge:    r.u8(48),
		OverCurrentDischarge: r.u8(56),
	}
}

func decodeErrorFlags1(r *fields, _ slot, _ Layout) Event {
	return ErrorFlags1{
		OverVoltage:        r.u8(0),
		UnderVoltage:       r.u8(8),
		OverTempIC:         r.u8(16),
		ContactorError:     r.u8(24),
		SelfTestError:      r.u8(32),
		CANTimingError:     r.u8(40),
		CurrentSensorError: r.u8(48),
		BalancingActive:    r.u8(56),
	}
}

func decodeErrorFlags2(r *fields, _ slot, _ Layout) Event {
	return ErrorFlags2{
		MainPlus:        r.bit(0),
		MainPrecharge:   r.bit(1),
		MainMinus:       r.bit(2),
		ChargePlus:      r.bit(3),
		ChargePrecharge: r.bit(4),
		ChargeMinus:     r.bit(5),
		Interlock:       r.bit(9),

		InsulationError:    r.u8(16),
		FuseState:          r.u8(24),
		LowCoinCellVoltage: r.u8(32),
		OpenWireError:      r.u8(40),
		DaisyChainError:    r.u8(48),
	}
}

func decodeCurrent(r *fields, _ slot, _ Layout) Event {
	return Current{Amps: r.value(at(sensorField, 0))}
}

func decodeSenseVoltage(r *fields, s slot, _ Layout) Event {
	return CurrentSenseVoltage{Channel: s.channel, Volts: r.value(at(sensorField, 0))}
}
