// internal/writer/regmap.go
package writer

import (
	"math"

	"github.com/tamzrod/bms-telemetry/internal/matrix"
)

// Telemetry register map, relative to a target's base address.
// These values define the export protocol and MUST NOT be configurable.
const (
	RegSoc                = 0  // mean, min, max (% x100)
	RegVoltage            = 3  // mean, min, max (mV)
	RegVoltageModules     = 6  // min module, max module
	RegTemperature        = 8  // mean, min, max (int16, °C x100)
	RegTemperatureModules = 11 // min module, max module
	RegCurrent            = 13 // mA, int32 hi/lo
	RegSenseVoltage       = 15 // 3 x mV, int32 hi/lo
	RegErrorFlags0        = 21
	RegErrorFlags1        = 29
	RegErrorFlags2        = 37

	RegCellBase   = 100 // + CellStride*module + cell (mV)
	CellStride    = 20
	RegSensorBase = 2200 // + SensorStride*module + sensor (int16, °C x100)
	SensorStride  = 16

	// Markers written for slots the BMS does not populate.
	AbsentUnsigned uint16 = 0xFFFF
	AbsentSigned   uint16 = 0x8000
)

// Block is a run of registers at an offset from the target base.
type Block struct {
	Offset uint16
	Regs   []uint16
}

// Encode maps one event onto the register map.
// Pure: no IO, no state.
func Encode(ev matrix.Event) []Block {
	switch e := ev.(type) {
	case matrix.SocMinMax:
		return []Block{{RegSoc, []uint16{u16(e.Mean * 100), u16(e.Min * 100), u16(e.Max * 100)}}}

	case matrix.VoltageMinMax:
		return []Block{{RegVoltage, []uint16{
			u16(e.Mean), u16(e.Min), u16(e.Max),
			u16(float64(e.MinModule)), u16(float64(e.MaxModule)),
		}}}

	case matrix.TemperatureMinMax:
		return []Block{{RegTemperature, []uint16{
			s16(e.Mean * 100), s16(e.Min * 100), s16(e.Max * 100),
			u16(float64(e.MinModule)), u16(float64(e.MaxModule)),
		}}}

	case matrix.Current:
		hi, lo := i32(e.Amps * 1000)
		return []Block{{RegCurrent, []uint16{hi, lo}}}

	case matrix.CurrentSenseVoltage:
		if e.Channel < 1 || e.Channel > 3 {
			return nil
		}
		hi, lo := i32(e.Volts * 1000)
		return []Block{{uint16(RegSenseVoltage + 2*(e.Channel-1)), []uint16{hi, lo}}}

	case matrix.ErrorFlags0:
		return []Block{{RegErrorFlags0, []uint16{
			uint16(e.GeneralError), uint16(e.State),
			uint16(e.OverTempCharge), uint16(e.UnderTempCharge),
			uint16(e.OverTempDischarge), uint16(e.UnderTempDischarge),
			uint16(e.OverCurrentCharge), uint16(e.OverCurrentDischarge),
		}}}

	case matrix.ErrorFlags1:
		return []Block{{RegErrorFlags1, []uint16{
			uint16(e.OverVoltage), uint16(e.UnderVoltage),
			uint16(e.OverTempIC), uint16(e.ContactorError),
			uint16(e.SelfTestError), uint16(e.CANTimingError),
			uint16(e.CurrentSensorError), uint16(e.BalancingActive),
		}}}

	case matrix.ErrorFlags2:
		return []Block{{RegErrorFlags2, []uint16{
			b16(e.MainPlus), b16(e.MainPrecharge), b16(e.MainMinus),
			b16(e.ChargePlus), b16(e.ChargePrecharge), b16(e.ChargeMinus),
			b16(e.Interlock),
			uint16(e.InsulationError), uint16(e.FuseState),
			uint16(e.LowCoinCellVoltage), uint16(e.OpenWireError),
			uint16(e.DaisyChainError),
		}}}

	case matrix.Voltage:
		regs := make([]uint16, len(e.Cells))
		for i, c := range e.Cells {
			regs[i] = AbsentUnsigned
			if c.Present {
				regs[i] = u16(c.Value)
			}
		}
		off := RegCellBase + CellStride*e.Module + matrix.SlotsPerBank*e.Bank
		return []Block{{uint16(off), regs}}

	case matrix.Temperature:
		regs := make([]uint16, len(e.Sensors))
		for i, s := range e.Sensors {
			regs[i] = AbsentSigned
			if s.Present {
				regs[i] = s16(s.Value * 100)
			}
		}
		off := RegSensorBase + SensorStride*e.Module + matrix.SlotsPerBank*e.Bank
		return []Block{{uint16(off), regs}}
	}
	return nil
}

// u16 rounds and saturates to 0..0xFFFE; 0xFFFF stays the absent marker.
func u16(v float64) uint16 {
	r := math.Round(v)
	switch {
	case math.IsNaN(r) || r <= 0:
		return 0
	case r >= 0xFFFE:
		return 0xFFFE
	}
	return uint16(r)
}

// s16 rounds and saturates to -32767..32767; 0x8000 stays the absent marker.
func s16(v float64) uint16 {
	r := math.Round(v)
	switch {
	case math.IsNaN(r):
		return 0
	case r < -32767:
		r = -32767
	case r > 32767:
		r = 32767
	}
	return uint16(int16(r))
}

// i32 rounds, saturates and splits into high and low words.
func i32(v float64) (hi, lo uint16) {
	r := math.Round(v)
	switch {
	case math.IsNaN(r):
		r = 0
	case r < math.MinInt32:
		r = math.MinInt32
	case r > math.MaxInt32:
		r = math.MaxInt32
	}
	u := uint32(int32(r))
	return uint16(u >> 16), uint16(u)
}

func b16(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
