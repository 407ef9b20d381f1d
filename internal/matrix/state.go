package matrix

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// BMSState is the battery system state machine code reported in error flags block 0.
type BMSState uint8

const (
	StateUninitialized   BMSState = 0x00
	StateIdle            BMSState = 0x03
	StateStandby         BMSState = 0x04
	StatePrechargeNormal BMSState = 0x05
	StateNormal          BMSState = 0x06
	StatePrechargeCharge BMSState = 0x07
	StateCharge          BMSState = 0x08
	StateError           BMSState = 0xF0
)

func (s BMSState) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateIdle:
		return "Idle"
	case StateStandby:
		return "Standby"
	case StatePrechargeNormal:
		return "Precharge (normal)"
	case StateNormal:
		return "Normal"
	case StatePrechargeCharge:
		return "Precharge (charge)"
	case StateCharge:
		return "Charge"
	case StateError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(s))
	}
}

// MarshalJSON emits {"code": n, "name": "..."}.
func (s BMSState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Code uint8  `json:"code"`
		Name string `json:"name"`
	}{uint8(s), s.String()})
}

func (s BMSState) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeUint8(uint8(s))
}
