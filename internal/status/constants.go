// internal/status/constants.go
package status

// Link Status Block layout constants.
// These values define the protocol and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of logical slots per monitored link.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the link health state.
const SlotHealthCode = 0

// SlotLastErrorCode holds the last adapter error code.
const SlotLastErrorCode = 1

// SlotSecondsInError holds the duration (in seconds) the link has not been OK.
const SlotSecondsInError = 2

// SlotBMSState holds the last BMS state machine code seen in error flags 0.
const SlotBMSState = 3

// SlotFramesHi and SlotFramesLo hold the received frame counter (32-bit, wrapping), high word first.
const (
	SlotFramesHi = 4
	SlotFramesLo = 5
)

// ---- RESERVED RANGE ----

// Slots 6..10 are reserved for future use.
const SlotReservedStart = 6
const SlotReservedEnd = 10

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot used for the device name.
// Device name is always placed at the END of the status block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last slot used for the device name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for device name.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

// HealthUnknown represents an unknown or boot state.
const HealthUnknown uint16 = 0

// HealthOK represents a link with recent traffic and no fault since.
const HealthOK uint16 = 1

// HealthError represents a link whose last I/O operation failed.
const HealthError uint16 = 2

// HealthStale represents a link that went quiet.
const HealthStale uint16 = 3

// HealthName renders a health code for logs and the API.
func HealthName(h uint16) string {
	switch h {
	case HealthUnknown:
		return "unknown"
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	case HealthStale:
		return "stale"
	default:
		return "invalid"
	}
}
