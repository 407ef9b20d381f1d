// Package publish forwards decoded telemetry to an MQTT broker.
package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tamzrod/bms-telemetry/internal/config"
	"github.com/tamzrod/bms-telemetry/internal/matrix"
)

// Envelope is the message body published for every decoded event.
type Envelope struct {
	Session   string       `json:"session" msgpack:"session"`
	SessionID string       `json:"session_id" msgpack:"session_id"`
	Kind      string       `json:"kind" msgpack:"kind"`
	At        time.Time    `json:"at" msgpack:"at"`
	Event     matrix.Event `json:"event" msgpack:"event"`
}

// Marshal encodes env in the configured payload format.
func Marshal(format string, env Envelope) ([]byte, error) {
	switch format {
	case config.FormatJSON, "":
		return json.Marshal(env)
	case config.FormatMsgpack:
		return msgpack.Marshal(env)
	default:
		return nil, fmt.Errorf("publish: unknown format %q", format)
	}
}

// Topic builds <prefix>/<session>/<kind>.
func Topic(prefix, session string, kind matrix.Kind) string {
	return prefix + "/" + session + "/" + kind.String()
}
