//go:build !linux

package adapter

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/config"
)

func openSocketCAN(cfg config.AdapterConfig, _ zerolog.Logger) (Channel, error) {
	return nil, ioError("open", CodeOpen, errors.New("socketcan is only available on linux"))
}
