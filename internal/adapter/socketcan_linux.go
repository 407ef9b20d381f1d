//go:build linux

package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"
	ecan "go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/config"
)

func openSocketCAN(cfg config.AdapterConfig, log zerolog.Logger) (Channel, error) {
	log = log.With().Str("channel", cfg.Channel).Logger()

	if cfg.ConfigureInterface {
		if err := configureLink(cfg.Channel, cfg.BaudRate); err != nil {
			return nil, ioError("configure", CodeOpen, err)
		}
		log.Info().Int("baud_rate", cfg.BaudRate).Msg("interface configured")
	}

	conn, err := socketcan.DialContext(context.Background(), "can", cfg.Channel)
	if err != nil {
		return nil, ioError("open", CodeOpen, err)
	}
	log.Info().Msg("socketcan opened")
	return newBusChannel(cfg.Channel, newSocketBus(conn), log), nil
}

// configureLink cycles the interface through down, bitrate and up.
// Needs CAP_NET_ADMIN.
func configureLink(name string, bitrate int) error {
	steps := [][]string{
		{"link", "set", name, "down"},
		{"link", "set", name, "type", "can", "bitrate", strconv.Itoa(bitrate)},
		{"link", "set", name, "up"},
	}
	for _, args := range steps {
		if out, err := exec.Command("ip", args...).CombinedOutput(); err != nil {
			return fmt.Errorf("ip %v: %w: %s", args, err, out)
		}
	}
	return nil
}

type socketBus struct {
	conn net.Conn
	rx   *socketcan.Receiver
	tx   *socketcan.Transmitter
}

func newSocketBus(conn net.Conn) *socketBus {
	return &socketBus{
		conn: conn,
		rx:   socketcan.NewReceiver(conn),
		tx:   socketcan.NewTransmitter(conn),
	}
}

func (b *socketBus) Send(f can.Frame) error {
	err := b.tx.TransmitFrame(context.Background(), ecan.Frame{
		ID:         f.ID,
		Length:     f.Len,
		Data:       ecan.Data(f.Data),
		IsExtended: f.Extended,
	})
	if errors.Is(err, net.ErrClosed) {
		return errBusClosed
	}
	return err
}

func (b *socketBus) Receive() (can.Frame, error) {
	for b.rx.Receive() {
		if b.rx.HasErrorFrame() {
			continue
		}
		f := b.rx.Frame()
		if f.IsRemote {
			continue
		}
		return can.Frame{ID: f.ID, Extended: f.IsExtended, Len: f.Length, Data: f.Data}, nil
	}
	err := b.rx.Err()
	if err == nil || errors.Is(err, net.ErrClosed) {
		return can.Frame{}, errBusClosed
	}
	return can.Frame{}, err
}

func (b *socketBus) Close() error { return b.conn.Close() }
