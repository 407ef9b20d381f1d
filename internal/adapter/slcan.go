package adapter

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/can"
	"github.com/tamzrod/bms-telemetry/internal/config"
)

// Lawicel bit rate setup codes (S0..S8).
var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

const (
	slcanCR   = '\r'
	slcanBell = 0x07

	serialReadTimeout = 50 * time.Millisecond
)

var errAdapterNack = errors.New("slcan adapter rejected command")

// slcan speaks the Lawicel ASCII protocol over a serial port.
type slcan struct {
	port io.ReadWriteCloser
	rx   *rxBuffer
	log  zerolog.Logger

	wmu    sync.Mutex
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

func openSLCAN(cfg config.AdapterConfig, log zerolog.Logger) (Channel, error) {
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Channel,
		BaudRate: cfg.SerialBaud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  serialReadTimeout,
	})
	if err != nil {
		return nil, ioError("open", CodeOpen, err)
	}

	c, err := newSLCAN(port, cfg.BaudRate, log.With().Str("channel", cfg.Channel).Logger())
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return c, nil
}

// newSLCAN resets the adapter, sets the bit rate and opens the bus.
func newSLCAN(port io.ReadWriteCloser, bitrate int, log zerolog.Logger) (*slcan, error) {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("adapter: slcan does not support %d bit/s", bitrate)
	}

	c := &slcan{
		port: port,
		rx:   newRxBuffer(log),
		log:  log,
		done: make(chan struct{}),
	}

	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if err := c.write([]byte(cmd)); err != nil {
			return nil, ioError("open", CodeOpen, err)
		}
	}

	go c.pump()
	log.Info().Int("baud_rate", bitrate).Msg("slcan opened")
	return c, nil
}

func (c *slcan) write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.port.Write(b)
	return err
}

func (c *slcan) pump() {
	defer close(c.done)

	buf := make([]byte, 256)
	line := make([]byte, 0, 64)

	for {
		n, err := c.port.Read(buf)
		for _, b := range buf[:n] {
			switch b {
			case slcanCR:
				c.handleLine(line)
				line = line[:0]
			case slcanBell:
				c.rx.fail(ioError("receive", CodeBus, errAdapterNack))
				line = line[:0]
			default:
				if len(line) < cap(line) {
					line = append(line, b)
				}
			}
		}

		if err != nil {
			if c.closed.Load() {
				return
			}
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			if errors.Is(err, io.EOF) {
				c.rx.fail(ioError("receive", CodeRead, err))
				return
			}
			c.rx.fail(ioError("receive", CodeRead, err))
			time.Sleep(receiveBackoff)
		}
	}
}

func (c *slcan) handleLine(line []byte) {
	f, ok, err := decodeSLCAN(line)
	if err != nil {
		c.log.Debug().Err(err).Bytes("line", line).Msg("slcan line ignored")
		return
	}
	if ok {
		c.rx.put(f)
	}
}

func (c *slcan) WriteFrame(f can.Frame) error {
	if c.closed.Load() {
		return ErrClosed
	}
	b, err := encodeSLCAN(f)
	if err != nil {
		return ioError("send", CodeWrite, err)
	}
	if err := c.write(b); err != nil {
		return ioError("send", CodeWrite, err)
	}
	return nil
}

func (c *slcan) ReadFrame() (can.Frame, error) {
	if c.closed.Load() {
		return can.Frame{}, ErrClosed
	}
	return c.rx.next()
}

// Close closes the CAN channel on the adapter, then the serial port.
func (c *slcan) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		_ = c.write([]byte("C\r"))
		err = c.port.Close()
	})
	return err
}

// encodeSLCAN renders a data frame as "tIIIL<data>\r" or "TIIIIIIIIL<data>\r".
func encodeSLCAN(f can.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var s string
	if f.Extended {
		s = fmt.Sprintf("T%08X%d", f.ID, f.Len)
	} else {
		s = fmt.Sprintf("t%03X%d", f.ID, f.Len)
	}
	b := append([]byte(s), []byte(fmt.Sprintf("%X", f.Payload()))...)
	return append(b, slcanCR), nil
}

// decodeSLCAN parses one received line without its terminator.
// ok is false for lines that are not data frames (acks, remote frames).
// A trailing 4-digit timestamp is accepted and ignored.
func decodeSLCAN(line []byte) (f can.Frame, ok bool, err error) {
	if len(line) == 0 {
		return can.Frame{}, false, nil
	}

	var idLen int
	switch line[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
		f.Extended = true
	default:
		return can.Frame{}, false, nil
	}

	if len(line) < 1+idLen+1 {
		return can.Frame{}, false, fmt.Errorf("short frame %q", line)
	}

	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return can.Frame{}, false, fmt.Errorf("bad identifier %q: %w", line, err)
	}
	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return can.Frame{}, false, fmt.Errorf("bad length %q", line)
	}
	f.ID = uint32(id)
	f.Len = dlc - '0'

	data := line[2+idLen:]
	want := 2 * int(f.Len)
	if len(data) != want && len(data) != want+4 {
		return can.Frame{}, false, fmt.Errorf("payload length mismatch %q", line)
	}
	if _, err := hex.Decode(f.Data[:f.Len], data[:want]); err != nil {
		return can.Frame{}, false, fmt.Errorf("bad payload %q: %w", line, err)
	}
	if f.Len == 0 {
		return can.Frame{}, false, nil
	}
	if err := f.Validate(); err != nil {
		return can.Frame{}, false, err
	}
	return f, true, nil
}
