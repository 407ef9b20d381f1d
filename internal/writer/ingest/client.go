// internal/writer/ingest/client.go
package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Raw Ingest v1 wire constants.
const (
	magic     = "RI"
	versionV1 = 0x01
	headerLen = 10

	// area codes follow Modbus table numbering; export writes holding registers
	areaHolding = 0x03

	statusOK       = 0x00
	statusRejected = 0x01

	// one packet carries at most this many registers
	maxRegisters = 0x7FFF
)

var ErrRejected = errors.New("writer ingest: rejected")

// EndpointClient speaks Raw Ingest v1 to a register store. The connection
// is kept open across writes and redialled after any failure.
type EndpointClient struct {
	endpoint string
	timeout  time.Duration
	dial     func(network, addr string, timeout time.Duration) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

func NewEndpointClient(cfg Config) (*EndpointClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("writer ingest: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	return &EndpointClient{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		dial:     net.DialTimeout,
	}, nil
}

func (c *EndpointClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

// WriteRegisters implements writer.endpointClient.
func (c *EndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	if len(regs) == 0 {
		return nil
	}
	if len(regs) > maxRegisters {
		return fmt.Errorf("writer ingest: %d registers exceed one packet", len(regs))
	}

	pkt := appendPacket(nil, areaHolding, unitID, addr, regs)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.exchangeLocked(pkt); err != nil {
		_ = c.dropLocked()
		return err
	}
	return nil
}

func (c *EndpointClient) exchangeLocked(pkt []byte) error {
	if c.conn == nil {
		conn, err := c.dial("tcp", c.endpoint, c.timeout)
		if err != nil {
			return fmt.Errorf("writer ingest: dial: %w", err)
		}
		c.conn = conn
	}

	deadline := time.Now().Add(c.timeout)
	_ = c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write(pkt); err != nil {
		return fmt.Errorf("writer ingest: write: %w", err)
	}

	var resp [1]byte
	if _, err := io.ReadFull(c.conn, resp[:]); err != nil {
		return fmt.Errorf("writer ingest: read status: %w", err)
	}

	switch resp[0] {
	case statusOK:
		return nil
	case statusRejected:
		return ErrRejected
	default:
		return fmt.Errorf("writer ingest: unknown status 0x%02x", resp[0])
	}
}

func (c *EndpointClient) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// appendPacket encodes one register write:
//
//	0-1  magic "RI"
//	2    version
//	3    area
//	4-5  unit id
//	6-7  start address
//	8-9  register count
//	10+  registers, big-endian
func appendPacket(dst []byte, area byte, unitID uint8, addr uint16, regs []uint16) []byte {
	dst = append(dst, magic...)
	dst = append(dst, versionV1, area)
	dst = binary.BigEndian.AppendUint16(dst, uint16(unitID))
	dst = binary.BigEndian.AppendUint16(dst, addr)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(regs)))
	for _, r := range regs {
		dst = binary.BigEndian.AppendUint16(dst, r)
	}
	return dst
}
