package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

// DefaultSPISpeed is well inside the MCP3008 limit at 3.3V.
const DefaultSPISpeed = 1 * physic.MegaHertz

// MCP3008 is an 8-channel 10-bit SPI ADC.
type MCP3008 struct {
	mu   sync.Mutex
	conn spi.Conn
	port spi.PortCloser
}

// OpenMCP3008 opens the named SPI port ("" for the first one available).
func OpenMCP3008(portName string, speed physic.Frequency) (*MCP3008, error) {
	p, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", portName, err)
	}
	adc, err := NewMCP3008(p, speed)
	if err != nil {
		p.Close()
		return nil, err
	}
	adc.port = p
	return adc, nil
}

// NewMCP3008 connects to the ADC on an open port. The caller keeps ownership
// of the port.
func NewMCP3008(p spi.Port, speed physic.Frequency) (*MCP3008, error) {
	if speed == 0 {
		speed = DefaultSPISpeed
	}
	c, err := p.Connect(speed, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("connect mcp3008: %w", err)
	}
	return &MCP3008{conn: c}, nil
}

// Read performs one single-ended conversion on channel 0-7.
func (m *MCP3008) Read(channel int) (int, error) {
	if channel < 0 || channel > 7 {
		return 0, fmt.Errorf("mcp3008 channel %d out of range", channel)
	}

	// start bit, single-ended + channel in the high nibble, one pad byte
	w := []byte{0x01, byte(0x08|channel) << 4, 0x00}
	r := make([]byte, 3)

	m.mu.Lock()
	err := m.conn.Tx(w, r)
	m.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("mcp3008 read channel %d: %w", channel, err)
	}
	return int(r[1]&0x03)<<8 | int(r[2]), nil
}

// Close releases the port if OpenMCP3008 opened it.
func (m *MCP3008) Close() error {
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}
