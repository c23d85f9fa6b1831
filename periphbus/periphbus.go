// Package periphbus connects an nRF24L01 to a Linux host through periph.io:
// the radio's SPI transport and its CE, CSN and IRQ lines.
package periphbus

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// Config names the host resources the radio is wired to.
type Config struct {
	// SPIPort as understood by spireg.Open, i.e. "/dev/spidev0.0" or "SPI0.0".
	// Empty selects the first registered port.
	SPIPort string
	// MaxFreq is the SPI clock. Defaults to 1MHz; the radio accepts up to 10MHz.
	MaxFreq physic.Frequency
	// CEPin and CSNPin are gpioreg names such as "GPIO25". Equal names select
	// a single line shared by CE and CSN.
	CEPin  string
	CSNPin string
	// IRQPin is optional. When set it is configured as a falling edge input.
	IRQPin string
}

// Bus holds the opened resources.
type Bus struct {
	SPI *SPI
	CE  *Pin
	CSN *Pin
	// IRQ is nil if Config.IRQPin was empty.
	IRQ  *Pin
	port spi.PortCloser
}

// Open initializes the host drivers and opens the SPI port and pins.
func Open(cfg Config) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	if cfg.MaxFreq == 0 {
		cfg.MaxFreq = physic.MegaHertz
	}
	p, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("open spi port %q: %w", cfg.SPIPort, err)
	}
	// CSN is driven as a GPIO so the controller can frame commands itself.
	conn, err := p.Connect(cfg.MaxFreq, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("connect spi: %w", err)
	}
	b := &Bus{SPI: &SPI{conn: conn}, port: p}
	b.CE, err = openOut(cfg.CEPin, gpio.Low)
	if err == nil {
		if cfg.CSNPin == cfg.CEPin {
			b.CSN = b.CE
		} else {
			b.CSN, err = openOut(cfg.CSNPin, gpio.High)
		}
	}
	if err == nil && cfg.IRQPin != "" {
		b.IRQ, err = openIn(cfg.IRQPin)
	}
	if err != nil {
		p.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the SPI port.
func (b *Bus) Close() error {
	if b.IRQ != nil {
		b.IRQ.pin.Halt()
	}
	return b.port.Close()
}

func openOut(name string, initial gpio.Level) (*Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	if err := p.Out(initial); err != nil {
		return nil, fmt.Errorf("gpio %s out: %w", name, err)
	}
	return &Pin{pin: p}, nil
}

func openIn(name string) (*Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	// IRQ is active low and open drain.
	if err := p.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("gpio %s in: %w", name, err)
	}
	return &Pin{pin: p}, nil
}

// SPI adapts a periph spi.Conn to drivers.SPI.
type SPI struct {
	conn spi.Conn
	buf  [1 + 32]byte
}

var _ drivers.SPI = (*SPI)(nil)

// NewSPI wraps an already connected spi.Conn. The connection must not manage
// chip select.
func NewSPI(conn spi.Conn) *SPI { return &SPI{conn: conn} }

func (s *SPI) Transfer(w byte) (byte, error) {
	s.buf[0] = w
	err := s.conn.Tx(s.buf[:1], s.buf[1:2])
	return s.buf[1], err
}

// Tx performs a full duplex transfer. periph requires both buffers to have
// the same length so a nil buffer is replaced by scratch space.
func (s *SPI) Tx(w, r []byte) error {
	switch {
	case len(w) == 0 && len(r) == 0:
		return nil
	case w == nil:
		w = s.scratch(len(r))
	case r == nil:
		r = s.scratch(len(w))
	case len(w) != len(r):
		return errors.New("periphbus: mismatched buffer lengths")
	}
	return s.conn.Tx(w, r)
}

func (s *SPI) scratch(n int) []byte {
	if n <= len(s.buf) {
		b := s.buf[:n]
		for i := range b {
			b[i] = 0
		}
		return b
	}
	return make([]byte, n)
}

// Pin adapts a periph gpio.PinIO to the controller's pin interface.
type Pin struct {
	pin gpio.PinIO
}

// NewPin wraps p, which must already be configured as an output.
func NewPin(p gpio.PinIO) *Pin { return &Pin{pin: p} }

func (p *Pin) Set(high bool) {
	p.pin.Out(gpio.Level(high))
}

func (p *Pin) Get() bool {
	return p.pin.Read() == gpio.High
}

// WaitFall blocks until a falling edge or timeout. A negative timeout waits
// forever. It reports whether an edge was seen or the line is already low.
func (p *Pin) WaitFall(timeout time.Duration) bool {
	if p.pin.Read() == gpio.Low {
		return true
	}
	return p.pin.WaitForEdge(timeout)
}
