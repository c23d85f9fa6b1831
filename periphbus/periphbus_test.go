package periphbus

import (
	"bytes"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"
)

// loopback echoes every byte written, recording the buffers it saw.
type loopback struct {
	writes [][]byte
}

func (l *loopback) String() string               { return "loopback" }
func (l *loopback) Halt() error                  { return nil }
func (l *loopback) Duplex() conn.Duplex          { return conn.Full }
func (l *loopback) TxPackets([]spi.Packet) error { return nil }

func (l *loopback) Tx(w, r []byte) error {
	l.writes = append(l.writes, append([]byte(nil), w...))
	copy(r, w)
	return nil
}

func TestSPI(t *testing.T) {
	lb := &loopback{}
	s := NewSPI(lb)
	got, err := s.Transfer(0xa5)
	if err != nil || got != 0xa5 {
		t.Fatalf("Transfer = %#x, %v", got, err)
	}
	err = s.Tx([]byte{1, 2, 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := []byte{9, 9, 9, 9}
	err = s.Tx(nil, r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r, []byte{0, 0, 0, 0}) {
		t.Errorf("read without write must clock zeros, got %v", r)
	}
	if err = s.Tx([]byte{1}, []byte{1, 2}); err == nil {
		t.Error("expected mismatched length error")
	}
	if len(lb.writes) != 3 {
		t.Errorf("want 3 bus transactions, got %d", len(lb.writes))
	}
	// Large transfers don't fit the scratch buffer.
	big := make([]byte, 64)
	if err = s.Tx(nil, big); err != nil {
		t.Fatal(err)
	}
}

func TestPin(t *testing.T) {
	gp := &gpiotest.Pin{N: "GPIO25", Num: 25}
	p := NewPin(gp)
	p.Set(true)
	if gp.L != gpio.High || !p.Get() {
		t.Error("pin not driven high")
	}
	p.Set(false)
	if gp.L != gpio.Low || p.Get() {
		t.Error("pin not driven low")
	}
}

func TestWaitFall(t *testing.T) {
	gp := &gpiotest.Pin{N: "GPIO24", Num: 24, L: gpio.High, EdgesChan: make(chan gpio.Level, 1)}
	p := NewPin(gp)
	if p.WaitFall(time.Millisecond) {
		t.Error("edge reported without one")
	}
	gp.EdgesChan <- gpio.Low
	if !p.WaitFall(time.Second) {
		t.Error("edge missed")
	}
	gp.L = gpio.Low
	if !p.WaitFall(0) {
		t.Error("line already low must not wait")
	}
}
