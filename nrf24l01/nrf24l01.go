/*
package nrf24l01 implements a driver for the nRF24L01(+) 2.4GHz transceiver.

The driver manages point-to-point links between radios sharing an address
prefix: every radio listens on the address {1,2,3,4,id} on data pipe 1 and
uses pipe 0 to receive auto-acknowledgment packets, which may carry up to 32
bytes of ACK payload, from the radio it last transmitted to.

# Modes

The radio's mode is never cached. Every operation reads CONFIG and moves the
radio lazily into the mode it needs:

	Power down --PWR_UP--> Standby-I --CE high, PRIM_RX--> RX
	RX --CE low--> Standby-I --PRIM_RX clear--> Standby-I (TX ready)
	Standby-I (TX ready) --CE pulse--> TX --done--> Standby-I (TX ready)

Both RX and TX FIFOs hold up to 3 packets.

# Shared CE and CSN

CE and CSN may be wired to the same pin. Then every SPI access pulls CE low
and drops the radio out of RX, so HasData limits how often it touches the
radio unless called from an interrupt handler, and transmissions start as soon
as CSN is released instead of with a CE pulse.

Methods on Device are not safe for concurrent use. Interrupt handlers may call
Inspect and HasDataISR provided they run to completion before the main flow
resumes.
*/
package nrf24l01

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/soypat/rf24"
	"tinygo.org/x/drivers"
)

// Pin is a digital output line. machine.Pin satisfies it. CE and CSN are
// considered the same physical pin when the two Pin values compare equal, so
// implementations must be comparable.
type Pin interface {
	Set(high bool)
	Get() bool
}

// Clock provides the delays the datasheet requires and a monotonic time
// source used to rate limit HasData.
type Clock interface {
	// Sleep blocks for at least d.
	Sleep(d time.Duration)
	Now() time.Time
}

type Device struct {
	bus       drivers.SPI
	ce        Pin
	csn       Pin
	clk       Clock
	log       *slog.Logger
	sharedPin bool
	// resetFlags enables clearing of interrupt flags in Inspect.
	resetFlags        bool
	dataCheckInterval time.Duration
	retryWait         time.Duration
	lastDataCheck     time.Time
	buf               [addrWidth]byte
}

// Interrupts holds the three latched interrupt flags of the STATUS register.
type Interrupts struct {
	TxOK     bool // Packet transmitted (and acknowledged if an ACK was requested).
	TxFailed bool // Maximum retransmits reached without ACK.
	RxReady  bool // Packet received.
}

var (
	ErrNotDetected    = errors.New("nrf24l01 not detected")
	ErrMaxRetries     = errors.New("max retransmits reached without ack")
	ErrPayloadTooLong = errors.New("payload longer than 32 bytes")
)

// New returns a Device that talks to the radio over bus. The CSN pin is
// driven by the Device around every command so bus must not manage chip
// select itself. A nil clk uses the system clock and a nil logger discards
// all records. Configure must be called before any other method.
func New(bus drivers.SPI, ce, csn Pin, clk Clock, logger *slog.Logger) *Device {
	if clk == nil {
		clk = sysClock{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Device{
		bus:        bus,
		ce:         ce,
		csn:        csn,
		clk:        clk,
		log:        logger,
		sharedPin:  ce == csn,
		resetFlags: true,
	}
}

// Configure initializes the radio as node cfg.NodeID and leaves it powered
// up listening for packets. The readback of CONFIG is the only feasible
// presence check: ErrNotDetected is returned if it does not match what was
// written, which means the radio is absent or miswired.
func (d *Device) Configure(cfg rf24.Config) (err error) {
	d.clk.Sleep(powerOnResetDelay)
	d.resetFlags = true
	// CSN high: radio ignores the bus.
	d.csnEnable(false)
	if !d.sharedPin {
		d.ce.Set(false)
	}

	t := timingFor(cfg.Bitrate)
	d.dataCheckInterval = t.dataCheckInterval
	d.retryWait = t.retryWait
	d.lastDataCheck = time.Time{}
	for _, rv := range []struct{ addr, val byte }{
		{regRF_CH, rf24.ClampChannel(cfg.Channel)},
		{regRF_SETUP, t.rfSetup},
		{regSETUP_RETR, t.setupRetr},
		// Pipe 0 receives ACK payloads, pipe 1 normal packets.
		{regDYNPD, dplP0 | dplP1},
		{regFEATURE, featEN_DPL | featEN_ACK_PAY | featEN_DYN_ACK},
	} {
		err = d.write8(rv.addr, rv.val)
		if err != nil {
			return err
		}
	}
	addr := rf24.NodeAddress(cfg.NodeID)
	err = d.write(regRX_ADDR_P1, addr[:])
	if err != nil {
		return err
	}
	err = d.command(cmdFLUSH_RX)
	if err != nil {
		return err
	}
	err = d.command(cmdFLUSH_TX)
	if err != nil {
		return err
	}
	err = d.clearFlags(statusIRQ)
	if err != nil {
		return err
	}

	const newCfg = ConfigPwrUp | ConfigPrimRx | ConfigEnCRC
	err = d.write8(regCONFIG, byte(newCfg))
	if err != nil {
		return err
	}
	d.ce.Set(true)
	d.clk.Sleep(powerUpDelay)
	got, err := d.read8(regCONFIG)
	if err != nil {
		return err
	}
	if ConfigReg(got) != newCfg {
		d.log.Error("config readback mismatch", slog.String("want", newCfg.String()), slog.String("got", ConfigReg(got).String()))
		return ErrNotDetected
	}
	d.log.Debug("configured",
		slog.Int("node", int(cfg.NodeID)),
		slog.Int("channel", int(rf24.ClampChannel(cfg.Channel))),
		slog.String("bitrate", cfg.Bitrate.String()),
		slog.Bool("sharedpin", d.sharedPin),
	)
	return nil
}

// ReadConfig reads back the link configuration from the radio's registers.
func (d *Device) ReadConfig() (cfg rf24.Config, err error) {
	ch, err := d.read8(regRF_CH)
	if err != nil {
		return cfg, err
	}
	rfSetup, err := d.read8(regRF_SETUP)
	if err != nil {
		return cfg, err
	}
	var addr rf24.Address
	err = d.read(regRX_ADDR_P1, addr[:])
	if err != nil {
		return cfg, err
	}
	cfg.Channel = ch
	cfg.Bitrate = bitrateFromRFSetup(rfSetup)
	cfg.NodeID = addr.NodeID()
	return cfg, nil
}

// QueueAckPayload queues data to be sent back inside the ACK of the next
// packet received on pipe 1. Up to 3 ACK payloads are kept, oldest sent
// first. If clearExisting is set queued ACK payloads are discarded first so
// the next ACK carries only the freshest data.
func (d *Device) QueueAckPayload(data []byte, clearExisting bool) error {
	if len(data) > rf24.MaxPayloadSize {
		return ErrPayloadTooLong
	}
	if clearExisting {
		err := d.command(cmdFLUSH_TX)
		if err != nil {
			return err
		}
	}
	_, err := d.transfer(cmdW_ACK_PAYLOAD|1, data, false)
	return err
}

// HasAckPayload returns the length of the packet at the head of the RX FIFO
// if it is an ACK payload (arrived on pipe 0), or 0 otherwise. The packet is
// not consumed.
func (d *Device) HasAckPayload() (int, error) {
	pipe, err := d.rxPipe()
	if err != nil || pipe != 0 {
		return 0, err
	}
	return d.rxPacketLength()
}

// HasData ensures the radio is powered up and listening and returns the
// length of the packet at the head of the RX FIFO if it was received on
// pipe 1, or 0 otherwise. The packet is not consumed.
//
// With shared CE and CSN pins each call takes the radio out of RX for the
// duration of the SPI access, so calls made sooner than the bitrate dependent
// check interval after the previous one return 0 without touching the radio.
// usingInterrupts bypasses the limit for callers that only check after the
// IRQ line fired and so cannot starve the receiver.
func (d *Device) HasData(usingInterrupts bool) (int, error) {
	if d.sharedPin && !usingInterrupts {
		now := d.clk.Now()
		if !d.lastDataCheck.IsZero() && now.Sub(d.lastDataCheck) < d.dataCheckInterval {
			return 0, nil
		}
		d.lastDataCheck = now
	}

	orig, err := d.read8(regCONFIG)
	if err != nil {
		return 0, err
	}
	newCfg := orig | byte(ConfigPwrUp|ConfigPrimRx)
	if orig != newCfg {
		d.log.Debug("entering rx", slog.String("config", ConfigReg(orig).String()))
		err = d.write8(regCONFIG, newCfg)
		if err != nil {
			return 0, err
		}
	}
	// With a shared pin CE is high whenever CSN is.
	if !d.sharedPin && !d.ce.Get() {
		d.ce.Set(true)
	}
	if ConfigReg(orig)&ConfigPwrUp == 0 {
		d.clk.Sleep(powerUpDelay)
	}

	pipe, err := d.rxPipe()
	if err != nil || pipe != 1 {
		return 0, err
	}
	return d.rxPacketLength()
}

// HasDataISR is HasData(true), meant to be called from the radio's IRQ
// handler.
func (d *Device) HasDataISR() (int, error) {
	return d.HasData(true)
}

// ReadData reads the packet at the head of the RX FIFO into buf and clears
// the data ready flag. Callers check HasData or HasAckPayload first; reading
// an empty FIFO returns 0. If buf is shorter than the packet io.ErrShortBuffer
// is returned and the packet is left in the FIFO.
func (d *Device) ReadData(buf []byte) (int, error) {
	n, err := d.rxPacketLength()
	if err != nil {
		return 0, err
	}
	if n > len(buf) {
		return 0, io.ErrShortBuffer
	}
	_, err = d.transfer(cmdR_RX_PAYLOAD, buf[:n], true)
	if err != nil {
		return 0, err
	}
	status, err := d.read8(regSTATUS)
	if err != nil {
		return 0, err
	}
	if Status(status)&StatusRxDR != 0 {
		err = d.clearFlags(StatusRxDR)
	}
	return n, err
}

// Send transmits data to node `to` and blocks until the radio reports the
// outcome. With rf24.RequireAck it returns nil once the ACK arrived and
// ErrMaxRetries once the radio gave up; the failed packet is discarded so it
// does not block later transmissions. With rf24.NoAck it returns nil once the
// packet left.
//
// Send relies on the radio's bounded retry count to finish. Use SendContext
// to bound the wait independently of the radio.
func (d *Device) Send(to uint8, data []byte, st rf24.SendType) error {
	return d.SendContext(context.Background(), to, data, st)
}

// SendContext is Send with a context checked between status polls. If ctx is
// done before the radio reports an outcome the TX FIFO is flushed and the
// context's error is returned.
func (d *Device) SendContext(ctx context.Context, to uint8, data []byte, st rf24.SendType) error {
	if len(data) > rf24.MaxPayloadSize {
		return ErrPayloadTooLong
	}
	err := d.prepForTransmission(to, st)
	if err != nil {
		return err
	}
	// Stale outcome flags would end the loop below early.
	status, err := d.read8(regSTATUS)
	if err != nil {
		return err
	}
	if stale := Status(status) & (StatusTxDS | StatusMaxRT); stale != 0 {
		err = d.clearFlags(stale)
		if err != nil {
			return err
		}
	}
	err = d.enqueue(data, st)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			d.command(cmdFLUSH_TX)
			return err
		}
		d.clk.Sleep(d.retryWait)
		status, err = d.read8(regSTATUS)
		if err != nil {
			return err
		}
		switch {
		case Status(status)&StatusTxDS != 0:
			return d.clearFlags(StatusTxDS)
		case Status(status)&StatusMaxRT != 0:
			d.log.Debug("max retries", slog.Int("to", int(to)))
			err = d.command(cmdFLUSH_TX)
			if err != nil {
				return err
			}
			err = d.clearFlags(StatusMaxRT)
			if err != nil {
				return err
			}
			return ErrMaxRetries
		}
	}
}

// StartSend queues data for node `to` and starts the transmission without
// waiting for the outcome. Use Inspect, typically from the IRQ handler, to
// learn whether it succeeded.
func (d *Device) StartSend(to uint8, data []byte, st rf24.SendType) error {
	if len(data) > rf24.MaxPayloadSize {
		return ErrPayloadTooLong
	}
	err := d.prepForTransmission(to, st)
	if err != nil {
		return err
	}
	return d.enqueue(data, st)
}

// Inspect reads the interrupt flags. They are cleared as a side effect unless
// the Device is draining its TX FIFO, in which case they are left for the
// drain loop to act on.
func (d *Device) Inspect() (Interrupts, error) {
	status, err := d.read8(regSTATUS)
	if err != nil {
		return Interrupts{}, err
	}
	s := Status(status)
	irq := Interrupts{
		TxOK:     s&StatusTxDS != 0,
		TxFailed: s&StatusMaxRT != 0,
		RxReady:  s&StatusRxDR != 0,
	}
	if d.resetFlags {
		err = d.clearFlags(statusIRQ)
	}
	return irq, err
}

// PowerDown stops any RX or TX activity and powers the radio down, where it
// draws around 900nA. Send, StartSend and HasData power it up again.
func (d *Device) PowerDown() error {
	if !d.sharedPin {
		d.ce.Set(false)
	}
	cfg, err := d.read8(regCONFIG)
	if err != nil || ConfigReg(cfg)&ConfigPwrUp == 0 {
		return err
	}
	d.log.Debug("power down")
	return d.write8(regCONFIG, cfg&^byte(ConfigPwrUp))
}

// Status returns the STATUS register using a NOP command.
func (d *Device) Status() (Status, error) {
	return d.transfer(cmdNOP, nil, false)
}

// FIFOStatus returns the FIFO_STATUS register.
func (d *Device) FIFOStatus() (FIFO, error) {
	fifo, err := d.read8(regFIFO_STATUS)
	return FIFO(fifo), err
}

// prepForTransmission addresses node `to` and moves the radio into Standby-I
// ready to transmit, making room in the FIFOs if needed.
func (d *Device) prepForTransmission(to uint8, st rf24.SendType) error {
	// Pipe 0 must match TX_ADDR to receive the destination's ACK.
	addr := rf24.NodeAddress(to)
	err := d.write(regTX_ADDR, addr[:])
	if err != nil {
		return err
	}
	err = d.write(regRX_ADDR_P0, addr[:])
	if err != nil {
		return err
	}

	orig, err := d.read8(regCONFIG)
	if err != nil {
		return err
	}
	newCfg := orig&^byte(ConfigPrimRx) | byte(ConfigPwrUp)
	if orig != newCfg {
		// RX cannot go straight to TX, it must pass through Standby-I.
		wasRx := ConfigReg(orig)&(ConfigPrimRx|ConfigPwrUp) == ConfigPrimRx|ConfigPwrUp
		if wasRx && !d.sharedPin && d.ce.Get() {
			d.ce.Set(false)
		}
		d.log.Debug("entering tx", slog.String("config", ConfigReg(orig).String()))
		err = d.write8(regCONFIG, newCfg)
		if err != nil {
			return err
		}
		d.clk.Sleep(powerUpDelay)
	}

	fifo, err := d.read8(regFIFO_STATUS)
	if err != nil {
		return err
	}
	if FIFO(fifo)&FIFORxFull != 0 && st == rf24.RequireAck {
		// Room for the ACK.
		err = d.command(cmdFLUSH_RX)
		if err != nil {
			return err
		}
	}
	if FIFO(fifo)&FIFOTxFull != 0 {
		return d.drainTx()
	}
	return nil
}

// drainTx transmits packets left in the TX FIFO until it is empty, discarding
// those that reach max retries. Inspect does not clear interrupt flags while
// draining so an IRQ handler cannot hide the outcome from this loop.
func (d *Device) drainTx() error {
	d.resetFlags = false
	defer func() { d.resetFlags = true }()
	d.log.Debug("draining tx fifo")
	for {
		fifo, err := d.read8(regFIFO_STATUS)
		if err != nil {
			return err
		}
		if FIFO(fifo)&FIFOTxEmpty != 0 {
			return nil
		}
		d.pulseCE()
		d.clk.Sleep(d.retryWait)
		status, err := d.read8(regSTATUS)
		if err != nil {
			return err
		}
		switch {
		case Status(status)&StatusTxDS != 0:
			err = d.clearFlags(StatusTxDS)
		case Status(status)&StatusMaxRT != 0:
			err = d.command(cmdFLUSH_TX)
			if err == nil {
				err = d.clearFlags(StatusMaxRT)
			}
		}
		if err != nil {
			return err
		}
	}
}

// enqueue writes data to the TX FIFO and starts the transmission.
func (d *Device) enqueue(data []byte, st rf24.SendType) error {
	cmd := byte(cmdW_TX_PAYLOAD)
	if st == rf24.NoAck {
		cmd = cmdW_TX_PAYLOAD_NOACK
	}
	_, err := d.transfer(cmd, data, false)
	if err != nil {
		return err
	}
	// With a shared pin CE went high when CSN was released at the end of the
	// payload write and transmission has already started.
	if !d.sharedPin {
		d.pulseCE()
	}
	return nil
}

func (d *Device) pulseCE() {
	d.ce.Set(true)
	d.clk.Sleep(cePulseWidth)
	d.ce.Set(false)
}

// rxPipe returns the pipe of the packet at the head of the RX FIFO. Values
// above 5 mean no packet: 7 is an empty FIFO, 6 is unused.
func (d *Device) rxPipe() (int, error) {
	status, err := d.read8(regSTATUS)
	return int(status&0b1110) >> 1, err
}

// rxPacketLength returns the length of the packet at the head of the RX FIFO.
// A length above 32 means the FIFO is corrupt or out of sync; it is flushed
// and 0 returned.
func (d *Device) rxPacketLength() (int, error) {
	var plen [1]byte
	_, err := d.transfer(cmdR_RX_PL_WID, plen[:], true)
	if err != nil {
		return 0, err
	}
	if plen[0] > rf24.MaxPayloadSize {
		d.log.Warn("invalid payload length, flushing rx fifo", slog.Int("len", int(plen[0])))
		return 0, d.command(cmdFLUSH_RX)
	}
	return int(plen[0]), nil
}

// clearFlags clears the given interrupt flags. Writing 1 to a flag clears it
// and other flags are left untouched.
func (d *Device) clearFlags(s Status) error {
	return d.write8(regSTATUS, byte(s&statusIRQ))
}

func (d *Device) read8(addr byte) (byte, error) {
	_, err := d.transfer(cmdR_REGISTER|(addr&regMASK), d.buf[:1], true)
	return d.buf[0], err
}

func (d *Device) read(addr byte, buf []byte) error {
	_, err := d.transfer(cmdR_REGISTER|(addr&regMASK), buf, true)
	return err
}

func (d *Device) write8(addr, value byte) error {
	d.buf[0] = value
	_, err := d.transfer(cmdW_REGISTER|(addr&regMASK), d.buf[:1], false)
	return err
}

func (d *Device) write(addr byte, buf []byte) error {
	_, err := d.transfer(cmdW_REGISTER|(addr&regMASK), buf, false)
	return err
}

func (d *Device) command(cmd byte) error {
	_, err := d.transfer(cmd, nil, false)
	return err
}

// transfer selects the radio, clocks out cmd followed by data and deselects
// it. When read is set the bytes clocked in replace the contents of data.
// The returned Status is the byte clocked in with cmd.
func (d *Device) transfer(cmd byte, data []byte, read bool) (Status, error) {
	d.csnEnable(true)
	status, err := d.bus.Transfer(cmd)
	if err == nil && len(data) > 0 {
		if read {
			err = d.bus.Tx(nil, data)
		} else {
			err = d.bus.Tx(data, nil)
		}
	}
	d.csnEnable(false)
	return Status(status), err
}

// csnEnable makes the radio listen to the bus. CSN is active low.
func (d *Device) csnEnable(b bool) {
	d.csn.Set(!b)
}

type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now() }

// Sleep busy-waits short delays where the scheduler's resolution is too
// coarse for the datasheet timings.
func (sysClock) Sleep(d time.Duration) {
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	start := time.Now()
	for time.Since(start) < d {
	}
}
