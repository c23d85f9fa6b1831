// Package nrf24sim simulates nRF24L01 radios at the register level so drivers
// can be exercised without hardware. Radios attached to the same Air exchange
// Enhanced ShockBurst packets, including auto-acknowledgment with ACK
// payloads, when their channel, data rate and addresses match.
//
// The simulation is synchronous: packets move the instant a transmitting
// radio sees its CE line fall after being high for at least 10µs. Time only
// advances through the shared Clock.
package nrf24sim

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

const (
	regCONFIG      = 0x00
	regEN_RXADDR   = 0x02
	regRF_CH       = 0x05
	regRF_SETUP    = 0x06
	regSTATUS      = 0x07
	regOBSERVE_TX  = 0x08
	regRX_ADDR_P0  = 0x0a
	regRX_ADDR_P1  = 0x0b
	regTX_ADDR     = 0x10
	regFIFO_STATUS = 0x17
	regMASK        = 0x1f

	cmdW_REGISTER         = 0x20
	cmdR_RX_PL_WID        = 0x60
	cmdR_RX_PAYLOAD       = 0x61
	cmdW_TX_PAYLOAD       = 0xa0
	cmdW_ACK_PAYLOAD      = 0xa8
	cmdW_TX_PAYLOAD_NOACK = 0xb0
	cmdFLUSH_TX           = 0xe1
	cmdFLUSH_RX           = 0xe2
	cmdNOP                = 0xff

	cfgPRIM_RX = 1 << 0
	cfgPWR_UP  = 1 << 1

	stTX_FULL = 1 << 0
	stMAX_RT  = 1 << 4
	stTX_DS   = 1 << 5
	stRX_DR   = 1 << 6
	stIRQ     = stMAX_RT | stTX_DS | stRX_DR

	// RF_DR_LOW and RF_DR_HIGH.
	rateBits = 0x28

	fifoDepth  = 3
	maxPayload = 32

	startupTime = 1500 * time.Microsecond
	ceMinHigh   = 10 * time.Microsecond
)

// Power on reset values.
var initRegValues = [...]struct{ addr, val byte }{
	{regCONFIG, 0x08},
	{0x01, 0x3f}, // EN_AA
	{regEN_RXADDR, 0x03},
	{0x03, 0x03}, // SETUP_AW
	{0x04, 0x03}, // SETUP_RETR
	{regRF_CH, 0x02},
	{regRF_SETUP, 0x0e},
}

var errNotSelected = errors.New("nrf24sim: transfer while CSN high")

// Clock is a virtual clock. Sleep advances it immediately.
type Clock struct {
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Unix(0, 0)}
}

func (c *Clock) Now() time.Time { return c.now }

func (c *Clock) Sleep(d time.Duration) {
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

// Air is the medium shared by simulated radios.
type Air struct {
	clk    *Clock
	radios []*Radio
}

func NewAir(clk *Clock) *Air {
	return &Air{clk: clk}
}

// NewRadio attaches a powered down radio in its reset state to the air.
func (a *Air) NewRadio() *Radio {
	r := &Radio{
		air:      a,
		csn:      true,
		rxAddrP0: [5]byte{0xe7, 0xe7, 0xe7, 0xe7, 0xe7},
		rxAddrP1: [5]byte{0xc2, 0xc2, 0xc2, 0xc2, 0xc2},
		txAddr:   [5]byte{0xe7, 0xe7, 0xe7, 0xe7, 0xe7},
		writes:   make(map[byte]int),
	}
	for _, rv := range initRegValues {
		r.regs[rv.addr] = rv.val
	}
	a.radios = append(a.radios, r)
	return r
}

// route returns the radio and pipe that would receive a packet from tx.
func (a *Air) route(tx *Radio) (*Radio, int) {
	for _, rx := range a.radios {
		if rx == tx || !rx.listening() ||
			rx.regs[regRF_CH] != tx.regs[regRF_CH] ||
			rx.regs[regRF_SETUP]&rateBits != tx.regs[regRF_SETUP]&rateBits {
			continue
		}
		en := rx.regs[regEN_RXADDR]
		if en&(1<<1) != 0 && rx.rxAddrP1 == tx.txAddr {
			return rx, 1
		}
		if en&(1<<0) != 0 && rx.rxAddrP0 == tx.txAddr {
			return rx, 0
		}
	}
	return nil, 0
}

type packet struct {
	data  []byte
	pipe  int
	noAck bool
	// ack marks a payload queued with W_ACK_PAYLOAD for pipe.
	ack bool
}

// Radio is a simulated nRF24L01. It implements drivers.SPI; its control lines
// are obtained with CE, CSN or Shared.
type Radio struct {
	air  *Air
	regs [regMASK + 1]byte

	rxAddrP0, rxAddrP1, txAddr [5]byte

	rx []packet
	tx []packet

	ce, csn   bool
	ceRoseAt  time.Time
	poweredAt time.Time
	plos      byte

	frame      []byte
	widthOvr   byte
	writes     map[byte]int
	ceFalls    int
	dropNextTx bool

	// Detached simulates an absent radio: the bus reads back zeros and
	// writes have no effect.
	Detached bool
}

var _ drivers.SPI = (*Radio)(nil)

// Transfer clocks a single byte in and out of the radio.
func (rf *Radio) Transfer(w byte) (byte, error) {
	if rf.csn {
		return 0, errNotSelected
	}
	return rf.clock(w), nil
}

// Tx clocks w into the radio while filling r with the bytes clocked out.
// Either may be nil.
func (rf *Radio) Tx(w, r []byte) error {
	if rf.csn {
		return errNotSelected
	}
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		var b byte
		if i < len(w) {
			b = w[i]
		}
		out := rf.clock(b)
		if i < len(r) {
			r[i] = out
		}
	}
	return nil
}

// clock exchanges one byte of the current frame.
func (rf *Radio) clock(w byte) (out byte) {
	if rf.Detached {
		return 0
	}
	k := len(rf.frame)
	rf.frame = append(rf.frame, w)
	if k == 0 {
		return rf.status()
	}
	cmd := rf.frame[0]
	i := k - 1
	switch {
	case cmd&0xe0 == 0: // R_REGISTER
		reg := cmd & regMASK
		if addr := rf.addrReg(reg); addr != nil {
			if i < len(addr) {
				out = addr[i]
			}
		} else if i == 0 {
			out = rf.Register(reg)
		}
	case cmd == cmdR_RX_PL_WID:
		if i > 0 {
			break
		}
		if rf.widthOvr != 0 {
			out = rf.widthOvr
		} else if len(rf.rx) > 0 {
			out = byte(len(rf.rx[0].data))
		}
	case cmd == cmdR_RX_PAYLOAD:
		if len(rf.rx) > 0 && i < len(rf.rx[0].data) {
			out = rf.rx[0].data[i]
		}
	}
	return out
}

// commit executes the frame clocked in since CSN went low.
func (rf *Radio) commit() {
	frame := rf.frame
	rf.frame = rf.frame[:0]
	if rf.Detached || len(frame) == 0 {
		return
	}
	cmd, data := frame[0], frame[1:]
	switch {
	case cmd&0xe0 == cmdW_REGISTER:
		if len(data) > 0 {
			rf.writeReg(cmd&regMASK, data)
		}
	case cmd == cmdR_RX_PL_WID:
		rf.widthOvr = 0
	case cmd == cmdR_RX_PAYLOAD:
		if len(rf.rx) > 0 {
			rf.rx = rf.rx[1:]
		}
	case cmd == cmdW_TX_PAYLOAD, cmd == cmdW_TX_PAYLOAD_NOACK:
		rf.pushTx(packet{data: data, noAck: cmd == cmdW_TX_PAYLOAD_NOACK})
	case cmd&0xf8 == cmdW_ACK_PAYLOAD:
		rf.pushTx(packet{data: data, pipe: int(cmd & 0x07), ack: true})
	case cmd == cmdFLUSH_TX:
		rf.tx = rf.tx[:0]
	case cmd == cmdFLUSH_RX:
		rf.rx = rf.rx[:0]
	}
}

func (rf *Radio) writeReg(reg byte, data []byte) {
	rf.writes[reg]++
	if addr := rf.addrReg(reg); addr != nil {
		copy(addr[:], data)
		return
	}
	v := data[0]
	switch reg {
	case regSTATUS:
		rf.regs[regSTATUS] &^= v & stIRQ
	case regFIFO_STATUS, regOBSERVE_TX:
		// Read only.
	case regCONFIG:
		if rf.regs[regCONFIG]&cfgPWR_UP == 0 && v&cfgPWR_UP != 0 {
			rf.poweredAt = rf.air.clk.Now()
		}
		rf.regs[regCONFIG] = v
	case regRF_CH:
		rf.regs[regRF_CH] = v & 0x7f
		rf.plos = 0
	default:
		rf.regs[reg] = v
	}
}

func (rf *Radio) addrReg(reg byte) *[5]byte {
	switch reg {
	case regRX_ADDR_P0:
		return &rf.rxAddrP0
	case regRX_ADDR_P1:
		return &rf.rxAddrP1
	case regTX_ADDR:
		return &rf.txAddr
	}
	return nil
}

func (rf *Radio) pushTx(p packet) {
	if len(rf.tx) >= fifoDepth || len(p.data) > maxPayload {
		return
	}
	p.data = append([]byte(nil), p.data...)
	rf.tx = append(rf.tx, p)
}

func (rf *Radio) status() byte {
	s := rf.regs[regSTATUS] & stIRQ
	if len(rf.rx) == 0 {
		s |= 0b1110
	} else {
		s |= byte(rf.rx[0].pipe) << 1
	}
	if len(rf.tx) >= fifoDepth {
		s |= stTX_FULL
	}
	return s
}

func (rf *Radio) fifoStatus() (f byte) {
	if len(rf.rx) == 0 {
		f |= 1 << 0
	}
	if len(rf.rx) >= fifoDepth {
		f |= 1 << 1
	}
	if len(rf.tx) == 0 {
		f |= 1 << 4
	}
	if len(rf.tx) >= fifoDepth {
		f |= 1 << 5
	}
	return f
}

func (rf *Radio) settled() bool {
	return !rf.poweredAt.IsZero() && rf.air.clk.Now().Sub(rf.poweredAt) >= startupTime
}

func (rf *Radio) listening() bool {
	cfg := rf.regs[regCONFIG]
	return !rf.Detached && cfg&cfgPWR_UP != 0 && cfg&cfgPRIM_RX != 0 && rf.ce && rf.settled()
}

func (rf *Radio) setCE(high bool) {
	if high == rf.ce {
		return
	}
	rf.ce = high
	now := rf.air.clk.Now()
	if high {
		rf.ceRoseAt = now
		return
	}
	rf.ceFalls++
	if now.Sub(rf.ceRoseAt) >= ceMinHigh {
		rf.transmit()
	}
}

func (rf *Radio) setCSN(high bool) {
	if high == rf.csn {
		return
	}
	rf.csn = high
	if high {
		rf.commit()
	} else {
		rf.frame = rf.frame[:0]
	}
}

// transmit sends the packet at the head of the TX FIFO if the radio is a
// settled primary transmitter with no unacknowledged MAX_RT.
func (rf *Radio) transmit() {
	cfg := rf.regs[regCONFIG]
	if rf.Detached || cfg&cfgPWR_UP == 0 || cfg&cfgPRIM_RX != 0 ||
		rf.regs[regSTATUS]&stMAX_RT != 0 || len(rf.tx) == 0 || !rf.settled() {
		return
	}
	pkt := rf.tx[0]
	dst, pipe := rf.air.route(rf)
	if rf.dropNextTx {
		rf.dropNextTx = false
		dst = nil
	}
	if pkt.noAck {
		if dst != nil && len(dst.rx) < fifoDepth {
			dst.deliver(pkt.data, pipe)
		}
		rf.tx = rf.tx[1:]
		rf.regs[regSTATUS] |= stTX_DS
		return
	}
	if dst == nil || len(dst.rx) >= fifoDepth {
		rf.regs[regSTATUS] |= stMAX_RT
		if rf.plos < 15 {
			rf.plos++
		}
		return
	}
	dst.deliver(pkt.data, pipe)
	if ack := dst.takeAck(pipe); len(ack) > 0 && len(rf.rx) < fifoDepth {
		rf.deliver(ack, 0)
	}
	rf.tx = rf.tx[1:]
	rf.regs[regSTATUS] |= stTX_DS
}

func (rf *Radio) deliver(data []byte, pipe int) {
	rf.rx = append(rf.rx, packet{data: append([]byte(nil), data...), pipe: pipe})
	rf.regs[regSTATUS] |= stRX_DR
}

// takeAck removes and returns the oldest ACK payload queued for pipe.
func (rf *Radio) takeAck(pipe int) []byte {
	for i, p := range rf.tx {
		if p.ack && p.pipe == pipe {
			rf.tx = append(rf.tx[:i:i], rf.tx[i+1:]...)
			return p.data
		}
	}
	return nil
}

// Register returns the current value of a single byte register.
func (rf *Radio) Register(reg byte) byte {
	reg &= regMASK
	switch reg {
	case regSTATUS:
		return rf.status()
	case regFIFO_STATUS:
		return rf.fifoStatus()
	case regOBSERVE_TX:
		return rf.plos << 4
	}
	if addr := rf.addrReg(reg); addr != nil {
		return addr[0]
	}
	return rf.regs[reg]
}

// Address returns the contents of TX_ADDR, RX_ADDR_P0 or RX_ADDR_P1.
func (rf *Radio) Address(reg byte) (addr [5]byte) {
	if a := rf.addrReg(reg & regMASK); a != nil {
		addr = *a
	}
	return addr
}

// Writes returns the number of W_REGISTER commands issued to reg.
func (rf *Radio) Writes(reg byte) int { return rf.writes[reg&regMASK] }

// CEFalls returns the number of falling edges seen on CE.
func (rf *Radio) CEFalls() int { return rf.ceFalls }

// IRQ reports the level of the active low IRQ line: true when an unmasked
// interrupt flag is set.
func (rf *Radio) IRQ() bool {
	masked := rf.regs[regCONFIG] & stIRQ
	return rf.regs[regSTATUS]&stIRQ&^masked != 0
}

// RxLen returns the number of packets in the RX FIFO.
func (rf *Radio) RxLen() int { return len(rf.rx) }

// TxLen returns the number of payloads in the TX FIFO, ACK payloads included.
func (rf *Radio) TxLen() int { return len(rf.tx) }

// InjectRx places a packet in the RX FIFO as if it had been received on pipe.
// It returns false if the FIFO is full.
func (rf *Radio) InjectRx(pipe int, data []byte) bool {
	if len(rf.rx) >= fifoDepth {
		return false
	}
	rf.deliver(data, pipe)
	return true
}

// CorruptNextPayloadWidth makes the next R_RX_PL_WID command return w,
// emulating a radio whose RX FIFO got out of sync.
func (rf *Radio) CorruptNextPayloadWidth(w byte) { rf.widthOvr = w }

// DropNextTx makes the next acknowledged transmission go unanswered.
func (rf *Radio) DropNextTx() { rf.dropNextTx = true }

type pinRole uint8

const (
	roleCE pinRole = 1 << iota
	roleCSN
)

// Pin is a control line of a Radio. It satisfies the pin interface used by
// drivers: Set drives the line and Get reads it back.
type Pin struct {
	rf   *Radio
	role pinRole
}

// CE returns the radio's chip enable line.
func (rf *Radio) CE() *Pin { return &Pin{rf: rf, role: roleCE} }

// CSN returns the radio's active low chip select line.
func (rf *Radio) CSN() *Pin { return &Pin{rf: rf, role: roleCSN} }

// Shared returns a single line wired to both CE and CSN.
func (rf *Radio) Shared() *Pin { return &Pin{rf: rf, role: roleCE | roleCSN} }

func (p *Pin) Set(high bool) {
	// Falling: CE first so a pending transmission goes out before the
	// frame starts. Rising: CSN first so the frame commits before CE.
	if high {
		if p.role&roleCSN != 0 {
			p.rf.setCSN(true)
		}
		if p.role&roleCE != 0 {
			p.rf.setCE(true)
		}
		return
	}
	if p.role&roleCE != 0 {
		p.rf.setCE(false)
	}
	if p.role&roleCSN != 0 {
		p.rf.setCSN(false)
	}
}

func (p *Pin) Get() bool {
	if p.role&roleCSN != 0 {
		return p.rf.csn
	}
	return p.rf.ce
}
