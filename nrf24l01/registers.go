package nrf24l01

import (
	"strconv"
	"time"

	"github.com/soypat/rf24"
)

const (
	// registers
	regCONFIG      = 0x00
	regEN_AA       = 0x01
	regEN_RXADDR   = 0x02
	regSETUP_AW    = 0x03
	regSETUP_RETR  = 0x04
	regRF_CH       = 0x05
	regRF_SETUP    = 0x06
	regSTATUS      = 0x07
	regOBSERVE_TX  = 0x08
	regRPD         = 0x09
	regRX_ADDR_P0  = 0x0a
	regRX_ADDR_P1  = 0x0b
	regTX_ADDR     = 0x10
	regRX_PW_P0    = 0x11
	regRX_PW_P1    = 0x12
	regFIFO_STATUS = 0x17
	regDYNPD       = 0x1c
	regFEATURE     = 0x1d

	regMASK = 0x1f

	// commands
	cmdR_REGISTER         = 0x00
	cmdW_REGISTER         = 0x20
	cmdR_RX_PL_WID        = 0x60
	cmdR_RX_PAYLOAD       = 0x61
	cmdW_TX_PAYLOAD       = 0xa0
	cmdW_ACK_PAYLOAD      = 0xa8 // | pipe
	cmdW_TX_PAYLOAD_NOACK = 0xb0
	cmdFLUSH_TX           = 0xe1
	cmdFLUSH_RX           = 0xe2
	cmdNOP                = 0xff

	// DYNPD
	dplP0 = 1 << 0
	dplP1 = 1 << 1

	// FEATURE
	featEN_DYN_ACK = 1 << 0
	featEN_ACK_PAY = 1 << 1
	featEN_DPL     = 1 << 2

	addrWidth = 5
)

// Timing the datasheet imposes on mode changes.
const (
	// Vcc > 1.9V power on reset.
	powerOnResetDelay = 100 * time.Millisecond
	// 1500µs power down to standby plus 130µs standby to RX or TX.
	powerUpDelay = 1630 * time.Microsecond
	// CE must be held high at least 10µs to start a transmission.
	cePulseWidth = 11 * time.Microsecond
)

// linkTiming holds the bitrate dependent register values and the delays
// derived from them.
type linkTiming struct {
	rfSetup   byte
	setupRetr byte
	// dataCheckInterval limits how often HasData may pull a shared CE/CSN
	// line low and take the radio out of RX.
	dataCheckInterval time.Duration
	// retryWait is the time between TX status polls.
	retryWait time.Duration
}

// Retry delay is the upper nibble of SETUP_RETR (0=250µs ... 15=4000µs), retry
// count the lower nibble. 500µs is enough for a full 32 byte ACK payload at
// 1 and 2 Mbps; 250kbps needs 1500µs. All tiers transmit at 0dBm.
var linkTimings = [...]linkTiming{
	rf24.Bitrate2Mbps: {
		rfSetup:           0b0000_1110,
		setupRetr:         0b0001_1111,
		dataCheckInterval: 600 * time.Microsecond,
		retryWait:         250 * time.Microsecond,
	},
	rf24.Bitrate1Mbps: {
		rfSetup:           0b0000_0110,
		setupRetr:         0b0001_1111,
		dataCheckInterval: 1200 * time.Microsecond,
		retryWait:         1000 * time.Microsecond,
	},
	rf24.Bitrate250kbps: {
		rfSetup:           0b0010_0110,
		setupRetr:         0b0101_1111,
		dataCheckInterval: 8000 * time.Microsecond,
		retryWait:         1500 * time.Microsecond,
	},
}

func timingFor(br rf24.Bitrate) linkTiming {
	if int(br) >= len(linkTimings) {
		br = rf24.Bitrate250kbps
	}
	return linkTimings[br]
}

// bitrateFromRFSetup decodes the RF_DR_LOW and RF_DR_HIGH bits of RF_SETUP.
func bitrateFromRFSetup(rfSetup byte) rf24.Bitrate {
	switch {
	case rfSetup&(1<<5) != 0:
		return rf24.Bitrate250kbps
	case rfSetup&(1<<3) != 0:
		return rf24.Bitrate2Mbps
	default:
		return rf24.Bitrate1Mbps
	}
}

func flags(f string, mask, b byte) string {
	buf := make([]byte, len(f))
	m := byte(0x80)
	for i := range buf {
		if f[i] == '+' {
			for mask&m == 0 {
				m >>= 1
			}
			if b&m == 0 {
				buf[i] = '-'
			} else {
				buf[i] = '+'
			}
			m >>= 1
		} else {
			buf[i] = f[i]
		}
	}
	return string(buf)
}

// Status is the STATUS register. Every SPI command clocks it out as the
// first byte.
type Status byte

const (
	StatusTxFull Status = 1 << iota // TX FIFO full.
	_
	_
	_
	StatusMaxRT // Maximum number of TX retransmits interrupt.
	StatusTxDS  // Data sent interrupt.
	StatusRxDR  // Data ready interrupt.

	statusIRQ = StatusMaxRT | StatusTxDS | StatusRxDR
)

// RxPipe returns the data pipe of the packet at the head of the RX FIFO or
// -1 if the RX FIFO is empty.
func (s Status) RxPipe() int {
	n := int(s) & 0x0e
	if n == 0x0e {
		return -1
	}
	return n >> 1
}

func (s Status) String() string {
	return flags("RxDR+ TxDS+ MaxRT+ TxFull+ RxPipe:", 0x71, byte(s)) +
		strconv.Itoa(s.RxPipe())
}

// ConfigReg is the CONFIG register.
type ConfigReg byte

const (
	ConfigPrimRx    ConfigReg = 1 << iota // RX/TX control 1: PRX, 0: PTX.
	ConfigPwrUp                           // 1: power up, 0: power down.
	ConfigCRCO                            // CRC encoding scheme 0: one byte, 1: two bytes.
	ConfigEnCRC                           // Enable CRC.
	ConfigMaskMaxRT                       // Mask interrupt caused by MaxRT.
	ConfigMaskTxDS                        // Mask interrupt caused by TxDS.
	ConfigMaskRxDR                        // Mask interrupt caused by RxDR.
)

func (c ConfigReg) String() string {
	return flags(
		"Mask(RxDR+ TxDS+ MaxRT+) EnCRC+ CRCO+ PwrUp+ PrimRx+",
		0x7f, byte(c),
	)
}

// FIFO is the FIFO_STATUS register.
type FIFO byte

const (
	FIFORxEmpty FIFO = 1 << iota // RX FIFO empty.
	FIFORxFull                   // RX FIFO full.
	_
	_
	FIFOTxEmpty // TX FIFO empty.
	FIFOTxFull  // TX FIFO full.
	FIFOTxReuse // Reuse last transmitted payload.
)

func (f FIFO) String() string {
	return flags("TxReuse+ TxFull+ TxEmpty+ RxFull+ RxEmpty+", 0x73, byte(f))
}
