package rf24

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MaxChannel is the highest RF channel. Channel n sits at 2400+n MHz.
	MaxChannel = 125
	// MaxPayloadSize is the largest dynamic payload a packet or ACK can carry.
	MaxPayloadSize = 32
	// FIFODepth is the number of packets the RX and TX FIFOs each hold.
	FIFODepth = 3
)

// AddressPrefix is shared by every node of a network. A node's full 5 byte
// address is the prefix followed by its 1 byte identifier.
var AddressPrefix = [4]byte{1, 2, 3, 4}

// Config is the link configuration of a node. It is written once when the
// radio is configured; both ends of a link must agree on Channel and Bitrate.
type Config struct {
	// NodeID is the last byte of this radio's address. Uniqueness within a
	// network is up to the caller.
	NodeID uint8
	// Channel is clamped to MaxChannel when written to the radio.
	Channel uint8
	// Bitrate selects air data rate and the derived retry and polling timing.
	// Lower bitrates reach further but keep the radio on air longer.
	Bitrate Bitrate
}

// TimeOnAir returns the time it takes to put a single Enhanced ShockBurst
// packet carrying payloadLength bytes on air. It counts:
//   - 1 byte preamble
//   - 5 byte address
//   - 9 bit packet control field (length, PID, no-ack flag)
//   - payload
//   - 1 byte CRC
//
// ACK turnaround and retransmission delays are not included.
func (cfg *Config) TimeOnAir(payloadLength int) time.Duration {
	if payloadLength < 0 {
		payloadLength = 0
	} else if payloadLength > MaxPayloadSize {
		payloadLength = MaxPayloadSize
	}
	bits := int64(8+5*8+9+8) + 8*int64(payloadLength)
	return time.Second * time.Duration(bits) / time.Duration(cfg.Bitrate.BitsPerSecond())
}

// Address is a 5 byte radio address as written to the TX_ADDR and RX_ADDR
// registers, least significant byte first.
type Address [5]byte

// NodeAddress returns the address of node id: AddressPrefix followed by id.
func NodeAddress(id uint8) Address {
	p := AddressPrefix
	return Address{p[0], p[1], p[2], p[3], id}
}

// NodeID returns the identifier byte of the address.
func (a Address) NodeID() uint8 { return a[4] }

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4])
}

// ClampChannel limits ch to the valid range [0, MaxChannel].
func ClampChannel(ch uint8) uint8 {
	if ch > MaxChannel {
		return MaxChannel
	}
	return ch
}

// Bitrate is one of the three air data rates of the link.
type Bitrate uint8

const (
	Bitrate2Mbps Bitrate = iota
	Bitrate1Mbps
	Bitrate250kbps
)

// BitsPerSecond returns the raw air data rate. Values outside the three
// defined tiers are treated as Bitrate250kbps.
func (b Bitrate) BitsPerSecond() int64 {
	switch b {
	case Bitrate2Mbps:
		return 2_000_000
	case Bitrate1Mbps:
		return 1_000_000
	default:
		return 250_000
	}
}

func (b Bitrate) String() (s string) {
	switch b {
	case Bitrate2Mbps:
		s = "2mbps"
	case Bitrate1Mbps:
		s = "1mbps"
	case Bitrate250kbps:
		s = "250kbps"
	default:
		s = "unknown"
	}
	return s
}

var errBadBitrate = errors.New("bad bitrate, want one of 2mbps, 1mbps, 250kbps")

// ParseBitrate parses the names returned by Bitrate.String. Matching is case
// insensitive.
func ParseBitrate(s string) (Bitrate, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "2mbps":
		return Bitrate2Mbps, nil
	case "1mbps":
		return Bitrate1Mbps, nil
	case "250kbps":
		return Bitrate250kbps, nil
	}
	return 0, errBadBitrate
}

// SendType selects whether a transmitted packet requests an acknowledgment.
type SendType uint8

const (
	// RequireAck makes the receiving radio reply with an ACK. The sender
	// retries until the ACK arrives or the retry count is exhausted.
	RequireAck SendType = iota
	// NoAck sends the packet once and never waits for a reply.
	NoAck
)

func (st SendType) String() string {
	if st == NoAck {
		return "no-ack"
	}
	return "require-ack"
}
