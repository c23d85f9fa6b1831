package nrf24l01

import (
	"testing"

	"github.com/soypat/rf24"
)

func TestTimingTable(t *testing.T) {
	testCases := []struct {
		br        rf24.Bitrate
		rfSetup   byte
		setupRetr byte
	}{
		{br: rf24.Bitrate2Mbps, rfSetup: 0x0e, setupRetr: 0x1f},
		{br: rf24.Bitrate1Mbps, rfSetup: 0x06, setupRetr: 0x1f},
		{br: rf24.Bitrate250kbps, rfSetup: 0x26, setupRetr: 0x5f},
	}
	for _, tC := range testCases {
		t.Run(tC.br.String(), func(t *testing.T) {
			lt := timingFor(tC.br)
			if lt.rfSetup != tC.rfSetup || lt.setupRetr != tC.setupRetr {
				t.Errorf("got RF_SETUP=%#x SETUP_RETR=%#x, want %#x %#x", lt.rfSetup, lt.setupRetr, tC.rfSetup, tC.setupRetr)
			}
			if got := bitrateFromRFSetup(lt.rfSetup); got != tC.br {
				t.Errorf("RF_SETUP %#x decoded as %s", lt.rfSetup, got)
			}
		})
	}
	if timingFor(rf24.Bitrate(200)) != timingFor(rf24.Bitrate250kbps) {
		t.Error("unknown bitrate should fall back to 250kbps timing")
	}
}

func TestTimingOrdering(t *testing.T) {
	fast := timingFor(rf24.Bitrate2Mbps)
	mid := timingFor(rf24.Bitrate1Mbps)
	slow := timingFor(rf24.Bitrate250kbps)
	if !(fast.dataCheckInterval < mid.dataCheckInterval && mid.dataCheckInterval < slow.dataCheckInterval) {
		t.Error("data check interval must grow as bitrate falls")
	}
	if !(fast.retryWait < mid.retryWait && mid.retryWait < slow.retryWait) {
		t.Error("retry wait must grow as bitrate falls")
	}
	// Retry delay nibble, 250µs steps starting at 250µs.
	for _, lt := range linkTimings {
		ard := 250 * (int(lt.setupRetr>>4) + 1)
		if ard < 500 {
			t.Errorf("retry delay %dµs too short for an ACK payload", ard)
		}
		if lt.setupRetr&0x0f != 15 {
			t.Errorf("want 15 retries, got %d", lt.setupRetr&0x0f)
		}
	}
}

func TestStatusString(t *testing.T) {
	testCases := []struct {
		s    Status
		pipe int
		str  string
	}{
		{s: 0x0e, pipe: -1, str: "RxDR- TxDS- MaxRT- TxFull- RxPipe:-1"},
		{s: 0x42, pipe: 1, str: "RxDR+ TxDS- MaxRT- TxFull- RxPipe:1"},
		{s: 0x31, pipe: 0, str: "RxDR- TxDS+ MaxRT+ TxFull+ RxPipe:0"},
	}
	for _, tC := range testCases {
		if got := tC.s.RxPipe(); got != tC.pipe {
			t.Errorf("%#x: RxPipe=%d, want %d", byte(tC.s), got, tC.pipe)
		}
		if got := tC.s.String(); got != tC.str {
			t.Errorf("%#x: got %q, want %q", byte(tC.s), got, tC.str)
		}
	}
}

func TestConfigFIFOString(t *testing.T) {
	cfg := ConfigEnCRC | ConfigPwrUp | ConfigPrimRx
	if got := cfg.String(); got != "Mask(RxDR- TxDS- MaxRT-) EnCRC+ CRCO- PwrUp+ PrimRx+" {
		t.Errorf("got %q", got)
	}
	fifo := FIFOTxEmpty | FIFORxEmpty
	if got := fifo.String(); got != "TxReuse- TxFull- TxEmpty+ RxFull- RxEmpty+" {
		t.Errorf("got %q", got)
	}
}

func TestRegstr(t *testing.T) {
	for _, r := range detailRegs {
		if r.String() == "UNKNOWN" {
			t.Errorf("register %#x has no name", byte(r))
		}
	}
	for _, r := range detailAddrRegs {
		if r.String() == "UNKNOWN" {
			t.Errorf("register %#x has no name", byte(r))
		}
	}
}
