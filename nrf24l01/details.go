package nrf24l01

import (
	"fmt"
	"io"

	"github.com/soypat/rf24"
)

// WriteDetails writes the radio's configuration and status registers to w,
// one per line, for debugging wiring and link setup.
func (d *Device) WriteDetails(w io.Writer) error {
	for _, reg := range detailRegs {
		v, err := d.read8(byte(reg))
		if err != nil {
			return err
		}
		var decoded fmt.Stringer
		switch reg {
		case regCONFIG:
			decoded = ConfigReg(v)
		case regSTATUS:
			decoded = Status(v)
		case regFIFO_STATUS:
			decoded = FIFO(v)
		}
		if decoded != nil {
			_, err = fmt.Fprintf(w, "%-11s 0x%02x %08b %s\n", reg, v, v, decoded)
		} else {
			_, err = fmt.Fprintf(w, "%-11s 0x%02x %08b\n", reg, v, v)
		}
		if err != nil {
			return err
		}
	}
	for _, reg := range detailAddrRegs {
		var addr rf24.Address
		err := d.read(byte(reg), addr[:])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%-11s %s\n", reg, addr)
		if err != nil {
			return err
		}
	}
	return nil
}
