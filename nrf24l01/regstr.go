package nrf24l01

type regstr uint8

// Registers dumped by WriteDetails, in address order.
var detailRegs = [...]regstr{
	regCONFIG,
	regEN_AA,
	regEN_RXADDR,
	regSETUP_AW,
	regSETUP_RETR,
	regRF_CH,
	regRF_SETUP,
	regSTATUS,
	regOBSERVE_TX,
	regRX_PW_P0,
	regRX_PW_P1,
	regFIFO_STATUS,
	regDYNPD,
	regFEATURE,
}

// Multi-byte address registers dumped by WriteDetails.
var detailAddrRegs = [...]regstr{
	regTX_ADDR,
	regRX_ADDR_P0,
	regRX_ADDR_P1,
}

func (r regstr) String() (s string) {
	switch r {
	case regCONFIG:
		s = "CONFIG"
	case regEN_AA:
		s = "EN_AA"
	case regEN_RXADDR:
		s = "EN_RXADDR"
	case regSETUP_AW:
		s = "SETUP_AW"
	case regSETUP_RETR:
		s = "SETUP_RETR"
	case regRF_CH:
		s = "RF_CH"
	case regRF_SETUP:
		s = "RF_SETUP"
	case regSTATUS:
		s = "STATUS"
	case regOBSERVE_TX:
		s = "OBSERVE_TX"
	case regRPD:
		s = "RPD"
	case regRX_ADDR_P0:
		s = "RX_ADDR_P0"
	case regRX_ADDR_P1:
		s = "RX_ADDR_P1"
	case regTX_ADDR:
		s = "TX_ADDR"
	case regRX_PW_P0:
		s = "RX_PW_P0"
	case regRX_PW_P1:
		s = "RX_PW_P1"
	case regFIFO_STATUS:
		s = "FIFO_STATUS"
	case regDYNPD:
		s = "DYNPD"
	case regFEATURE:
		s = "FEATURE"
	default:
		s = "UNKNOWN"
	}
	return s
}
