package types

import (
	"fmt"
)

type PortType uint8

const (
	PortNone PortType = iota
	PortSCTP
	PortTCP
	PortUDP
)

func (p PortType) String() string {
	switch p {
	case PortNone:
		return "none"
	case PortSCTP:
		return "sctp"
	case PortTCP:
		return "tcp"
	case PortUDP:
		return "udp"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}
