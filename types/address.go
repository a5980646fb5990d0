package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
)

type AddressType uint8

const (
	AddressNone AddressType = iota
	AddressEther
	AddressIPv4
	AddressIPv6
)

func (t AddressType) String() string {
	switch t {
	case AddressNone:
		return "none"
	case AddressEther:
		return "ether"
	case AddressIPv4:
		return "ipv4"
	case AddressIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Address is a typed, variable-length network or link address. Data may
// alias a packet buffer; use Clone before keeping it past the packet.
type Address struct {
	Type AddressType
	Data []byte
}

// AddressFromIP returns an IPv4 address for 4-byte (or v4-mapped) IPs and
// an IPv6 address otherwise. The bytes are not copied.
func AddressFromIP(ip net.IP) Address {
	if v4 := ip.To4(); v4 != nil {
		return Address{Type: AddressIPv4, Data: v4}
	}
	if len(ip) == net.IPv6len {
		return Address{Type: AddressIPv6, Data: ip}
	}
	return Address{}
}

func AddressFromMAC(mac net.HardwareAddr) Address {
	return Address{Type: AddressEther, Data: mac}
}

// Equal reports whether both the type tag and the bytes match.
func (a Address) Equal(b Address) bool {
	return a.Type == b.Type && bytes.Equal(a.Data, b.Data)
}

// Clone returns an Address owning a private copy of the bytes.
func (a Address) Clone() Address {
	if a.Data == nil {
		return Address{Type: a.Type}
	}
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return Address{Type: a.Type, Data: data}
}

func (a Address) IsZero() bool {
	return a.Type == AddressNone && len(a.Data) == 0
}

func (a Address) IP() net.IP {
	switch a.Type {
	case AddressIPv4, AddressIPv6:
		return net.IP(a.Data)
	}
	return nil
}

func (a Address) String() string {
	switch a.Type {
	case AddressIPv4, AddressIPv6:
		return net.IP(a.Data).String()
	case AddressEther:
		return net.HardwareAddr(a.Data).String()
	case AddressNone:
		if len(a.Data) == 0 {
			return ""
		}
	}
	return hex.EncodeToString(a.Data)
}
