package types

import (
	"time"
)

// TCP flag bits as laid out in the TCP header.
const (
	TCPFlagFIN uint16 = 0x0001
	TCPFlagSYN uint16 = 0x0002
	TCPFlagRST uint16 = 0x0004
	TCPFlagPSH uint16 = 0x0008
	TCPFlagACK uint16 = 0x0010
	TCPFlagURG uint16 = 0x0020
	TCPFlagECE uint16 = 0x0040
	TCPFlagCWR uint16 = 0x0080
	TCPFlagNS  uint16 = 0x0100
)

type ParsedPacket struct {
	Number    int64 // Frame number within the capture, starting at 1
	Timestamp time.Time

	CaptureLength int // Bytes captured
	Length        int // Bytes on the wire

	DLSrc Address // Link layer source, if any
	DLDst Address

	NetSrc   Address // Network layer source (IPv4 or IPv6)
	NetDst   Address
	Protocol uint8 // IP protocol number

	PortType PortType
	SrcPort  uint16
	DstPort  uint16

	TCPFlags uint16
	Seq      uint64

	// DeclaredLength is the payload length implied by the IP and transport
	// headers. It exceeds len(Payload) when the capture was truncated.
	DeclaredLength uint32
	Payload        []byte
}

func (p *ParsedPacket) HasFlag(flag uint16) bool {
	return p.TCPFlags&flag != 0
}

func (p *ParsedPacket) SYN() bool {
	return p.HasFlag(TCPFlagSYN)
}
