package packet

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	flowpkg "github.com/glo-fi/Followtbag/types"
)

var (
	ErrNoNetworkLayer       = errors.New("no supported IP layer found")
	ErrUnsupportedTransport = errors.New("unsupported transport protocol")
)

type PacketParser interface {
	ParsePacket(raw gopacket.Packet) (*flowpkg.ParsedPacket, error)

	// SupportedProtocols returns protocols this parser can handle
	// Returns:
	//    []uint8: Protocol numbers (6=TCP, 17=UDP, 132=SCTP)
	SupportedProtocols() []uint8
}

type StandardPacketParser struct{}

func (p *StandardPacketParser) ParsePacket(raw gopacket.Packet) (*flowpkg.ParsedPacket, error) {
	md := raw.Metadata()
	pkt := &flowpkg.ParsedPacket{
		Timestamp:     md.Timestamp,
		CaptureLength: md.CaptureLength,
		Length:        md.Length,
		// Number will be set by caller
	}

	p.parseLinkLayer(raw, pkt)
	ipPayloadLen, err := p.parseIPLayer(raw, pkt)
	if err != nil {
		return nil, fmt.Errorf("IP layer parsing failed: %w", err)
	}
	if err := p.parseTransportLayer(raw, pkt, ipPayloadLen); err != nil {
		return nil, fmt.Errorf("transport layer parsing failed: %w", err)
	}

	return pkt, nil
}

func (p *StandardPacketParser) parseLinkLayer(raw gopacket.Packet, pkt *flowpkg.ParsedPacket) {
	if ethLayer := raw.Layer(layers.LayerTypeEthernet); ethLayer != nil {
		eth := ethLayer.(*layers.Ethernet)
		pkt.DLSrc = flowpkg.AddressFromMAC(eth.SrcMAC)
		pkt.DLDst = flowpkg.AddressFromMAC(eth.DstMAC)
	}
}

// parseIPLayer fills the network addresses and returns the length of the IP
// payload as declared by the header.
func (p *StandardPacketParser) parseIPLayer(raw gopacket.Packet, pkt *flowpkg.ParsedPacket) (int, error) {
	if ipv4Layer := raw.Layer(layers.LayerTypeIPv4); ipv4Layer != nil {
		return p.parseIPv4(ipv4Layer.(*layers.IPv4), pkt), nil
	}

	if ipv6Layer := raw.Layer(layers.LayerTypeIPv6); ipv6Layer != nil {
		return p.parseIPv6(ipv6Layer.(*layers.IPv6), pkt), nil
	}

	return 0, ErrNoNetworkLayer
}

func (p *StandardPacketParser) parseIPv4(ipv4 *layers.IPv4, pkt *flowpkg.ParsedPacket) int {
	pkt.NetSrc = flowpkg.Address{Type: flowpkg.AddressIPv4, Data: ipv4.SrcIP.To4()}
	pkt.NetDst = flowpkg.Address{Type: flowpkg.AddressIPv4, Data: ipv4.DstIP.To4()}
	pkt.Protocol = uint8(ipv4.Protocol)
	return int(ipv4.Length) - int(ipv4.IHL)*4
}

func (p *StandardPacketParser) parseIPv6(ipv6 *layers.IPv6, pkt *flowpkg.ParsedPacket) int {
	pkt.NetSrc = flowpkg.Address{Type: flowpkg.AddressIPv6, Data: ipv6.SrcIP.To16()}
	pkt.NetDst = flowpkg.Address{Type: flowpkg.AddressIPv6, Data: ipv6.DstIP.To16()}
	pkt.Protocol = uint8(ipv6.NextHeader)
	return int(ipv6.Length) // IPv6 length field excludes the fixed header
}

func (p *StandardPacketParser) parseTransportLayer(raw gopacket.Packet, pkt *flowpkg.ParsedPacket, ipPayloadLen int) error {
	switch pkt.Protocol {
	case uint8(layers.IPProtocolTCP):
		return p.parseTCP(raw, pkt, ipPayloadLen)
	case uint8(layers.IPProtocolUDP):
		return p.parseUDP(raw, pkt)
	case uint8(layers.IPProtocolSCTP):
		return p.parseSCTP(raw, pkt)
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedTransport, pkt.Protocol)
	}
}

func (p *StandardPacketParser) parseTCP(raw gopacket.Packet, pkt *flowpkg.ParsedPacket, ipPayloadLen int) error {
	tcpLayer := raw.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return fmt.Errorf("no TCP layer found")
	}

	tcp := tcpLayer.(*layers.TCP)
	pkt.PortType = flowpkg.PortTCP
	pkt.SrcPort = uint16(tcp.SrcPort)
	pkt.DstPort = uint16(tcp.DstPort)
	pkt.TCPFlags = flagsAndOffset(tcp)
	pkt.Seq = uint64(tcp.Seq)
	pkt.Payload = tcp.Payload

	declared := ipPayloadLen - int(tcp.DataOffset)*4
	if declared < len(pkt.Payload) {
		// Either the length fields lie or there is link layer padding we
		// could not tell apart; trust the bytes we have.
		declared = len(pkt.Payload)
	}
	pkt.DeclaredLength = uint32(declared)
	return nil
}

func (p *StandardPacketParser) parseUDP(raw gopacket.Packet, pkt *flowpkg.ParsedPacket) error {
	udpLayer := raw.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return fmt.Errorf("no UDP layer found")
	}

	udp := udpLayer.(*layers.UDP)
	pkt.PortType = flowpkg.PortUDP
	pkt.SrcPort = uint16(udp.SrcPort)
	pkt.DstPort = uint16(udp.DstPort)
	pkt.Payload = udp.Payload
	pkt.DeclaredLength = uint32(len(udp.Payload))
	if int(udp.Length) > 8 && int(udp.Length)-8 > len(udp.Payload) {
		pkt.DeclaredLength = uint32(udp.Length) - 8
	}
	return nil
}

func (p *StandardPacketParser) parseSCTP(raw gopacket.Packet, pkt *flowpkg.ParsedPacket) error {
	sctpLayer := raw.Layer(layers.LayerTypeSCTP)
	if sctpLayer == nil {
		return fmt.Errorf("no SCTP layer found")
	}

	sctp := sctpLayer.(*layers.SCTP)
	pkt.PortType = flowpkg.PortSCTP
	pkt.SrcPort = uint16(sctp.SrcPort)
	pkt.DstPort = uint16(sctp.DstPort)
	return nil
}

func (p *StandardPacketParser) SupportedProtocols() []uint8 {
	return []uint8{6, 17, 132} // TCP, UDP, SCTP
}

// flagsAndOffset extracts TCP flags as a uint16
func flagsAndOffset(t *layers.TCP) uint16 {
	f := uint16(0)
	if t.FIN {
		f |= flowpkg.TCPFlagFIN
	}
	if t.SYN {
		f |= flowpkg.TCPFlagSYN
	}
	if t.RST {
		f |= flowpkg.TCPFlagRST
	}
	if t.PSH {
		f |= flowpkg.TCPFlagPSH
	}
	if t.ACK {
		f |= flowpkg.TCPFlagACK
	}
	if t.URG {
		f |= flowpkg.TCPFlagURG
	}
	if t.ECE {
		f |= flowpkg.TCPFlagECE
	}
	if t.CWR {
		f |= flowpkg.TCPFlagCWR
	}
	if t.NS {
		f |= flowpkg.TCPFlagNS
	}
	return f
}
