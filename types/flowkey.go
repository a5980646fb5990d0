package types

import (
	"fmt"
)

// ConversationKey identifies a bidirectional conversation. The endpoints are
// stored in the order the first packet carried them; Matches treats the
// swapped order as the same conversation.
type ConversationKey struct {
	AddrA    Address
	AddrB    Address
	PortType PortType
	PortA    uint16
	PortB    uint16
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%s:%d<->%s:%d/%s",
		k.AddrA, k.PortA, k.AddrB, k.PortB, k.PortType)
}

// Matches reports whether other names the same conversation, in either
// endpoint order. The port type must always agree.
func (k ConversationKey) Matches(other ConversationKey) bool {
	if k.PortType != other.PortType {
		return false
	}
	if k.PortA == other.PortA && k.PortB == other.PortB &&
		k.AddrA.Equal(other.AddrA) && k.AddrB.Equal(other.AddrB) {
		return true
	}
	return k.PortA == other.PortB && k.PortB == other.PortA &&
		k.AddrA.Equal(other.AddrB) && k.AddrB.Equal(other.AddrA)
}

// Hash is an additive sum over every address byte and both ports. It is
// order independent, so both directions of a conversation land in the same
// bucket; Matches does the discriminating.
func (k ConversationKey) Hash() uint32 {
	var h uint32
	for _, b := range k.AddrA.Data {
		h += uint32(b)
	}
	for _, b := range k.AddrB.Data {
		h += uint32(b)
	}
	h += uint32(k.PortA)
	h += uint32(k.PortB)
	return h
}

// Clone returns a key owning private copies of both addresses.
func (k ConversationKey) Clone() ConversationKey {
	k.AddrA = k.AddrA.Clone()
	k.AddrB = k.AddrB.Clone()
	return k
}

// Reversed returns the key with its endpoints swapped.
func (k ConversationKey) Reversed() ConversationKey {
	return ConversationKey{
		AddrA:    k.AddrB,
		AddrB:    k.AddrA,
		PortType: k.PortType,
		PortA:    k.PortB,
		PortB:    k.PortA,
	}
}

// GetConversationKey builds the lookup key from the packet's network
// addresses, in packet order.
func (p *ParsedPacket) GetConversationKey() ConversationKey {
	return ConversationKey{
		AddrA:    p.NetSrc,
		AddrB:    p.NetDst,
		PortType: p.PortType,
		PortA:    p.SrcPort,
		PortB:    p.DstPort,
	}
}
