package flow

import (
	"time"

	"github.com/glo-fi/Followtbag/follow"
	flowpkg "github.com/glo-fi/Followtbag/types"
)

// FlowProcessor is the per-conversation state the Tracker drives.
type FlowProcessor interface {
	// Add processes a single packet and updates the conversation's internal state
	Add(pkt *flowpkg.ParsedPacket) error
	// GetMetadata returns basic information about this conversation
	GetMetadata() *FlowMetadata
}

// FlowMetadata contains basic conversation information
type FlowMetadata struct {
	Index       uint32
	Key         flowpkg.ConversationKey
	FirstTime   time.Time
	LastTime    time.Time
	PacketCount int64
	IsBidir     bool
	Followed    bool
	Incomplete  bool // Some followed segment was truncated by the capture
	Empty       bool // Followed, but no payload byte was delivered
	Nodes       [2]follow.Endpoint
}
