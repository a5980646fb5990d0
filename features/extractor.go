package features

import (
	flowpkg "github.com/glo-fi/Followtbag/types"
)

// FeatureExtractor accumulates statistics for one conversation.
type FeatureExtractor interface {
	ProcessPacket(pkt *flowpkg.ParsedPacket, dir flowpkg.Direction) error
	Export() ([]string, error)
	GetHeaders() []string
	Reset()
}
