package features

import (
	"fmt"
	"time"

	flowpkg "github.com/glo-fi/Followtbag/types"
)

const (
	TOTAL_FPACKETS = iota
	TOTAL_FVOLUME
	TOTAL_BPACKETS
	TOTAL_BVOLUME
	FPAYLOAD
	BPAYLOAD
	NUM_FEATURES
)

var statsHeaders = []string{
	"Total Fwd Pkts",
	"Total Fwd Vol",
	"Total Bwd Pkts",
	"Total Bwd Vol",
	"Fwd Payload Min", "Fwd Payload Mean", "Fwd Payload Max", "Fwd Payload Std",
	"Bwd Payload Min", "Bwd Payload Mean", "Bwd Payload Max", "Bwd Payload Std",
	"Duration",
}

// ConversationStats counts packets, bytes and payload sizes per direction.
type ConversationStats struct {
	f         [NUM_FEATURES]Feature
	diffPriv  bool
	firstTime time.Time
	lastTime  time.Time
}

var _ FeatureExtractor = (*ConversationStats)(nil)

func NewConversationStats(diffPriv bool) *ConversationStats {
	s := &ConversationStats{diffPriv: diffPriv}
	s.Reset()
	return s
}

func (s *ConversationStats) Reset() {
	for i := range s.f {
		switch i {
		case FPAYLOAD, BPAYLOAD:
			s.f[i] = NewDistribution(s.diffPriv)
		default:
			s.f[i] = new(ValueFeature)
		}
	}
	s.firstTime = time.Time{}
	s.lastTime = time.Time{}
}

func (s *ConversationStats) ProcessPacket(pkt *flowpkg.ParsedPacket, dir flowpkg.Direction) error {
	if s.firstTime.IsZero() || pkt.Timestamp.Before(s.firstTime) {
		s.firstTime = pkt.Timestamp
	}
	if pkt.Timestamp.After(s.lastTime) {
		s.lastTime = pkt.Timestamp
	}
	switch dir {
	case flowpkg.DirectionForward:
		s.f[TOTAL_FPACKETS].Add(1)
		s.f[TOTAL_FVOLUME].Add(int64(pkt.Length))
		s.f[FPAYLOAD].Add(int64(pkt.DeclaredLength))
	case flowpkg.DirectionBackward:
		s.f[TOTAL_BPACKETS].Add(1)
		s.f[TOTAL_BVOLUME].Add(int64(pkt.Length))
		s.f[BPAYLOAD].Add(int64(pkt.DeclaredLength))
	default:
		return fmt.Errorf("invalid direction %s", dir)
	}
	return nil
}

func (s *ConversationStats) GetHeaders() []string {
	return statsHeaders
}

func (s *ConversationStats) Packets(dir flowpkg.Direction) int64 {
	if dir == flowpkg.DirectionBackward {
		return s.f[TOTAL_BPACKETS].Get()
	}
	return s.f[TOTAL_FPACKETS].Get()
}

func (s *ConversationStats) Bytes(dir flowpkg.Direction) int64 {
	if dir == flowpkg.DirectionBackward {
		return s.f[TOTAL_BVOLUME].Get()
	}
	return s.f[TOTAL_FVOLUME].Get()
}

func (s *ConversationStats) FirstTime() time.Time { return s.firstTime }
func (s *ConversationStats) LastTime() time.Time  { return s.lastTime }

func (s *ConversationStats) Duration() time.Duration {
	return s.lastTime.Sub(s.firstTime)
}

// Export renders the statistics in GetHeaders order.
func (s *ConversationStats) Export() ([]string, error) {
	out := make([]string, 0, len(statsHeaders))
	for _, v := range s.Values() {
		out = append(out, formatValue(v))
	}
	return out, nil
}

// Values returns the statistics in GetHeaders order as numbers.
func (s *ConversationStats) Values() []float64 {
	out := make([]float64, 0, len(statsHeaders))
	for i := TOTAL_FPACKETS; i <= TOTAL_BVOLUME; i++ {
		out = append(out, float64(s.f[i].Get()))
	}
	for _, i := range []int{FPAYLOAD, BPAYLOAD} {
		min, mean, max, sd := s.f[i].(Distribution).Summary()
		out = append(out, min, mean, max, sd)
	}
	out = append(out, float64(s.Duration().Microseconds()))
	return out
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%f", v)
}
