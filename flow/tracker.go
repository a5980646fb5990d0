package flow

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/glo-fi/Followtbag/conversation"
	"github.com/glo-fi/Followtbag/features"
	"github.com/glo-fi/Followtbag/follow"
	flowpkg "github.com/glo-fi/Followtbag/types"
)

// Conversation is the state kept for one conversation index.
type Conversation struct {
	Index       uint32
	Key         flowpkg.ConversationKey
	Stats       *features.ConversationStats
	Reassembler *follow.Reassembler // nil unless the conversation is followed
}

var _ FlowProcessor = (*Conversation)(nil)

// Direction returns which side of the conversation sent pkt. The endpoint
// that opened the conversation is forward.
func (c *Conversation) Direction(pkt *flowpkg.ParsedPacket) flowpkg.Direction {
	if pkt.SrcPort == c.Key.PortA && pkt.NetSrc.Equal(c.Key.AddrA) {
		return flowpkg.DirectionForward
	}
	return flowpkg.DirectionBackward
}

func (c *Conversation) Add(pkt *flowpkg.ParsedPacket) error {
	if err := c.Stats.ProcessPacket(pkt, c.Direction(pkt)); err != nil {
		return err
	}
	if c.Reassembler == nil || pkt.PortType != flowpkg.PortTCP {
		return nil
	}
	return c.Reassembler.Feed(follow.Segment{
		Src:     pkt.NetSrc,
		SrcPort: pkt.SrcPort,
		Seq:     pkt.Seq,
		Length:  pkt.DeclaredLength,
		SYN:     pkt.SYN(),
		Payload: pkt.Payload,
	})
}

func (c *Conversation) GetMetadata() *FlowMetadata {
	md := &FlowMetadata{
		Index:       c.Index,
		Key:         c.Key,
		FirstTime:   c.Stats.FirstTime(),
		LastTime:    c.Stats.LastTime(),
		PacketCount: c.Stats.Packets(flowpkg.DirectionForward) + c.Stats.Packets(flowpkg.DirectionBackward),
		IsBidir:     c.Stats.Packets(flowpkg.DirectionBackward) > 0,
		Followed:    c.Reassembler != nil,
	}
	if c.Reassembler != nil {
		md.Incomplete = c.Reassembler.Incomplete()
		md.Empty = c.Reassembler.Empty()
		md.Nodes[0], _ = c.Reassembler.Endpoint(flowpkg.DirectionForward)
		md.Nodes[1], _ = c.Reassembler.Endpoint(flowpkg.DirectionBackward)
	}
	return md
}

// Tracker assigns every packet to a conversation, keeps its statistics and
// feeds TCP segments of followed conversations to their reassembler. Like
// the table it wraps it belongs to one capture session and is not safe for
// concurrent use.
type Tracker struct {
	table    *conversation.Table
	convs    []*Conversation
	factory  SinkFactory
	diffPriv bool
	log      *logrus.Entry

	tooManyEndpoints int64
}

type Option func(*Tracker)

// WithDiffPriv makes payload statistics differentially private.
func WithDiffPriv(on bool) Option {
	return func(t *Tracker) { t.diffPriv = on }
}

func WithLogger(log *logrus.Entry) Option {
	return func(t *Tracker) { t.log = log }
}

// NewTracker returns a Tracker on table. factory may be nil, in which case
// nothing is reassembled.
func NewTracker(table *conversation.Table, factory SinkFactory, opts ...Option) *Tracker {
	t := &Tracker{table: table, factory: factory}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return t
}

// Add processes one packet and returns its conversation. Segments rejected
// by the reassembler are counted and logged there; they are not an error
// for the caller.
func (t *Tracker) Add(pkt *flowpkg.ParsedPacket) (*Conversation, error) {
	index := t.table.FindOrCreate(pkt.NetSrc, pkt.NetDst, pkt.PortType, pkt.SrcPort, pkt.DstPort)
	for uint32(len(t.convs)) <= index {
		t.convs = append(t.convs, nil)
	}
	conv := t.convs[index]
	if conv == nil {
		conv = t.newConversation(index, pkt)
		t.convs[index] = conv
	}

	err := conv.Add(pkt)
	if errors.Is(err, follow.ErrTooManyEndpoints) {
		t.tooManyEndpoints++
		return conv, nil
	}
	return conv, err
}

func (t *Tracker) newConversation(index uint32, pkt *flowpkg.ParsedPacket) *Conversation {
	conv := &Conversation{
		Index: index,
		Key:   pkt.GetConversationKey().Clone(),
		Stats: features.NewConversationStats(t.diffPriv),
	}
	if t.factory != nil && pkt.PortType == flowpkg.PortTCP {
		if sink := t.factory.CreateSink(index, conv.Key); sink != nil {
			conv.Reassembler = follow.NewReassembler(sink, t.log.WithField("conversation", index))
			t.log.WithFields(logrus.Fields{
				"conversation": index,
				"key":          conv.Key.String(),
			}).Info("Following TCP stream")
		}
	}
	return conv
}

// Conversation returns the conversation with the given index.
func (t *Tracker) Conversation(index uint32) (*Conversation, bool) {
	if index >= uint32(len(t.convs)) || t.convs[index] == nil {
		return nil, false
	}
	return t.convs[index], true
}

// Conversations returns every conversation ordered by index.
func (t *Tracker) Conversations() []*Conversation {
	out := make([]*Conversation, 0, len(t.convs))
	for _, c := range t.convs {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (t *Tracker) Len() int {
	return t.table.Len()
}

// TooManyEndpoints returns the number of segments dropped because their
// connection already had two endpoints.
func (t *Tracker) TooManyEndpoints() int64 {
	return t.tooManyEndpoints
}

// Reset starts a new capture session: the table, statistics and every
// reassembler are cleared.
func (t *Tracker) Reset() {
	for _, c := range t.convs {
		if c != nil && c.Reassembler != nil {
			c.Reassembler.Reset()
		}
	}
	t.convs = nil
	t.tooManyEndpoints = 0
	t.table.Reset()
}
