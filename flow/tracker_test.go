package flow

import (
	"net"
	"testing"
	"time"

	"github.com/glo-fi/Followtbag/conversation"
	"github.com/glo-fi/Followtbag/follow"
	flowpkg "github.com/glo-fi/Followtbag/types"
)

var (
	client = flowpkg.AddressFromIP(net.ParseIP("192.168.0.10"))
	server = flowpkg.AddressFromIP(net.ParseIP("192.168.0.1"))
)

func tcpPkt(src, dst flowpkg.Address, sport, dport uint16, seq uint64, flags uint16, payload string) *flowpkg.ParsedPacket {
	return &flowpkg.ParsedPacket{
		Timestamp:      time.Unix(1700000000, 0),
		Length:         54 + len(payload),
		NetSrc:         src,
		NetDst:         dst,
		Protocol:       6,
		PortType:       flowpkg.PortTCP,
		SrcPort:        sport,
		DstPort:        dport,
		TCPFlags:       flags,
		Seq:            seq,
		DeclaredLength: uint32(len(payload)),
		Payload:        []byte(payload),
	}
}

func TestTrackerFollowsSelectedConversation(t *testing.T) {
	var sink follow.BufferSink
	tr := NewTracker(conversation.New(nil), &FollowIndexFactory{Index: 1, Sink: &sink})

	// Conversation 0 is UDP and never reassembled.
	udp := &flowpkg.ParsedPacket{NetSrc: client, NetDst: server, PortType: flowpkg.PortUDP, SrcPort: 5353, DstPort: 53, Payload: []byte("q")}
	if c, err := tr.Add(udp); err != nil || c.Index != 0 || c.Reassembler != nil {
		t.Fatalf("udp packet: %+v, %v", c, err)
	}

	pkts := []*flowpkg.ParsedPacket{
		tcpPkt(client, server, 40000, 80, 1000, flowpkg.TCPFlagSYN, ""),
		tcpPkt(server, client, 80, 40000, 5000, flowpkg.TCPFlagSYN|flowpkg.TCPFlagACK, ""),
		tcpPkt(client, server, 40000, 80, 1001, flowpkg.TCPFlagACK, ""),
		tcpPkt(client, server, 40000, 80, 1009, flowpkg.TCPFlagACK|flowpkg.TCPFlagPSH, "HTTP/1.0\r\n\r\n"),
		tcpPkt(client, server, 40000, 80, 1001, flowpkg.TCPFlagACK|flowpkg.TCPFlagPSH, "GET /ab "),
		tcpPkt(server, client, 80, 40000, 5001, flowpkg.TCPFlagACK|flowpkg.TCPFlagPSH, "HTTP/1.0 200 OK\r\n"),
		tcpPkt(client, server, 40000, 80, 1001, flowpkg.TCPFlagACK|flowpkg.TCPFlagPSH, "GET /ab "),
	}
	for i, p := range pkts {
		c, err := tr.Add(p)
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if c.Index != 1 {
			t.Fatalf("packet %d landed in conversation %d", i, c.Index)
		}
	}

	if got := string(sink.Stream(flowpkg.DirectionForward)); got != "GET /ab HTTP/1.0\r\n\r\n" {
		t.Errorf("client stream = %q", got)
	}
	if got := string(sink.Stream(flowpkg.DirectionBackward)); got != "HTTP/1.0 200 OK\r\n" {
		t.Errorf("server stream = %q", got)
	}

	c, ok := tr.Conversation(1)
	if !ok {
		t.Fatal("conversation 1 missing")
	}
	md := c.GetMetadata()
	if !md.Followed || !md.IsBidir || md.PacketCount != 7 || md.Empty || md.Incomplete {
		t.Errorf("metadata = %+v", md)
	}
	if !md.Nodes[0].Addr.Equal(client) || md.Nodes[0].Port != 40000 || !md.Nodes[1].Addr.Equal(server) {
		t.Errorf("nodes = %+v", md.Nodes)
	}
	if c.Stats.Packets(flowpkg.DirectionForward) != 5 || c.Stats.Packets(flowpkg.DirectionBackward) != 2 {
		t.Errorf("packets = %d/%d", c.Stats.Packets(flowpkg.DirectionForward), c.Stats.Packets(flowpkg.DirectionBackward))
	}
}

func TestTrackerDirectionFollowsFirstPacket(t *testing.T) {
	tr := NewTracker(conversation.New(nil), nil)
	first, _ := tr.Add(tcpPkt(server, client, 80, 40000, 1, flowpkg.TCPFlagACK, "x"))
	if first.Direction(tcpPkt(client, server, 40000, 80, 1, 0, "")) != flowpkg.DirectionBackward {
		t.Fatal("client packet should be backward when the server spoke first")
	}
	if first.Reassembler != nil {
		t.Fatal("reassembler created without a factory")
	}
}

func TestTrackerReset(t *testing.T) {
	var sink follow.BufferSink
	tr := NewTracker(conversation.New(nil), SinkFactoryFunc(func(uint32, flowpkg.ConversationKey) follow.Sink { return &sink }))
	tr.Add(tcpPkt(client, server, 1, 2, 0, 0, "a"))
	tr.Add(tcpPkt(client, server, 3, 4, 0, 0, "b"))
	if tr.Len() != 2 || len(tr.Conversations()) != 2 {
		t.Fatalf("Len = %d", tr.Len())
	}

	tr.Reset()
	if tr.Len() != 0 || len(tr.Conversations()) != 0 {
		t.Fatalf("Len = %d after Reset", tr.Len())
	}
	c, _ := tr.Add(tcpPkt(client, server, 3, 4, 0, 0, "b"))
	if c.Index != 0 {
		t.Fatalf("index after Reset = %d", c.Index)
	}
}

func TestMultiFactory(t *testing.T) {
	var a, b follow.BufferSink
	m := MultiFactory{&FollowIndexFactory{Index: 0, Sink: &a}, &FollowIndexFactory{Index: 0, Sink: &b}, &FollowIndexFactory{Index: 7}}
	sink := m.CreateSink(0, flowpkg.ConversationKey{})
	if sink == nil {
		t.Fatal("no sink for index 0")
	}
	sink.AppendBytes(flowpkg.DirectionForward, []byte("x"))
	if len(a.Chunks) != 1 || len(b.Chunks) != 1 {
		t.Fatalf("chunks = %d/%d", len(a.Chunks), len(b.Chunks))
	}
	if m.CreateSink(3, flowpkg.ConversationKey{}) != nil {
		t.Fatal("sink created for an unfollowed index")
	}
}
