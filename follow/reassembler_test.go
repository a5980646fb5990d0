package follow

import (
	"bytes"
	"errors"
	"math/rand"
	"net"
	"testing"

	"github.com/glo-fi/Followtbag/types"
)

var (
	hostA = types.AddressFromIP(net.ParseIP("10.0.0.1"))
	hostB = types.AddressFromIP(net.ParseIP("10.0.0.2"))
	hostC = types.AddressFromIP(net.ParseIP("10.0.0.3"))
)

func seg(src types.Address, seq uint64, data string) Segment {
	return Segment{Src: src, SrcPort: 1000, Seq: seq, Length: uint32(len(data)), Payload: []byte(data)}
}

func TestReassemblyScenario(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)

	// The first segment of a direction is delivered as is, so open the
	// direction at sequence 0 with an empty segment.
	if err := r.Feed(seg(hostA, 0, "")); err != nil {
		t.Fatal(err)
	}
	if err := r.Feed(seg(hostA, 4, "EFGH")); err != nil {
		t.Fatal(err)
	}
	if len(sink.Chunks) != 0 {
		t.Fatalf("out of order segment delivered early: %q", sink.Chunks)
	}
	if r.Pending(types.DirectionForward) != 1 {
		t.Fatalf("pending = %d, want 1", r.Pending(types.DirectionForward))
	}
	if err := r.Feed(seg(hostA, 0, "ABCD")); err != nil {
		t.Fatal(err)
	}

	want := []string{"ABCD", "EFGH"}
	if len(sink.Chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(sink.Chunks), len(want))
	}
	for i, c := range sink.Chunks {
		if string(c.Data) != want[i] || c.Dir != types.DirectionForward {
			t.Errorf("chunk %d = %s %q, want forward %q", i, c.Dir, c.Data, want[i])
		}
	}
	if got := string(sink.Stream(types.DirectionForward)); got != "ABCDEFGH" {
		t.Fatalf("stream = %q", got)
	}
	if r.Pending(types.DirectionForward) != 0 || r.NextSeq(types.DirectionForward) != 8 {
		t.Fatalf("pending %d next %d after drain", r.Pending(types.DirectionForward), r.NextSeq(types.DirectionForward))
	}
}

func TestFirstSegmentDeliveredImmediately(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(seg(hostA, 1000, "hello"))
	if got := string(sink.Stream(types.DirectionForward)); got != "hello" {
		t.Fatalf("stream = %q", got)
	}
	if r.NextSeq(types.DirectionForward) != 1005 {
		t.Fatalf("next = %d, want 1005", r.NextSeq(types.DirectionForward))
	}
}

func TestSYNConsumesSequenceNumber(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(Segment{Src: hostA, Seq: 100, SYN: true})
	if r.NextSeq(types.DirectionForward) != 101 {
		t.Fatalf("next after SYN = %d, want 101", r.NextSeq(types.DirectionForward))
	}
	r.Feed(seg(hostA, 101, "GET / HTTP/1.0\r\n"))
	if got := string(sink.Stream(types.DirectionForward)); got != "GET / HTTP/1.0\r\n" {
		t.Fatalf("stream = %q", got)
	}
}

func TestOrderIndependence(t *testing.T) {
	const stream = "The quick brown fox jumps over the lazy dog, twice over."
	sizes := []int{3, 7, 1, 9, 5, 11, 4, 8, 8}

	type piece struct {
		seq  uint64
		data string
	}
	var pieces []piece
	off := 0
	for _, n := range sizes {
		pieces = append(pieces, piece{seq: uint64(off), data: stream[off : off+n]})
		off += n
	}

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 200; round++ {
		var sink BufferSink
		r := NewReassembler(&sink, nil)
		r.Feed(seg(hostA, 0, ""))
		order := rng.Perm(len(pieces))
		for _, i := range order {
			r.Feed(seg(hostA, pieces[i].seq, pieces[i].data))
		}
		if got := string(sink.Stream(types.DirectionForward)); got != stream {
			t.Fatalf("order %v: stream = %q", order, got)
		}
		if r.Pending(types.DirectionForward) != 0 {
			t.Fatalf("order %v: %d fragments left pending", order, r.Pending(types.DirectionForward))
		}
	}
}

func TestDuplicateSuppression(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(seg(hostA, 0, "ABCD"))
	r.Feed(seg(hostA, 4, "EFGH"))
	before := len(sink.Chunks)

	r.Feed(seg(hostA, 4, "EFGH"))
	r.Feed(seg(hostA, 0, "ABCD"))
	r.Feed(seg(hostA, 2, "CD"))

	if len(sink.Chunks) != before {
		t.Fatalf("duplicates produced %d extra deliveries", len(sink.Chunks)-before)
	}
	if st := r.Stats(types.DirectionForward); st.Retransmissions != 3 {
		t.Fatalf("retransmissions = %d, want 3", st.Retransmissions)
	}
}

func TestOverlapTrimming(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(seg(hostA, 0, "ABCD"))
	r.Feed(seg(hostA, 2, "CDEF"))

	if len(sink.Chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(sink.Chunks))
	}
	if got := string(sink.Chunks[1].Data); got != "EF" {
		t.Fatalf("overlapping segment delivered %q, want %q", got, "EF")
	}
	if r.NextSeq(types.DirectionForward) != 6 {
		t.Fatalf("next = %d, want 6", r.NextSeq(types.DirectionForward))
	}
}

func TestOverlapTrimDrainsPending(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(seg(hostA, 0, "AB"))
	r.Feed(seg(hostA, 6, "GH"))
	r.Feed(seg(hostA, 1, "BCDEF"))

	if got := string(sink.Stream(types.DirectionForward)); got != "ABCDEFGH" {
		t.Fatalf("stream = %q", got)
	}
}

func TestStalePendingFragments(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(seg(hostA, 0, "A"))
	r.Feed(seg(hostA, 3, "D"))    // Covered once the next segment lands.
	r.Feed(seg(hostA, 4, "EFG"))  // Straddles the end of the next segment.
	r.Feed(seg(hostA, 1, "BCDE")) // Fills the gap and overtakes both.

	if got := string(sink.Stream(types.DirectionForward)); got != "ABCDEFG" {
		t.Fatalf("stream = %q", got)
	}
	if r.Pending(types.DirectionForward) != 0 {
		t.Fatalf("%d fragments left pending", r.Pending(types.DirectionForward))
	}
}

func TestPendingPayloadIsCopied(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(seg(hostA, 0, "A"))

	buf := []byte("CD")
	r.Feed(Segment{Src: hostA, Seq: 2, Length: 2, Payload: buf})
	copy(buf, "xx")
	r.Feed(seg(hostA, 1, "B"))

	if got := string(sink.Stream(types.DirectionForward)); got != "ABCD" {
		t.Fatalf("stream = %q", got)
	}
}

func TestTwoDirections(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(Segment{Src: hostA, SrcPort: 40000, Seq: 10, SYN: true})
	r.Feed(Segment{Src: hostB, SrcPort: 80, Seq: 500, SYN: true})
	r.Feed(seg(hostA, 11, "ping"))
	r.Feed(seg(hostB, 505, "!"))
	r.Feed(seg(hostB, 501, "pong"))

	if got := string(sink.Stream(types.DirectionForward)); got != "ping" {
		t.Errorf("forward stream = %q", got)
	}
	if got := string(sink.Stream(types.DirectionBackward)); got != "pong!" {
		t.Errorf("backward stream = %q", got)
	}
	ep, ok := r.Endpoint(types.DirectionBackward)
	if !ok || !ep.Addr.Equal(hostB) || ep.Port != 80 {
		t.Errorf("backward endpoint = %v:%d, %v", ep.Addr, ep.Port, ok)
	}
}

func TestThirdEndpoint(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(seg(hostA, 0, "AA"))
	r.Feed(seg(hostB, 0, "BB"))

	err := r.Feed(seg(hostC, 0, "CC"))
	if !errors.Is(err, ErrTooManyEndpoints) {
		t.Fatalf("third endpoint error = %v", err)
	}
	if r.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", r.Dropped())
	}

	r.Feed(seg(hostA, 4, "aa"))
	r.Feed(seg(hostA, 2, "AA"))
	r.Feed(seg(hostB, 2, "BB"))

	if got := string(sink.Stream(types.DirectionForward)); got != "AAAAaa" {
		t.Errorf("forward stream = %q", got)
	}
	if got := string(sink.Stream(types.DirectionBackward)); got != "BBBB" {
		t.Errorf("backward stream = %q", got)
	}
	for _, c := range sink.Chunks {
		if bytes.Contains(c.Data, []byte("CC")) {
			t.Fatalf("third endpoint data delivered")
		}
	}
}

func TestSameAddressBytesDifferentType(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(seg(hostA, 0, "v4"))
	r.Feed(seg(types.Address{Type: types.AddressNone, Data: hostA.Data}, 0, "raw"))

	if got := string(sink.Stream(types.DirectionBackward)); got != "raw" {
		t.Fatalf("address type ignored: backward stream = %q", got)
	}
}

func TestReset(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(seg(hostA, 0, "AB"))
	r.Feed(seg(hostA, 10, "late"))
	r.Feed(seg(hostB, 0, "x"))

	r.Reset()
	sink.Reset()
	for _, dir := range []types.Direction{types.DirectionForward, types.DirectionBackward} {
		if r.Pending(dir) != 0 || r.NextSeq(dir) != 0 {
			t.Fatalf("%s: pending %d next %d after Reset", dir, r.Pending(dir), r.NextSeq(dir))
		}
		if _, ok := r.Endpoint(dir); ok {
			t.Fatalf("%s still claimed after Reset", dir)
		}
	}
	if !r.Empty() {
		t.Fatal("Empty = false after Reset")
	}

	// A new connection may now use a source that was previously the third.
	if err := r.Feed(seg(hostC, 7, "new")); err != nil {
		t.Fatal(err)
	}
	if got := string(sink.Stream(types.DirectionForward)); got != "new" {
		t.Fatalf("stream after Reset = %q", got)
	}
}

func TestIncompleteSegments(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(Segment{Src: hostA, Seq: 0, Length: 10, Payload: []byte("trunc")})
	if !r.Incomplete() {
		t.Fatal("truncated segment not flagged")
	}
	if r.NextSeq(types.DirectionForward) != 10 {
		t.Fatalf("next = %d, want declared end 10", r.NextSeq(types.DirectionForward))
	}
	if got := string(sink.Stream(types.DirectionForward)); got != "trunc" {
		t.Fatalf("stream = %q", got)
	}
}

func TestExcessPayloadIgnored(t *testing.T) {
	var sink BufferSink
	r := NewReassembler(&sink, nil)
	r.Feed(Segment{Src: hostA, Seq: 0, Length: 3, Payload: []byte("abcPADDING")})
	if got := string(sink.Stream(types.DirectionForward)); got != "abc" {
		t.Fatalf("stream = %q", got)
	}
}
