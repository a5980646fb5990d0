// Package follow rebuilds the byte streams of a TCP connection from its
// segments and hands them, in order, to a Sink.
package follow

import (
	"errors"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/glo-fi/Followtbag/types"
)

// ErrTooManyEndpoints is returned by Feed for a segment from a third source
// address once both directions of the connection are in use. The segment is
// dropped and the established directions are unaffected.
var ErrTooManyEndpoints = errors.New("follow: too many endpoints for one connection")

// Sink receives reassembled bytes. data is only valid for the duration of
// the call.
type Sink interface {
	AppendBytes(dir types.Direction, data []byte)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(dir types.Direction, data []byte)

func (f SinkFunc) AppendBytes(dir types.Direction, data []byte) { f(dir, data) }

// Segment is one TCP segment of the connection being followed.
type Segment struct {
	Src     types.Address
	SrcPort uint16
	Seq     uint64
	Length  uint32 // Declared payload length
	SYN     bool
	Payload []byte // Captured payload; may be shorter than Length
}

type fragment struct {
	seq     uint64
	length  uint32
	payload []byte
}

func (f *fragment) end() uint64 {
	return f.seq + uint64(f.length)
}

// DirectionStats counts what happened to one direction's segments.
type DirectionStats struct {
	Segments        int64
	BytesDelivered  int64
	Retransmissions int64 // Segments entirely covering delivered bytes
	OverlapsTrimmed int64
	OutOfOrder      int64 // Segments queued ahead of a gap
	Drained         int64 // Queued fragments later delivered
}

type direction struct {
	active  bool
	src     types.Address
	srcPort uint16
	next    uint64
	pending []*fragment // Sorted by seq
	stats   DirectionStats
}

// Endpoint describes the source that claimed a direction.
type Endpoint struct {
	Addr types.Address
	Port uint16
}

// Reassembler tracks the two directions of one TCP connection. It is not
// safe for concurrent use; Feed delivers synchronously to the sink.
type Reassembler struct {
	dirs       [2]direction
	sink       Sink
	log        *logrus.Entry
	incomplete bool
	dropped    int64
}

// NewReassembler returns a Reassembler delivering to sink. A nil log uses
// the standard logrus logger.
func NewReassembler(sink Sink, log *logrus.Entry) *Reassembler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reassembler{sink: sink, log: log}
}

// slot returns the direction the source belongs to, claiming a free one if
// needed. It returns false when both directions belong to other sources.
func (r *Reassembler) slot(src types.Address, srcPort uint16) (types.Direction, bool) {
	for i := range r.dirs {
		if r.dirs[i].active && r.dirs[i].src.Equal(src) {
			return types.Direction(i), true
		}
	}
	for i := range r.dirs {
		if !r.dirs[i].active {
			r.dirs[i].active = true
			r.dirs[i].src = src.Clone()
			r.dirs[i].srcPort = srcPort
			return types.Direction(i), false
		}
	}
	return -1, false
}

// Feed processes one segment. Anything that becomes contiguous is passed to
// the sink before Feed returns. The only error is ErrTooManyEndpoints, which
// is also logged.
func (r *Reassembler) Feed(seg Segment) error {
	payload := seg.Payload
	if uint32(len(payload)) < seg.Length {
		r.incomplete = true
	} else if uint32(len(payload)) > seg.Length {
		payload = payload[:seg.Length]
	}

	dir, seen := r.slot(seg.Src, seg.SrcPort)
	if dir < 0 {
		r.dropped++
		r.log.WithFields(logrus.Fields{
			"src":      seg.Src.String(),
			"src_port": seg.SrcPort,
			"forward":  r.dirs[0].src.String(),
			"backward": r.dirs[1].src.String(),
		}).Warn("Too many addresses for one connection, dropping segment")
		return ErrTooManyEndpoints
	}
	d := &r.dirs[dir]
	d.stats.Segments++

	if !seen {
		// The first segment of a direction is in order by definition.
		d.next = seg.Seq + uint64(seg.Length)
		if seg.SYN {
			d.next++
		}
		r.deliver(dir, payload)
		return nil
	}

	seq, length, syn := seg.Seq, seg.Length, seg.SYN
	if seq < d.next {
		if seq+uint64(length) <= d.next {
			d.stats.Retransmissions++
			return nil
		}
		overlap := d.next - seq
		payload = trim(payload, overlap)
		length -= uint32(overlap)
		seq = d.next
		d.stats.OverlapsTrimmed++
	}

	if seq > d.next {
		r.queue(d, seq, length, payload)
		return nil
	}

	r.deliver(dir, payload)
	d.next += uint64(length)
	if syn {
		d.next++
	}
	r.drain(dir)
	return nil
}

func trim(payload []byte, n uint64) []byte {
	if n >= uint64(len(payload)) {
		return nil
	}
	return payload[n:]
}

func (r *Reassembler) queue(d *direction, seq uint64, length uint32, payload []byte) {
	owned := make([]byte, len(payload))
	copy(owned, payload)
	f := &fragment{seq: seq, length: length, payload: owned}

	i := sort.Search(len(d.pending), func(i int) bool { return d.pending[i].seq > seq })
	d.pending = append(d.pending, nil)
	copy(d.pending[i+1:], d.pending[i:])
	d.pending[i] = f
	d.stats.OutOfOrder++
}

// drain delivers queued fragments for as long as the head of the queue
// starts at or before the next expected sequence number. Fragments wholly
// behind it are duplicates and are discarded.
func (r *Reassembler) drain(dir types.Direction) {
	d := &r.dirs[dir]
	for len(d.pending) > 0 && d.pending[0].seq <= d.next {
		f := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]

		if f.end() <= d.next {
			d.stats.Retransmissions++
			continue
		}
		payload := f.payload
		if f.seq < d.next {
			payload = trim(payload, d.next-f.seq)
			d.stats.OverlapsTrimmed++
		}
		r.deliver(dir, payload)
		d.next = f.end()
		d.stats.Drained++
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
}

func (r *Reassembler) deliver(dir types.Direction, data []byte) {
	if len(data) == 0 {
		return
	}
	r.dirs[dir].stats.BytesDelivered += int64(len(data))
	if r.sink != nil {
		r.sink.AppendBytes(dir, data)
	}
}

// Reset discards every pending fragment and returns both directions to
// their initial, unclaimed state.
func (r *Reassembler) Reset() {
	r.dirs = [2]direction{}
	r.incomplete = false
	r.dropped = 0
}

// Endpoint returns the source that claimed dir, if any.
func (r *Reassembler) Endpoint(dir types.Direction) (Endpoint, bool) {
	if dir != types.DirectionForward && dir != types.DirectionBackward {
		return Endpoint{}, false
	}
	d := &r.dirs[dir]
	return Endpoint{Addr: d.src, Port: d.srcPort}, d.active
}

// NextSeq returns the next sequence number expected in dir.
func (r *Reassembler) NextSeq(dir types.Direction) uint64 {
	return r.dirs[dir].next
}

// Pending returns the number of fragments waiting on a gap in dir.
func (r *Reassembler) Pending(dir types.Direction) int {
	return len(r.dirs[dir].pending)
}

func (r *Reassembler) Stats(dir types.Direction) DirectionStats {
	return r.dirs[dir].stats
}

// Incomplete reports whether any segment was captured with fewer bytes than
// its declared length.
func (r *Reassembler) Incomplete() bool {
	return r.incomplete
}

// Empty reports whether no payload byte has been delivered in either
// direction.
func (r *Reassembler) Empty() bool {
	return r.dirs[0].stats.BytesDelivered == 0 && r.dirs[1].stats.BytesDelivered == 0
}

// Dropped returns the number of segments rejected with ErrTooManyEndpoints.
func (r *Reassembler) Dropped() int64 {
	return r.dropped
}
