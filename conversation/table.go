// Package conversation assigns stable, session-scoped indices to
// bidirectional flows.
package conversation

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/glo-fi/Followtbag/types"
)

type entry struct {
	key   types.ConversationKey
	index uint32
}

// Conversation is a key together with the index it was assigned.
type Conversation struct {
	Key   types.ConversationKey
	Index uint32
}

// Table maps conversation keys to sequential indices. A Table represents one
// capture session: call Reset before reusing it for another. It is not safe
// for concurrent use.
type Table struct {
	buckets map[uint32][]*entry
	count   uint32
	log     *logrus.Entry
}

// New returns an empty table. A nil log uses the standard logrus logger.
func New(log *logrus.Entry) *Table {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Table{
		buckets: make(map[uint32][]*entry),
		log:     log,
	}
}

func (t *Table) find(key types.ConversationKey) *entry {
	for _, e := range t.buckets[key.Hash()] {
		if e.key.Matches(key) {
			return e
		}
	}
	return nil
}

// FindOrCreate returns the index of the conversation between the two
// endpoints, creating it on first sight. The endpoint order does not matter.
// The addresses are copied on insert, so the caller may reuse its buffers.
func (t *Table) FindOrCreate(src, dst types.Address, pt types.PortType, srcPort, dstPort uint16) uint32 {
	key := types.ConversationKey{
		AddrA:    src,
		AddrB:    dst,
		PortType: pt,
		PortA:    srcPort,
		PortB:    dstPort,
	}
	if e := t.find(key); e != nil {
		return e.index
	}

	e := &entry{key: key.Clone(), index: t.count}
	t.count++
	h := key.Hash()
	t.buckets[h] = append(t.buckets[h], e)
	t.log.WithFields(logrus.Fields{
		"conversation": e.index,
		"key":          e.key.String(),
	}).Debug("New conversation")
	return e.index
}

// Lookup returns the index of an existing conversation without creating one.
func (t *Table) Lookup(src, dst types.Address, pt types.PortType, srcPort, dstPort uint16) (uint32, bool) {
	e := t.find(types.ConversationKey{
		AddrA:    src,
		AddrB:    dst,
		PortType: pt,
		PortA:    srcPort,
		PortB:    dstPort,
	})
	if e == nil {
		return 0, false
	}
	return e.index, true
}

// Len returns the number of conversations created since the last Reset.
func (t *Table) Len() int {
	return int(t.count)
}

// Conversations returns every conversation ordered by index.
func (t *Table) Conversations() []Conversation {
	out := make([]Conversation, 0, t.count)
	for _, bucket := range t.buckets {
		for _, e := range bucket {
			out = append(out, Conversation{Key: e.key, Index: e.index})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Reset drops every conversation and its address copies and restarts the
// index counter at 0.
func (t *Table) Reset() {
	t.log.WithField("conversations", t.count).Debug("Resetting conversation table")
	t.buckets = make(map[uint32][]*entry)
	t.count = 0
}
