package flow

import (
	"github.com/glo-fi/Followtbag/follow"
	flowpkg "github.com/glo-fi/Followtbag/types"
)

// SinkFactory decides which TCP conversations are reassembled and where
// their streams go. A nil Sink means the conversation is not followed.
type SinkFactory interface {
	CreateSink(index uint32, key flowpkg.ConversationKey) follow.Sink
}

// SinkFactoryFunc adapts a function to a SinkFactory.
type SinkFactoryFunc func(index uint32, key flowpkg.ConversationKey) follow.Sink

func (f SinkFactoryFunc) CreateSink(index uint32, key flowpkg.ConversationKey) follow.Sink {
	return f(index, key)
}

// FollowIndexFactory follows the single conversation with the given index.
type FollowIndexFactory struct {
	Index uint32
	Sink  follow.Sink
}

func (f *FollowIndexFactory) CreateSink(index uint32, key flowpkg.ConversationKey) follow.Sink {
	if index != f.Index {
		return nil
	}
	return f.Sink
}

// PubSinkFactory publishes every TCP conversation on a shared ZMQ socket.
type PubSinkFactory struct {
	Pub *follow.PubSink
}

func (f *PubSinkFactory) CreateSink(index uint32, key flowpkg.ConversationKey) follow.Sink {
	return f.Pub.ForConversation(index)
}

// MultiFactory combines the sinks of several factories.
type MultiFactory []SinkFactory

func (m MultiFactory) CreateSink(index uint32, key flowpkg.ConversationKey) follow.Sink {
	var sinks follow.MultiSink
	for _, f := range m {
		if s := f.CreateSink(index, key); s != nil {
			sinks = append(sinks, s)
		}
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return sinks
}
