package follow

import (
	"context"
	"encoding/binary"
	"fmt"

	zmq "github.com/go-zeromq/zmq4"
	"github.com/sirupsen/logrus"

	"github.com/glo-fi/Followtbag/types"
)

// PubSink publishes every chunk on a ZMQ PUB socket so that dissectors can
// consume streams out of process. Each message has three frames: the
// conversation index (4 bytes, big endian), the direction (1 byte) and the
// data. Send failures are logged and counted; they never stop reassembly.
type PubSink struct {
	socket zmq.Socket
	index  uint32
	log    *logrus.Entry
	failed int64
}

// NewPubSink binds a PUB socket to endpoint, e.g. "tcp://*:5556" or
// "ipc://followtbag".
func NewPubSink(ctx context.Context, endpoint string, log *logrus.Entry) (*PubSink, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	socket := zmq.NewPub(ctx)
	if err := socket.Listen(endpoint); err != nil {
		socket.Close()
		return nil, fmt.Errorf("zmq listen on %s: %w", endpoint, err)
	}
	log.WithField("endpoint", endpoint).Info("Publishing reassembled streams")
	return &PubSink{socket: socket, log: log}, nil
}

// ForConversation returns a sink that tags chunks with index and shares the
// underlying socket.
func (s *PubSink) ForConversation(index uint32) *PubSink {
	return &PubSink{socket: s.socket, index: index, log: s.log.WithField("conversation", index)}
}

func (s *PubSink) AppendBytes(dir types.Direction, data []byte) {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], s.index)
	payload := make([]byte, len(data))
	copy(payload, data)
	msg := zmq.NewMsgFrom(idx[:], []byte{byte(dir)}, payload)
	if err := s.socket.Send(msg); err != nil {
		s.failed++
		s.log.WithError(err).Warn("Publishing chunk failed")
	}
}

// Failed returns the number of chunks that could not be published.
func (s *PubSink) Failed() int64 {
	return s.failed
}

func (s *PubSink) Close() error {
	return s.socket.Close()
}
