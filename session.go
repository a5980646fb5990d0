package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/glo-fi/Followtbag/anon"
	"github.com/glo-fi/Followtbag/conversation"
	"github.com/glo-fi/Followtbag/flow"
	"github.com/glo-fi/Followtbag/follow"
	"github.com/glo-fi/Followtbag/packet"
)

// session is one run over a capture: every packet goes through the parser
// into the tracker, and the outputs are written once the capture ends.
type session struct {
	cfg     *Config
	log     *logrus.Entry
	parser  packet.PacketParser
	tracker *flow.Tracker

	followed *follow.BufferSink // nil unless a conversation is followed
	pub      *follow.PubSink
	pcapOut  *pcapgo.Writer
	pcapFile *os.File
	cpan     *anon.Cryptopan

	pCount       int64 // Packet count
	decodeErrors int64
	panics       int64
	startTime    time.Time
}

func newSession(ctx context.Context, cfg *Config, log *logrus.Entry, linkType layers.LinkType, snaplen uint32) (s *session, err error) {
	s = &session{
		cfg:       cfg,
		log:       log,
		parser:    &packet.StandardPacketParser{},
		startTime: time.Now(),
	}
	defer func() {
		if err != nil {
			s.Close()
			s = nil
		}
	}()

	log.WithField("protocols", s.parser.SupportedProtocols()).Debug("Packet parser ready")

	var factories flow.MultiFactory
	if cfg.Follow >= 0 {
		s.followed = &follow.BufferSink{}
		factories = append(factories, &flow.FollowIndexFactory{Index: uint32(cfg.Follow), Sink: s.followed})
	}
	if cfg.ZMQ != "" {
		if s.pub, err = follow.NewPubSink(ctx, cfg.ZMQ, log); err != nil {
			return s, err
		}
		factories = append(factories, &flow.PubSinkFactory{Pub: s.pub})
	}
	var factory flow.SinkFactory
	if len(factories) > 0 {
		factory = factories
	}
	s.tracker = flow.NewTracker(conversation.New(log), factory,
		flow.WithDiffPriv(cfg.DiffPriv), flow.WithLogger(log))

	if cfg.PcapOut != "" {
		if s.pcapFile, err = os.Create(cfg.PcapOut); err != nil {
			return s, fmt.Errorf("creating pcap output: %w", err)
		}
		s.pcapOut = pcapgo.NewWriter(s.pcapFile)
		if err = s.pcapOut.WriteFileHeader(snaplen, linkType); err != nil {
			return s, fmt.Errorf("writing pcap header: %w", err)
		}
	}

	if cfg.CryptoPan {
		var key []byte
		if cfg.CryptoPanKey != "" {
			key, err = anon.LoadKey(cfg.CryptoPanKey)
		} else {
			key, err = anon.RandomKey()
		}
		if err != nil {
			return s, err
		}
		if s.cpan, err = anon.New(key); err != nil {
			return s, err
		}
	}
	return s, nil
}

// consume processes packets until the channel closes or ctx is cancelled.
func (s *session) consume(ctx context.Context, packets <-chan gopacket.Packet) {
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Capture interrupted")
			return
		case raw, ok := <-packets:
			if !ok {
				return
			}
			s.process(raw)
		}
	}
}

func printStackTrace(log *logrus.Entry) {
	n := 1
	for {
		p, f, l, ok := runtime.Caller(n)
		if !ok {
			break
		}
		log.Debugf("%s (%s:%d)", runtime.FuncForPC(p).Name(), f, l)
		n++
	}
}

func (s *session) catchPanic() {
	if err := recover(); err != nil {
		s.panics++
		s.log.WithField("packet", s.pCount).Errorf("Error processing packet: %v", err)
		printStackTrace(s.log)
	}
}

// Process packets into conversations
func (s *session) process(raw gopacket.Packet) {
	defer s.catchPanic()
	s.pCount++
	if s.cfg.ReportInterval > 0 && s.pCount%s.cfg.ReportInterval == 0 {
		elapsed := time.Since(s.startTime)
		s.startTime = time.Now()
		s.log.Infof("Currently processing packet %d. Followtbag size: %d", s.pCount, s.tracker.Len())
		s.log.Infof("Took %v to process %d packets", elapsed, s.cfg.ReportInterval)
	}

	pkt, err := s.parser.ParsePacket(raw)
	if err != nil {
		s.decodeErrors++
		s.log.WithError(err).WithField("packet", s.pCount).Debug("Skipping packet")
		return
	}
	pkt.Number = s.pCount

	conv, err := s.tracker.Add(pkt)
	if err != nil {
		s.log.WithError(err).WithField("packet", s.pCount).Warn("Packet not added to its conversation")
		return
	}
	if s.pcapOut != nil && int64(conv.Index) == s.cfg.Follow {
		if err := s.pcapOut.WritePacket(raw.Metadata().CaptureInfo, raw.Data()); err != nil {
			s.log.WithError(err).Warn("Writing packet to pcap output failed")
		}
	}
}

// finish writes every requested output.
func (s *session) finish() error {
	s.log.WithFields(logrus.Fields{
		"packets":            s.pCount,
		"conversations":      s.tracker.Len(),
		"decode_errors":      s.decodeErrors,
		"panics":             s.panics,
		"too_many_endpoints": s.tracker.TooManyEndpoints(),
	}).Info("Capture finished")

	if s.followed != nil {
		if err := s.writeFollow(); err != nil {
			return err
		}
	}
	if s.cfg.Report != "" {
		if err := writeFile(s.cfg.Report, func(w io.Writer) error {
			return writeReport(w, s.tracker.Conversations(), s.cpan)
		}); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		s.log.WithField("file", s.cfg.Report).Info("Conversation report written")
	}
	if s.cfg.Npy != "" {
		if err := writeFile(s.cfg.Npy, func(w io.Writer) error {
			return writeNpy(w, s.tracker.Conversations())
		}); err != nil {
			return fmt.Errorf("writing npy: %w", err)
		}
		s.log.WithField("file", s.cfg.Npy).Info("Statistics matrix written")
	}
	return nil
}

func (s *session) writeFollow() error {
	index := uint32(s.cfg.Follow)
	var nodes [2]follow.Endpoint
	if conv, ok := s.tracker.Conversation(index); ok && conv.Reassembler != nil {
		md := conv.GetMetadata()
		nodes = md.Nodes
		fields := logrus.Fields{"conversation": index, "key": md.Key.String()}
		if md.Incomplete {
			s.log.WithFields(fields).Warn("Followed stream is incomplete: some segments were truncated")
		}
		if md.Empty {
			s.log.WithFields(fields).Info("Followed stream carried no payload")
		}
	} else {
		s.log.WithField("conversation", index).Warn("No TCP conversation with this index")
	}

	return writeFile(s.cfg.Output, func(w io.Writer) error {
		return renderFollow(w, s.cfg.Format, index, nodes, s.followed.Chunks)
	})
}

// renderFollow writes the chunks of a followed stream between the banner
// lines, the way tshark's follow output looks.
func renderFollow(w io.Writer, format follow.Format, index uint32, nodes [2]follow.Endpoint, chunks []follow.Chunk) error {
	sink := follow.NewWriterSink(w, format)
	if err := sink.WriteHeader(index, nodes); err != nil {
		return err
	}
	for _, c := range chunks {
		sink.AppendBytes(c.Dir, c.Data)
	}
	return sink.WriteFooter()
}

// writeFile runs fn on the named file, or on stdout for "-".
func writeFile(name string, fn func(io.Writer) error) error {
	if name == "-" {
		return fn(os.Stdout)
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *session) Close() error {
	var firstErr error
	if s.pub != nil {
		firstErr = s.pub.Close()
	}
	if s.pcapFile != nil {
		if err := s.pcapFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
