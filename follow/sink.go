package follow

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/glo-fi/Followtbag/types"
)

// Chunk is one delivery made to a sink.
type Chunk struct {
	Dir  types.Direction
	Data []byte
}

// BufferSink keeps every delivered chunk in memory.
type BufferSink struct {
	Chunks []Chunk
	bufs   [2]bytes.Buffer
}

func (s *BufferSink) AppendBytes(dir types.Direction, data []byte) {
	owned := make([]byte, len(data))
	copy(owned, data)
	s.Chunks = append(s.Chunks, Chunk{Dir: dir, Data: owned})
	if dir == types.DirectionForward || dir == types.DirectionBackward {
		s.bufs[dir].Write(data)
	}
}

// Stream returns everything delivered for dir, concatenated.
func (s *BufferSink) Stream(dir types.Direction) []byte {
	return s.bufs[dir].Bytes()
}

func (s *BufferSink) Reset() {
	s.Chunks = nil
	s.bufs[0].Reset()
	s.bufs[1].Reset()
}

// Format selects how a WriterSink renders the stream.
type Format int

const (
	FormatRaw Format = iota
	FormatASCII
	FormatHexDump
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatASCII:
		return "ascii"
	case FormatHexDump:
		return "hex"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "":
		return FormatRaw, nil
	case "ascii", "text":
		return FormatASCII, nil
	case "hex", "hexdump":
		return FormatHexDump, nil
	}
	return 0, fmt.Errorf("unknown follow format %q", s)
}

const separator = "==================================================================="

// WriterSink renders delivered chunks to an io.Writer. In the ascii and hex
// formats every chunk is preceded by its length, and chunks from the backward
// direction are indented by a tab. The first write error is kept and later
// chunks are discarded.
type WriterSink struct {
	w       io.Writer
	format  Format
	err     error
	written [2]int64
}

func NewWriterSink(w io.Writer, format Format) *WriterSink {
	return &WriterSink{w: w, format: format}
}

func (s *WriterSink) AppendBytes(dir types.Direction, data []byte) {
	if s.err != nil {
		return
	}
	indent := ""
	if dir == types.DirectionBackward {
		indent = "\t"
	}
	switch s.format {
	case FormatRaw:
		_, s.err = s.w.Write(data)
	case FormatASCII:
		_, s.err = fmt.Fprintf(s.w, "%s%d\n%s\n", indent, len(data), printable(data))
	case FormatHexDump:
		_, s.err = fmt.Fprintf(s.w, "%s%d\n%s", indent, len(data), indentLines(hex.Dump(data), indent))
	}
	if s.err == nil && (dir == types.DirectionForward || dir == types.DirectionBackward) {
		s.written[dir] += int64(len(data))
	}
}

// Err returns the first error the underlying writer reported.
func (s *WriterSink) Err() error {
	return s.err
}

// Written returns the number of payload bytes written for dir.
func (s *WriterSink) Written(dir types.Direction) int64 {
	return s.written[dir]
}

// WriteHeader writes the banner naming the stream and its two nodes. It is
// a no-op for the raw format.
func (s *WriterSink) WriteHeader(index uint32, nodes [2]Endpoint) error {
	if s.err != nil || s.format == FormatRaw {
		return s.err
	}
	_, s.err = fmt.Fprintf(s.w, "%s\nFollow: tcp,%s\nFilter: tcp.stream eq %d\nNode 0: %s\nNode 1: %s\n",
		separator, s.format, index, nodeString(nodes[0]), nodeString(nodes[1]))
	return s.err
}

// WriteFooter closes the banner opened by WriteHeader.
func (s *WriterSink) WriteFooter() error {
	if s.err != nil || s.format == FormatRaw {
		return s.err
	}
	_, s.err = fmt.Fprintln(s.w, separator)
	return s.err
}

func nodeString(e Endpoint) string {
	if e.Addr.IsZero() {
		return ":0"
	}
	if e.Addr.Type == types.AddressIPv6 {
		return fmt.Sprintf("[%s]:%d", e.Addr, e.Port)
	}
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

func printable(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		switch {
		case b == '\n' || b == '\r' || b == '\t':
			out[i] = b
		case b < 0x20 || b >= 0x7f:
			out[i] = '.'
		default:
			out[i] = b
		}
	}
	return string(out)
}

func indentLines(s, indent string) string {
	if indent == "" {
		return s
	}
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		b.WriteString(indent)
		b.WriteString(l)
	}
	return b.String()
}

// MultiSink delivers every chunk to each of its sinks in turn.
type MultiSink []Sink

func (m MultiSink) AppendBytes(dir types.Direction, data []byte) {
	for _, s := range m {
		s.AppendBytes(dir, data)
	}
}
