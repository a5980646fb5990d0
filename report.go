package main

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/glo-fi/Followtbag/anon"
	"github.com/glo-fi/Followtbag/features"
	"github.com/glo-fi/Followtbag/flow"
)

var keyHeaders = []string{
	"Index",
	"Addr A",
	"Port A",
	"Addr B",
	"Port B",
	"Port Type",
}

func reportHeaders() []string {
	headers := append([]string{}, keyHeaders...)
	return append(headers, features.NewConversationStats(false).GetHeaders()...)
}

// writeReport writes one CSV row per conversation, ordered by index. When
// cpan is set the endpoint addresses are anonymised.
func writeReport(w io.Writer, convs []*flow.Conversation, cpan *anon.Cryptopan) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeaders()); err != nil {
		return err
	}
	for _, c := range convs {
		key := c.Key
		if cpan != nil {
			key = cpan.AnonymizeKey(key)
		}
		stats, err := c.Stats.Export()
		if err != nil {
			return err
		}
		row := []string{
			strconv.FormatUint(uint64(c.Index), 10),
			key.AddrA.String(),
			strconv.Itoa(int(key.PortA)),
			key.AddrB.String(),
			strconv.Itoa(int(key.PortB)),
			key.PortType.String(),
		}
		if err := cw.Write(append(row, stats...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// conversationMatrix has one row per conversation: the index followed by
// the numeric statistics.
func conversationMatrix(convs []*flow.Conversation) *mat.Dense {
	cols := 1 + len(features.NewConversationStats(false).GetHeaders())
	if len(convs) == 0 {
		return nil
	}
	m := mat.NewDense(len(convs), cols, nil)
	for i, c := range convs {
		m.Set(i, 0, float64(c.Index))
		for j, v := range c.Stats.Values() {
			m.Set(i, j+1, v)
		}
	}
	return m
}

// writeNpy writes the statistics of convs as a 2-D float64 .npy array.
func writeNpy(w io.Writer, convs []*flow.Conversation) error {
	m := conversationMatrix(convs)
	if m == nil {
		return npyio.Write(w, []float64{})
	}
	return npyio.Write(w, m)
}
