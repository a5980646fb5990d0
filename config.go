package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/glo-fi/Followtbag/follow"
)

var errMissingInput = errors.New("missing required capture file")

// Config is the resolved runtime configuration. Values come from, in order
// of precedence, explicitly set flags, FOLLOWTBAG_* environment variables,
// the config file and the defaults below.
type Config struct {
	Input          string
	Live           bool
	Iface          string
	Snaplen        int
	BPF            string
	Follow         int64 // Conversation index to follow, -1 for none
	Format         follow.Format
	Output         string
	PcapOut        string
	ZMQ            string
	Report         string
	Npy            string
	DiffPriv       bool
	CryptoPan      bool
	CryptoPanKey   string
	ReportInterval int64
	LogLevel       logrus.Level
	LogJSON        bool
}

// Flag names differ from config keys only where the key is nested.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"log-json":  "log.json",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input", "")
	v.SetDefault("live", false)
	v.SetDefault("iface", "eth0")
	v.SetDefault("snaplen", 65535)
	v.SetDefault("bpf", "")
	v.SetDefault("follow", -1)
	v.SetDefault("format", "ascii")
	v.SetDefault("output", "-")
	v.SetDefault("pcap_out", "")
	v.SetDefault("zmq", "")
	v.SetDefault("report", "")
	v.SetDefault("npy", "")
	v.SetDefault("diffpriv", false)
	v.SetDefault("cryptopan", false)
	v.SetDefault("cryptopan_key", "")
	v.SetDefault("report_interval", 500000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

func newFlagSet(output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("followtbag", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "%s [options] <capture file>\n", os.Args[0])
		fmt.Fprintf(fs.Output(), "options:\n")
		fs.PrintDefaults()
	}

	fs.String("config", "", "Read settings from this file (yaml, toml or json)")
	fs.String("input", "", "Capture file to read; the first argument also works")
	fs.Bool("live", false, "Capture traffic live instead of reading a file")
	fs.String("iface", "eth0", "Interface for live capture")
	fs.Int("snaplen", 65535, "Snap length for live capture")
	fs.String("bpf", "", "BPF filter applied to the capture")
	fs.Int64("follow", -1, "Index of the TCP conversation to follow")
	fs.String("format", "ascii", "Follow output format: raw, ascii or hex")
	fs.String("output", "-", "Where the followed stream is written")
	fs.String("pcap_out", "", "Write the followed conversation's packets to this pcap file")
	fs.String("zmq", "", "Publish every reassembled TCP stream on this ZMQ endpoint")
	fs.String("report", "", "Write the conversation table as CSV to this file")
	fs.String("npy", "", "Write the conversation statistics as a .npy matrix to this file")
	fs.Bool("diffpriv", false, "Add differential privacy noise to payload statistics")
	fs.Bool("cryptopan", false, "Anonymise report addresses using Crypto-PAn")
	fs.String("cryptopan_key", "", "Crypto-PAn key file; a random key is used when empty")
	fs.Int64("report_interval", 500000, "The interval, in packets, at which to report progress")
	fs.String("log-level", "info", "Log level")
	fs.Bool("log-json", false, "Log in JSON")
	return fs
}

func loadConfig(args []string, output io.Writer) (*Config, error) {
	fs := newFlagSet(output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FOLLOWTBAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := fs.Lookup("config").Value.String(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	// Only flags given on the command line override the other sources.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			return
		}
		key := f.Name
		if k, ok := flagKeys[key]; ok {
			key = k
		}
		v.Set(key, f.Value.(flag.Getter).Get())
	})
	if fs.NArg() > 0 {
		v.Set("input", fs.Arg(0))
	}

	cfg := &Config{
		Input:          v.GetString("input"),
		Live:           v.GetBool("live"),
		Iface:          v.GetString("iface"),
		Snaplen:        v.GetInt("snaplen"),
		BPF:            v.GetString("bpf"),
		Follow:         v.GetInt64("follow"),
		Output:         v.GetString("output"),
		PcapOut:        v.GetString("pcap_out"),
		ZMQ:            v.GetString("zmq"),
		Report:         v.GetString("report"),
		Npy:            v.GetString("npy"),
		DiffPriv:       v.GetBool("diffpriv"),
		CryptoPan:      v.GetBool("cryptopan"),
		CryptoPanKey:   v.GetString("cryptopan_key"),
		ReportInterval: v.GetInt64("report_interval"),
		LogJSON:        v.GetBool("log.json"),
	}

	var err error
	if cfg.Format, err = follow.ParseFormat(v.GetString("format")); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = logrus.ParseLevel(v.GetString("log.level")); err != nil {
		return nil, err
	}
	if !cfg.Live && cfg.Input == "" {
		return nil, errMissingInput
	}
	if cfg.Snaplen <= 0 {
		return nil, fmt.Errorf("invalid snaplen %d", cfg.Snaplen)
	}
	if cfg.Follow > math.MaxUint32 {
		return nil, fmt.Errorf("invalid conversation index %d", cfg.Follow)
	}
	if cfg.PcapOut != "" && cfg.Follow < 0 {
		return nil, errors.New("pcap_out needs a conversation to follow")
	}
	return cfg, nil
}
