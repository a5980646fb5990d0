package main

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/glo-fi/Followtbag/follow"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig([]string{"trace.pcap"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Input != "trace.pcap" || cfg.Live {
		t.Errorf("input = %q live = %v", cfg.Input, cfg.Live)
	}
	if cfg.Follow != -1 || cfg.Format != follow.FormatASCII || cfg.Output != "-" {
		t.Errorf("follow = %d format = %v output = %q", cfg.Follow, cfg.Format, cfg.Output)
	}
	if cfg.Snaplen != 65535 || cfg.ReportInterval != 500000 || cfg.LogLevel != logrus.InfoLevel {
		t.Errorf("snaplen = %d interval = %d level = %v", cfg.Snaplen, cfg.ReportInterval, cfg.LogLevel)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", nil},
		{"bad format", []string{"-format", "ebcdic", "x.pcap"}},
		{"bad level", []string{"-log-level", "loud", "x.pcap"}},
		{"pcap out without follow", []string{"-pcap_out", "o.pcap", "x.pcap"}},
		{"index too large", []string{"-follow", "4294967296", "x.pcap"}},
		{"unknown flag", []string{"-nope", "x.pcap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(tt.args, io.Discard); err == nil {
				t.Fatal("expected an error")
			}
		})
	}

	if _, err := loadConfig(nil, io.Discard); !errors.Is(err, errMissingInput) {
		t.Errorf("err = %v, want errMissingInput", err)
	}
	if _, err := loadConfig([]string{"-h"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("err = %v, want flag.ErrHelp", err)
	}
}

func TestLoadConfigLiveNeedsNoInput(t *testing.T) {
	cfg, err := loadConfig([]string{"-live", "-iface", "lo"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Live || cfg.Iface != "lo" {
		t.Errorf("live = %v iface = %q", cfg.Live, cfg.Iface)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "followtbag.yaml")
	file := "follow: 2\nformat: hex\nreport: conv.csv\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig([]string{"-config", path, "x.pcap"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Follow != 2 || cfg.Format != follow.FormatHexDump || cfg.Report != "conv.csv" || cfg.LogLevel != logrus.DebugLevel {
		t.Errorf("from file: %+v", cfg)
	}

	t.Setenv("FOLLOWTBAG_FOLLOW", "3")
	t.Setenv("FOLLOWTBAG_LOG_LEVEL", "warn")
	cfg, err = loadConfig([]string{"-config", path, "x.pcap"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Follow != 3 || cfg.LogLevel != logrus.WarnLevel || cfg.Format != follow.FormatHexDump {
		t.Errorf("env over file: follow = %d level = %v format = %v", cfg.Follow, cfg.LogLevel, cfg.Format)
	}

	cfg, err = loadConfig([]string{"-config", path, "-follow", "5", "-format", "raw", "x.pcap"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Follow != 5 || cfg.Format != follow.FormatRaw {
		t.Errorf("flag over env: follow = %d format = %v", cfg.Follow, cfg.Format)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig([]string{"-config", filepath.Join(t.TempDir(), "none.yaml"), "x.pcap"}, io.Discard); err == nil {
		t.Fatal("missing config file accepted")
	}
}
