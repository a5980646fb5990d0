/*
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 *
 *
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	VERSION   = "0.1b"
	COPYRIGHT = "Licensed under the Apache License, Version 2.0 (the \"License\"); " +
		"you may not use this file except in compliance with the License. " +
		"You may obtain a copy of the License at\n" +
		"\n    http://www.apache.org/licenses/LICENSE-2.0\n"
)

// Display a welcome message
func displayWelcome(log *logrus.Entry) {
	log.Infof("Welcome to Followtbag %s", VERSION)
	log.Debug("\n" + COPYRIGHT)
}

// openCapture opens the capture file, or the interface for live capture, and
// applies the BPF filter.
func openCapture(cfg *Config, log *logrus.Entry) (*pcap.Handle, error) {
	var (
		p   *pcap.Handle
		err error
	)
	log.Debug(pcap.Version())
	if cfg.Live {
		p, err = pcap.OpenLive(cfg.Iface, int32(cfg.Snaplen), true, pcap.BlockForever)
		if err != nil {
			return nil, fmt.Errorf("OpenLive(%s) failed: %w", cfg.Iface, err)
		}
	} else {
		p, err = pcap.OpenOffline(cfg.Input)
		if err != nil {
			return nil, fmt.Errorf("OpenOffline(%s) failed: %w", cfg.Input, err)
		}
	}

	if cfg.BPF != "" {
		if err := p.SetBPFFilter(cfg.BPF); err != nil {
			p.Close()
			return nil, fmt.Errorf("setting BPF filter %q: %w", cfg.BPF, err)
		}
	}
	return p, nil
}

// Begin collection
func run(ctx context.Context, cfg *Config, log *logrus.Entry) error {
	handle, err := openCapture(cfg, log)
	if err != nil {
		return err
	}
	defer handle.Close()

	s, err := newSession(ctx, cfg, log, handle.LinkType(), uint32(handle.SnapLen()))
	if err != nil {
		return err
	}
	defer s.Close()

	log.Info("Starting Followtbag")
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	s.consume(ctx, packetSource.Packets())
	return s.finish()
}

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := newLogger(cfg, os.Stderr, uuid.NewString())
	displayWelcome(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("Followtbag failed")
	}
}
