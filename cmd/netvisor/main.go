// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command netvisor runs the passive network observability pipeline: it
// wires configured InputSources into DNS handlers feeding a rolling
// MetricsWindow, and periodically prints the current bucket as JSON to
// stdout until interrupted.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/netvisor/internal/config"
	"grimm.is/netvisor/internal/handler"
	"grimm.is/netvisor/internal/hostmatch"
	"grimm.is/netvisor/internal/input"
	"grimm.is/netvisor/internal/logging"
	"grimm.is/netvisor/internal/metrics"
	"grimm.is/netvisor/internal/netevent"
	"grimm.is/netvisor/internal/nverrors"
	"grimm.is/netvisor/internal/tcpreassembly"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file (required)")
	snapshotInterval := flag.Duration("snapshot-interval", 10*time.Second, "How often to print the current bucket as JSON")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logging.SetDebug(*debug)

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "netvisor: -config is required")
		os.Exit(1)
	}

	os.Exit(run(*configPath, *snapshotInterval))
}

// dnstapSource is implemented by *input.DnstapFile and *input.DnstapSocket;
// handlers subscribe to them through OnDnstap rather than their packet
// signal.
type dnstapSource interface {
	Start() error
	Stop() error
	OnDnstap(func(input.DnstapSignal))
}

// pipeline holds everything run needs to start, snapshot, and stop.
type pipeline struct {
	sources      []input.Source
	tapSources   []dnstapSource
	handlerNames []string
	windows      []*metrics.Window
}

func run(configPath string, snapshotInterval time.Duration) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Error("config: %v", err)
		return 1
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		logging.Error("wiring: %v", err)
		return 1
	}

	if err := p.startAll(); err != nil {
		logging.Error("input: %v", err)
		p.stopAll()
		return 1
	}

	logging.Info("netvisor started, %d handler(s), snapshot every %s", len(p.windows), snapshotInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.printSnapshots()
		case <-sigCh:
			logging.Info("shutting down")
			p.stopAll()
			p.printSnapshots()
			return 0
		}
	}
}

// startAll starts every configured source. Per spec §7's error-handling
// policy, only a Kind whose Fatal() is true (KindConfig, KindCaptureOpen
// — a device that can never be opened) aborts the whole pipeline; any
// other error is logged and that source is left out, since the rest of
// the pipeline can still produce useful output without it.
func (p *pipeline) startAll() error {
	for _, src := range p.sources {
		if err := src.Start(); err != nil {
			if nverrors.Fatal(nverrors.GetKind(err)) {
				return err
			}
			logging.Warn("input start: %v", err)
		}
	}
	for _, tap := range p.tapSources {
		if err := tap.Start(); err != nil {
			if nverrors.Fatal(nverrors.GetKind(err)) {
				return err
			}
			logging.Warn("dnstap input start: %v", err)
		}
	}
	return nil
}

func (p *pipeline) stopAll() {
	for _, src := range p.sources {
		if err := src.Stop(); err != nil {
			logging.Warn("input stop: %v", err)
		}
	}
	for _, tap := range p.tapSources {
		if err := tap.Stop(); err != nil {
			logging.Warn("dnstap input stop: %v", err)
		}
	}
}

func (p *pipeline) printSnapshots() {
	now := time.Now()
	for i, w := range p.windows {
		raw, err := json.Marshal(w.Current(now))
		if err != nil {
			logging.Error("snapshot: %v", err)
			continue
		}
		fmt.Printf("%s %s\n", p.handlerNames[i], raw)
	}
}

// buildPipeline wires every configured handler to the InputSources that
// feed it (all inputs, if the handler names none explicitly). A "net"
// handler whose net_behind names a "dns" handler is built alongside
// that dns handler as its downstream, per spec §4.9/§9, and never
// subscribes to an input of its own.
func buildPipeline(cfg *config.Config) (*pipeline, error) {
	p := &pipeline{}

	inputsByName := make(map[string]*config.InputConfig, len(cfg.Inputs))
	for i := range cfg.Inputs {
		inputsByName[cfg.Inputs[i].Name] = &cfg.Inputs[i]
	}

	netBehind := make(map[string]*config.HandlerConfig, len(cfg.Handlers))
	for i := range cfg.Handlers {
		h := &cfg.Handlers[i]
		if h.NetBehind != "" {
			netBehind[h.NetBehind] = h
		}
	}

	for i := range cfg.Handlers {
		h := &cfg.Handlers[i]
		if h.Type == config.HandlerTypeNet && h.NetBehind != "" {
			continue // built below, as the dns handler it sits behind is constructed
		}

		if h.Type == config.HandlerTypeNet {
			nh := handler.NewNetHandler(int(h.NumPeriods), h.PeriodLength())
			p.windows = append(p.windows, nh.Window)
			p.handlerNames = append(p.handlerNames, h.Name)
			if err := wireHandlerInputs(p, h, inputsByName, nil, nh.HandlePacket); err != nil {
				return nil, err
			}
			continue
		}

		filterOpts, err := h.FilterOptions()
		if err != nil {
			return nil, err
		}

		var downstream *handler.NetHandler
		netH := netBehind[h.Name]
		if netH != nil {
			downstream = handler.NewNetHandler(int(netH.NumPeriods), netH.PeriodLength())
		}

		dh := handler.NewDnsHandler(int(h.NumPeriods), h.PeriodLength(), filterOpts, h.XactTimeout(), downstream)
		p.windows = append(p.windows, dh.Window)
		p.handlerNames = append(p.handlerNames, h.Name)
		if downstream != nil {
			p.windows = append(p.windows, downstream.Window)
			p.handlerNames = append(p.handlerNames, netH.Name)
		}

		if err := wireHandlerInputs(p, h, inputsByName, dh, dh.HandlePacket); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// wireHandlerInputs resolves h's input targets (every configured input
// when h.Inputs is empty) and subscribes onPacket to each. sink, when
// non-nil, also gets a tcpreassembly.Reassembler wired to every
// pcap-backed target (DnsHandler needs one for DNS-over-TCP reassembly;
// a standalone NetHandler counts raw packets and doesn't).
func wireHandlerInputs(p *pipeline, h *config.HandlerConfig, inputsByName map[string]*config.InputConfig, sink tcpreassembly.Sink, onPacket func(netevent.PacketEvent)) error {
	targets := h.Inputs
	if len(targets) == 0 {
		for name := range inputsByName {
			targets = append(targets, name)
		}
	}
	for _, inName := range targets {
		inCfg, ok := inputsByName[inName]
		if !ok {
			return nverrors.Errorf(nverrors.KindConfig, "handler %q references unknown input %q", h.Name, inName)
		}
		src, tap, err := buildSource(inCfg, sink)
		if err != nil {
			return err
		}
		if tap != nil {
			tap.OnDnstap(func(sig input.DnstapSignal) { onPacket(sig.Packet) })
			p.tapSources = append(p.tapSources, tap)
			continue
		}
		src.PacketSignal().Subscribe(onPacket)
		p.sources = append(p.sources, src)
	}
	return nil
}

// matcherSetter is implemented by handler types that need a host-direction
// classifier even for traffic that bypasses an InputSource's own
// classify() step (currently only DnsHandler, for TCP-reassembled
// DNS-over-TCP messages delivered through its tcpreassembly.Sink side).
type matcherSetter interface {
	SetMatcher(*hostmatch.Matcher)
}

// buildSource constructs the InputSource inCfg describes. For
// pcap-backed sources it also wires a tcpreassembly.Reassembler
// delivering to sink when sink is non-nil, so DNS-over-TCP messages
// reassemble before reaching the handler (see internal/tcpreassembly).
func buildSource(inCfg *config.InputConfig, sink tcpreassembly.Sink) (input.Source, dnstapSource, error) {
	matcher, err := inCfg.HostMatcher()
	if err != nil {
		return nil, nil, err
	}
	if matcher != nil {
		if ms, ok := sink.(matcherSetter); ok {
			ms.SetMatcher(matcher)
		}
	}

	switch {
	case inCfg.DnstapFile != "":
		return nil, &input.DnstapFile{Path: inCfg.DnstapFile}, nil
	case inCfg.Socket != "":
		return nil, &input.DnstapSocket{SocketPath: inCfg.Socket}, nil
	case inCfg.PcapFile != "":
		return &input.CaptureFile{Path: inCfg.PcapFile, BPF: inCfg.BPF, Matcher: matcher, Reassembler: newReassembler(sink)}, nil, nil
	case inCfg.PcapSource == config.PcapSourceMock:
		return &input.MockGenerator{}, nil, nil
	default:
		if inCfg.PcapSource == config.PcapSourceAfPacket {
			logging.Warn("[%s] pcap_source=af_packet requested but no AF_PACKET socket library is wired; falling back to libpcap live capture", inCfg.Name)
		}
		return &input.LiveInterface{Iface: inCfg.Iface, BPF: inCfg.BPF, Matcher: matcher, Reassembler: newReassembler(sink)}, nil, nil
	}
}

// newReassembler returns nil when sink is nil, so a handler with no use
// for reassembled DNS-over-TCP payloads (a standalone NetHandler) isn't
// handed one.
func newReassembler(sink tcpreassembly.Sink) *tcpreassembly.Reassembler {
	if sink == nil {
		return nil
	}
	return tcpreassembly.New(sink, tcpreassembly.Options{})
}
