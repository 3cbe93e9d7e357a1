// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package input implements the InputSource variants that feed packet
// and dnstap events into the pipeline: CaptureFile and LiveInterface
// (both backed by gopacket/pcap), MockGenerator (synthetic DNS-over-UDP
// traffic for tests and demos), and the dnstap sources in the sibling
// dnstap_source.go file.
package input

import (
	"math/rand"
	"net"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"

	"grimm.is/netvisor/internal/hostmatch"
	"grimm.is/netvisor/internal/netevent"
	"grimm.is/netvisor/internal/nverrors"
	"grimm.is/netvisor/internal/signal"
	"grimm.is/netvisor/internal/tcpreassembly"
)

// PcapStats mirrors pcap_stats_signal's payload: capture and kernel
// drop counters, where the underlying library surfaces them.
type PcapStats struct {
	Received  uint64
	IfDropped uint64
	OsDropped uint64
}

// Source is the common contract every InputSource variant implements:
// idempotent Start/Stop, plus the signals a Handler subscribes to.
type Source interface {
	Start() error
	Stop() error
	PacketSignal() *signal.Signal[netevent.PacketEvent]
	StartTsSignal() *signal.Signal[time.Time]
	EndTsSignal() *signal.Signal[time.Time]
	PcapStatsSignal() *signal.Signal[PcapStats]
}

// base holds the signal set and idempotency guard every variant shares.
type base struct {
	running   bool
	packet    signal.Signal[netevent.PacketEvent]
	startTS   signal.Signal[time.Time]
	endTS     signal.Signal[time.Time]
	pcapStats signal.Signal[PcapStats]
}

func (b *base) PacketSignal() *signal.Signal[netevent.PacketEvent] { return &b.packet }
func (b *base) StartTsSignal() *signal.Signal[time.Time]           { return &b.startTS }
func (b *base) EndTsSignal() *signal.Signal[time.Time]             { return &b.endTS }
func (b *base) PcapStatsSignal() *signal.Signal[PcapStats]         { return &b.pcapStats }

// classify extracts a PacketEvent from a decoded gopacket.Packet,
// applying host-direction classification via matcher (nil matcher
// yields DirUnknown for every packet).
func classify(pkt gopacket.Packet, matcher *hostmatch.Matcher, iface string) netevent.PacketEvent {
	ev := netevent.PacketEvent{
		Raw:       pkt.Data(),
		Timestamp: pkt.Metadata().Timestamp,
		Iface:     iface,
	}

	var srcIP, dstIP net.IP
	if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
		l := ip4.(*layers.IPv4)
		ev.L3 = netevent.L3IPv4
		srcIP, dstIP = l.SrcIP, l.DstIP
	} else if ip6 := pkt.Layer(layers.LayerTypeIPv6); ip6 != nil {
		l := ip6.(*layers.IPv6)
		ev.L3 = netevent.L3IPv6
		srcIP, dstIP = l.SrcIP, l.DstIP
	}
	ev.SrcIP, ev.DstIP = srcIP, dstIP

	if tcp := pkt.Layer(layers.LayerTypeTCP); tcp != nil {
		l := tcp.(*layers.TCP)
		ev.L4 = netevent.L4TCP
		ev.SrcPort, ev.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
	} else if udp := pkt.Layer(layers.LayerTypeUDP); udp != nil {
		l := udp.(*layers.UDP)
		ev.L4 = netevent.L4UDP
		ev.SrcPort, ev.DstPort = uint16(l.SrcPort), uint16(l.DstPort)
		ev.Raw = l.Payload
	} else {
		ev.L4 = netevent.L4Other
	}

	if matcher != nil && srcIP != nil && dstIP != nil {
		if sa, ok := netipFromIP(srcIP); ok {
			if da, ok := netipFromIP(dstIP); ok {
				ev.Direction = matcher.Classify(sa, da)
			}
		}
	}

	ev.FlowHash = flowHash(srcIP, dstIP, ev.SrcPort, ev.DstPort, ev.L4)
	return ev
}

// emitPacket classifies pkt and emits the resulting PacketEvent(s) on
// sig, feeding each to reassembler if it carries a TCP segment. An
// sFlow collector datagram (see sflow.go) expands into one emission per
// embedded flow sample instead of one emission for the datagram itself.
func emitPacket(pkt gopacket.Packet, matcher *hostmatch.Matcher, source string, sig *signal.Signal[netevent.PacketEvent], reassembler *tcpreassembly.Reassembler) {
	if isSflow(pkt) {
		for _, inner := range sflowSamples(pkt) {
			sig.Emit(classify(inner, matcher, source))
			feedReassembler(inner, reassembler)
		}
		return
	}
	sig.Emit(classify(pkt, matcher, source))
	feedReassembler(pkt, reassembler)
}

// feedReassembler hands a TCP packet's network/transport layers to r,
// a no-op when r is nil (reassembly not configured for this source) or
// the packet carries no TCP layer.
func feedReassembler(pkt gopacket.Packet, r *tcpreassembly.Reassembler) {
	if r == nil {
		return
	}
	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return
	}
	var netFlow gopacket.Flow
	if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
		netFlow = ip4.(*layers.IPv4).NetworkFlow()
	} else if ip6 := pkt.Layer(layers.LayerTypeIPv6); ip6 != nil {
		netFlow = ip6.(*layers.IPv6).NetworkFlow()
	} else {
		return
	}
	r.Assemble(netFlow, tcpLayer.(*layers.TCP), pkt.Metadata().CaptureInfo)
}

// CaptureFile reads a pcap/pcapng file sequentially and runs to
// completion synchronously in the caller's goroutine, per spec §4.4.
type CaptureFile struct {
	base
	Path    string
	BPF     string
	Matcher *hostmatch.Matcher
	// Reassembler, when set, receives every TCP packet's segments so
	// DNS-over-TCP messages straddling packet boundaries reassemble
	// correctly before reaching a Handler.
	Reassembler *tcpreassembly.Reassembler
}

// Start opens the file, emits start_ts_signal for the first packet and
// end_ts_signal for the last, and emits packet_signal for every packet
// in between. It returns once the file is exhausted.
func (c *CaptureFile) Start() error {
	if c.running {
		return nil
	}
	c.running = true
	defer func() { c.running = false }()

	handle, err := pcap.OpenOffline(c.Path)
	if err != nil {
		return nverrors.Wrap(err, nverrors.KindCaptureOpen, "input: failed to open capture file")
	}
	defer handle.Close()

	if c.BPF != "" {
		if err := handle.SetBPFFilter(c.BPF); err != nil {
			return nverrors.Wrap(err, nverrors.KindCaptureOpen, "input: invalid BPF filter")
		}
	}

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	first := true
	var last gopacket.Packet
	for pkt := range src.Packets() {
		if first {
			c.startTS.Emit(pkt.Metadata().Timestamp)
			first = false
		}
		last = pkt
		emitPacket(pkt, c.Matcher, c.Path, &c.packet, c.Reassembler)
	}
	if last != nil {
		c.endTS.Emit(last.Metadata().Timestamp)
	}
	if c.Reassembler != nil {
		c.Reassembler.FlushAll()
	}
	return nil
}

// Stop is a no-op after Start returns (CaptureFile is synchronous and
// does not own a background goroutine to cancel).
func (c *CaptureFile) Stop() error {
	c.running = false
	return nil
}

// LiveInterface opens a named network interface and captures in a
// background goroutine it owns, emitting stats periodically.
type LiveInterface struct {
	base
	Iface   string
	BPF     string
	Matcher *hostmatch.Matcher
	SnapLen int32
	Timeout time.Duration
	// Reassembler, when set, receives every TCP packet's segments; see
	// CaptureFile.Reassembler.
	Reassembler *tcpreassembly.Reassembler

	stopCh chan struct{}
	doneCh chan struct{}
	handle *pcap.Handle
}

const (
	defaultSnapLen = 1000
	defaultTimeout = 10 * time.Millisecond
)

// Start opens the interface and begins capturing on a background
// goroutine; it returns once the handle is open, not once capture ends.
func (l *LiveInterface) Start() error {
	if l.running {
		return nil
	}
	if l.SnapLen == 0 {
		l.SnapLen = defaultSnapLen
	}
	if l.Timeout == 0 {
		l.Timeout = defaultTimeout
	}

	handle, err := pcap.OpenLive(l.Iface, l.SnapLen, true, l.Timeout)
	if err != nil {
		return nverrors.Wrap(err, nverrors.KindCaptureOpen, "input: failed to open live interface")
	}
	if l.BPF != "" {
		if err := handle.SetBPFFilter(l.BPF); err != nil {
			handle.Close()
			return nverrors.Wrap(err, nverrors.KindCaptureOpen, "input: invalid BPF filter")
		}
	}

	l.handle = handle
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.running = true

	go l.captureLoop()
	return nil
}

func (l *LiveInterface) captureLoop() {
	defer close(l.doneCh)
	src := gopacket.NewPacketSource(l.handle, l.handle.LinkType())
	packets := src.Packets()
	statsTicker := time.NewTicker(time.Second)
	defer statsTicker.Stop()

	flushTicker := time.NewTicker(7 * time.Second)
	defer flushTicker.Stop()

	first := true
	for {
		select {
		case <-l.stopCh:
			if l.Reassembler != nil {
				l.Reassembler.FlushAll()
			}
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			if first {
				l.startTS.Emit(pkt.Metadata().Timestamp)
				first = false
			}
			emitPacket(pkt, l.Matcher, l.Iface, &l.packet, l.Reassembler)
		case now := <-flushTicker.C:
			if l.Reassembler != nil {
				l.Reassembler.FlushOlderThan(now)
			}
		case <-statsTicker.C:
			if stats, err := l.handle.Stats(); err == nil {
				l.pcapStats.Emit(PcapStats{
					Received:  uint64(stats.PacketsReceived),
					IfDropped: uint64(stats.PacketsIfDropped),
					OsDropped: uint64(stats.PacketsDropped),
				})
			}
		}
	}
}

// Stop halts the capture goroutine and closes the handle, blocking
// until the goroutine has exited.
func (l *LiveInterface) Stop() error {
	if !l.running {
		return nil
	}
	close(l.stopCh)
	<-l.doneCh
	l.handle.Close()
	l.running = false
	return nil
}

// MockGenerator emits one synthetic DNS-over-UDP query every tick
// (default 100ms) on a background goroutine, for tests and demos.
type MockGenerator struct {
	base
	Interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	rng      *rand.Rand
}

const defaultMockInterval = 100 * time.Millisecond

// Start begins emitting synthetic traffic on a background goroutine.
func (m *MockGenerator) Start() error {
	if m.running {
		return nil
	}
	if m.Interval == 0 {
		m.Interval = defaultMockInterval
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(1))
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.running = true

	go m.loop()
	return nil
}

func (m *MockGenerator) loop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	first := true
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			if first {
				m.startTS.Emit(now)
				first = false
			}
			m.packet.Emit(m.generate(now))
		}
	}
}

func (m *MockGenerator) generate(now time.Time) netevent.PacketEvent {
	qname := randomMockName(m.rng)
	payload := buildMockDnsQuery(qname)
	return netevent.PacketEvent{
		Raw:       payload,
		L3:        netevent.L3IPv4,
		L4:        netevent.L4UDP,
		Direction: netevent.DirFromHost,
		SrcIP:     net.IPv4(127, 0, 0, 1),
		DstIP:     net.IPv4(127, 0, 0, 1),
		SrcPort:   uint16(1024 + m.rng.Intn(1000)),
		DstPort:   53,
		Timestamp: now,
		Iface:     "mock",
	}
}

// Stop halts the generator goroutine, blocking until it exits.
func (m *MockGenerator) Stop() error {
	if !m.running {
		return nil
	}
	close(m.stopCh)
	<-m.doneCh
	m.endTS.Emit(time.Now())
	m.running = false
	return nil
}
