// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package handler wires an InputSource's event signals to a metrics
// window: DnsHandler parses and counts DNS transactions, NetHandler
// counts raw packet traffic, optionally filtered by an upstream
// DnsHandler's surviving events.
package handler

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"

	"grimm.is/netvisor/internal/dnsparse"
	"grimm.is/netvisor/internal/filter"
	"grimm.is/netvisor/internal/hostmatch"
	"grimm.is/netvisor/internal/logging"
	"grimm.is/netvisor/internal/metrics"
	"grimm.is/netvisor/internal/netevent"
	"grimm.is/netvisor/internal/tcpreassembly"
	"grimm.is/netvisor/internal/xact"
)

// Base implements the idempotent Start/Stop pattern every handler
// embeds, matching the teacher's Service.Start/Stop guard.
type Base struct {
	mu      sync.Mutex
	running bool
	name    string
}

// Start marks the handler running; a repeat call is a no-op.
func (b *Base) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	logging.Debug("[%s] starting", b.name)
	b.running = true
	return nil
}

// Stop marks the handler stopped; a repeat call is a no-op.
func (b *Base) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return nil
	}
	logging.Debug("[%s] stopping", b.name)
	b.running = false
	return nil
}

// Running reports whether Start has been called without a matching
// Stop.
func (b *Base) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// NetHandler counts raw packet traffic into its own metrics window. It
// may be constructed standalone (subscribed directly to an InputSource)
// or "behind" a DnsHandler, in which case it never subscribes to an
// input source itself and instead only receives packets the DnsHandler
// forwards after its own filter chain accepts them.
type NetHandler struct {
	Base
	Window *metrics.Window
}

// NewNetHandler returns a NetHandler with a fresh metrics window.
func NewNetHandler(numPeriods int, periodLength time.Duration) *NetHandler {
	h := &NetHandler{Window: metrics.NewWindow(numPeriods, periodLength)}
	h.name = "net"
	return h
}

// HandlePacket updates wire counters for one packet event. This is the
// method an InputSource's packet_signal subscribes directly, or that a
// DnsHandler calls via its side-channel forward.
func (h *NetHandler) HandlePacket(pkt netevent.PacketEvent) {
	b := h.Window.Current(pkt.Timestamp)
	b.Touch(pkt.Timestamp)

	switch pkt.L3 {
	case netevent.L3IPv4:
		b.Wire.IPv4.Inc()
	case netevent.L3IPv6:
		b.Wire.IPv6.Inc()
	}
	switch pkt.L4 {
	case netevent.L4TCP:
		b.Wire.TCP.Inc()
	case netevent.L4UDP:
		b.Wire.UDP.Inc()
		b.TopUDPPorts.Add(strconv.Itoa(int(pkt.DstPort)))
	case netevent.L4Other:
	}

	if pkt.SrcIP != nil {
		if pkt.Direction == netevent.DirToHost {
			b.SrcIPsInCard.AddBytes(pkt.SrcIP)
		}
	}
	if pkt.DstIP != nil && pkt.Direction == netevent.DirFromHost {
		b.DstIPsOutCard.AddBytes(pkt.DstIP)
		if pkt.L3 == netevent.L3IPv4 {
			b.TopIPv4.Add(pkt.DstIP.String())
		} else if pkt.L3 == netevent.L3IPv6 {
			b.TopIPv6.Add(pkt.DstIP.String())
		}
	}
}

// DnsHandler parses DNS payloads, runs them through a filter chain and
// the transaction matcher, and updates DNS-specific metrics. It can
// optionally forward every packet that survives filtering to a
// downstream NetHandler.
type DnsHandler struct {
	Base
	Window     *metrics.Window
	parser     *dnsparse.Parser
	chain      *filter.Chain
	matcher    *xact.Matcher
	downstream *NetHandler

	// Matcher classifies direction for TCP-reassembled messages, which
	// arrive through OnMessage rather than an InputSource's classify
	// step. Nil leaves Direction at DirUnknown, same as an InputSource
	// with no host_spec configured.
	Matcher *hostmatch.Matcher

	tcpMu  sync.Mutex
	tcpBuf map[uint64][]byte // flow hash -> unconsumed reassembled bytes, for RFC 1035 §4.2.2 length-prefix framing
}

// NewDnsHandler returns a DnsHandler. downstream may be nil; when set,
// packets surviving the filter chain are forwarded to it (the
// net-handler-behind-dns-filter wiring from spec §4.9/§9).
func NewDnsHandler(numPeriods int, periodLength time.Duration, filterOpts filter.Options, xactTimeout time.Duration, downstream *NetHandler) *DnsHandler {
	h := &DnsHandler{
		Window:     metrics.NewWindow(numPeriods, periodLength),
		parser:     dnsparse.New(),
		chain:      filter.New(filterOpts),
		matcher:    xact.New(xactTimeout),
		downstream: downstream,
		tcpBuf:     make(map[uint64][]byte),
	}
	h.name = "dns"
	return h
}

// HandlePacket parses pkt's payload as a DNS message (skipping non-DNS
// traffic silently, not as a filtered count, per spec §4.8's "dropped
// before DNS parsing" rule) and updates every DNS metric.
func (h *DnsHandler) HandlePacket(pkt netevent.PacketEvent) {
	rec, err := h.parser.Parse(pkt.Raw, pkt)
	if err != nil {
		return
	}

	b := h.Window.Current(pkt.Timestamp)
	b.Touch(pkt.Timestamp)

	if !h.chain.Allow(rec) {
		b.Wire.Filtered.Inc()
		return
	}

	if h.downstream != nil {
		h.downstream.HandlePacket(pkt)
	}

	switch pkt.L3 {
	case netevent.L3IPv4:
		b.Wire.IPv4.Inc()
	case netevent.L3IPv6:
		b.Wire.IPv6.Inc()
	}
	switch pkt.L4 {
	case netevent.L4TCP:
		b.Wire.TCP.Inc()
	case netevent.L4UDP:
		b.Wire.UDP.Inc()
	}

	b.QnameCardinality.AddString(rec.Question.Name)
	b.TopQname2.Add(topQname2(rec.Question.Name))
	b.TopQtype.Add(qtypeName(rec.Question.Qtype))
	b.TopRcode.Add(rcodeName(rec.Header.Rcode))

	switch rec.Header.Rcode {
	case 0:
		b.Wire.NoError.Inc()
	case 3:
		b.Wire.Nx.Inc()
	case 5:
		b.Wire.Refused.Inc()
	case 2:
		b.Wire.SrvFail.Inc()
	}

	now := pkt.Timestamp
	h.sweepTimeouts(b, now)

	if rec.IsQuery() {
		b.Wire.Queries.Inc()
		h.matcher.Query(rec, now)
		h.countDirection(b, pkt.Direction, true)
	} else {
		b.Wire.Replies.Inc()
		txn, matched := h.matcher.Reply(rec, now)
		if matched {
			b.XactLatency.Add(float64(txn.Latency().Milliseconds()))
			b.Xact.Total.Inc()
		}
	}
}

// SetMatcher implements the host-direction classifier setter
// cmd/netvisor's buildSource uses when wiring an input: TCP-reassembled
// traffic arrives through OnMessage rather than an InputSource's own
// classify() step, so it needs its own copy of the matcher.
func (h *DnsHandler) SetMatcher(m *hostmatch.Matcher) {
	h.Matcher = m
}

// OnMessage implements tcpreassembly.Sink, unpacking the RFC 1035
// §4.2.2 2-byte length prefix DNS-over-TCP uses and handing each
// complete message to HandlePacket as if it arrived over UDP.
func (h *DnsHandler) OnMessage(m tcpreassembly.Message) {
	h.tcpMu.Lock()
	buf := append(h.tcpBuf[m.FlowHash], m.Payload...)
	for {
		if len(buf) < 2 {
			break
		}
		msgLen := int(binary.BigEndian.Uint16(buf[:2]))
		if len(buf) < 2+msgLen {
			break
		}
		msg := buf[2 : 2+msgLen]
		buf = buf[2+msgLen:]

		ev := netevent.PacketEvent{
			Raw:       msg,
			L4:        netevent.L4TCP,
			SrcIP:     m.SrcIP,
			DstIP:     m.DstIP,
			SrcPort:   m.SrcPort,
			DstPort:   m.DstPort,
			FlowHash:  m.FlowHash,
			Timestamp: m.Timestamp,
		}
		if m.SrcIP.To4() != nil {
			ev.L3 = netevent.L3IPv4
		} else if m.SrcIP != nil {
			ev.L3 = netevent.L3IPv6
		}
		if h.Matcher != nil {
			if sa, ok := addrFromIP(m.SrcIP); ok {
				if da, ok := addrFromIP(m.DstIP); ok {
					ev.Direction = h.Matcher.Classify(sa, da)
				}
			}
		}
		h.HandlePacket(ev)
	}
	if m.End {
		delete(h.tcpBuf, m.FlowHash)
	} else {
		h.tcpBuf[m.FlowHash] = buf
	}
	h.tcpMu.Unlock()
}

// OnConnection implements tcpreassembly.Sink; connection lifecycle
// itself carries no DNS-over-TCP metric on its own (the messages it
// carries are what's counted), so this only clears stale buffer state.
func (h *DnsHandler) OnConnection(ev tcpreassembly.ConnectionEvent) {
	if ev.Started {
		return
	}
	h.tcpMu.Lock()
	delete(h.tcpBuf, ev.FlowHash)
	h.tcpMu.Unlock()
}

// addrFromIP converts a net.IP to netip.Addr, preferring the 4-byte
// form for IPv4 so it matches IPv4 CIDR prefixes (net.IP.To16() would
// otherwise yield a 4-in-6 mapped address hostmatch's prefix
// containment check won't match against a plain IPv4 prefix).
func addrFromIP(ip net.IP) (netip.Addr, bool) {
	if v4 := ip.To4(); v4 != nil {
		return netip.AddrFromSlice(v4)
	}
	if ip == nil {
		return netip.Addr{}, false
	}
	return netip.AddrFromSlice(ip.To16())
}

func (h *DnsHandler) sweepTimeouts(b *metrics.Bucket, now time.Time) {
	for range h.matcher.Evict(now) {
		b.Xact.TimedOut.Inc()
		b.Xact.Total.Inc()
	}
}

func (h *DnsHandler) countDirection(b *metrics.Bucket, dir netevent.Direction, isQuery bool) {
	if !isQuery {
		return
	}
	switch dir {
	case netevent.DirToHost:
		b.Xact.In.Inc()
	case netevent.DirFromHost:
		b.Xact.Out.Inc()
	}
}

// topQname2 returns the last two labels of a normalized, trailing-dot
// qname, e.g. "foo.bar.test.com." -> ".test.com".
func topQname2(qname string) string {
	trimmed := qname
	if len(trimmed) > 0 && trimmed[len(trimmed)-1] == '.' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	labels := splitLabels(trimmed)
	if len(labels) <= 2 {
		return "." + trimmed
	}
	last2 := labels[len(labels)-2:]
	return "." + joinLabels(last2)
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	labels = append(labels, name[start:])
	return labels
}

func joinLabels(labels []string) string {
	out := labels[0]
	for _, l := range labels[1:] {
		out += "." + l
	}
	return out
}

func qtypeName(qtype uint16) string {
	if name, ok := dns.TypeToString[qtype]; ok {
		return name
	}
	return fmt.Sprintf("TYPE%d", qtype)
}

func rcodeName(rcode int) string {
	if name, ok := dns.RcodeToString[rcode]; ok {
		return name
	}
	return fmt.Sprintf("RCODE%d", rcode)
}
