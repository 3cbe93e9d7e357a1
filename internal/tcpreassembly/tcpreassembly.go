// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tcpreassembly reorders captured TCP segments into contiguous
// byte streams, so DNS-over-TCP messages that straddle packet boundaries
// parse correctly. It wraps gopacket's reassembly package the way a
// packet-capture pipeline normally does: one reassembly.StreamFactory
// handing out a Stream per bidirectional flow, fed by a ticking flush
// loop rather than a read-until-EOF loop, since a live capture never
// reaches EOF.
package tcpreassembly

import (
	"net"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/reassembly"
)

// Message is one reassembled, ordered byte stream segment delivered to a
// handler, tagged with the flow it belongs to and whether the stream just
// completed (so length-prefixed protocols like DNS-over-TCP can tell a
// final partial message from one still awaiting more bytes).
type Message struct {
	FlowHash  uint64
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	Payload   []byte
	Timestamp time.Time
	End       bool
}

// ConnectionEvent reports a TCP connection's lifecycle for xact/metrics
// bookkeeping independent of whether any payload was exchanged.
type ConnectionEvent struct {
	FlowHash  uint64
	Timestamp time.Time
	Started   bool // false means the connection ended
}

// Sink receives reassembled payload and connection lifecycle events. A
// Handler implements this to plug into the reassembler.
type Sink interface {
	OnMessage(Message)
	OnConnection(ConnectionEvent)
}

// Options configures the underlying assembler's memory bounds and flush
// cadence. Zero-valued fields take the package defaults.
type Options struct {
	MaxBufferedPagesTotal         int
	MaxBufferedPagesPerConnection int
	FlushOlderThan                time.Duration
	CloseOlderThan                time.Duration
}

const (
	defaultMaxBufferedPagesTotal         = 4096
	defaultMaxBufferedPagesPerConnection = 64
	defaultFlushOlderThan                = 30 * time.Second
	defaultCloseOlderThan                = 2 * time.Minute
)

// Reassembler drives a gopacket assembler over a stream of captured
// packets and forwards completed segments to a Sink.
type Reassembler struct {
	assembler  *reassembly.Assembler
	pool       *reassembly.StreamPool
	factory    *streamFactory
	flushAfter time.Duration
	closeAfter time.Duration

	mu      sync.Mutex
	stopped bool
}

// New builds a Reassembler delivering to sink.
func New(sink Sink, opts Options) *Reassembler {
	if opts.MaxBufferedPagesTotal == 0 {
		opts.MaxBufferedPagesTotal = defaultMaxBufferedPagesTotal
	}
	if opts.MaxBufferedPagesPerConnection == 0 {
		opts.MaxBufferedPagesPerConnection = defaultMaxBufferedPagesPerConnection
	}
	if opts.FlushOlderThan == 0 {
		opts.FlushOlderThan = defaultFlushOlderThan
	}
	if opts.CloseOlderThan == 0 {
		opts.CloseOlderThan = defaultCloseOlderThan
	}

	factory := &streamFactory{sink: sink}
	pool := reassembly.NewStreamPool(factory)
	assembler := reassembly.NewAssembler(pool)
	assembler.AssemblerOptions.MaxBufferedPagesTotal = opts.MaxBufferedPagesTotal
	assembler.AssemblerOptions.MaxBufferedPagesPerConnection = opts.MaxBufferedPagesPerConnection

	return &Reassembler{
		assembler:  assembler,
		pool:       pool,
		factory:    factory,
		flushAfter: opts.FlushOlderThan,
		closeAfter: opts.CloseOlderThan,
	}
}

// Assemble feeds one captured TCP segment into the reassembler. net and
// tcp are the decoded network and transport layers; ci carries the
// packet's capture timestamp.
func (r *Reassembler) Assemble(netFlow gopacket.Flow, tcp *layers.TCP, ci gopacket.CaptureInfo) {
	r.assembler.AssembleWithContext(netFlow, tcp, &captureContext{ci: ci})
}

// FlushOlderThan periodically evicts connections that have been idle
// past the configured flush/close windows; the caller should invoke this
// on its own ticker (every FlushOlderThan/4 by convention) since a live
// capture has no natural end-of-input to trigger a final flush.
func (r *Reassembler) FlushOlderThan(now time.Time) {
	r.assembler.FlushCloseOlderThan(now.Add(-r.flushAfter), now.Add(-r.closeAfter))
}

// FlushAll forces every open connection closed, used at shutdown so any
// partially-reassembled DNS-over-TCP message still gets delivered.
func (r *Reassembler) FlushAll() {
	r.assembler.FlushAll()
}

// captureContext carries a packet's capture metadata through the
// assembler to ReassembledSG callbacks, per reassembly.AssemblerContext.
type captureContext struct {
	ci gopacket.CaptureInfo
}

func (c *captureContext) GetCaptureInfo() gopacket.CaptureInfo { return c.ci }

// streamFactory hands out one tcpStream per bidirectional flow.
type streamFactory struct {
	sink Sink
}

func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow, tcp *layers.TCP, ac reassembly.AssemblerContext) reassembly.Stream {
	srcE, dstE := netFlow.Endpoints()
	s := &tcpStream{
		netFlow: netFlow,
		srcIP:   net.IP(srcE.Raw()),
		dstIP:   net.IP(dstE.Raw()),
		srcPort: uint16(tcp.SrcPort),
		dstPort: uint16(tcp.DstPort),
		sink:    f.sink,
	}
	s.flowHash = netFlow.FastHash() ^ tcpFlow.FastHash()
	f.sink.OnConnection(ConnectionEvent{FlowHash: s.flowHash, Timestamp: ac.GetCaptureInfo().Timestamp, Started: true})
	return s
}

// tcpStream implements reassembly.Stream for one bidirectional TCP
// connection, forwarding both directions' reassembled bytes to the sink
// tagged with their direction.
type tcpStream struct {
	netFlow  gopacket.Flow
	flowHash uint64
	srcIP    net.IP
	dstIP    net.IP
	srcPort  uint16
	dstPort  uint16
	sink     Sink
	done     bool
}

// Accept always forces the stream to start even without an observed SYN,
// since a long-lived capture may begin mid-connection; without this the
// assembler would hold the first segments forever waiting for a SYN that
// already happened before capture started.
func (s *tcpStream) Accept(tcp *layers.TCP, ci gopacket.CaptureInfo, dir reassembly.TCPFlowDirection, nextSeq reassembly.Sequence, start *bool, ac reassembly.AssemblerContext) bool {
	*start = true
	return true
}

func (s *tcpStream) ReassembledSG(sg reassembly.ScatterGather, ac reassembly.AssemblerContext) {
	dir, _, isEnd, _ := sg.Info()
	length, _ := sg.Lengths()
	if length == 0 && !isEnd {
		return
	}
	payload := append([]byte(nil), sg.Fetch(length)...)

	src, dst := s.srcIP, s.dstIP
	srcPort, dstPort := s.srcPort, s.dstPort
	if dir == reassembly.TCPDirServerToClient {
		src, dst = dst, src
		srcPort, dstPort = dstPort, srcPort
	}

	s.sink.OnMessage(Message{
		FlowHash:  s.flowHash,
		SrcIP:     src,
		DstIP:     dst,
		SrcPort:   srcPort,
		DstPort:   dstPort,
		Payload:   payload,
		Timestamp: ac.GetCaptureInfo().Timestamp,
		End:       isEnd,
	})
}

func (s *tcpStream) ReassemblyComplete(ac reassembly.AssemblerContext) bool {
	if s.done {
		return true
	}
	s.done = true
	ts := time.Now()
	if ac != nil {
		ts = ac.GetCaptureInfo().Timestamp
	}
	s.sink.OnConnection(ConnectionEvent{FlowHash: s.flowHash, Timestamp: ts, Started: false})
	return true
}
