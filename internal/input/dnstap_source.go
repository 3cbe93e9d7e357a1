// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package input

import (
	"net"
	"os"
	"sync"

	"grimm.is/netvisor/internal/dnstap"
	"grimm.is/netvisor/internal/framestream"
	"grimm.is/netvisor/internal/logging"
	"grimm.is/netvisor/internal/netevent"
	"grimm.is/netvisor/internal/nverrors"
)

const dnstapContentType = "protobuf:dnstap.Dnstap"

// DnstapSignal is the dnstap_signal payload: a decoded Message plus the
// reconstructed packet event carrying its DNS wire payload, ready for
// DnsParser.
type DnstapSignal struct {
	Decoded dnstap.Decoded
	Packet  netevent.PacketEvent
}

func toPacketEvent(d *dnstap.Decoded) netevent.PacketEvent {
	ev := netevent.PacketEvent{
		Raw:       d.Payload,
		L4:        d.L4,
		SrcIP:     d.SrcIP,
		DstIP:     d.DstIP,
		SrcPort:   d.SrcPort,
		DstPort:   d.DstPort,
		Timestamp: d.Timestamp,
	}
	if d.SrcIP.To4() != nil {
		ev.L3 = netevent.L3IPv4
	} else if d.SrcIP != nil {
		ev.L3 = netevent.L3IPv6
	}
	ev.FlowHash = flowHash(d.SrcIP, d.DstIP, d.SrcPort, d.DstPort, d.L4)
	return ev
}

// dnstapSubs holds the plain callback list dnstap sources notify;
// dnstap frames are rare enough next to packet_signal's volume that a
// plain slice is simpler than wiring a generic Signal. It holds no lock
// of its own: OnDnstap appends unguarded, so subscribers are registered
// before Start.
type dnstapSubs struct {
	sub []func(DnstapSignal)
}

// DnstapFile reads a frame-stream file with a simplified unidirectional
// decode (no handshake reply is sent since there's no peer to reply
// to) and emits dnstap_signal per decoded MESSAGE frame, per spec §4.4.
type DnstapFile struct {
	base
	Path   string
	Signal dnstapSubs
}

// OnDnstap registers fn to be called for every decoded MESSAGE frame.
func (d *DnstapFile) OnDnstap(fn func(DnstapSignal)) {
	d.Signal.sub = append(d.Signal.sub, fn)
}

// Start reads the file to completion synchronously, emitting
// dnstap_signal for each decoded MESSAGE frame in order.
func (d *DnstapFile) Start() error {
	if d.running {
		return nil
	}
	d.running = true
	defer func() { d.running = false }()

	f, err := os.Open(d.Path)
	if err != nil {
		return nverrors.Wrap(err, nverrors.KindCaptureOpen, "input: failed to open dnstap file")
	}
	defer f.Close()

	codec := framestream.New(f, nil, []string{dnstapContentType}, 0)
	first := true
	for {
		frame, err := codec.Next()
		if err != nil {
			break
		}
		decoded, derr := dnstap.Decode(frame)
		if derr != nil {
			logging.Warn("[dnstap-file] %v", derr)
			continue
		}
		if decoded == nil {
			continue
		}
		if first {
			d.startTS.Emit(decoded.Timestamp)
			first = false
		}
		sig := DnstapSignal{Decoded: *decoded, Packet: toPacketEvent(decoded)}
		for _, fn := range d.Signal.sub {
			fn(sig)
		}
		d.packet.Emit(sig.Packet)
		d.endTS.Emit(decoded.Timestamp)
	}
	return nil
}

// Stop is a no-op after Start returns (DnstapFile is synchronous).
func (d *DnstapFile) Stop() error {
	d.running = false
	return nil
}

// DnstapSocket listens on a unix-domain socket, accepting concurrent
// client connections, each running its own FrameStreamCodec on its own
// goroutine (the Go equivalent of the spec's single-threaded
// cooperative event loop: one goroutine per connection rather than one
// callback-driven loop, since Go's scheduler already multiplexes
// goroutines onto OS threads cheaply).
type DnstapSocket struct {
	base
	SocketPath string
	Signal     dnstapSubs

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// OnDnstap registers fn to be called for every decoded MESSAGE frame
// from any connected client.
func (s *DnstapSocket) OnDnstap(fn func(DnstapSignal)) {
	s.Signal.sub = append(s.Signal.sub, fn)
}

// Start removes any stale socket file, binds, and begins accepting
// connections on a background goroutine.
func (s *DnstapSocket) Start() error {
	if s.running {
		return nil
	}
	os.Remove(s.SocketPath)

	l, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return nverrors.Wrap(err, nverrors.KindCaptureOpen, "input: failed to bind dnstap socket")
	}
	s.listener = l
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *DnstapSocket) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *DnstapSocket) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	codec := framestream.New(conn, conn, []string{dnstapContentType}, 0)
	for {
		frame, err := codec.Next()
		if err != nil {
			return
		}
		decoded, derr := dnstap.Decode(frame)
		if derr != nil {
			logging.Warn("[dnstap-socket] %v", derr)
			continue
		}
		if decoded == nil {
			continue
		}
		sig := DnstapSignal{Decoded: *decoded, Packet: toPacketEvent(decoded)}
		s.mu.Lock()
		for _, fn := range s.Signal.sub {
			fn(sig)
		}
		s.mu.Unlock()
		s.packet.Emit(sig.Packet)
	}
}

// Stop closes the listener, which unblocks Accept and causes the
// accept loop to exit; existing connections are closed as their
// goroutines notice the closed listener has no effect on them
// directly, so we also wait for in-flight connections to drain.
func (s *DnstapSocket) Stop() error {
	if !s.running {
		return nil
	}
	s.listener.Close()
	s.wg.Wait()
	os.Remove(s.SocketPath)
	s.running = false
	return nil
}
