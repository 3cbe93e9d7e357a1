// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package input

import (
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// sflowCollectorPort is the IANA-registered sFlow collector port. A UDP
// datagram addressed to it carries sFlow v5 samples of other packets
// rather than being a packet of interest itself, so CaptureFile and
// LiveInterface detect it by destination port the same way a real sFlow
// collector would, with no separate config knob.
const sflowCollectorPort = 6343

// isSflow reports whether pkt is a UDP datagram addressed to the sFlow
// collector port.
func isSflow(pkt gopacket.Packet) bool {
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	return ok && udp.DstPort == sflowCollectorPort
}

// sflowSamples decodes pkt's UDP payload as an sFlow v5 datagram and
// returns one decoded gopacket.Packet per raw-packet flow record it
// carries. A single sFlow datagram routinely samples several unrelated
// flows at once (the spec's ecmp.pcap scenario: one capture's worth of
// sFlow datagrams fans out into thousands of synthetic packet events),
// so the caller treats each returned packet exactly like one read
// straight off the wire. Counter samples carry no packet payload and are
// skipped; a datagram that fails to decode (truncated, wrong version)
// yields no samples rather than an error; such datagrams are dropped
// without being counted.
func sflowSamples(pkt gopacket.Packet) []gopacket.Packet {
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		return nil
	}

	inner := gopacket.NewPacket(udp.Payload, layers.LayerTypeSFlow, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	sflowLayer, ok := inner.Layer(layers.LayerTypeSFlow).(*layers.SFlowDatagram)
	if !ok {
		return nil
	}

	var out []gopacket.Packet
	for _, sample := range sflowLayer.FlowSamples {
		for _, rec := range sample.Records {
			switch r := rec.(type) {
			case layers.SFlowRawPacketFlowRecord:
				if r.Header != nil {
					out = append(out, r.Header)
				}
			case *layers.SFlowRawPacketFlowRecord:
				if r.Header != nil {
					out = append(out, r.Header)
				}
			}
		}
	}
	return out
}
