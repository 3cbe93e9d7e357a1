// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"encoding/json"

	"grimm.is/netvisor/internal/sketches"
)

// WirePacketsJSON mirrors the spec's "wire_packets" block.
type WirePacketsJSON struct {
	UDP      uint64 `json:"UDP"`
	TCP      uint64 `json:"TCP"`
	IPv4     uint64 `json:"IPv4"`
	IPv6     uint64 `json:"IPv6"`
	Queries  uint64 `json:"queries"`
	Replies  uint64 `json:"replies"`
	Filtered uint64 `json:"filtered"`
	NoError  uint64 `json:"NOERROR"`
	Nx       uint64 `json:"NX"`
	Refused  uint64 `json:"REFUSED"`
	SrvFail  uint64 `json:"SRVFAIL"`
}

// CardinalityJSON mirrors the spec's "cardinality" block.
type CardinalityJSON struct {
	Qname     uint64 `json:"qname"`
	SrcIPsIn  uint64 `json:"src_ips_in"`
	DstIPsOut uint64 `json:"dst_ips_out"`
}

// XactCountsJSON mirrors the spec's "xact.counts" block.
type XactCountsJSON struct {
	Total    uint64 `json:"total"`
	In       uint64 `json:"in"`
	Out      uint64 `json:"out"`
	TimedOut uint64 `json:"timed_out"`
}

// XactJSON mirrors the spec's "xact" block.
type XactJSON struct {
	Counts  XactCountsJSON             `json:"counts"`
	Latency sketches.LatencyPercentiles `json:"latency"`
}

// BucketJSON is the full stable-key JSON document one bucket serializes
// to, matching spec §6's schema exactly.
type BucketJSON struct {
	WirePackets WirePacketsJSON  `json:"wire_packets"`
	Cardinality CardinalityJSON  `json:"cardinality"`
	TopQname2   []sketches.Entry `json:"top_qname2"`
	TopQtype    []sketches.Entry `json:"top_qtype"`
	TopRcode    []sketches.Entry `json:"top_rcode"`
	TopUDPPorts []sketches.Entry `json:"top_udp_ports"`
	TopIPv4     []sketches.Entry `json:"top_ipv4"`
	TopIPv6     []sketches.Entry `json:"top_ipv6"`
	Xact        XactJSON         `json:"xact"`
}

// Snapshot builds the JSON-ready view of a bucket. It reads sketch and
// counter state without additional synchronization beyond whatever lock
// the caller (Window.Bucket via Window's RWMutex) already holds.
func (b *Bucket) Snapshot() BucketJSON {
	return BucketJSON{
		WirePackets: WirePacketsJSON{
			UDP:      b.Wire.UDP.Value(),
			TCP:      b.Wire.TCP.Value(),
			IPv4:     b.Wire.IPv4.Value(),
			IPv6:     b.Wire.IPv6.Value(),
			Queries:  b.Wire.Queries.Value(),
			Replies:  b.Wire.Replies.Value(),
			Filtered: b.Wire.Filtered.Value(),
			NoError:  b.Wire.NoError.Value(),
			Nx:       b.Wire.Nx.Value(),
			Refused:  b.Wire.Refused.Value(),
			SrvFail:  b.Wire.SrvFail.Value(),
		},
		Cardinality: CardinalityJSON{
			Qname:     b.QnameCardinality.Estimate(),
			SrcIPsIn:  b.SrcIPsInCard.Estimate(),
			DstIPsOut: b.DstIPsOutCard.Estimate(),
		},
		TopQname2:   b.TopQname2.Top(),
		TopQtype:    b.TopQtype.Top(),
		TopRcode:    b.TopRcode.Top(),
		TopUDPPorts: b.TopUDPPorts.Top(),
		TopIPv4:     b.TopIPv4.Top(),
		TopIPv6:     b.TopIPv6.Top(),
		Xact: XactJSON{
			Counts: XactCountsJSON{
				Total:    b.Xact.Total.Value(),
				In:       b.Xact.In.Value(),
				Out:      b.Xact.Out.Value(),
				TimedOut: b.Xact.TimedOut.Value(),
			},
			Latency: b.XactLatency.Percentiles(),
		},
	}
}

// MarshalJSON implements json.Marshaler so a Bucket can be encoded
// directly.
func (b *Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}
