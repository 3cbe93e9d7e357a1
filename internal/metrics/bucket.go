// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics holds the time-bucketed counters and sketches a
// Handler feeds, and the rolling window that rotates them on a period
// boundary.
package metrics

import (
	"time"

	"grimm.is/netvisor/internal/sketches"
)

// WirePacketCounters are the exact, monotonic event counts the JSON
// schema's "wire_packets" block reports.
type WirePacketCounters struct {
	UDP      sketches.Counter
	TCP      sketches.Counter
	IPv4     sketches.Counter
	IPv6     sketches.Counter
	OtherL4  sketches.Counter
	Queries  sketches.Counter
	Replies  sketches.Counter
	Filtered sketches.Counter
	NoError  sketches.Counter
	Nx       sketches.Counter
	Refused  sketches.Counter
	SrvFail  sketches.Counter
}

// XactCounters are the exact transaction-matcher counts the JSON
// schema's "xact.counts" block reports.
type XactCounters struct {
	Total    sketches.Counter
	In       sketches.Counter
	Out      sketches.Counter
	TimedOut sketches.Counter
}

// Bucket holds one period's counters and sketches for a handler.
// Exported fields are exact counters/sketches safe for concurrent
// atomic update from the event path; the containing Window's mutex
// guards StartTS/EndTS and rotation, not these fields themselves.
type Bucket struct {
	StartTS time.Time
	EndTS   time.Time

	Wire WirePacketCounters
	Xact XactCounters

	QnameCardinality  *sketches.HLL
	SrcIPsInCard      *sketches.HLL
	DstIPsOutCard     *sketches.HLL

	TopQname2   *sketches.TopK
	TopQtype    *sketches.TopK
	TopRcode    *sketches.TopK
	TopUDPPorts *sketches.TopK
	TopIPv4     *sketches.TopK
	TopIPv6     *sketches.TopK

	XactLatency *sketches.TDigest
}

// NewBucket returns a fresh bucket starting at ts, with all sketches at
// their spec defaults (HLL at 16384 registers, TopK at k=10).
func NewBucket(ts time.Time) *Bucket {
	return &Bucket{
		StartTS: ts,
		EndTS:   ts,

		QnameCardinality: sketches.NewHLL(),
		SrcIPsInCard:     sketches.NewHLL(),
		DstIPsOutCard:    sketches.NewHLL(),

		TopQname2:   sketches.NewTopK(10),
		TopQtype:    sketches.NewTopK(10),
		TopRcode:    sketches.NewTopK(10),
		TopUDPPorts: sketches.NewTopK(10),
		TopIPv4:     sketches.NewTopK(10),
		TopIPv6:     sketches.NewTopK(10),

		XactLatency: sketches.NewTDigest(),
	}
}

// PeriodLength is end_ts - start_ts, the spec's "period_length of the
// current (still open) bucket".
func (b *Bucket) PeriodLength() time.Duration {
	return b.EndTS.Sub(b.StartTS)
}

// Touch advances EndTS to ts if ts is later, the one mutation every
// event-path update performs regardless of which counters it touches.
func (b *Bucket) Touch(ts time.Time) {
	if ts.After(b.EndTS) {
		b.EndTS = ts
	}
}
