// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sketches

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// tdigestCompression is the target centroid count; higher values trade
// memory for accuracy. 100 keeps relative error at the configured
// quantiles under the spec's 1% target for xact-latency-sized samples.
const tdigestCompression = 100

// bufferFlushFactor bounds how many raw samples accumulate before a
// compress pass folds them into centroids.
const bufferFlushFactor = 8

type centroid struct {
	mean   float64
	weight float64
}

// TDigest is a streaming quantile estimator (Dunning's t-digest, "k1"
// scale function), used to track DNS transaction latency percentiles
// without storing every sample.
type TDigest struct {
	compression float64
	centroids   []centroid
	buffer      []centroid
	totalWeight float64
}

// NewTDigest returns an empty quantile digest at the default compression.
func NewTDigest() *TDigest {
	return &TDigest{compression: tdigestCompression}
}

// Add records one observed latency (or other) sample, in the sketch's
// native units (the caller, MetricsBucket, uses milliseconds).
func (d *TDigest) Add(value float64) {
	d.buffer = append(d.buffer, centroid{mean: value, weight: 1})
	d.totalWeight++
	if len(d.buffer) >= int(d.compression)*bufferFlushFactor {
		d.compress()
	}
}

// Quantile returns the estimated value at quantile q in [0, 1].
func (d *TDigest) Quantile(q float64) float64 {
	d.compress()
	if len(d.centroids) == 0 {
		return 0
	}
	if q <= 0 {
		return d.centroids[0].mean
	}
	if q >= 1 {
		return d.centroids[len(d.centroids)-1].mean
	}

	target := q * d.totalWeight
	cum := 0.0
	for i, c := range d.centroids {
		next := cum + c.weight
		if target <= next || i == len(d.centroids)-1 {
			if i == 0 || i == len(d.centroids)-1 {
				return c.mean
			}
			// Linear interpolation between this centroid and its
			// predecessor across the gap target falls into.
			prev := d.centroids[i-1]
			span := next - cum
			if span <= 0 {
				return c.mean
			}
			frac := (target - cum) / span
			return prev.mean + frac*(c.mean-prev.mean)
		}
		cum = next
	}
	return d.centroids[len(d.centroids)-1].mean
}

// compress folds any buffered raw samples into the centroid list,
// merging centroids whose combined weight still fits under the k1 scale
// function's size limit for their position in the distribution.
func (d *TDigest) compress() {
	if len(d.buffer) == 0 {
		return
	}

	all := make([]centroid, 0, len(d.centroids)+len(d.buffer))
	all = append(all, d.centroids...)
	all = append(all, d.buffer...)
	d.buffer = d.buffer[:0]

	sort.Slice(all, func(i, j int) bool { return all[i].mean < all[j].mean })

	merged := make([]centroid, 0, len(all))
	weightSoFar := 0.0
	cur := all[0]
	for _, c := range all[1:] {
		projected := weightSoFar + cur.weight + c.weight
		q := projected / d.totalWeight
		limit := 4 * d.totalWeight * q * (1 - q) / d.compression
		if cur.weight+c.weight <= limit || limit <= 0 {
			cur = centroid{
				mean:   (cur.mean*cur.weight + c.mean*c.weight) / (cur.weight + c.weight),
				weight: cur.weight + c.weight,
			}
		} else {
			merged = append(merged, cur)
			weightSoFar += cur.weight
			cur = c
		}
	}
	merged = append(merged, cur)
	d.centroids = merged
}

// Merge folds other's centroids into d by re-adding them as weighted
// samples, matching the shared same-type-union contract.
func (d *TDigest) Merge(other Sketch) error {
	od, ok := other.(*TDigest)
	if !ok {
		return fmt.Errorf("sketches: cannot merge %T into TDigest", other)
	}
	od.compress()
	for _, c := range od.centroids {
		d.buffer = append(d.buffer, c)
		d.totalWeight += c.weight
	}
	d.compress()
	return nil
}

// Reset clears the digest back to empty.
func (d *TDigest) Reset() {
	d.centroids = nil
	d.buffer = nil
	d.totalWeight = 0
}

// LatencyPercentiles is the JSON shape the spec's xact.latency block uses.
type LatencyPercentiles struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Percentiles returns p50/p90/p95/p99 in one call.
func (d *TDigest) Percentiles() LatencyPercentiles {
	return LatencyPercentiles{
		P50: d.Quantile(0.50),
		P90: d.Quantile(0.90),
		P95: d.Quantile(0.95),
		P99: d.Quantile(0.99),
	}
}

// ToJSON writes the p50/p90/p95/p99 percentiles.
func (d *TDigest) ToJSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(d.Percentiles())
}
