// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sketches

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// overCaptureFactor widens the tracked-counter slot count beyond k so the
// Space-Saving algorithm's error bound stays tight for the requested k.
const overCaptureFactor = 4

// TopK is a Space-Saving heavy-hitter sketch: bounded memory (k *
// overCaptureFactor counters) independent of the true key space, sorted
// descending by estimate with an ascending-name tiebreak for a
// deterministic JSON round trip.
type TopK struct {
	k       int
	counts  map[string]uint64
	maxSlot int
}

// NewTopK returns an empty top-K sketch tracking the given k (spec
// default 10).
func NewTopK(k int) *TopK {
	if k <= 0 {
		k = 10
	}
	return &TopK{
		k:       k,
		counts:  make(map[string]uint64),
		maxSlot: k * overCaptureFactor,
	}
}

// Add records one occurrence of name.
func (t *TopK) Add(name string) {
	t.AddN(name, 1)
}

// AddN records n occurrences of name.
func (t *TopK) AddN(name string, n uint64) {
	if _, ok := t.counts[name]; ok {
		t.counts[name] += n
		return
	}
	if len(t.counts) < t.maxSlot {
		t.counts[name] = n
		return
	}

	// Evict the minimum-count entry (Space-Saving substitution) and inherit
	// its count, so the error bound on the new key is bounded by the
	// evicted minimum rather than starting from zero.
	minName := ""
	var minCount uint64
	first := true
	for name2, c := range t.counts {
		if first || c < minCount {
			minName, minCount, first = name2, c, false
		}
	}
	delete(t.counts, minName)
	t.counts[name] = minCount + n
}

// Top returns up to k entries sorted by estimate descending, name
// ascending on ties.
func (t *TopK) Top() []Entry {
	entries := make([]Entry, 0, len(t.counts))
	for name, c := range t.counts {
		entries = append(entries, Entry{Name: name, Estimate: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Estimate != entries[j].Estimate {
			return entries[i].Estimate > entries[j].Estimate
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > t.k {
		entries = entries[:t.k]
	}
	return entries
}

// Merge folds other's counters into t, matching each name's count
// additively and falling back to Space-Saving eviction for names that
// would overflow the slot budget.
func (t *TopK) Merge(other Sketch) error {
	ot, ok := other.(*TopK)
	if !ok {
		return fmt.Errorf("sketches: cannot merge %T into TopK", other)
	}
	for name, c := range ot.counts {
		t.AddN(name, c)
	}
	return nil
}

// Reset clears all tracked counters.
func (t *TopK) Reset() {
	t.counts = make(map[string]uint64)
}

// ToJSON writes the Top() result as a JSON array of {name, estimate}.
func (t *TopK) ToJSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(t.Top())
}
