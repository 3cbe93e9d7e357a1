// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sketches

import (
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
)

// Counter is a 64-bit unsigned, increment-only, snapshot-safe counter.
type Counter struct {
	v atomic.Uint64
}

// Add increments the counter by delta.
func (c *Counter) Add(delta uint64) {
	c.v.Add(delta)
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	c.v.Add(1)
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return c.v.Load()
}

// Merge adds other's value into c.
func (c *Counter) Merge(other Sketch) error {
	oc, ok := other.(*Counter)
	if !ok {
		return fmt.Errorf("sketches: cannot merge %T into Counter", other)
	}
	c.v.Add(oc.Value())
	return nil
}

// Reset zeroes the counter.
func (c *Counter) Reset() {
	c.v.Store(0)
}

// ToJSON writes the raw count as a JSON number.
func (c *Counter) ToJSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(c.Value())
}
