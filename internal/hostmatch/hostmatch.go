// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package hostmatch classifies packet direction against a configured set
// of "my hosts" subnets. It is pure CIDR containment logic with no wire
// format or protocol concern, so it is built on net/netip alone rather
// than a third-party library.
package hostmatch

import (
	"fmt"
	"net/netip"
	"strings"

	"grimm.is/netvisor/internal/netevent"
)

// Matcher classifies (src, dst) IP pairs relative to a fixed list of
// host subnets. It holds no mutable state; classify is a pure function.
type Matcher struct {
	prefixes []netip.Prefix
}

// New builds a Matcher from an explicit list of prefixes.
func New(prefixes []netip.Prefix) *Matcher {
	cp := make([]netip.Prefix, len(prefixes))
	copy(cp, prefixes)
	return &Matcher{prefixes: cp}
}

// ParseHostSpec parses the comma-separated CIDR list syntax from the
// host_spec config option, e.g. "192.168.0.0/24,fe80::/10".
func ParseHostSpec(spec string) (*Matcher, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return New(nil), nil
	}

	parts := strings.Split(spec, ",")
	prefixes := make([]netip.Prefix, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pfx, err := netip.ParsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("host_spec: invalid CIDR %q: %w", p, err)
		}
		prefixes = append(prefixes, pfx)
	}
	return New(prefixes), nil
}

// Classify implements classify(src_ip, dst_ip) -> {to-host, from-host,
// unknown}. Destination is tested before source; first match wins.
func (m *Matcher) Classify(src, dst netip.Addr) netevent.Direction {
	if m.contains(dst) {
		return netevent.DirToHost
	}
	if m.contains(src) {
		return netevent.DirFromHost
	}
	return netevent.DirUnknown
}

func (m *Matcher) contains(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	for _, pfx := range m.prefixes {
		if pfx.Contains(addr) {
			return true
		}
	}
	return false
}

// Len reports the number of configured subnets.
func (m *Matcher) Len() int { return len(m.prefixes) }
