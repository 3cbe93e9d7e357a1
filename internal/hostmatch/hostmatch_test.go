// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package hostmatch

import (
	"net/netip"
	"testing"

	"grimm.is/netvisor/internal/netevent"
)

func TestParseHostSpec(t *testing.T) {
	m, err := ParseHostSpec("192.168.0.0/24,fe80::/10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 prefixes, got %d", m.Len())
	}

	if _, err := ParseHostSpec("not-a-cidr"); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}

	empty, err := ParseHostSpec("")
	if err != nil || empty.Len() != 0 {
		t.Fatalf("expected empty matcher, got %v err=%v", empty, err)
	}
}

func TestClassifyDestinationFirst(t *testing.T) {
	m, err := ParseHostSpec("192.168.0.0/24")
	if err != nil {
		t.Fatal(err)
	}

	src := netip.MustParseAddr("10.0.0.5")
	dst := netip.MustParseAddr("192.168.0.5")

	if got := m.Classify(src, dst); got != netevent.DirToHost {
		t.Fatalf("expected to-host, got %v", got)
	}
	if got := m.Classify(dst, src); got != netevent.DirFromHost {
		t.Fatalf("expected from-host, got %v", got)
	}

	other := netip.MustParseAddr("203.0.113.1")
	if got := m.Classify(other, other); got != netevent.DirUnknown {
		t.Fatalf("expected unknown, got %v", got)
	}
}

func TestClassifyBothMatchDestinationWins(t *testing.T) {
	m, err := ParseHostSpec("192.168.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	a := netip.MustParseAddr("192.168.0.1")
	b := netip.MustParseAddr("192.168.0.2")
	if got := m.Classify(a, b); got != netevent.DirToHost {
		t.Fatalf("expected to-host when both match (dst tested first), got %v", got)
	}
}

func TestClassifyIPv6(t *testing.T) {
	m, err := ParseHostSpec("fe80::/10")
	if err != nil {
		t.Fatal(err)
	}
	src := netip.MustParseAddr("2001:db8::1")
	dst := netip.MustParseAddr("fe80::1")
	if got := m.Classify(src, dst); got != netevent.DirToHost {
		t.Fatalf("expected to-host, got %v", got)
	}
}
