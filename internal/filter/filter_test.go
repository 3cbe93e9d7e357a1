// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package filter

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"grimm.is/netvisor/internal/netevent"
)

func rec(rcode int, name string, qtype uint16, answers int) *netevent.DnsRecord {
	return &netevent.DnsRecord{
		Header:      netevent.HeaderFlags{Rcode: rcode},
		Question:    netevent.Question{Name: name, Qtype: qtype},
		AnswerCount: answers,
		Packet:      netevent.PacketEvent{SrcIP: net.ParseIP("10.0.0.1")},
	}
}

func TestExcludeNoError(t *testing.T) {
	c := New(Options{ExcludeNoError: true})
	require.False(t, c.Allow(rec(0, "a.com.", dns.TypeA, 1)))
	require.True(t, c.Allow(rec(2, "a.com.", dns.TypeA, 0)))
}

func TestOnlyRcode(t *testing.T) {
	refused := 5
	c := New(Options{OnlyRcode: &refused})
	require.False(t, c.Allow(rec(0, "a.com.", dns.TypeA, 0)))
	require.True(t, c.Allow(rec(5, "a.com.", dns.TypeA, 0)))
}

func TestOnlyQnameSuffixCaseInsensitive(t *testing.T) {
	c := New(Options{OnlyQnameSuffix: []string{"GooGle.com"}})
	require.True(t, c.Allow(rec(0, "www.google.com.", dns.TypeA, 1)))
	require.False(t, c.Allow(rec(0, "example.org.", dns.TypeA, 1)))
}

func TestOnlyQtype(t *testing.T) {
	c := New(Options{OnlyQtype: []uint16{dns.TypeAAAA}})
	require.False(t, c.Allow(rec(0, "a.com.", dns.TypeA, 1)))
	require.True(t, c.Allow(rec(0, "a.com.", dns.TypeAAAA, 1)))
}

func TestAnswerCount(t *testing.T) {
	want := 2
	c := New(Options{AnswerCount: &want})
	require.False(t, c.Allow(rec(0, "a.com.", dns.TypeA, 1)))
	require.True(t, c.Allow(rec(0, "a.com.", dns.TypeA, 2)))
}

type fixedLocator bool

func (f fixedLocator) Lookup(net.IP) bool { return bool(f) }

func TestGeolocNotFoundUsesLocator(t *testing.T) {
	c := New(Options{GeolocNotFound: true, Geo: fixedLocator(true)})
	require.False(t, c.Allow(rec(0, "a.com.", dns.TypeA, 1)), "locator found it, so geoloc_notfound should reject")

	c2 := New(Options{GeolocNotFound: true, Geo: fixedLocator(false)})
	require.True(t, c2.Allow(rec(0, "a.com.", dns.TypeA, 1)))
}

func TestNoopLocatorAlwaysNotFound(t *testing.T) {
	c := New(Options{GeolocNotFound: true})
	require.True(t, c.Allow(rec(0, "a.com.", dns.TypeA, 1)))
}
