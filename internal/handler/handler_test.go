// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package handler

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"grimm.is/netvisor/internal/filter"
	"grimm.is/netvisor/internal/netevent"
)

func packMsg(t *testing.T, build func(*dns.Msg)) []byte {
	t.Helper()
	m := new(dns.Msg)
	build(m)
	raw, err := m.Pack()
	require.NoError(t, err)
	return raw
}

func TestDnsHandlerCountsQueryAndReply(t *testing.T) {
	h := NewDnsHandler(5, time.Minute, filter.Options{}, time.Second, nil)
	now := time.Now()

	query := packMsg(t, func(m *dns.Msg) {
		m.SetQuestion(dns.Fqdn("www.example.com"), dns.TypeA)
		m.Id = 7
	})
	h.HandlePacket(netevent.PacketEvent{
		Raw: query, L3: netevent.L3IPv4, L4: netevent.L4UDP,
		FlowHash: 1, Timestamp: now, Direction: netevent.DirFromHost,
	})

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn("www.example.com"), dns.TypeA)
	q.Id = 7
	resp := new(dns.Msg)
	resp.SetReply(q)
	reply := packMsg(t, func(m *dns.Msg) { *m = *resp })

	h.HandlePacket(netevent.PacketEvent{
		Raw: reply, L3: netevent.L3IPv4, L4: netevent.L4UDP,
		FlowHash: 1, Timestamp: now.Add(5 * time.Millisecond), Direction: netevent.DirToHost,
	})

	snap := h.Window.Bucket(0).Snapshot()
	require.Equal(t, uint64(1), snap.WirePackets.Queries)
	require.Equal(t, uint64(1), snap.WirePackets.Replies)
	require.Equal(t, uint64(2), snap.WirePackets.UDP)
	require.Equal(t, uint64(1), snap.Xact.Counts.Total)
	require.Equal(t, ".example.com", snap.TopQname2[0].Name)
}

func TestDnsHandlerFilterRejectsAndCountsFiltered(t *testing.T) {
	h := NewDnsHandler(5, time.Minute, filter.Options{ExcludeNoError: true}, time.Second, nil)
	reply := packMsg(t, func(m *dns.Msg) {
		m.SetQuestion(dns.Fqdn("a.com"), dns.TypeA)
		m.Response = true
		m.Rcode = dns.RcodeSuccess
	})
	h.HandlePacket(netevent.PacketEvent{Raw: reply, L3: netevent.L3IPv4, L4: netevent.L4UDP, Timestamp: time.Now()})

	snap := h.Window.Bucket(0).Snapshot()
	require.Equal(t, uint64(1), snap.WirePackets.Filtered)
	require.Equal(t, uint64(0), snap.WirePackets.Replies)
}

func TestDnsHandlerNonDnsPayloadDroppedSilently(t *testing.T) {
	h := NewDnsHandler(5, time.Minute, filter.Options{}, time.Second, nil)
	h.HandlePacket(netevent.PacketEvent{Raw: []byte{0xFF, 0xFF}, L3: netevent.L3IPv4, L4: netevent.L4UDP, Timestamp: time.Now()})

	require.Equal(t, 0, h.Window.NumBuckets(), "malformed payload must not open a bucket or count as filtered")
}

func TestNetHandlerCountsWireTraffic(t *testing.T) {
	h := NewNetHandler(5, time.Minute)
	h.HandlePacket(netevent.PacketEvent{
		L3: netevent.L3IPv4, L4: netevent.L4TCP,
		SrcIP: net.ParseIP("10.0.0.5"), DstIP: net.ParseIP("93.184.216.34"),
		Direction: netevent.DirFromHost, Timestamp: time.Now(),
	})
	snap := h.Window.Bucket(0).Snapshot()
	require.Equal(t, uint64(1), snap.WirePackets.TCP)
	require.Equal(t, uint64(1), snap.WirePackets.IPv4)
}

func TestDnsHandlerForwardsToDownstreamNetHandler(t *testing.T) {
	netH := NewNetHandler(5, time.Minute)
	dnsH := NewDnsHandler(5, time.Minute, filter.Options{}, time.Second, netH)

	query := packMsg(t, func(m *dns.Msg) { m.SetQuestion(dns.Fqdn("a.com"), dns.TypeA) })
	dnsH.HandlePacket(netevent.PacketEvent{Raw: query, L3: netevent.L3IPv4, L4: netevent.L4UDP, Timestamp: time.Now()})

	require.Equal(t, 1, netH.Window.NumBuckets(), "surviving packet should have been forwarded downstream")
}
