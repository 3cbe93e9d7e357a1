// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package input

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"net/netip"

	"github.com/cespare/xxhash/v2"
	"github.com/miekg/dns"

	"grimm.is/netvisor/internal/netevent"
)

// flowHash computes the spec's 5-tuple hash over (src_ip, dst_ip,
// src_port, dst_port, l4_proto), reusing the xxhash dependency already
// wired in for HLL so the pipeline has a single hashing story.
func flowHash(src, dst net.IP, srcPort, dstPort uint16, l4 netevent.L4Proto) uint64 {
	var buf [2*net.IPv6len + 5]byte
	n := 0
	n += copy(buf[n:], src.To16())
	n += copy(buf[n:], dst.To16())
	binary.BigEndian.PutUint16(buf[n:], srcPort)
	n += 2
	binary.BigEndian.PutUint16(buf[n:], dstPort)
	n += 2
	buf[n] = byte(l4)
	n++
	return xxhash.Sum64(buf[:n])
}

func netipFromIP(ip net.IP) (netip.Addr, bool) {
	if v4 := ip.To4(); v4 != nil {
		a, ok := netip.AddrFromSlice(v4)
		return a, ok
	}
	a, ok := netip.AddrFromSlice(ip.To16())
	return a, ok
}

// randomMockName mirrors the original mock generator's
// "<n>.pktvisor-mock.dev"-style synthetic qname.
func randomMockName(rng *rand.Rand) string {
	return fmt.Sprintf("%d.netvisor-mock.dev.", rng.Intn(20))
}

// buildMockDnsQuery packs a minimal A-record query for qname.
func buildMockDnsQuery(qname string) []byte {
	m := new(dns.Msg)
	m.SetQuestion(qname, dns.TypeA)
	m.Id = uint16(len(qname))
	raw, err := m.Pack()
	if err != nil {
		return nil
	}
	return raw
}
