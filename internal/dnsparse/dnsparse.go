// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnsparse decodes raw DNS wire payloads into the shared
// netevent.DnsRecord shape, wrapping github.com/miekg/dns rather than
// hand-rolling a DNS message parser.
package dnsparse

import (
	"strings"
	"sync/atomic"

	"github.com/miekg/dns"

	"grimm.is/netvisor/internal/netevent"
	"grimm.is/netvisor/internal/nverrors"
)

// Parser decodes DNS messages out of UDP datagrams or reassembled
// TCP payloads. Its only mutable state is an atomic count of malformed
// payloads, so a single Parser can be shared across goroutines.
type Parser struct {
	malformed *malformedCounter
}

type malformedCounter struct {
	count atomic.Uint64
}

// New returns a Parser ready to decode messages.
func New() *Parser {
	return &Parser{malformed: &malformedCounter{}}
}

// MalformedCount returns the number of payloads that failed to decode
// since the Parser was created.
func (p *Parser) MalformedCount() uint64 {
	return p.malformed.count.Load()
}

// Parse decodes one DNS message from payload, attaching carrier as the
// originating packet/stream metadata. It returns a nverrors KindParse
// error (and increments the malformed counter) on any malformed input.
func (p *Parser) Parse(payload []byte, carrier netevent.PacketEvent) (*netevent.DnsRecord, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		p.malformed.count.Add(1)
		return nil, nverrors.Wrap(err, nverrors.KindParse, "dnsparse: failed to unpack DNS message")
	}

	rec := &netevent.DnsRecord{
		Header: netevent.HeaderFlags{
			QR:                 msg.Response,
			Opcode:              msg.Opcode,
			Rcode:               msg.Rcode,
			Truncated:           msg.Truncated,
			Authoritative:       msg.Authoritative,
			RecursionDesired:    msg.RecursionDesired,
			RecursionAvailable:  msg.RecursionAvailable,
		},
		TxID:            msg.Id,
		AnswerCount:     len(msg.Answer),
		AuthorityCount:  len(msg.Ns),
		AdditionalCount: len(msg.Extra),
		Packet:          carrier,
	}

	if len(msg.Question) > 0 {
		q := msg.Question[0]
		rec.Question = netevent.Question{
			Name:   normalizeName(q.Name),
			Qtype:  q.Qtype,
			Qclass: q.Qclass,
		}
	}

	return rec, nil
}

// normalizeName lower-cases a DNS name, preserving the trailing root dot
// miekg/dns always includes.
func normalizeName(name string) string {
	return strings.ToLower(name)
}
