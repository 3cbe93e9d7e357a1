// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package filter evaluates the configured predicate chain against a
// decoded DNS record, deciding whether it should be counted.
package filter

import (
	"net"
	"strings"

	"grimm.is/netvisor/internal/netevent"
)

// GeoLocator reports whether an IP resolves to a known geographic
// location. MaxMindLocator (geoip.go) backs it with a MaxMind database
// via github.com/oschwald/geoip2-golang; NoopLocator (always "not found")
// is used when no database is configured.
type GeoLocator interface {
	Lookup(ip net.IP) (found bool)
}

// ASNLocator reports whether an IP resolves to a known autonomous
// system number, mirroring GeoLocator.
type ASNLocator interface {
	Lookup(ip net.IP) (found bool)
}

// NoopLocator implements both GeoLocator and ASNLocator, always
// reporting not-found.
type NoopLocator struct{}

func (NoopLocator) Lookup(net.IP) bool { return false }

// Options configures which predicates a Chain evaluates. A zero-valued
// field disables that predicate (false bools, nil slices, nil pointers);
// a non-nil OnlyRcode or AnswerCount requires that exact value, 0 included.
type Options struct {
	ExcludeNoError   bool
	OnlyRcode        *int
	OnlyQnameSuffix  []string
	OnlyQtype        []uint16
	AnswerCount      *int
	GeolocNotFound   bool
	AsnNotFound      bool
	Geo              GeoLocator
	Asn              ASNLocator
}

// Chain evaluates a fixed predicate set against each DnsRecord it sees.
// It keeps no pass/reject counters of its own: Handler already owns the
// metrics.Bucket those counts belong in (b.Wire.Filtered), so Allow's
// caller increments that directly rather than Chain shadowing it with a
// second counter that has to be kept in sync.
type Chain struct {
	opts     Options
	suffixes []string
}

// New builds a Chain from Options, normalizing qname suffixes to
// lower-case for case-insensitive matching.
func New(opts Options) *Chain {
	if opts.Geo == nil {
		opts.Geo = NoopLocator{}
	}
	if opts.Asn == nil {
		opts.Asn = NoopLocator{}
	}
	suffixes := make([]string, len(opts.OnlyQnameSuffix))
	for i, s := range opts.OnlyQnameSuffix {
		suffixes[i] = strings.ToLower(strings.TrimSuffix(s, "."))
	}
	return &Chain{opts: opts, suffixes: suffixes}
}

// Allow reports whether rec passes every configured predicate.
func (c *Chain) Allow(rec *netevent.DnsRecord) bool {
	if c.opts.ExcludeNoError && rec.Header.Rcode == 0 {
		return false
	}
	if c.opts.OnlyRcode != nil && rec.Header.Rcode != *c.opts.OnlyRcode {
		return false
	}
	if len(c.suffixes) > 0 && !matchesAnySuffix(rec.Question.Name, c.suffixes) {
		return false
	}
	if len(c.opts.OnlyQtype) > 0 && !containsQtype(c.opts.OnlyQtype, rec.Question.Qtype) {
		return false
	}
	if c.opts.AnswerCount != nil && rec.AnswerCount != *c.opts.AnswerCount {
		return false
	}
	if c.opts.GeolocNotFound && c.opts.Geo.Lookup(rec.Packet.SrcIP) {
		return false
	}
	if c.opts.AsnNotFound && c.opts.Asn.Lookup(rec.Packet.SrcIP) {
		return false
	}
	return true
}

func matchesAnySuffix(name string, suffixes []string) bool {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	for _, suf := range suffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

func containsQtype(types []uint16, want uint16) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
