// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"time"

	"github.com/miekg/dns"

	"grimm.is/netvisor/internal/filter"
	"grimm.is/netvisor/internal/hostmatch"
	"grimm.is/netvisor/internal/nverrors"
)

func qtypeFromString(s string) (uint16, error) {
	if qt, ok := dns.StringToType[s]; ok {
		return qt, nil
	}
	return 0, nverrors.Errorf(nverrors.KindConfig, "config: unknown DNS qtype %q", s)
}

// FilterOptions translates a HandlerConfig's filter fields into
// filter.Options, resolving only_qtype strings ("A", "AAAA", ...) via
// the miekg/dns type table.
func (h *HandlerConfig) FilterOptions() (filter.Options, error) {
	opts := filter.Options{
		ExcludeNoError:  h.ExcludeNoError,
		OnlyQnameSuffix: h.OnlyQnameSuffix,
		GeolocNotFound:  h.GeolocNotFound,
		AsnNotFound:     h.AsnNotFound,
	}
	if h.OnlyRcode != nil {
		v := int(*h.OnlyRcode)
		opts.OnlyRcode = &v
	}
	if h.AnswerCount != nil {
		v := int(*h.AnswerCount)
		opts.AnswerCount = &v
	}
	for _, qt := range h.OnlyQtype {
		v, err := qtypeFromString(qt)
		if err != nil {
			return filter.Options{}, err
		}
		opts.OnlyQtype = append(opts.OnlyQtype, v)
	}
	if h.GeoDbPath != "" {
		loc, err := filter.OpenMaxMindCity(h.GeoDbPath)
		if err != nil {
			return filter.Options{}, nverrors.Wrapf(err, nverrors.KindConfig, "config: handler %q geo_db", h.Name)
		}
		opts.Geo = loc
	}
	if h.AsnDbPath != "" {
		loc, err := filter.OpenMaxMindASN(h.AsnDbPath)
		if err != nil {
			return filter.Options{}, nverrors.Wrapf(err, nverrors.KindConfig, "config: handler %q asn_db", h.Name)
		}
		opts.Asn = loc
	}
	return opts, nil
}

// PeriodLength returns the handler's bucket period as a time.Duration.
func (h *HandlerConfig) PeriodLength() time.Duration {
	return time.Duration(h.PeriodLengthSecs) * time.Second
}

// XactTimeout returns the handler's transaction-matcher timeout.
func (h *HandlerConfig) XactTimeout() time.Duration {
	return time.Duration(h.XactTimeoutSecs) * time.Second
}

// HostMatcher builds a hostmatch.Matcher from host_spec, or nil if
// unset (direction classification is then left DirUnknown).
func (in *InputConfig) HostMatcher() (*hostmatch.Matcher, error) {
	if in.HostSpec == "" {
		return nil, nil
	}
	m, err := hostmatch.ParseHostSpec(in.HostSpec)
	if err != nil {
		return nil, nverrors.Wrapf(err, nverrors.KindConfig, "config: input %q host_spec", in.Name)
	}
	return m, nil
}
