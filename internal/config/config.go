// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and validates the HCL configuration file that
// wires InputSources to Handlers, mirroring the teacher's own
// internal/config package's HCL-plus-Validate shape at a fraction of
// its size.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/netvisor/internal/hostmatch"
	"grimm.is/netvisor/internal/nverrors"
)

// Config is the top-level HCL document: a named handler per DNS/net
// pipeline instance, each fed by a named input.
type Config struct {
	Handlers []HandlerConfig `hcl:"handler,block"`
	Inputs   []InputConfig   `hcl:"input,block"`
}

// HandlerConfig configures one MetricsWindow plus its filter chain, per
// spec §6's "CLI/config surface (per handler)" table.
type HandlerConfig struct {
	Name string `hcl:"name,label"`

	// @enum: dns, net
	// @default: "dns"
	Type string `hcl:"type,optional"`

	// @default: 5
	NumPeriods uint64 `hcl:"num_periods,optional"`
	// @default: 60
	PeriodLengthSecs uint64 `hcl:"period_length_secs,optional"`
	// @default: 100
	DeepSampleRate uint64 `hcl:"deep_sample_rate,optional"`
	// @default: 5
	XactTimeoutSecs uint64 `hcl:"xact_timeout_secs,optional"`

	ExcludeNoError  bool     `hcl:"exclude_noerror,optional"`
	OnlyRcode       *uint64  `hcl:"only_rcode,optional"`
	OnlyQnameSuffix []string `hcl:"only_qname_suffix,optional"`
	OnlyQtype       []string `hcl:"only_qtype,optional"`
	AnswerCount     *uint64  `hcl:"answer_count,optional"`
	GeolocNotFound  bool     `hcl:"geoloc_notfound,optional"`
	AsnNotFound     bool     `hcl:"asn_notfound,optional"`
	// GeoDbPath/AsnDbPath name a MaxMind GeoLite2-City/GeoLite2-ASN
	// database file backing geoloc_notfound/asn_notfound. Left unset,
	// those predicates fall back to filter.NoopLocator (always
	// not-found) rather than a real lookup.
	GeoDbPath string `hcl:"geo_db,optional"`
	AsnDbPath string `hcl:"asn_db,optional"`

	// NetBehind names a "dns"-type handler; a "net"-type handler with
	// this set receives only the packets that handler's filter chain
	// let through, forwarded via its side-channel signal, instead of
	// subscribing to any input of its own (spec §4.9/§9's
	// net-handler-behind-DNS-filter wiring). Mutually exclusive with
	// Inputs.
	NetBehind string `hcl:"net_behind,optional"`

	// Input references this handler subscribes to; empty means "every
	// input configured below feeds this handler". Unused when NetBehind
	// is set.
	Inputs []string `hcl:"inputs,optional"`
}

// InputConfig configures one InputSource, per spec §6's "per input"
// table. Exactly one of PcapFile/DnstapFile/Socket should be set, or
// PcapSource chosen for a live/mock source; Validate enforces this.
type InputConfig struct {
	Name string `hcl:"name,label"`

	PcapFile string `hcl:"pcap_file,optional"`
	BPF      string `hcl:"bpf,optional"`
	Iface    string `hcl:"iface,optional"`
	// @enum: libpcap, af_packet, mock
	// @default: "mock"
	PcapSource string `hcl:"pcap_source,optional"`
	HostSpec   string `hcl:"host_spec,optional"`
	DnstapFile string `hcl:"dnstap_file,optional"`
	Socket     string `hcl:"socket,optional"`
	Debug      bool   `hcl:"debug,optional"`
}

const (
	PcapSourceLibpcap  = "libpcap"
	PcapSourceAfPacket = "af_packet"
	PcapSourceMock     = "mock"
)

const (
	HandlerTypeDns = "dns"
	HandlerTypeNet = "net"
)

// Load reads and decodes an HCL config file, applies defaults, and
// validates it, returning a nverrors KindConfig error on any failure.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, nverrors.Wrapf(err, nverrors.KindConfig, "config: failed to parse %s", path)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Handlers {
		h := &c.Handlers[i]
		if h.Type == "" {
			h.Type = HandlerTypeDns
		}
		if h.NumPeriods == 0 {
			h.NumPeriods = 5
		}
		if h.PeriodLengthSecs == 0 {
			h.PeriodLengthSecs = 60
		}
		if h.DeepSampleRate == 0 {
			h.DeepSampleRate = 100
		}
		if h.XactTimeoutSecs == 0 {
			h.XactTimeoutSecs = 5
		}
	}
	for i := range c.Inputs {
		in := &c.Inputs[i]
		if in.PcapSource == "" {
			in.PcapSource = PcapSourceMock
		}
	}
}

// Validate checks the decoded config for internally-consistent values,
// returning a nverrors KindConfig error describing the first problem
// found (bad/missing option, unknown pcap_source — per spec §7).
func (c *Config) Validate() error {
	if len(c.Handlers) == 0 {
		return nverrors.New(nverrors.KindConfig, "config: at least one handler block is required")
	}
	names := make(map[string]bool, len(c.Inputs))
	for _, in := range c.Inputs {
		if names[in.Name] {
			return nverrors.Errorf(nverrors.KindConfig, "config: duplicate input name %q", in.Name)
		}
		names[in.Name] = true
		if err := in.validate(); err != nil {
			return err
		}
	}
	for _, h := range c.Handlers {
		if err := h.validate(); err != nil {
			return err
		}
		for _, ref := range h.Inputs {
			if !names[ref] {
				return nverrors.Errorf(nverrors.KindConfig, "config: handler %q references unknown input %q", h.Name, ref)
			}
		}
	}

	byName := make(map[string]*HandlerConfig, len(c.Handlers))
	for i := range c.Handlers {
		byName[c.Handlers[i].Name] = &c.Handlers[i]
	}
	netBehindOf := make(map[string]string, len(c.Handlers))
	for _, h := range c.Handlers {
		if h.NetBehind == "" {
			continue
		}
		target, ok := byName[h.NetBehind]
		if !ok {
			return nverrors.Errorf(nverrors.KindConfig, "config: handler %q net_behind references unknown handler %q", h.Name, h.NetBehind)
		}
		if target.Type != HandlerTypeDns {
			return nverrors.Errorf(nverrors.KindConfig, "config: handler %q net_behind must reference a dns handler, %q is type %q", h.Name, h.NetBehind, target.Type)
		}
		if existing, ok := netBehindOf[h.NetBehind]; ok {
			return nverrors.Errorf(nverrors.KindConfig, "config: handler %q already has net handler %q behind it, cannot also attach %q", h.NetBehind, existing, h.Name)
		}
		netBehindOf[h.NetBehind] = h.Name
	}
	return nil
}

func (in *InputConfig) validate() error {
	switch in.PcapSource {
	case PcapSourceLibpcap, PcapSourceAfPacket, PcapSourceMock:
	default:
		return nverrors.Errorf(nverrors.KindConfig, "config: input %q has unknown pcap_source %q", in.Name, in.PcapSource)
	}
	set := 0
	for _, v := range []string{in.PcapFile, in.DnstapFile, in.Socket} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return nverrors.Errorf(nverrors.KindConfig, "config: input %q may set only one of pcap_file, dnstap_file, socket", in.Name)
	}
	if set == 0 && in.PcapSource != PcapSourceMock && in.Iface == "" {
		return nverrors.Errorf(nverrors.KindConfig, "config: input %q needs iface for a live pcap_source", in.Name)
	}
	if in.HostSpec != "" {
		if _, err := hostmatch.ParseHostSpec(in.HostSpec); err != nil {
			return nverrors.Wrapf(err, nverrors.KindConfig, "config: input %q host_spec", in.Name)
		}
	}
	return nil
}

func (h *HandlerConfig) validate() error {
	switch h.Type {
	case HandlerTypeDns, HandlerTypeNet:
	default:
		return nverrors.Errorf(nverrors.KindConfig, "handler %q: unknown type %q", h.Name, h.Type)
	}
	if h.NetBehind != "" {
		if h.Type != HandlerTypeNet {
			return nverrors.Errorf(nverrors.KindConfig, "handler %q: net_behind is only valid on a net handler", h.Name)
		}
		if len(h.Inputs) > 0 {
			return nverrors.Errorf(nverrors.KindConfig, "handler %q: net_behind and inputs are mutually exclusive", h.Name)
		}
	}
	if h.OnlyRcode != nil && *h.OnlyRcode > 23 {
		return nverrors.Errorf(nverrors.KindConfig, "handler %q: only_rcode %d is not a valid DNS rcode", h.Name, *h.OnlyRcode)
	}
	if h.DeepSampleRate > 100 {
		return nverrors.Errorf(nverrors.KindConfig, "handler %q: deep_sample_rate %d must be 0-100", h.Name, h.DeepSampleRate)
	}
	for _, qt := range h.OnlyQtype {
		if _, err := qtypeFromString(qt); err != nil {
			return fmt.Errorf("handler %q: %w", h.Name, err)
		}
	}
	return nil
}
