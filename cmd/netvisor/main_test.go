// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/netvisor/internal/config"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netvisor.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestBuildPipelineWiresMockInputToHandler exercises the
// MockGenerator -> DnsHandler -> MetricsWindow path end to end (spec
// §8's pipeline-level testable property).
func TestBuildPipelineWiresMockInputToHandler(t *testing.T) {
	path := writeTestConfig(t, `
input "mock" {
  pcap_source = "mock"
}

handler "dns" {
  period_length_secs = 60
}
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	p, err := buildPipeline(cfg)
	require.NoError(t, err)
	require.Len(t, p.sources, 1)
	require.Len(t, p.windows, 1)

	require.NoError(t, p.startAll())
	time.Sleep(150 * time.Millisecond)
	p.stopAll()

	b := p.windows[0].Current(time.Now())
	require.NotNil(t, b)
}

// TestBuildPipelineWiresNetHandlerBehindDnsFilter exercises spec
// §4.9/§9's net-handler-behind-DNS-filter wiring: a "net" handler with
// net_behind set gets no input of its own, only packets forwarded by
// the named dns handler's filter chain.
func TestBuildPipelineWiresNetHandlerBehindDnsFilter(t *testing.T) {
	path := writeTestConfig(t, `
input "mock" {
  pcap_source = "mock"
}

handler "dns" {
  period_length_secs = 60
}

handler "net" {
  type       = "net"
  net_behind = "dns"
}
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	p, err := buildPipeline(cfg)
	require.NoError(t, err)
	require.Len(t, p.windows, 2)
	require.Equal(t, []string{"dns", "net"}, p.handlerNames)
	require.Len(t, p.sources, 1, "the net handler behind dns should not open its own input")

	require.NoError(t, p.startAll())
	time.Sleep(150 * time.Millisecond)
	p.stopAll()

	for _, w := range p.windows {
		require.NotNil(t, w.Current(time.Now()))
	}
}

// TestBuildPipelineWiresStandaloneNetHandler checks a "net" handler with
// no net_behind subscribes to its own inputs exactly like a dns handler
// does.
func TestBuildPipelineWiresStandaloneNetHandler(t *testing.T) {
	path := writeTestConfig(t, `
input "mock" {
  pcap_source = "mock"
}

handler "net" {
  type = "net"
}
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	p, err := buildPipeline(cfg)
	require.NoError(t, err)
	require.Len(t, p.windows, 1)
	require.Len(t, p.sources, 1)
}

// TestLoadRejectsHandlerReferencingUnknownInput covers the
// unknown-input-reference case at the config-validation layer, where
// it's actually caught (before buildPipeline ever runs).
func TestLoadRejectsHandlerReferencingUnknownInput(t *testing.T) {
	path := writeTestConfig(t, `
input "mock" {
  pcap_source = "mock"
}

handler "dns" {
  inputs = ["does-not-exist"]
}
`)
	_, err := config.Load(path)
	require.Error(t, err)
}
