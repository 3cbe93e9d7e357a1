// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package input

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grimm.is/netvisor/internal/netevent"
)

func TestMockGeneratorEmitsPacketsAndStops(t *testing.T) {
	gen := &MockGenerator{Interval: 5 * time.Millisecond}

	var count int
	var gotStart bool
	gen.PacketSignal().Subscribe(func(netevent.PacketEvent) { count++ })
	gen.StartTsSignal().Subscribe(func(time.Time) { gotStart = true })

	require.NoError(t, gen.Start())
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, gen.Stop())

	require.True(t, gotStart)
	require.Greater(t, count, 0)
}

func TestMockGeneratorStartIdempotent(t *testing.T) {
	gen := &MockGenerator{Interval: 5 * time.Millisecond}
	require.NoError(t, gen.Start())
	require.NoError(t, gen.Start())
	require.NoError(t, gen.Stop())
	require.NoError(t, gen.Stop())
}

func TestMockGeneratorPacketsAreWellFormedDNS(t *testing.T) {
	gen := &MockGenerator{Interval: 5 * time.Millisecond}
	events := make(chan netevent.PacketEvent, 8)
	gen.PacketSignal().Subscribe(func(e netevent.PacketEvent) {
		select {
		case events <- e:
		default:
		}
	})
	require.NoError(t, gen.Start())
	defer gen.Stop()

	select {
	case e := <-events:
		require.Equal(t, netevent.L4UDP, e.L4)
		require.Equal(t, uint16(53), e.DstPort)
		require.NotEmpty(t, e.Raw)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mock packet")
	}
}
