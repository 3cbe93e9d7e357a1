// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package signal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitInvokesSubscribersInOrder(t *testing.T) {
	var s Signal[int]
	var order []int
	s.Subscribe(func(v int) { order = append(order, v*10) })
	s.Subscribe(func(v int) { order = append(order, v*100) })

	s.Emit(1)
	require.Equal(t, []int{10, 100}, order)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	var s Signal[string]
	var got []string
	unsub := s.Subscribe(func(v string) { got = append(got, v) })
	s.Emit("a")
	unsub()
	s.Emit("b")
	require.Equal(t, []string{"a"}, got)
}
