// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package manager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixvpn/core/log"
	"github.com/katzenpost/mixvpn/settings"
	"github.com/katzenpost/mixvpn/tunnel"
)

func TestResolveHops(t *testing.T) {
	t.Parallel()
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	l := logBackend.GetLogger("resolve")

	s := settings.New(settings.NewMemoryKV())

	// Nothing chosen yet.
	hops, err := ResolveHops(s, l)
	require.NoError(t, err)
	require.Equal(t, tunnel.RandomLowLatency(), hops.Entry)
	require.Equal(t, tunnel.Random(), hops.Exit)
	require.Equal(t, tunnel.FiveHopMixnet, hops.Mode)

	require.NoError(t, s.SetEntryCountry("se"))
	require.NoError(t, s.SetExitCountry("NL"))
	require.NoError(t, s.SetEntryGateway("gw-entry"))
	require.NoError(t, s.SetExitGateway("gw-exit"))

	// Gateways are ignored while the override is off.
	entry, err := ResolveEntry(s, l)
	require.NoError(t, err)
	require.Equal(t, tunnel.NewCountry("SE"), entry)

	require.NoError(t, s.SetManualGatewayOverride(true))
	hops, err = ResolveHops(s, l)
	require.NoError(t, err)
	gwEntry, err := tunnel.NewGateway("gw-entry")
	require.NoError(t, err)
	gwExit, err := tunnel.NewGateway("gw-exit")
	require.NoError(t, err)
	require.Equal(t, gwEntry, hops.Entry)
	require.Equal(t, gwExit, hops.Exit)

	// An absent entry gateway falls back to the entry country only.
	require.NoError(t, s.SetEntryGateway(""))
	hops, err = ResolveHops(s, l)
	require.NoError(t, err)
	require.Equal(t, tunnel.NewCountry("SE"), hops.Entry)
	require.Equal(t, gwExit, hops.Exit)

	// So does a malformed one.
	require.NoError(t, s.SetExitGateway("not a gateway"))
	exit, err := ResolveExit(s, l)
	require.NoError(t, err)
	require.Equal(t, tunnel.NewCountry("NL"), exit)
}
