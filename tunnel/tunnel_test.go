// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoints(t *testing.T) {
	t.Parallel()

	c := NewCountry(" de ")
	iso, ok := c.Country()
	require.True(t, ok)
	require.Equal(t, "DE", iso)
	require.Equal(t, "Country(DE)", c.String())

	_, ok = c.Gateway()
	require.False(t, ok)

	g, err := NewGateway("gw123")
	require.NoError(t, err)
	id, ok := g.Gateway()
	require.True(t, ok)
	require.Equal(t, "gw123", id)

	_, err = NewGateway("")
	require.True(t, errors.Is(err, ErrInvalidGatewayIdentity))
	_, err = NewGateway("gw 123")
	require.True(t, errors.Is(err, ErrInvalidGatewayIdentity))

	require.Equal(t, RandomLowLatency(), Point{})
	require.Equal(t, PointRandom, Random().Kind())
}

func TestParseModeAndEnvironment(t *testing.T) {
	t.Parallel()

	for _, m := range []Mode{FiveHopMixnet, TwoHopMixnet} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, parsed)
	}
	_, err := ParseMode("sevenhop")
	require.Error(t, err)

	for _, e := range []Environment{Mainnet, Sandbox, Canary} {
		parsed, err := ParseEnvironment(e.String())
		require.NoError(t, err)
		require.Equal(t, e, parsed)
		require.NotEmpty(t, e.Endpoints().APIURL)
	}
	_, err = ParseEnvironment("devnet")
	require.Error(t, err)
}

func TestSpecCallbacks(t *testing.T) {
	t.Parallel()

	var states []State
	var msgs []BackendMessage
	var stats []Statistics

	s := NewSpec(NewCountry("DE"), NewCountry("FR"), TwoHopMixnet, Sandbox,
		OnStateChange(func(st State) { states = append(states, st) }),
		OnBackendMessage(func(m BackendMessage) { msgs = append(msgs, m) }),
		OnStatisticChange(func(st Statistics) { stats = append(stats, st) }),
		WithCredentialMode(true),
		WithEndpoints(Endpoints{APIURL: "http://127.0.0.1:8080/api/"}),
	)

	require.Equal(t, "http://127.0.0.1:8080/api/", s.Endpoints.APIURL)
	require.Equal(t, Sandbox.Endpoints().VPNAPIURL, s.Endpoints.VPNAPIURL)
	require.NotNil(t, s.CredentialMode)
	require.True(t, *s.CredentialMode)

	s.StateChanged(InitializingClient)
	s.BackendMessage(&BandwidthAlert{Kind: RemainingBandwidth, Amount: 5 * 1024 * 1024})
	s.StatisticChanged(Statistics{Rx: 1, Tx: 2})

	require.Equal(t, []State{InitializingClient}, states)
	require.Len(t, msgs, 1)
	require.Equal(t, "BandwidthAlert: 5 MB remaining", msgs[0].String())
	require.Equal(t, []Statistics{{Rx: 1, Tx: 2}}, stats)

	// A Spec without callbacks must tolerate being driven.
	bare := NewSpec(RandomLowLatency(), Random(), FiveHopMixnet, Mainnet)
	bare.StateChanged(Up)
	bare.BackendMessage(None{})
	bare.StatisticChanged(Statistics{})
}

func TestStateHelpers(t *testing.T) {
	t.Parallel()

	require.True(t, InitializingClient.IsConnecting())
	require.True(t, EstablishingConnection.IsConnecting())
	require.False(t, Up.IsConnecting())
	require.Equal(t, "Connecting.EstablishingConnection", EstablishingConnection.String())
	require.Equal(t, "Failed to configure DNS", ReasonDNS.Description())
	require.Equal(t, ReasonInternal.Description(), ErrorReason(200).Description())
}
