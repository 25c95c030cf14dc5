// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/mixvpn/backend"
	"github.com/katzenpost/mixvpn/core/log"
	"github.com/katzenpost/mixvpn/settings"
	"github.com/katzenpost/mixvpn/tunnel"
)

const waitTimeout = 5 * time.Second

type fakeBackend struct {
	sync.Mutex

	specs    []*tunnel.Spec
	rejected []*tunnel.Spec
	stops    int
	startErr error
	state    tunnel.State
	mnemonic bool
	linksErr error
}

func (b *fakeBackend) Start(ctx context.Context, spec *tunnel.Spec) (tunnel.State, error) {
	b.Lock()
	defer b.Unlock()
	if b.startErr != nil {
		b.rejected = append(b.rejected, spec)
		return b.state, b.startErr
	}
	if b.state != tunnel.Down {
		b.rejected = append(b.rejected, spec)
		return b.state, backend.ErrVPNAlreadyRunning
	}
	b.specs = append(b.specs, spec)
	b.state = tunnel.InitializingClient
	return b.state, nil
}

func (b *fakeBackend) Stop(ctx context.Context) (tunnel.State, error) {
	b.Lock()
	defer b.Unlock()
	b.stops++
	if b.state == tunnel.Down {
		return b.state, backend.ErrVPNNotRunning
	}
	b.state = tunnel.Disconnecting
	return b.state, nil
}

func (b *fakeBackend) State() tunnel.State {
	b.Lock()
	defer b.Unlock()
	return b.state
}

func (b *fakeBackend) ValidateCredential(ctx context.Context, secret string) (*time.Time, error) {
	if secret == "bad" {
		return nil, backend.ErrInvalidCredential
	}
	expiry := time.Unix(1900000000, 0)
	return &expiry, nil
}

func (b *fakeBackend) ImportCredential(ctx context.Context, secret string) (*time.Time, error) {
	expiry, err := b.ValidateCredential(ctx, secret)
	if err != nil {
		return nil, err
	}
	b.Lock()
	b.mnemonic = true
	b.Unlock()
	return expiry, nil
}

func (b *fakeBackend) IsMnemonicStored(ctx context.Context) (bool, error) {
	b.Lock()
	defer b.Unlock()
	return b.mnemonic, nil
}

func (b *fakeBackend) RemoveMnemonic(ctx context.Context) error {
	b.Lock()
	defer b.Unlock()
	b.mnemonic = false
	return nil
}

func (b *fakeBackend) AccountSummary(ctx context.Context) (*backend.AccountSummary, error) {
	b.Lock()
	defer b.Unlock()
	if !b.mnemonic {
		return nil, backend.ErrNoAccount
	}
	return &backend.AccountSummary{AccountID: "n1test", SubscriptionActive: true}, nil
}

func (b *fakeBackend) AccountLinks(ctx context.Context, env tunnel.Environment) (*backend.AccountLinks, error) {
	b.Lock()
	defer b.Unlock()
	if b.linksErr != nil {
		return nil, b.linksErr
	}
	return &backend.AccountLinks{
		SignUp:  "https://example.net/create",
		SignIn:  "https://example.net/login",
		Account: "https://example.net/account",
	}, nil
}

func (b *fakeBackend) lastSpec(t *testing.T) *tunnel.Spec {
	b.Lock()
	defer b.Unlock()
	require.NotEmpty(t, b.specs)
	return b.specs[len(b.specs)-1]
}

func (b *fakeBackend) lastRejected(t *testing.T) *tunnel.Spec {
	b.Lock()
	defer b.Unlock()
	require.NotEmpty(t, b.rejected)
	return b.rejected[len(b.rejected)-1]
}

func (b *fakeBackend) stopCount() int {
	b.Lock()
	defer b.Unlock()
	return b.stops
}

// emit moves the fake to state and reports it through the last accepted
// spec.
func (b *fakeBackend) emit(t *testing.T, state tunnel.State) {
	spec := b.lastSpec(t)
	b.Lock()
	b.state = state
	b.Unlock()
	spec.StateChanged(state)
}

type fakeNotifications struct {
	sync.Mutex

	permission int
	failures   []tunnel.ErrorReason
	alerts     int
}

func (n *fakeNotifications) PermissionDenied() {
	n.Lock()
	defer n.Unlock()
	n.permission++
}

func (n *fakeNotifications) Failure(reason tunnel.ErrorReason) {
	n.Lock()
	defer n.Unlock()
	n.failures = append(n.failures, reason)
}

func (n *fakeNotifications) BandwidthAlert(alert *tunnel.BandwidthAlert) {
	n.Lock()
	defer n.Unlock()
	n.alerts++
}

func (n *fakeNotifications) counts() (permission, failures, alerts int) {
	n.Lock()
	defer n.Unlock()
	return n.permission, len(n.failures), n.alerts
}

type fakeTile struct {
	sync.Mutex
	refreshes int
}

func (f *fakeTile) RequestRefresh() {
	f.Lock()
	defer f.Unlock()
	f.refreshes++
}

type testEnv struct {
	m        *Manager
	backend  *fakeBackend
	settings *settings.Settings
	notes    *fakeNotifications
	tile     *fakeTile

	mu         sync.Mutex
	foreground bool
}

func (e *testEnv) setForeground(fg bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.foreground = fg
}

func newTestEnv(t *testing.T, interval time.Duration) *testEnv {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)

	env := &testEnv{
		backend:  &fakeBackend{},
		settings: settings.New(settings.NewMemoryKV()),
		notes:    &fakeNotifications{},
		tile:     &fakeTile{},
	}
	env.m, err = New(&Config{
		Backend:       env.backend,
		Settings:      env.settings,
		LogBackend:    logBackend,
		Notifications: env.notes,
		Tile:          env.tile,
		Foreground: func() bool {
			env.mu.Lock()
			defer env.mu.Unlock()
			return env.foreground
		},
		StatisticsInterval: interval,
	})
	require.NoError(t, err)
	t.Cleanup(env.m.Halt)
	return env
}

func next(t *testing.T, sub *Subscription) State {
	select {
	case st, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return st
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for state")
	}
	return State{}
}

func waitFor(t *testing.T, sub *Subscription, pred func(State) bool) State {
	for {
		if st := next(t, sub); pred(st) {
			return st
		}
	}
}

func tunnelIs(state tunnel.State) func(State) bool {
	return func(s State) bool {
		return s.TunnelState == state
	}
}

func requireQuiet(t *testing.T, sub *Subscription) {
	select {
	case st := <-sub.C:
		t.Fatalf("unexpected state: %v", st)
	case <-time.After(50 * time.Millisecond):
	}
}

// bringUp starts a tunnel and walks the fake through to Up.
func (e *testEnv) bringUp(t *testing.T, sub *Subscription) {
	e.m.Start(context.Background(), false)
	e.backend.emit(t, tunnel.InitializingClient)
	e.backend.emit(t, tunnel.EstablishingConnection)
	e.backend.emit(t, tunnel.Up)
	waitFor(t, sub, tunnelIs(tunnel.Up))
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := New(&Config{})
	require.Error(t, err)
}

func TestStartRecordsCountrySpec(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	require.NoError(t, env.settings.SetEntryCountry("DE"))
	require.NoError(t, env.settings.SetExitCountry("FR"))
	require.NoError(t, env.settings.SetMode(tunnel.TwoHopMixnet))
	require.NoError(t, env.settings.SetManualGatewayOverride(false))

	env.m.Start(context.Background(), false)

	spec := env.backend.lastSpec(t)
	require.Equal(t, tunnel.NewCountry("DE"), spec.EntryPoint)
	require.Equal(t, tunnel.NewCountry("FR"), spec.ExitPoint)
	require.Equal(t, tunnel.TwoHopMixnet, spec.Mode)
	require.Equal(t, tunnel.Mainnet, spec.Environment)
	require.False(t, spec.FromBackground)
	require.Equal(t, tunnel.InitializingClient, env.m.Snapshot().TunnelState)
}

func TestStartRecordsGatewaySpec(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	require.NoError(t, env.settings.SetManualGatewayOverride(true))
	require.NoError(t, env.settings.SetEntryGateway("gw123"))
	require.NoError(t, env.settings.SetExitCountry("CH"))

	env.m.Start(context.Background(), true)

	gw, err := tunnel.NewGateway("gw123")
	require.NoError(t, err)
	spec := env.backend.lastSpec(t)
	require.Equal(t, gw, spec.EntryPoint)
	require.Equal(t, tunnel.NewCountry("CH"), spec.ExitPoint)
	require.True(t, spec.FromBackground)
}

func TestSubscriberSeesEachStateOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	sub := env.m.Subscribe()
	defer sub.Close()

	require.Equal(t, tunnel.Down, next(t, sub).TunnelState)

	env.m.Start(context.Background(), false)
	env.backend.emit(t, tunnel.InitializingClient)
	env.backend.emit(t, tunnel.EstablishingConnection)
	env.backend.emit(t, tunnel.Up)

	var seen []tunnel.State
	for len(seen) == 0 || seen[len(seen)-1] != tunnel.Up {
		seen = append(seen, next(t, sub).TunnelState)
	}
	require.Equal(t, []tunnel.State{
		tunnel.InitializingClient,
		tunnel.EstablishingConnection,
		tunnel.Up,
	}, seen)
	requireQuiet(t, sub)
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	sub := env.m.Subscribe()
	defer sub.Close()
	env.bringUp(t, sub)

	env.backend.lastSpec(t).StatisticChanged(tunnel.Statistics{Rx: 10, Tx: 20})
	st := waitFor(t, sub, func(s State) bool { return s.Statistics.Rx == 10 })
	require.Equal(t, uint64(20), st.Statistics.Tx)

	before := env.m.Snapshot()
	env.m.Start(context.Background(), false)
	require.Equal(t, before, env.m.Snapshot())
	requireQuiet(t, sub)
	rejected := env.backend.lastRejected(t)
	rejected.StateChanged(tunnel.Disconnecting)
	requireQuiet(t, sub)

	// Also while connecting.
	env.backend.emit(t, tunnel.Disconnecting)
	env.backend.emit(t, tunnel.Down)
	waitFor(t, sub, tunnelIs(tunnel.Down))
	env.m.Start(context.Background(), false)
	waitFor(t, sub, tunnelIs(tunnel.InitializingClient))
	env.m.Start(context.Background(), false)
	require.Equal(t, tunnel.InitializingClient, env.m.Snapshot().TunnelState)
	requireQuiet(t, sub)

	// Callbacks from a rejected start never count, even once a later
	// start has been accepted.
	rejected.StateChanged(tunnel.Up)
	rejected.BackendMessage(&tunnel.Failure{Reason: tunnel.ReasonDNS})
	env.backend.lastRejected(t).StateChanged(tunnel.Up)
	requireQuiet(t, sub)
	require.Equal(t, 0, env.backend.stopCount())
	env.backend.emit(t, tunnel.EstablishingConnection)
	require.Equal(t, tunnel.EstablishingConnection, next(t, sub).TunnelState)
}

func TestStatisticsResetOnLeavingUp(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 10*time.Millisecond)
	sub := env.m.Subscribe()
	defer sub.Close()
	env.bringUp(t, sub)

	env.backend.lastSpec(t).StatisticChanged(tunnel.Statistics{Rx: 1000, Tx: 2000})
	waitFor(t, sub, func(s State) bool {
		return s.Statistics.Rx == 1000 && s.Statistics.ConnectionSeconds >= 2
	})

	env.m.Stop(context.Background())
	st := env.m.Snapshot()
	require.Equal(t, tunnel.Disconnecting, st.TunnelState)
	require.Equal(t, tunnel.Statistics{}, st.Statistics)

	// Late statistics and ticks are dropped once Up is left.
	env.backend.lastSpec(t).StatisticChanged(tunnel.Statistics{Rx: 5000, Tx: 5000})
	env.backend.emit(t, tunnel.Down)
	st = waitFor(t, sub, tunnelIs(tunnel.Down))
	require.Equal(t, tunnel.Statistics{}, st.Statistics)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, tunnel.Statistics{}, env.m.Snapshot().Statistics)

	env.m.Start(context.Background(), false)
	env.backend.emit(t, tunnel.EstablishingConnection)
	env.backend.emit(t, tunnel.Up)
	st = waitFor(t, sub, tunnelIs(tunnel.Up))
	require.Equal(t, tunnel.Statistics{}, st.Statistics)
}

func TestFailureForcesSingleStop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	sub := env.m.Subscribe()
	defer sub.Close()
	env.bringUp(t, sub)

	spec := env.backend.lastSpec(t)
	spec.BackendMessage(&tunnel.Failure{Reason: tunnel.ReasonDNS})
	st := waitFor(t, sub, tunnelIs(tunnel.Disconnecting))
	require.Equal(t, &tunnel.Failure{Reason: tunnel.ReasonDNS}, st.BackendMessage)
	require.Equal(t, 1, env.backend.stopCount())

	spec.BackendMessage(&tunnel.Failure{Reason: tunnel.ReasonInternal})
	require.Eventually(t, func() bool {
		_, failures, _ := env.notes.counts()
		return failures == 2
	}, waitTimeout, 5*time.Millisecond)
	require.Equal(t, 1, env.backend.stopCount())

	env.backend.emit(t, tunnel.Down)
	waitFor(t, sub, tunnelIs(tunnel.Down))
	requireQuiet(t, sub)
	require.Equal(t, tunnel.Down, env.m.Snapshot().TunnelState)
}

func TestBandwidthAlertIsInformational(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	sub := env.m.Subscribe()
	defer sub.Close()
	env.bringUp(t, sub)

	env.backend.lastSpec(t).BackendMessage(&tunnel.BandwidthAlert{Kind: tunnel.RemainingBandwidth, Amount: 1 << 30})
	require.Eventually(t, func() bool {
		_, _, alerts := env.notes.counts()
		return alerts == 1
	}, waitTimeout, 5*time.Millisecond)
	require.Equal(t, 0, env.backend.stopCount())
	require.Equal(t, tunnel.Up, env.m.Snapshot().TunnelState)
}

func TestPermissionDenied(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	env.backend.startErr = backend.ErrVPNPermissionDenied

	env.m.Start(context.Background(), false)
	permission, _, _ := env.notes.counts()
	require.Equal(t, 1, permission)
	st := env.m.Snapshot()
	require.Equal(t, tunnel.Down, st.TunnelState)
	failure, ok := st.BackendMessage.(*tunnel.StartFailure)
	require.True(t, ok)
	require.ErrorIs(t, failure.Err, backend.ErrVPNPermissionDenied)

	// A foreground UI handles the failure itself.
	env.setForeground(true)
	env.m.Start(context.Background(), false)
	permission, _, _ = env.notes.counts()
	require.Equal(t, 1, permission)

	// Even when the request came from the background.
	env.m.Start(context.Background(), true)
	permission, _, _ = env.notes.counts()
	require.Equal(t, 1, permission)

	env.setForeground(false)
	env.m.Start(context.Background(), true)
	permission, _, _ = env.notes.counts()
	require.Equal(t, 2, permission)
}

func TestStartErrorLeavesState(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	env.backend.startErr = backend.NewNativeError("Start", "tun device busy")

	env.m.Start(context.Background(), false)
	st := env.m.Snapshot()
	require.Equal(t, tunnel.Down, st.TunnelState)
	require.IsType(t, &tunnel.StartFailure{}, st.BackendMessage)
	permission, _, _ := env.notes.counts()
	require.Zero(t, permission)

	// A later successful start clears the message.
	env.backend.startErr = nil
	env.m.Start(context.Background(), false)
	require.Equal(t, tunnel.None{}, env.m.Snapshot().BackendMessage)
}

func TestStopNotRunning(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	env.m.Stop(context.Background())
	require.Equal(t, 1, env.backend.stopCount())
	require.Equal(t, tunnel.Down, env.m.Snapshot().TunnelState)
}

func TestStaleCallbacksIgnored(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	sub := env.m.Subscribe()
	defer sub.Close()
	env.bringUp(t, sub)

	first := env.backend.lastSpec(t)
	env.m.Stop(context.Background())
	env.backend.emit(t, tunnel.Down)
	waitFor(t, sub, tunnelIs(tunnel.Down))

	env.m.Start(context.Background(), false)
	waitFor(t, sub, tunnelIs(tunnel.InitializingClient))
	require.NotSame(t, first, env.backend.lastSpec(t))

	first.StateChanged(tunnel.Up)
	first.BackendMessage(&tunnel.Failure{Reason: tunnel.ReasonDNS})
	env.backend.emit(t, tunnel.EstablishingConnection)
	st := next(t, sub)
	require.Equal(t, tunnel.EstablishingConnection, st.TunnelState)
	require.Equal(t, tunnel.None{}, st.BackendMessage)
	require.Equal(t, 1, env.backend.stopCount())
}

func TestMnemonicFlag(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	ctx := context.Background()
	sub := env.m.Subscribe()
	defer sub.Close()

	st := next(t, sub)
	require.False(t, st.IsMnemonicStored)
	require.Nil(t, st.AccountLinks)

	err := env.m.StoreMnemonic(ctx, "bad")
	require.True(t, backend.IsCredentialError(err))

	require.NoError(t, env.m.StoreMnemonic(ctx, "good"))
	st = next(t, sub)
	require.True(t, st.IsMnemonicStored)
	require.NotNil(t, st.AccountLinks)

	stored, err := env.settings.MnemonicStored()
	require.NoError(t, err)
	require.True(t, stored)
	expiry, err := env.settings.CredentialExpiry()
	require.NoError(t, err)
	require.NotNil(t, expiry)

	require.NoError(t, env.m.RemoveMnemonic(ctx))
	st = next(t, sub)
	require.False(t, st.IsMnemonicStored)
	require.Nil(t, st.AccountLinks)

	stored, err = env.settings.MnemonicStored()
	require.NoError(t, err)
	require.False(t, stored)
	expiry, err = env.settings.CredentialExpiry()
	require.NoError(t, err)
	require.Nil(t, expiry)
}

func TestFirstSubscribeLoadsAccount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	env.backend.mnemonic = true

	sub := env.m.Subscribe()
	defer sub.Close()
	st := waitFor(t, sub, func(s State) bool { return s.IsMnemonicStored })
	require.NotNil(t, st.AccountLinks)
	require.Equal(t, "https://example.net/create", st.AccountLinks.SignUp)
}

func TestAccountLinksFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	env.backend.linksErr = backend.NewNativeError("AccountLinks", "api unreachable")
	require.Nil(t, env.m.AccountLinks(context.Background()))

	summary, err := env.m.AccountSummary(context.Background())
	require.ErrorIs(t, err, backend.ErrNoAccount)
	require.Nil(t, summary)
}

func TestHaltClosesSubscriptions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, time.Hour)
	sub := env.m.Subscribe()
	next(t, sub)

	env.m.Halt()
	select {
	case _, ok := <-sub.C:
		require.False(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("subscription not closed")
	}

	env.m.Start(context.Background(), false)
	require.Equal(t, ErrShutdown, env.m.StoreMnemonic(context.Background(), "good"))
	_, ok := <-env.m.Subscribe().C
	require.False(t, ok)
}
