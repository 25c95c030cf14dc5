// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/core/log"
	"github.com/katzenpost/mixvpn/settings"
	"github.com/katzenpost/mixvpn/tunnel"
)

type call struct {
	op             string
	fromBackground bool
}

type fakeController struct {
	sync.Mutex

	state tunnel.State
	calls []call
}

func (c *fakeController) Start(ctx context.Context, fromBackground bool) {
	c.Lock()
	defer c.Unlock()
	c.calls = append(c.calls, call{"start", fromBackground})
}

func (c *fakeController) Stop(ctx context.Context) {
	c.Lock()
	defer c.Unlock()
	c.calls = append(c.calls, call{op: "stop"})
}

func (c *fakeController) State() tunnel.State {
	c.Lock()
	defer c.Unlock()
	return c.state
}

func (c *fakeController) recorded() []call {
	c.Lock()
	defer c.Unlock()
	return append([]call(nil), c.calls...)
}

type countingRefresher struct {
	n int
}

func (r *countingRefresher) RequestRefresh() {
	r.n++
}

func testLogger(t *testing.T) *logging.Logger {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return logBackend.GetLogger("trigger")
}

func TestBoot(t *testing.T) {
	t.Parallel()
	s := settings.New(settings.NewMemoryKV())
	ctrl := &fakeController{}
	boot := NewBoot(s, ctrl, testLogger(t))

	require.NoError(t, boot.OnBootCompleted(context.Background()))
	require.Empty(t, ctrl.recorded())

	require.NoError(t, s.SetAutoStart(true))
	require.NoError(t, boot.OnBootCompleted(context.Background()))
	require.Equal(t, []call{{"start", true}}, ctrl.recorded())
}

func TestTileService(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	tile := &countingRefresher{}
	svc := NewTileService(ctrl, tile, testLogger(t))
	ctx := context.Background()

	svc.OnClick(ctx)
	ctrl.state = tunnel.EstablishingConnection
	svc.OnClick(ctx)
	ctrl.state = tunnel.Up
	svc.OnClick(ctx)
	ctrl.state = tunnel.Disconnecting
	svc.OnClick(ctx)

	require.Equal(t, []call{{"start", true}, {op: "stop"}}, ctrl.recorded())

	svc.OnStartListening()
	require.Equal(t, 1, tile.n)
}

func TestReceiver(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	r := NewReceiver(ctrl, testLogger(t))
	defer r.Halt()

	require.ErrorIs(t, r.Handle("reboot"), ErrUnknownAction)

	require.NoError(t, r.Handle(ActionConnect))
	require.Eventually(t, func() bool {
		return len(ctrl.recorded()) == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Handle(ActionDisconnect))
	require.Eventually(t, func() bool {
		return len(ctrl.recorded()) == 2
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, []call{{"start", true}, {op: "stop"}}, ctrl.recorded())
}
