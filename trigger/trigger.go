// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package trigger implements the background entry points that start and
// stop the tunnel without a UI: boot completion, the quick settings tile
// and externally delivered actions.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/core/worker"
	"github.com/katzenpost/mixvpn/settings"
	"github.com/katzenpost/mixvpn/tunnel"
)

const (
	// ActionConnect requests the tunnel to be started.
	ActionConnect = "connect"

	// ActionDisconnect requests the tunnel to be stopped.
	ActionDisconnect = "disconnect"
)

// ErrUnknownAction is returned by Receiver.Handle for unsupported actions.
var ErrUnknownAction = errors.New("trigger: unknown action")

// Controller is the part of the tunnel manager the triggers drive.
type Controller interface {
	Start(ctx context.Context, fromBackground bool)
	Stop(ctx context.Context)
	State() tunnel.State
}

// Refresher redraws the quick settings tile.
type Refresher interface {
	RequestRefresh()
}

// Boot starts the tunnel once the system finished booting, if the user
// enabled auto start.
type Boot struct {
	log      *logging.Logger
	settings *settings.Settings
	ctrl     Controller
}

// NewBoot returns a Boot trigger.
func NewBoot(s *settings.Settings, ctrl Controller, log *logging.Logger) *Boot {
	return &Boot{
		log:      log,
		settings: s,
		ctrl:     ctrl,
	}
}

// OnBootCompleted starts the tunnel if auto start is enabled.  It is best
// effort: a start issued this early may be rejected by the OS, in which
// case the failure surfaces as a notification and nothing is retried.
func (b *Boot) OnBootCompleted(ctx context.Context) error {
	autoStart, err := b.settings.AutoStart()
	if err != nil {
		return fmt.Errorf("trigger: failed to read auto start: %w", err)
	}
	if !autoStart {
		b.log.Debugf("Auto start disabled")
		return nil
	}
	b.log.Noticef("Auto starting tunnel")
	b.ctrl.Start(ctx, true)
	return nil
}

// TileService handles the quick settings tile's callbacks.
type TileService struct {
	log  *logging.Logger
	ctrl Controller
	tile Refresher
}

// NewTileService returns a TileService.
func NewTileService(ctrl Controller, tile Refresher, log *logging.Logger) *TileService {
	return &TileService{
		log:  log,
		ctrl: ctrl,
		tile: tile,
	}
}

// OnClick toggles the tunnel.  Clicks while connecting or disconnecting
// are ignored.
func (t *TileService) OnClick(ctx context.Context) {
	switch state := t.ctrl.State(); state {
	case tunnel.Down:
		t.ctrl.Start(ctx, true)
	case tunnel.Up:
		t.ctrl.Stop(ctx)
	default:
		t.log.Debugf("Ignoring tile click while %v", state)
	}
}

// OnStartListening redraws the tile when it becomes visible.
func (t *TileService) OnStartListening() {
	t.tile.RequestRefresh()
}

// Receiver handles actions delivered by other processes.  The work is
// done on the Receiver's own worker so that it outlives the delivery.
type Receiver struct {
	worker.Worker

	log  *logging.Logger
	ctrl Controller
}

// NewReceiver returns a Receiver.
func NewReceiver(ctrl Controller, log *logging.Logger) *Receiver {
	return &Receiver{
		log:  log,
		ctrl: ctrl,
	}
}

// Handle dispatches action and returns without waiting for it to
// complete.
func (r *Receiver) Handle(action string) error {
	var fn func(context.Context)
	switch action {
	case ActionConnect:
		fn = func(ctx context.Context) { r.ctrl.Start(ctx, true) }
	case ActionDisconnect:
		fn = r.ctrl.Stop
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	r.log.Debugf("Handling action: %v", action)
	r.Go(func() {
		ctx, cancel := r.Context(context.Background())
		defer cancel()
		fn(ctx)
	})
	return nil
}
