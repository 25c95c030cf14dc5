// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package manager

import (
	"context"
	"errors"
	"time"

	"github.com/katzenpost/mixvpn/backend"
	"github.com/katzenpost/mixvpn/tunnel"
)

func (m *Manager) worker() {
	ctx, cancel := m.Context(context.Background())
	defer cancel()
	defer m.stopTicker()

	for {
		var tickCh <-chan time.Time
		if m.ticker != nil {
			tickCh = m.ticker.C
		}

		select {
		case <-m.HaltCh():
			m.log.Debugf("Terminating gracefully.")
			return
		case op := <-m.opCh:
			// Callbacks queued before the op was accepted are applied
			// first so that the op observes them.
			m.processEvents(ctx)
			m.handleOp(op)
		case <-m.events.wakeCh:
			m.processEvents(ctx)
		case <-tickCh:
			m.onTick()
		}
	}
}

func (m *Manager) handleOp(op interface{}) {
	switch op := op.(type) {
	case *opStart:
		m.doStart(op.ctx, op.fromBackground)
		close(op.doneCh)
	case *opStop:
		m.doStop(op.ctx)
		close(op.doneCh)
	case *opStoreMnemonic:
		op.errCh <- m.doStoreMnemonic(op.ctx, op.secret)
	case *opRemoveMnemonic:
		op.errCh <- m.doRemoveMnemonic(op.ctx)
	default:
		m.log.Errorf("BUG: unknown op: %T", op)
	}
}

func (m *Manager) processEvents(ctx context.Context) {
	for _, ev := range m.events.drain() {
		switch ev := ev.(type) {
		case *stateEvent:
			if !m.current(ev.attempt) {
				m.log.Debugf("Ignoring state %v of stale attempt %d", ev.state, ev.attempt)
				continue
			}
			m.applyState(ev.state, nil)
		case *messageEvent:
			if !m.current(ev.attempt) {
				m.log.Debugf("Ignoring message %v of stale attempt %d", ev.msg, ev.attempt)
				continue
			}
			m.onBackendMessage(ctx, ev.msg)
		case *statisticEvent:
			if !m.current(ev.attempt) {
				continue
			}
			m.onStatistics(ev.stats)
		case *loadAccountEvent:
			m.loadAccount(ctx)
		default:
			m.log.Errorf("BUG: unknown event: %T", ev)
		}
	}
}

func (m *Manager) current(attempt uint64) bool {
	return attempt != 0 && attempt == m.attempt
}

func (m *Manager) foreground() bool {
	return m.cfg.Foreground != nil && m.cfg.Foreground()
}

func (m *Manager) buildSpec(attempt uint64, fromBackground bool) (*tunnel.Spec, error) {
	hops, err := ResolveHops(m.settings, m.log)
	if err != nil {
		return nil, err
	}
	env, err := m.settings.Environment()
	if err != nil {
		return nil, err
	}

	opts := []tunnel.Option{
		tunnel.WithEndpoints(m.cfg.Endpoints),
		tunnel.FromBackground(fromBackground),
		tunnel.OnStateChange(func(state tunnel.State) {
			m.events.push(&stateEvent{attempt: attempt, state: state})
		}),
		tunnel.OnBackendMessage(func(msg tunnel.BackendMessage) {
			m.events.push(&messageEvent{attempt: attempt, msg: msg})
		}),
		tunnel.OnStatisticChange(func(stats tunnel.Statistics) {
			m.events.push(&statisticEvent{attempt: attempt, stats: stats})
		}),
	}
	if m.cfg.CredentialMode != nil {
		opts = append(opts, tunnel.WithCredentialMode(*m.cfg.CredentialMode))
	}
	return tunnel.NewSpec(hops.Entry, hops.Exit, hops.Mode, env, opts...), nil
}

func (m *Manager) doStart(ctx context.Context, fromBackground bool) {
	m.nextAttempt++
	attempt := m.nextAttempt
	spec, err := m.buildSpec(attempt, fromBackground)
	if err != nil {
		m.log.Errorf("Failed to build tunnel: %v", err)
		m.cfg.Metrics.StartResult("error")
		m.recordStartFailure(err)
		return
	}

	m.log.Noticef("Starting %v", spec)
	state, err := m.backend.Start(ctx, spec)
	switch {
	case err == nil:
	case errors.Is(err, backend.ErrVPNAlreadyRunning):
		m.log.Infof("Tunnel already running, ignoring start")
		m.cfg.Metrics.StartResult("already_running")
		return
	case errors.Is(err, backend.ErrVPNPermissionDenied):
		m.log.Warningf("Failed to start tunnel: %v", err)
		m.cfg.Metrics.StartResult("permission_denied")
		if m.cfg.Notifications != nil && !m.foreground() {
			m.cfg.Notifications.PermissionDenied()
		}
		m.recordStartFailure(err)
		return
	default:
		m.log.Errorf("Failed to start tunnel: %v", err)
		m.cfg.Metrics.StartResult("error")
		m.recordStartFailure(err)
		return
	}

	m.cfg.Metrics.StartResult("ok")
	m.attempt = attempt
	m.fromBackground = fromBackground
	m.stopIssued = false
	m.applyState(state, func(s *State) {
		s.BackendMessage = tunnel.None{}
	})
}

// recordStartFailure leaves the tunnel state untouched.
func (m *Manager) recordStartFailure(err error) {
	msg := &tunnel.StartFailure{Err: err}
	m.cfg.Metrics.BackendMessage(msg)
	m.hub.update(func(s State) State {
		s.BackendMessage = msg
		return s
	})
}

func (m *Manager) doStop(ctx context.Context) {
	state, err := m.backend.Stop(ctx)
	switch {
	case err == nil:
	case errors.Is(err, backend.ErrVPNNotRunning):
		m.log.Debugf("Tunnel not running, ignoring stop")
		return
	default:
		m.log.Warningf("Failed to stop tunnel: %v", err)
		return
	}
	m.stopIssued = true
	m.applyState(state, nil)
}

// applyState records a tunnel transition along with any extra change
// made by fn, in a single update.  The statistics timer runs only while
// Up and the statistics are zeroed whenever Up is entered or left.
func (m *Manager) applyState(state tunnel.State, fn func(*State)) {
	prev := m.hub.snapshot().TunnelState
	switch {
	case state == tunnel.Up && prev != tunnel.Up:
		m.startTicker()
	case state != tunnel.Up:
		m.stopTicker()
	}

	m.hub.update(func(s State) State {
		s.TunnelState = state
		if state != tunnel.Up || prev != tunnel.Up {
			s.Statistics = tunnel.Statistics{}
		}
		if fn != nil {
			fn(&s)
		}
		return s
	})

	if prev != state {
		m.log.Infof("Tunnel state: %v -> %v", prev, state)
		m.cfg.Metrics.TunnelState(state)
	}
	if m.cfg.Tile != nil {
		m.cfg.Tile.RequestRefresh()
	}
}

func (m *Manager) onBackendMessage(ctx context.Context, msg tunnel.BackendMessage) {
	m.cfg.Metrics.BackendMessage(msg)

	switch msg := msg.(type) {
	case *tunnel.Failure:
		m.log.Errorf("Tunnel failure: %v", msg)
		m.hub.update(func(s State) State {
			s.BackendMessage = msg
			return s
		})
		if m.cfg.Notifications != nil && !m.foreground() {
			m.cfg.Notifications.Failure(msg.Reason)
		}
		if m.stopIssued {
			return
		}
		m.stopIssued = true
		state, err := m.backend.Stop(ctx)
		if err != nil {
			m.log.Warningf("Failed to stop tunnel after failure: %v", err)
			return
		}
		m.applyState(state, nil)
	case *tunnel.BandwidthAlert:
		m.log.Noticef("Bandwidth alert: %v", msg)
		if m.cfg.Notifications != nil && !m.foreground() {
			m.cfg.Notifications.BandwidthAlert(msg)
		}
	default:
		m.log.Debugf("Backend message: %v", msg)
	}
}

func (m *Manager) onStatistics(stats tunnel.Statistics) {
	st := m.hub.update(func(s State) State {
		if s.TunnelState != tunnel.Up {
			return s
		}
		s.Statistics.Rx = stats.Rx
		s.Statistics.Tx = stats.Tx
		return s
	})
	if st.TunnelState == tunnel.Up {
		m.cfg.Metrics.TunnelStatistics(st.Statistics)
	}
}

func (m *Manager) onTick() {
	st := m.hub.update(func(s State) State {
		if s.TunnelState == tunnel.Up {
			s.Statistics.ConnectionSeconds++
		}
		return s
	})
	m.cfg.Metrics.TunnelStatistics(st.Statistics)
}

func (m *Manager) startTicker() {
	m.stopTicker()
	m.ticker = time.NewTicker(m.cfg.StatisticsInterval)
}

func (m *Manager) stopTicker() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
}

func (m *Manager) loadAccount(ctx context.Context) {
	stored, err := m.backend.IsMnemonicStored(ctx)
	if err != nil {
		m.log.Warningf("Failed to query stored mnemonic: %v", err)
		return
	}
	var links *backend.AccountLinks
	if stored {
		links = m.AccountLinks(ctx)
	}
	if err := m.settings.SetMnemonicStored(stored); err != nil {
		m.log.Warningf("Failed to persist mnemonic flag: %v", err)
	}
	m.hub.update(func(s State) State {
		s.IsMnemonicStored = stored
		s.AccountLinks = links
		return s
	})
}

func (m *Manager) doStoreMnemonic(ctx context.Context, secret string) error {
	expiry, err := m.backend.ImportCredential(ctx, secret)
	if err != nil {
		m.log.Warningf("Failed to import credential: %v", err)
		return err
	}
	if err := m.settings.SetMnemonicStored(true); err != nil {
		m.log.Warningf("Failed to persist mnemonic flag: %v", err)
	}
	if err := m.settings.SetCredentialExpiry(expiry); err != nil {
		m.log.Warningf("Failed to persist credential expiry: %v", err)
	}
	links := m.AccountLinks(ctx)
	m.hub.update(func(s State) State {
		s.IsMnemonicStored = true
		s.AccountLinks = links
		return s
	})
	m.log.Noticef("Credential stored")
	return nil
}

func (m *Manager) doRemoveMnemonic(ctx context.Context) error {
	if err := m.backend.RemoveMnemonic(ctx); err != nil {
		m.log.Warningf("Failed to remove credential: %v", err)
		return err
	}
	if err := m.settings.SetMnemonicStored(false); err != nil {
		m.log.Warningf("Failed to persist mnemonic flag: %v", err)
	}
	if err := m.settings.SetCredentialExpiry(nil); err != nil {
		m.log.Warningf("Failed to clear credential expiry: %v", err)
	}
	m.hub.update(func(s State) State {
		s.IsMnemonicStored = false
		s.AccountLinks = nil
		return s
	})
	m.log.Noticef("Credential removed")
	return nil
}
