// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package manager implements the tunnel manager, the single authority
// deciding whether a tunnel should run and with which configuration.
// It resolves hops from the persisted settings, drives the backend, and
// relays the backend's asynchronous state changes to subscribers and OS
// presenters, independently of any UI.
package manager

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/backend"
	"github.com/katzenpost/mixvpn/core/log"
	"github.com/katzenpost/mixvpn/core/worker"
	"github.com/katzenpost/mixvpn/presenter"
	"github.com/katzenpost/mixvpn/settings"
	"github.com/katzenpost/mixvpn/tunnel"
)

// ErrShutdown is returned by operations issued after Halt.
var ErrShutdown = errors.New("manager: shutdown requested")

const defaultStatisticsInterval = time.Second

// Notifications shows user facing notifications for tunnel events.
type Notifications interface {
	PermissionDenied()
	Failure(reason tunnel.ErrorReason)
	BandwidthAlert(alert *tunnel.BandwidthAlert)
}

// TileRefresher asks the quick settings surface to redraw.
type TileRefresher interface {
	RequestRefresh()
}

// Metrics records tunnel activity.
type Metrics interface {
	TunnelState(state tunnel.State)
	TunnelStatistics(stats tunnel.Statistics)
	BackendMessage(msg tunnel.BackendMessage)
	StartResult(result string)
}

type noopMetrics struct{}

func (noopMetrics) TunnelState(tunnel.State) {}

func (noopMetrics) TunnelStatistics(tunnel.Statistics) {}

func (noopMetrics) BackendMessage(tunnel.BackendMessage) {}

func (noopMetrics) StartResult(string) {}

// Config is the manager configuration.
type Config struct {
	// Backend is the process wide native library instance.
	Backend backend.Backend

	// Settings are the persisted preferences read on every start.
	Settings *settings.Settings

	// LogBackend is the logging backend.
	LogBackend *log.Backend

	// Notifications, if set, receives failure and bandwidth events.
	Notifications Notifications

	// Tile, if set, is asked to redraw on every transition.
	Tile TileRefresher

	// Foreground, if set, reports whether a UI is in the foreground.
	// Notifications are suppressed while it returns true.
	Foreground func() bool

	// Metrics, if set, records tunnel activity.
	Metrics Metrics

	// CredentialMode is passed through to every tunnel.
	CredentialMode *bool

	// Endpoints override the environment defaults.
	Endpoints tunnel.Endpoints

	// StatisticsInterval is the period of the connection timer.
	StatisticsInterval time.Duration
}

func (c *Config) validate() error {
	if c.Backend == nil {
		return errors.New("manager: no Backend")
	}
	if c.Settings == nil {
		return errors.New("manager: no Settings")
	}
	if c.LogBackend == nil {
		return errors.New("manager: no LogBackend")
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	if c.StatisticsInterval == 0 {
		c.StatisticsInterval = defaultStatisticsInterval
	}
	return nil
}

type opStart struct {
	ctx            context.Context
	fromBackground bool
	doneCh         chan struct{}
}

type opStop struct {
	ctx    context.Context
	doneCh chan struct{}
}

type opStoreMnemonic struct {
	ctx    context.Context
	secret string
	errCh  chan error
}

type opRemoveMnemonic struct {
	ctx   context.Context
	errCh chan error
}

// Manager is the tunnel manager.
type Manager struct {
	worker.Worker

	cfg *Config
	log *logging.Logger

	backend  backend.Backend
	settings *settings.Settings

	hub    *hub
	events *eventQueue
	opCh   chan interface{}

	accountRequested atomic.Bool

	// Owned by the worker.  nextAttempt numbers every start request;
	// attempt is the id of the last start the backend accepted.
	nextAttempt    uint64
	attempt        uint64
	fromBackground bool
	stopIssued     bool
	ticker         *time.Ticker
}

// New creates a Manager and starts its worker.
func New(cfg *Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		log:      cfg.LogBackend.GetLogger("manager"),
		backend:  cfg.Backend,
		settings: cfg.Settings,
		hub:      newHub(),
		events:   newEventQueue(),
		opCh:     make(chan interface{}),
	}
	m.Go(m.worker)
	return m, nil
}

// Halt stops the worker and closes every Subscription.
func (m *Manager) Halt() {
	m.Worker.Halt()
	m.hub.halt()
}

func (m *Manager) submit(ctx context.Context, op interface{}) error {
	select {
	case m.opCh <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.HaltCh():
		return ErrShutdown
	}
}

func (m *Manager) wait(ctx context.Context, doneCh chan struct{}) {
	select {
	case <-doneCh:
	case <-ctx.Done():
	case <-m.HaltCh():
	}
}

// Start requests a tunnel built from the persisted settings.  It returns
// once the backend acknowledged the request; the tunnel coming up is
// observed through Subscribe.  Start never fails: backend errors are
// logged and recorded as the snapshot's BackendMessage.
func (m *Manager) Start(ctx context.Context, fromBackground bool) {
	op := &opStart{
		ctx:            ctx,
		fromBackground: fromBackground,
		doneCh:         make(chan struct{}),
	}
	if err := m.submit(ctx, op); err != nil {
		m.log.Warningf("Start not submitted: %v", err)
		return
	}
	m.wait(ctx, op.doneCh)
}

// Stop requests the active tunnel to be torn down.  It is best effort;
// failures are logged.
func (m *Manager) Stop(ctx context.Context) {
	op := &opStop{
		ctx:    ctx,
		doneCh: make(chan struct{}),
	}
	if err := m.submit(ctx, op); err != nil {
		m.log.Warningf("Stop not submitted: %v", err)
		return
	}
	m.wait(ctx, op.doneCh)
}

// State reads the tunnel state straight from the backend.
func (m *Manager) State() tunnel.State {
	return m.backend.State()
}

// Snapshot returns the current State.
func (m *Manager) Snapshot() State {
	return m.hub.snapshot()
}

// Subscribe returns a Subscription to the manager's State.  The first
// Subscribe triggers the lookup of the credential presence and account
// links, which are cached until the mnemonic is stored or removed.
func (m *Manager) Subscribe() *Subscription {
	sub := m.hub.subscribe()
	if m.accountRequested.CompareAndSwap(false, true) {
		m.events.push(&loadAccountEvent{})
	}
	return sub
}

func (m *Manager) credentialOp(ctx context.Context, op interface{}, errCh chan error) error {
	if err := m.submit(ctx, op); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.HaltCh():
		return ErrShutdown
	}
}

// StoreMnemonic imports secret into the backend.  Credential failures are
// returned to the caller, see backend.IsCredentialError.
func (m *Manager) StoreMnemonic(ctx context.Context, secret string) error {
	errCh := make(chan error, 1)
	return m.credentialOp(ctx, &opStoreMnemonic{ctx: ctx, secret: secret, errCh: errCh}, errCh)
}

// RemoveMnemonic removes the stored credential.
func (m *Manager) RemoveMnemonic(ctx context.Context) error {
	errCh := make(chan error, 1)
	return m.credentialOp(ctx, &opRemoveMnemonic{ctx: ctx, errCh: errCh}, errCh)
}

// IsMnemonicStored asks the backend whether a credential is stored.
func (m *Manager) IsMnemonicStored(ctx context.Context) (bool, error) {
	return m.backend.IsMnemonicStored(ctx)
}

// ValidateCredential checks secret without storing it.
func (m *Manager) ValidateCredential(ctx context.Context, secret string) (*time.Time, error) {
	return m.backend.ValidateCredential(ctx, secret)
}

// AccountSummary fetches the stored account's summary.
func (m *Manager) AccountSummary(ctx context.Context) (*backend.AccountSummary, error) {
	return m.backend.AccountSummary(ctx)
}

// AccountLinks fetches the account links for the configured environment.
// Any failure yields nil: the links are simply unavailable.
func (m *Manager) AccountLinks(ctx context.Context) *backend.AccountLinks {
	env, err := m.settings.Environment()
	if err != nil {
		m.log.Warningf("Failed to read environment: %v", err)
		return nil
	}
	links, err := m.backend.AccountLinks(ctx, env)
	if err != nil {
		m.log.Debugf("Account links unavailable: %v", err)
		return nil
	}
	return links
}

// Hops resolves the hops the next Start would use.
func (m *Manager) Hops() (presenter.Hops, error) {
	return ResolveHops(m.settings, m.log)
}
