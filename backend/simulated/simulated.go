// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package simulated provides an in-process Backend which behaves like
// the native tunnelling library without touching the network.  The
// daemon uses it when no native library is linked, and tests use it to
// drive realistic callback sequences.
package simulated

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/backend"
	"github.com/katzenpost/mixvpn/core/worker"
	"github.com/katzenpost/mixvpn/tunnel"
)

const (
	defaultInitDelay       = 500 * time.Millisecond
	defaultEstablishDelay  = 1500 * time.Millisecond
	defaultDisconnectDelay = 300 * time.Millisecond
	defaultStatsInterval   = time.Second
	defaultCredentialTTL   = 30 * 24 * time.Hour
	defaultAccountURL      = "https://nymvpn.com/en/account"

	maxStatsIncrement = 1 << 16
)

// Config is the simulated backend configuration.  Zero fields take
// their defaults.
type Config struct {
	InitDelay       time.Duration
	EstablishDelay  time.Duration
	DisconnectDelay time.Duration
	StatsInterval   time.Duration
	CredentialTTL   time.Duration
	AccountURL      string
}

func (c *Config) fixup() {
	if c.InitDelay == 0 {
		c.InitDelay = defaultInitDelay
	}
	if c.EstablishDelay == 0 {
		c.EstablishDelay = defaultEstablishDelay
	}
	if c.DisconnectDelay == 0 {
		c.DisconnectDelay = defaultDisconnectDelay
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = defaultStatsInterval
	}
	if c.CredentialTTL == 0 {
		c.CredentialTTL = defaultCredentialTTL
	}
	if c.AccountURL == "" {
		c.AccountURL = defaultAccountURL
	}
}

type session struct {
	spec   *tunnel.Spec
	stopCh chan struct{}
	msgCh  chan tunnel.BackendMessage
	doneCh chan struct{}
}

// Backend is the simulated backend.
type Backend struct {
	worker.Worker

	log *logging.Logger
	cfg Config

	sync.Mutex
	state   tunnel.State
	session *session

	permissionDenied bool
	startErr         error
	linksErr         error

	mnemonic string
	expiry   time.Time
}

var _ backend.Backend = (*Backend)(nil)

// New returns a new simulated Backend.
func New(cfg Config, log *logging.Logger) *Backend {
	cfg.fixup()
	return &Backend{
		cfg: cfg,
		log: log,
	}
}

// SetPermissionDenied makes subsequent Start calls fail with
// backend.ErrVPNPermissionDenied until reset.
func (b *Backend) SetPermissionDenied(denied bool) {
	b.Lock()
	defer b.Unlock()
	b.permissionDenied = denied
}

// FailNextStart makes the next Start call fail with err.
func (b *Backend) FailNextStart(err error) {
	b.Lock()
	defer b.Unlock()
	b.startErr = err
}

// SetAccountLinksError makes AccountLinks fail with err until reset
// with nil.
func (b *Backend) SetAccountLinksError(err error) {
	b.Lock()
	defer b.Unlock()
	b.linksErr = err
}

// InjectMessage delivers msg through the active tunnel's callbacks, in
// order with its state changes.  It returns false if no tunnel is active.
func (b *Backend) InjectMessage(msg tunnel.BackendMessage) bool {
	b.Lock()
	s := b.session
	b.Unlock()
	if s == nil {
		return false
	}
	select {
	case s.msgCh <- msg:
		return true
	case <-s.doneCh:
		return false
	case <-b.HaltCh():
		return false
	}
}

// Start implements backend.Backend.
func (b *Backend) Start(ctx context.Context, spec *tunnel.Spec) (tunnel.State, error) {
	if err := ctx.Err(); err != nil {
		return b.State(), err
	}

	b.Lock()
	defer b.Unlock()

	if b.session != nil {
		return b.state, backend.ErrVPNAlreadyRunning
	}
	if b.permissionDenied {
		return b.state, backend.ErrVPNPermissionDenied
	}
	if err := b.startErr; err != nil {
		b.startErr = nil
		return b.state, err
	}
	if spec.CredentialMode != nil && *spec.CredentialMode && b.mnemonic == "" {
		return b.state, backend.ErrNoAccount
	}

	b.log.Infof("Starting %v", spec)
	s := &session{
		spec:   spec,
		stopCh: make(chan struct{}),
		msgCh:  make(chan tunnel.BackendMessage),
		doneCh: make(chan struct{}),
	}
	b.session = s
	b.state = tunnel.InitializingClient
	b.Go(func() {
		b.run(s)
	})
	return b.state, nil
}

// Stop implements backend.Backend.
func (b *Backend) Stop(ctx context.Context) (tunnel.State, error) {
	if err := ctx.Err(); err != nil {
		return b.State(), err
	}

	b.Lock()
	defer b.Unlock()

	s := b.session
	if s == nil || b.state == tunnel.Disconnecting {
		return b.state, backend.ErrVPNNotRunning
	}
	b.log.Info("Stopping")
	b.state = tunnel.Disconnecting
	close(s.stopCh)
	return b.state, nil
}

// State implements backend.Backend.
func (b *Backend) State() tunnel.State {
	b.Lock()
	defer b.Unlock()
	return b.state
}

// advance moves the session to state unless a stop was requested, in
// which case the backend already reports Disconnecting.
func (b *Backend) advance(s *session, state tunnel.State) bool {
	b.Lock()
	select {
	case <-s.stopCh:
		b.Unlock()
		return false
	default:
	}
	b.state = state
	b.Unlock()
	s.spec.StateChanged(state)
	return true
}

// run drives one session.  All callbacks of a session are emitted from
// this goroutine, which keeps them ordered.
func (b *Backend) run(s *session) {
	defer func() {
		// Down is delivered before the session is released, so that it
		// precedes every callback of a later session.
		s.spec.StateChanged(tunnel.Down)
		b.Lock()
		b.state = tunnel.Down
		b.session = nil
		b.Unlock()
		close(s.doneCh)
	}()

	s.spec.StateChanged(tunnel.InitializingClient)

	steps := []struct {
		delay time.Duration
		next  tunnel.State
	}{
		{b.cfg.InitDelay, tunnel.EstablishingConnection},
		{b.cfg.EstablishDelay, tunnel.Up},
	}
	for _, step := range steps {
		timer := time.NewTimer(step.delay)
		select {
		case <-b.HaltCh():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			b.disconnect(s)
			return
		case msg := <-s.msgCh:
			timer.Stop()
			s.spec.BackendMessage(msg)
			// Failures abort the connection attempt from the backend side
			// as well; the caller is expected to issue a stop.
			b.waitStop(s)
			return
		case <-timer.C:
		}
		if !b.advance(s, step.next) {
			b.disconnect(s)
			return
		}
	}

	var stats tunnel.Statistics
	ticker := time.NewTicker(b.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.HaltCh():
			return
		case <-s.stopCh:
			b.disconnect(s)
			return
		case msg := <-s.msgCh:
			s.spec.BackendMessage(msg)
		case <-ticker.C:
			stats.Rx += randomIncrement()
			stats.Tx += randomIncrement()
			s.spec.StatisticChanged(stats)
		}
	}
}

func (b *Backend) waitStop(s *session) {
	for {
		select {
		case <-b.HaltCh():
			return
		case <-s.stopCh:
			b.disconnect(s)
			return
		case msg := <-s.msgCh:
			s.spec.BackendMessage(msg)
		}
	}
}

func (b *Backend) disconnect(s *session) {
	s.spec.StateChanged(tunnel.Disconnecting)
	select {
	case <-b.HaltCh():
	case <-time.After(b.cfg.DisconnectDelay):
	}
}

func randomIncrement() uint64 {
	var buf [8]byte
	if _, err := rand.Reader.Read(buf[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(buf[:]) % maxStatsIncrement
}

func validMnemonic(secret string) bool {
	words := strings.Fields(secret)
	if len(words) != 12 && len(words) != 24 {
		return false
	}
	for _, w := range words {
		for _, r := range w {
			if r < 'a' || r > 'z' {
				return false
			}
		}
	}
	return true
}

// ValidateCredential implements backend.Backend.
func (b *Backend) ValidateCredential(ctx context.Context, secret string) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validMnemonic(secret) {
		return nil, fmt.Errorf("%w: expected 12 or 24 lowercase words", backend.ErrInvalidCredential)
	}
	expiry := time.Now().Add(b.cfg.CredentialTTL).UTC().Truncate(time.Second)
	return &expiry, nil
}

// ImportCredential implements backend.Backend.
func (b *Backend) ImportCredential(ctx context.Context, secret string) (*time.Time, error) {
	expiry, err := b.ValidateCredential(ctx, secret)
	if err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	b.mnemonic = strings.Join(strings.Fields(secret), " ")
	b.expiry = *expiry
	return expiry, nil
}

// IsMnemonicStored implements backend.Backend.
func (b *Backend) IsMnemonicStored(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.Lock()
	defer b.Unlock()
	return b.mnemonic != "", nil
}

// RemoveMnemonic implements backend.Backend.
func (b *Backend) RemoveMnemonic(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.Lock()
	defer b.Unlock()
	b.mnemonic = ""
	b.expiry = time.Time{}
	return nil
}

// AccountSummary implements backend.Backend.
func (b *Backend) AccountSummary(ctx context.Context) (*backend.AccountSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	if b.mnemonic == "" {
		return nil, backend.ErrNoAccount
	}
	id := hash.Sum256([]byte(b.mnemonic))
	return &backend.AccountSummary{
		AccountID:          "n1" + hex.EncodeToString(id[:19]),
		SubscriptionActive: time.Now().Before(b.expiry),
		DevicesRegistered:  1,
		DevicesMax:         10,
		ExpiresAt:          b.expiry,
	}, nil
}

// AccountLinks implements backend.Backend.
func (b *Backend) AccountLinks(ctx context.Context, env tunnel.Environment) (*backend.AccountLinks, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.Lock()
	defer b.Unlock()
	if b.linksErr != nil {
		return nil, &backend.NativeError{Op: "AccountLinks", Err: b.linksErr}
	}
	base := strings.TrimSuffix(b.cfg.AccountURL, "/")
	suffix := ""
	if env != tunnel.Mainnet {
		suffix = "?env=" + env.String()
	}
	links := &backend.AccountLinks{
		SignUp: base + "/create" + suffix,
		SignIn: base + "/login" + suffix,
	}
	if b.mnemonic != "" {
		links.Account = base + suffix
	}
	return links, nil
}
