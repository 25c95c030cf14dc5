// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package tunnel describes a single tunnel connection attempt and the
// states and messages a backend reports about it.
package tunnel

import "fmt"

// Spec describes one desired connection attempt.  A Spec is built fresh
// for every start request and is never persisted.  The callbacks are
// fixed at construction; the backend invokes them for as long as the
// native connection lives.
type Spec struct {
	EntryPoint  Point
	ExitPoint   Point
	Mode        Mode
	Environment Environment

	// Endpoints are resolved from Environment when the Spec is built.
	Endpoints Endpoints

	// CredentialMode, if set, states whether a credential is required to
	// connect.  nil lets the backend decide.
	CredentialMode *bool

	// FromBackground is true when no foreground UI requested the tunnel.
	FromBackground bool

	onStateChange     func(State)
	onBackendMessage  func(BackendMessage)
	onStatisticChange func(Statistics)
}

// Option configures a Spec.
type Option func(*Spec)

// WithCredentialMode sets the Spec's CredentialMode.
func WithCredentialMode(enabled bool) Option {
	return func(s *Spec) {
		s.CredentialMode = &enabled
	}
}

// WithEndpoints overrides the endpoints resolved from the environment.
// Empty fields keep the environment's default.
func WithEndpoints(e Endpoints) Option {
	return func(s *Spec) {
		if e.APIURL != "" {
			s.Endpoints.APIURL = e.APIURL
		}
		if e.VPNAPIURL != "" {
			s.Endpoints.VPNAPIURL = e.VPNAPIURL
		}
		if e.NyxdURL != "" {
			s.Endpoints.NyxdURL = e.NyxdURL
		}
	}
}

// FromBackground marks the Spec as requested by a background trigger.
func FromBackground(fromBackground bool) Option {
	return func(s *Spec) {
		s.FromBackground = fromBackground
	}
}

// OnStateChange sets the callback invoked on every state transition.
func OnStateChange(fn func(State)) Option {
	return func(s *Spec) {
		s.onStateChange = fn
	}
}

// OnBackendMessage sets the callback invoked on every backend message.
func OnBackendMessage(fn func(BackendMessage)) Option {
	return func(s *Spec) {
		s.onBackendMessage = fn
	}
}

// OnStatisticChange sets the callback invoked on every statistics update.
func OnStatisticChange(fn func(Statistics)) Option {
	return func(s *Spec) {
		s.onStatisticChange = fn
	}
}

// NewSpec returns a new Spec.
func NewSpec(entry, exit Point, mode Mode, env Environment, opts ...Option) *Spec {
	s := &Spec{
		EntryPoint:  entry,
		ExitPoint:   exit,
		Mode:        mode,
		Environment: env,
		Endpoints:   env.Endpoints(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StateChanged invokes the state change callback, if any.
func (s *Spec) StateChanged(state State) {
	if s.onStateChange != nil {
		s.onStateChange(state)
	}
}

// BackendMessage invokes the backend message callback, if any.
func (s *Spec) BackendMessage(msg BackendMessage) {
	if s.onBackendMessage != nil {
		s.onBackendMessage(msg)
	}
}

// StatisticChanged invokes the statistics callback, if any.
func (s *Spec) StatisticChanged(stats Statistics) {
	if s.onStatisticChange != nil {
		s.onStatisticChange(stats)
	}
}

// String returns a string representation of the Spec.
func (s *Spec) String() string {
	return fmt.Sprintf("Tunnel(entry=%v exit=%v mode=%v env=%v)", s.EntryPoint, s.ExitPoint, s.Mode, s.Environment)
}
