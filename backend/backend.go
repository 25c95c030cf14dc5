// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package backend defines the capability interface of the native
// tunnelling library.  The library performs the actual mixnet and
// credential work; this package only describes the boundary.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/katzenpost/mixvpn/tunnel"
)

var (
	// ErrVPNAlreadyRunning is returned by Start when a tunnel is already
	// active.  It is benign: start is idempotent.
	ErrVPNAlreadyRunning = errors.New("backend: vpn already running")

	// ErrVPNNotRunning is returned by Stop when no tunnel is active.
	ErrVPNNotRunning = errors.New("backend: vpn not running")

	// ErrVPNPermissionDenied is returned by Start when the OS has not
	// granted the VPN permission.  It requires user action.
	ErrVPNPermissionDenied = errors.New("backend: vpn permission denied")

	// ErrInvalidCredential is returned when a credential fails validation.
	ErrInvalidCredential = errors.New("backend: invalid credential")

	// ErrCredentialExpired is returned when a credential is past its expiry.
	ErrCredentialExpired = errors.New("backend: credential expired")

	// ErrNoAccount is returned by account queries when no mnemonic is stored.
	ErrNoAccount = errors.New("backend: no account stored")
)

// NativeError is a generic failure reported by the native library.
type NativeError struct {
	// Op is the operation that failed.
	Op string

	// Err is the original error.
	Err error
}

// Error implements the error interface.
func (e *NativeError) Error() string {
	return fmt.Sprintf("backend: %s: native failure: %v", e.Op, e.Err)
}

// Unwrap returns the original error.
func (e *NativeError) Unwrap() error {
	return e.Err
}

// NewNativeError returns a NativeError for op.
func NewNativeError(op string, f string, a ...interface{}) error {
	return &NativeError{Op: op, Err: fmt.Errorf(f, a...)}
}

// IsCredentialError returns true iff err is one of the credential
// validation failures.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrInvalidCredential) || errors.Is(err, ErrCredentialExpired)
}

// AccountLinks are the external account management URLs.
type AccountLinks struct {
	SignUp  string `cbor:"sign_up"`
	SignIn  string `cbor:"sign_in"`
	Account string `cbor:"account"`
}

// AccountSummary describes the state of the stored account.
type AccountSummary struct {
	AccountID          string    `cbor:"account_id"`
	SubscriptionActive bool      `cbor:"subscription_active"`
	DevicesRegistered  int       `cbor:"devices_registered"`
	DevicesMax         int       `cbor:"devices_max"`
	ExpiresAt          time.Time `cbor:"expires_at"`
}

// Backend is the native tunnelling library.  There is exactly one active
// tunnel per Backend instance; the Backend itself enforces this by
// returning ErrVPNAlreadyRunning.
//
// Start and Stop return immediately with the state the backend moved to
// optimistically.  The final outcome is delivered later through the
// callbacks of the Spec passed to Start, in the order the library emits
// them.
type Backend interface {
	// Start begins establishing the tunnel described by spec.
	Start(ctx context.Context, spec *tunnel.Spec) (tunnel.State, error)

	// Stop begins tearing the active tunnel down.
	Stop(ctx context.Context) (tunnel.State, error)

	// State returns the last known state without a native round trip.
	State() tunnel.State

	// ValidateCredential checks secret and returns its expiry, if any.
	ValidateCredential(ctx context.Context, secret string) (*time.Time, error)

	// ImportCredential validates and stores secret, returning its expiry.
	ImportCredential(ctx context.Context, secret string) (*time.Time, error)

	// IsMnemonicStored returns true iff a credential is stored.
	IsMnemonicStored(ctx context.Context) (bool, error)

	// RemoveMnemonic removes the stored credential.
	RemoveMnemonic(ctx context.Context) error

	// AccountSummary fetches the stored account's summary.
	AccountSummary(ctx context.Context) (*AccountSummary, error)

	// AccountLinks fetches the account URLs for env.
	AccountLinks(ctx context.Context, env tunnel.Environment) (*AccountLinks, error)
}
