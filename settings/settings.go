// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package settings implements the persisted user preferences the tunnel
// manager reads when it builds a tunnel.  Values are CBOR encoded into a
// KV store.
package settings

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/katzenpost/mixvpn/tunnel"
)

// Keys of the persisted settings.
const (
	KeyEntryCountry          = "first_hop_country"
	KeyExitCountry           = "last_hop_country"
	KeyMode                  = "network_mode"
	KeyManualGatewayOverride = "manual_gateway_override"
	KeyEntryGateway          = "entry_gateway_id"
	KeyExitGateway           = "exit_gateway_id"
	KeyAutoStart             = "auto_start"
	KeyCredentialExpiry      = "credential_expiry"
	KeyMnemonicStored        = "mnemonic_stored"
	KeyEnvironment           = "environment"
)

// Settings gives typed access to the persisted preferences.  Readers and
// writers may be concurrent; the last write wins.
type Settings struct {
	kv KV
}

// New returns Settings stored in kv.
func New(kv KV) *Settings {
	return &Settings{kv: kv}
}

// Open returns Settings stored in the bbolt database at path.
func Open(path string) (*Settings, error) {
	kv, err := NewBoltKV(path)
	if err != nil {
		return nil, err
	}
	return New(kv), nil
}

// Close closes the underlying store.
func (s *Settings) Close() error {
	return s.kv.Close()
}

func get[T any](s *Settings, key string, def T) (T, error) {
	raw, err := s.kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("settings: get %s: %w", key, err)
	}
	var v T
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return def, fmt.Errorf("settings: decode %s: %w", key, err)
	}
	return v, nil
}

func set[T any](s *Settings, key string, v T) error {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	return s.kv.Put(key, raw)
}

func (s *Settings) clear(key string) error {
	return s.kv.Delete(key)
}

// EntryCountry returns the ISO code of the first hop country, or "".
func (s *Settings) EntryCountry() (string, error) {
	return get(s, KeyEntryCountry, "")
}

// SetEntryCountry sets the first hop country.
func (s *Settings) SetEntryCountry(iso string) error {
	return set(s, KeyEntryCountry, iso)
}

// ExitCountry returns the ISO code of the last hop country, or "".
func (s *Settings) ExitCountry() (string, error) {
	return get(s, KeyExitCountry, "")
}

// SetExitCountry sets the last hop country.
func (s *Settings) SetExitCountry(iso string) error {
	return set(s, KeyExitCountry, iso)
}

// Mode returns the network mode, FiveHopMixnet by default.
func (s *Settings) Mode() (tunnel.Mode, error) {
	name, err := get(s, KeyMode, tunnel.FiveHopMixnet.String())
	if err != nil {
		return tunnel.FiveHopMixnet, err
	}
	return tunnel.ParseMode(name)
}

// SetMode sets the network mode.
func (s *Settings) SetMode(m tunnel.Mode) error {
	return set(s, KeyMode, m.String())
}

// ManualGatewayOverride returns true iff the user pinned specific
// gateways instead of countries.
func (s *Settings) ManualGatewayOverride() (bool, error) {
	return get(s, KeyManualGatewayOverride, false)
}

// SetManualGatewayOverride sets the manual gateway override flag.
func (s *Settings) SetManualGatewayOverride(on bool) error {
	return set(s, KeyManualGatewayOverride, on)
}

// EntryGateway returns the pinned entry gateway identity, or "".
func (s *Settings) EntryGateway() (string, error) {
	return get(s, KeyEntryGateway, "")
}

// SetEntryGateway pins the entry gateway.  An empty identity clears it.
func (s *Settings) SetEntryGateway(id string) error {
	if id == "" {
		return s.clear(KeyEntryGateway)
	}
	return set(s, KeyEntryGateway, id)
}

// ExitGateway returns the pinned exit gateway identity, or "".
func (s *Settings) ExitGateway() (string, error) {
	return get(s, KeyExitGateway, "")
}

// SetExitGateway pins the exit gateway.  An empty identity clears it.
func (s *Settings) SetExitGateway(id string) error {
	if id == "" {
		return s.clear(KeyExitGateway)
	}
	return set(s, KeyExitGateway, id)
}

// AutoStart returns true iff the tunnel should start on boot.
func (s *Settings) AutoStart() (bool, error) {
	return get(s, KeyAutoStart, false)
}

// SetAutoStart sets the auto start flag.
func (s *Settings) SetAutoStart(on bool) error {
	return set(s, KeyAutoStart, on)
}

// CredentialExpiry returns the stored credential's expiry, or nil.
func (s *Settings) CredentialExpiry() (*time.Time, error) {
	unix, err := get[int64](s, KeyCredentialExpiry, 0)
	if err != nil || unix == 0 {
		return nil, err
	}
	t := time.Unix(unix, 0).UTC()
	return &t, nil
}

// SetCredentialExpiry records the credential expiry.  nil clears it.
func (s *Settings) SetCredentialExpiry(t *time.Time) error {
	if t == nil {
		return s.clear(KeyCredentialExpiry)
	}
	return set(s, KeyCredentialExpiry, t.Unix())
}

// MnemonicStored returns the last recorded mnemonic presence.
func (s *Settings) MnemonicStored() (bool, error) {
	return get(s, KeyMnemonicStored, false)
}

// SetMnemonicStored records the mnemonic presence.
func (s *Settings) SetMnemonicStored(stored bool) error {
	return set(s, KeyMnemonicStored, stored)
}

// Environment returns the selected environment, Mainnet by default.
func (s *Settings) Environment() (tunnel.Environment, error) {
	name, err := get(s, KeyEnvironment, tunnel.Mainnet.String())
	if err != nil {
		return tunnel.Mainnet, err
	}
	return tunnel.ParseEnvironment(name)
}

// SetEnvironment sets the environment.
func (s *Settings) SetEnvironment(e tunnel.Environment) error {
	return set(s, KeyEnvironment, e.String())
}
