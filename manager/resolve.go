// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package manager

import (
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/presenter"
	"github.com/katzenpost/mixvpn/settings"
	"github.com/katzenpost/mixvpn/tunnel"
)

type hop struct {
	name     string
	country  func(*settings.Settings) (string, error)
	gateway  func(*settings.Settings) (string, error)
	fallback func() tunnel.Point
}

var (
	entryHop = hop{
		name:     "entry",
		country:  (*settings.Settings).EntryCountry,
		gateway:  (*settings.Settings).EntryGateway,
		fallback: tunnel.RandomLowLatency,
	}
	exitHop = hop{
		name:     "exit",
		country:  (*settings.Settings).ExitCountry,
		gateway:  (*settings.Settings).ExitGateway,
		fallback: tunnel.Random,
	}
)

func (h *hop) countryPoint(s *settings.Settings) (tunnel.Point, error) {
	iso, err := h.country(s)
	if err != nil {
		return tunnel.Point{}, err
	}
	if iso == "" {
		return h.fallback(), nil
	}
	return tunnel.NewCountry(iso), nil
}

// resolve picks the hop's point.  With the manual gateway override off
// the persisted country is used.  With it on the persisted gateway is
// used, unless it is absent or malformed, in which case the country is
// used for this hop only.
func (h *hop) resolve(s *settings.Settings, log *logging.Logger) (tunnel.Point, error) {
	override, err := s.ManualGatewayOverride()
	if err != nil {
		return tunnel.Point{}, err
	}
	if !override {
		return h.countryPoint(s)
	}

	id, err := h.gateway(s)
	if err != nil {
		return tunnel.Point{}, err
	}
	if id == "" {
		return h.countryPoint(s)
	}
	p, err := tunnel.NewGateway(id)
	if err != nil {
		log.Warningf("Ignoring %s gateway override: %v", h.name, err)
		return h.countryPoint(s)
	}
	return p, nil
}

// ResolveEntry returns the entry point a start would use.
func ResolveEntry(s *settings.Settings, log *logging.Logger) (tunnel.Point, error) {
	return entryHop.resolve(s, log)
}

// ResolveExit returns the exit point a start would use.
func ResolveExit(s *settings.Settings, log *logging.Logger) (tunnel.Point, error) {
	return exitHop.resolve(s, log)
}

// ResolveHops resolves both hops and the mode.  Entry and exit are
// resolved independently of each other.
func ResolveHops(s *settings.Settings, log *logging.Logger) (presenter.Hops, error) {
	var hops presenter.Hops
	var err error
	if hops.Entry, err = ResolveEntry(s, log); err != nil {
		return hops, err
	}
	if hops.Exit, err = ResolveExit(s, log); err != nil {
		return hops, err
	}
	if hops.Mode, err = s.Mode(); err != nil {
		return hops, err
	}
	return hops, nil
}
