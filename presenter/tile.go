// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package presenter

import (
	"fmt"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/tunnel"
)

// TileStatus is the quick settings tile's toggle status.
type TileStatus uint8

const (
	TileUnavailable TileStatus = iota
	TileInactive
	TileActive
)

// String returns a string representation of the TileStatus.
func (s TileStatus) String() string {
	switch s {
	case TileInactive:
		return "inactive"
	case TileActive:
		return "active"
	}
	return "unavailable"
}

// TileView is what the quick settings surface renders.
type TileView struct {
	Status      TileStatus
	Label       string
	Description string
}

// TileSurface is the OS quick settings tile.
type TileSurface interface {
	Render(view TileView)
}

// Hops describes the tunnel the tile would start.
type Hops struct {
	Entry tunnel.Point
	Exit  tunnel.Point
	Mode  tunnel.Mode
}

// HopsFunc resolves the hops a start would use.
type HopsFunc func() (Hops, error)

// StateFunc returns the current tunnel state.
type StateFunc func() tunnel.State

// Tile keeps the quick settings tile in sync with the tunnel.  Until the
// first state is observed the tile shows as unavailable.
type Tile struct {
	sync.Mutex

	log     *logging.Logger
	surface TileSurface
	hops    HopsFunc
	state   StateFunc

	observed bool
	current  tunnel.State
	view     TileView
}

// NewTile returns a Tile rendering to surface.
func NewTile(surface TileSurface, hops HopsFunc, state StateFunc, log *logging.Logger) *Tile {
	return &Tile{
		log:     log,
		surface: surface,
		hops:    hops,
		state:   state,
		view:    TileView{Status: TileUnavailable},
	}
}

// View returns the last rendered view.
func (t *Tile) View() TileView {
	t.Lock()
	defer t.Unlock()
	return t.view
}

// Observe renders the tile for state.
func (t *Tile) Observe(state tunnel.State) {
	t.Lock()
	t.observed = true
	t.current = state
	t.Unlock()
	t.render()
}

// RequestRefresh polls the current state and redraws the tile.  It is
// invoked on every transition and whenever the OS starts listening.
func (t *Tile) RequestRefresh() {
	if t.state != nil {
		t.Observe(t.state())
		return
	}
	t.render()
}

func (t *Tile) render() {
	t.Lock()
	view := TileView{Status: TileUnavailable}
	if t.observed {
		view.Status = statusFor(t.current)
	}
	t.Unlock()

	if t.hops != nil {
		hops, err := t.hops()
		if err != nil {
			t.log.Warningf("Failed to resolve hops for tile: %v", err)
		} else {
			view.Label = modeLabel(hops.Mode)
			view.Description = fmt.Sprintf("%s → %s", pointLabel(hops.Entry), pointLabel(hops.Exit))
		}
	}

	t.Lock()
	t.view = view
	t.Unlock()
	t.surface.Render(view)
}

func statusFor(state tunnel.State) TileStatus {
	switch state {
	case tunnel.Up:
		return TileActive
	case tunnel.Down:
		return TileInactive
	}
	// Connecting and disconnecting cannot be toggled.
	return TileUnavailable
}

func modeLabel(m tunnel.Mode) string {
	if m == tunnel.TwoHopMixnet {
		return "Fast (2-hop)"
	}
	return "Anonymous (5-hop)"
}

func pointLabel(p tunnel.Point) string {
	if iso, ok := p.Country(); ok {
		return iso
	}
	if id, ok := p.Gateway(); ok {
		if r := []rune(id); len(r) > 8 {
			return string(r[:8]) + "…"
		}
		return id
	}
	if p.Kind() == tunnel.PointRandom {
		return "Random"
	}
	return "Fastest"
}
