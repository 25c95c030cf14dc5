// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidGatewayIdentity is returned by NewGateway when the identity
// cannot name a gateway.
var ErrInvalidGatewayIdentity = errors.New("tunnel: invalid gateway identity")

// PointKind identifies which variant a Point holds.
type PointKind uint8

const (
	// PointRandomLowLatency picks the lowest latency gateway.
	PointRandomLowLatency PointKind = iota
	// PointRandom picks any gateway.
	PointRandom
	// PointCountry picks a gateway located in a given country.
	PointCountry
	// PointGateway picks one specific gateway.
	PointGateway
)

// Point describes one hop of the tunnel, either the entry or the exit.
// The zero value is RandomLowLatency.
type Point struct {
	kind     PointKind
	country  string
	identity string
}

// NewCountry returns a Point selecting a gateway in the country with the
// given two letter ISO code.
func NewCountry(iso string) Point {
	return Point{
		kind:    PointCountry,
		country: strings.ToUpper(strings.TrimSpace(iso)),
	}
}

// NewGateway returns a Point selecting the gateway with the given
// identity key.
func NewGateway(identity string) (Point, error) {
	if identity == "" {
		return Point{}, fmt.Errorf("%w: empty", ErrInvalidGatewayIdentity)
	}
	if strings.IndexFunc(identity, unicode.IsSpace) != -1 {
		return Point{}, fmt.Errorf("%w: %q contains whitespace", ErrInvalidGatewayIdentity, identity)
	}
	return Point{
		kind:     PointGateway,
		identity: identity,
	}, nil
}

// RandomLowLatency returns a Point selecting the lowest latency gateway.
func RandomLowLatency() Point {
	return Point{kind: PointRandomLowLatency}
}

// Random returns a Point selecting any gateway.
func Random() Point {
	return Point{kind: PointRandom}
}

// Kind returns the variant held by p.
func (p Point) Kind() PointKind {
	return p.kind
}

// Country returns the ISO code of a Country point.
func (p Point) Country() (string, bool) {
	return p.country, p.kind == PointCountry
}

// Gateway returns the identity of a Gateway point.
func (p Point) Gateway() (string, bool) {
	return p.identity, p.kind == PointGateway
}

// String returns a string representation of the Point.
func (p Point) String() string {
	switch p.kind {
	case PointCountry:
		return fmt.Sprintf("Country(%s)", p.country)
	case PointGateway:
		return fmt.Sprintf("Gateway(%s)", p.identity)
	case PointRandom:
		return "Random"
	default:
		return "RandomLowLatency"
	}
}
