// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import "fmt"

// State is the lifecycle state of a tunnel.  Transitions are driven by
// the backend:
//
//	Down -> InitializingClient -> EstablishingConnection -> Up -> Disconnecting -> Down
type State uint8

const (
	Down State = iota
	InitializingClient
	EstablishingConnection
	Up
	Disconnecting
)

// IsConnecting returns true iff s is one of the connecting sub-states.
func (s State) IsConnecting() bool {
	return s == InitializingClient || s == EstablishingConnection
}

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case Down:
		return "Down"
	case InitializingClient:
		return "Connecting.InitializingClient"
	case EstablishingConnection:
		return "Connecting.EstablishingConnection"
	case Up:
		return "Up"
	case Disconnecting:
		return "Disconnecting"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Statistics are the cumulative counters of one connection.  They only
// carry meaning while the tunnel is Up; the zero value is the reset value.
type Statistics struct {
	// ConnectionSeconds is the number of seconds the tunnel has been Up.
	ConnectionSeconds int64 `cbor:"connection_seconds"`

	// Rx is the number of bytes received through the tunnel.
	Rx uint64 `cbor:"rx"`

	// Tx is the number of bytes sent through the tunnel.
	Tx uint64 `cbor:"tx"`
}

// String returns a string representation of the Statistics.
func (s Statistics) String() string {
	return fmt.Sprintf("%ds rx=%d tx=%d", s.ConnectionSeconds, s.Rx, s.Tx)
}
