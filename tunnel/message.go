// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import "fmt"

// BackendMessage is a message pushed by the backend alongside state
// changes.  The concrete type is one of None, *Failure, *StartFailure
// or *BandwidthAlert.
type BackendMessage interface {
	// String returns a string representation of the message.
	String() string

	isBackendMessage()
}

// None is the empty BackendMessage.
type None struct{}

func (None) isBackendMessage() {}

// String returns a string representation of None.
func (None) String() string {
	return "None"
}

// ErrorReason is the reason the backend gives for a fatal failure.
type ErrorReason uint8

const (
	ReasonInternal ErrorReason = iota
	ReasonFirewall
	ReasonRouting
	ReasonDNS
	ReasonTunDevice
	ReasonTunnelProvider
	ReasonSameEntryAndExitGateway
	ReasonInvalidEntryGatewayCountry
	ReasonInvalidExitGatewayCountry
	ReasonBadBandwidthIncrease
	ReasonDuplicateTunFd
)

var reasonDescriptions = map[ErrorReason]string{
	ReasonInternal:                   "An internal error occurred",
	ReasonFirewall:                   "Failed to configure the firewall",
	ReasonRouting:                    "Failed to configure routing",
	ReasonDNS:                        "Failed to configure DNS",
	ReasonTunDevice:                  "Failed to configure the tunnel device",
	ReasonTunnelProvider:             "The tunnel provider failed",
	ReasonSameEntryAndExitGateway:    "Entry and exit gateway are the same",
	ReasonInvalidEntryGatewayCountry: "No entry gateway available in the selected country",
	ReasonInvalidExitGatewayCountry:  "No exit gateway available in the selected country",
	ReasonBadBandwidthIncrease:       "Failed to top up bandwidth",
	ReasonDuplicateTunFd:             "The tunnel device is already in use",
}

// Description returns the user facing description of the reason.
func (r ErrorReason) Description() string {
	if d, ok := reasonDescriptions[r]; ok {
		return d
	}
	return reasonDescriptions[ReasonInternal]
}

// String returns a string representation of the ErrorReason.
func (r ErrorReason) String() string {
	return r.Description()
}

// Failure is sent when the backend hit an error it cannot recover from
// during the current connection attempt.
type Failure struct {
	Reason ErrorReason
}

func (*Failure) isBackendMessage() {}

// String returns a string representation of the Failure.
func (m *Failure) String() string {
	return fmt.Sprintf("Failure: %v", m.Reason)
}

// StartFailure records an error returned synchronously by a start request.
type StartFailure struct {
	Err error
}

func (*StartFailure) isBackendMessage() {}

// String returns a string representation of the StartFailure.
func (m *StartFailure) String() string {
	return fmt.Sprintf("StartFailure: %v", m.Err)
}

// BandwidthKind distinguishes the two bandwidth alerts.
type BandwidthKind uint8

const (
	// NoBandwidth is sent when the credential has no bandwidth left.
	NoBandwidth BandwidthKind = iota
	// RemainingBandwidth reports the bandwidth still available.
	RemainingBandwidth
)

// BandwidthAlert is an informational message about the credential's
// remaining bandwidth.  It never affects the tunnel state.
type BandwidthAlert struct {
	Kind BandwidthKind

	// Amount is the remaining bandwidth in bytes, if Kind is
	// RemainingBandwidth.
	Amount int64
}

func (*BandwidthAlert) isBackendMessage() {}

// AmountMB returns the remaining bandwidth in megabytes.
func (m *BandwidthAlert) AmountMB() int64 {
	return m.Amount / (1024 * 1024)
}

// String returns a string representation of the BandwidthAlert.
func (m *BandwidthAlert) String() string {
	if m.Kind == NoBandwidth {
		return "BandwidthAlert: no bandwidth"
	}
	return fmt.Sprintf("BandwidthAlert: %d MB remaining", m.AmountMB())
}
