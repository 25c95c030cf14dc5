// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package presenter maps tunnel state onto OS surfaces: system
// notifications and the quick settings tile.  Presenters only observe;
// they never start or stop the tunnel themselves.
package presenter

import (
	"fmt"

	"github.com/katzenpost/mixvpn/tunnel"
)

// Notifier shows a system notification.  It is fire and forget.
type Notifier interface {
	Show(title, description string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(title, description string)

// Show implements Notifier.
func (f NotifierFunc) Show(title, description string) {
	f(title, description)
}

const (
	titleConnectionFailed  = "Connection failed"
	titlePermissionMissing = "VPN permission required"
	titleBandwidth         = "Bandwidth"
)

// Notifications turns tunnel events into user facing notifications.
type Notifications struct {
	n Notifier
}

// NewNotifications returns Notifications shown through n.
func NewNotifications(n Notifier) *Notifications {
	return &Notifications{n: n}
}

// PermissionDenied asks the user to grant the VPN permission.
func (p *Notifications) PermissionDenied() {
	p.n.Show(titlePermissionMissing, "Open the app and grant the VPN permission to connect.")
}

// Failure reports a fatal backend failure.
func (p *Notifications) Failure(reason tunnel.ErrorReason) {
	p.n.Show(titleConnectionFailed, reason.Description()+". The tunnel was stopped.")
}

// BandwidthAlert reports the credential's remaining bandwidth.
func (p *Notifications) BandwidthAlert(alert *tunnel.BandwidthAlert) {
	if alert.Kind == tunnel.NoBandwidth {
		p.n.Show(titleBandwidth, "You have run out of bandwidth.")
		return
	}
	p.n.Show(titleBandwidth, fmt.Sprintf("%d MB of bandwidth remaining.", alert.AmountMB()))
}
