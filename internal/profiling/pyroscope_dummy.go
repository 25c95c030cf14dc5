//go:build !pyroscope
// +build !pyroscope

// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package profiling starts continuous profiling in binaries built with
// the pyroscope tag.
package profiling

import (
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/config"
)

// Start does nothing.
func Start(cfg *config.Profiling, log *logging.Logger) (func() error, error) {
	log.Debug("Pyroscope is disabled")
	return func() error { return nil }, nil
}
