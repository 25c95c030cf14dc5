//go:build pyroscope
// +build pyroscope

// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/config"
)

// Start initializes Pyroscope profiling.  PYROSCOPE_SERVER_ADDRESS
// overrides the configured server address.
func Start(cfg *config.Profiling, log *logging.Logger) (func() error, error) {
	serverAddress := cfg.ServerAddress
	if env := os.Getenv("PYROSCOPE_SERVER_ADDRESS"); env != "" {
		serverAddress = env
	}
	if serverAddress == "" {
		log.Info("Pyroscope has no server address, not profiling")
		return func() error { return nil }, nil
	}
	if cfg.ApplicationName == "" {
		return nil, errors.New("profiling: no application name")
	}

	log.Info("Starting Pyroscope")
	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags:            cfg.Tags,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("Pyroscope started at %s, app name: %s", serverAddress, cfg.ApplicationName)
	return p.Stop, nil
}
