// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/katzenpost/mixvpn/common"
	"github.com/katzenpost/mixvpn/config"
	"github.com/katzenpost/mixvpn/daemon"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile string
	TestConfig bool
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "mixvpnd",
		Short: "mixnet VPN tunnel daemon",
		Long: `mixvpnd owns the process wide tunnel and decides whether it should
run.  It builds every tunnel from the persisted settings, starts it at
boot when auto start is enabled, and accepts connect, disconnect, status
and links requests on its control socket.`,
		Example: `  # Start the daemon
  mixvpnd --config /etc/mixvpn/mixvpnd.toml

  # Validate the configuration and exit
  mixvpnd -f /etc/mixvpn/mixvpnd.toml --test`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "f", "mixvpnd.toml",
		"path to the daemon configuration file (TOML format)")
	cmd.Flags().BoolVarP(&cfg.TestConfig, "test", "t", false,
		"validate the configuration and exit")

	return cmd
}

func main() {
	common.ExecuteWithFang(context.Background(), newRootCommand())
}

func run(cfg Config) error {
	daemonCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
	}
	if cfg.TestConfig {
		fmt.Println("Configuration is valid.")
		return nil
	}

	// Setup the signal handling.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	d, err := daemon.New(daemonCfg)
	if err != nil {
		return fmt.Errorf("failed to spawn daemon instance: %v", err)
	}
	defer d.Shutdown()

	// Halt the daemon gracefully on SIGINT/SIGTERM.
	go func() {
		<-haltCh
		d.Shutdown()
	}()

	// Rotate daemon logs upon SIGHUP.
	go func() {
		for range rotateCh {
			d.RotateLog()
		}
	}()

	d.Wait()
	return nil
}
