// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package daemon assembles the tunnel manager, its backend, the
// background triggers and the local control socket into one process.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/backend/simulated"
	"github.com/katzenpost/mixvpn/config"
	"github.com/katzenpost/mixvpn/control"
	"github.com/katzenpost/mixvpn/core/log"
	"github.com/katzenpost/mixvpn/core/worker"
	"github.com/katzenpost/mixvpn/internal/instrument"
	"github.com/katzenpost/mixvpn/internal/profiling"
	"github.com/katzenpost/mixvpn/manager"
	"github.com/katzenpost/mixvpn/presenter"
	"github.com/katzenpost/mixvpn/settings"
	"github.com/katzenpost/mixvpn/trigger"
	"github.com/katzenpost/mixvpn/tunnel"
)

const shutdownStopTimeout = 10 * time.Second

// Daemon is a running mixvpn instance.
type Daemon struct {
	worker.Worker

	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	settings *settings.Settings
	backend  *simulated.Backend
	mgr      *manager.Manager
	tile     *presenter.Tile
	receiver *trigger.Receiver
	control  *control.Listener
	metrics  *instrument.Server

	stopProfiling func() error

	haltedCh chan interface{}
	haltOnce sync.Once
}

type logSurface struct {
	log *logging.Logger
}

func (s *logSurface) Render(view presenter.TileView) {
	s.log.Debugf("Tile: %v %q %q", view.Status, view.Label, view.Description)
}

func (d *Daemon) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	dir := d.cfg.Settings.DataDir

	if fi, err := os.Lstat(dir); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("daemon: failed to stat() DataDir: %v", err)
		}
		if err = os.Mkdir(dir, dirMode); err != nil {
			return fmt.Errorf("daemon: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("daemon: DataDir '%v' is not a directory", dir)
		}
		if fi.Mode() != dirMode {
			return fmt.Errorf("daemon: DataDir '%v' has invalid permissions '%v'", dir, fi.Mode())
		}
	}
	return nil
}

func (d *Daemon) initLogging() error {
	p := d.cfg.Logging.File
	if !d.cfg.Logging.Disable && p != "" && !filepath.IsAbs(p) {
		p = filepath.Join(d.cfg.Settings.DataDir, p)
	}

	var err error
	d.logBackend, err = log.New(p, d.cfg.Logging.Level, d.cfg.Logging.Disable)
	if err == nil {
		d.log = d.logBackend.GetLogger("mixvpnd")
	}
	return err
}

func (d *Daemon) initSettings() error {
	var err error
	if d.settings, err = settings.Open(d.cfg.Settings.Path()); err != nil {
		return err
	}
	if d.cfg.Tunnel.Environment != "" {
		if err := d.settings.SetEnvironment(d.cfg.Tunnel.ParsedEnvironment()); err != nil {
			return err
		}
	}
	return nil
}

// New returns a new Daemon instance parameterized with the specific
// configuration.
func New(cfg *config.Config) (*Daemon, error) {
	d := &Daemon{
		cfg:      cfg,
		haltedCh: make(chan interface{}),
	}

	// Do the early initialization and bring up logging.
	if err := d.initDataDir(); err != nil {
		return nil, err
	}
	if err := d.initLogging(); err != nil {
		return nil, err
	}

	d.log.Notice("mixvpn daemon")
	if d.cfg.Logging.Level == "DEBUG" {
		d.log.Warning("Debug logging is enabled.")
	}

	isOk := false
	defer func() {
		if !isOk {
			d.Shutdown()
		}
	}()

	var err error
	if d.stopProfiling, err = profiling.Start(cfg.Profiling, d.logBackend.GetLogger("profiling")); err != nil {
		d.log.Errorf("Failed to start profiling: %v", err)
		return nil, err
	}
	if err = d.initSettings(); err != nil {
		d.log.Errorf("Failed to open settings: %v", err)
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics := instrument.New(reg)
	if cfg.Metrics.Address != "" {
		d.metrics = instrument.StartServer(cfg.Metrics.Address, reg, d.logBackend.GetLogger("metrics"))
	}

	d.backend = simulated.New(cfg.Simulated.BackendConfig(), d.logBackend.GetLogger("simulated"))

	notifyLog := d.logBackend.GetLogger("notification")
	notifications := presenter.NewNotifications(presenter.NotifierFunc(func(title, description string) {
		notifyLog.Noticef("%s: %s", title, description)
	}))
	tileLog := d.logBackend.GetLogger("tile")
	d.tile = presenter.NewTile(
		&logSurface{log: tileLog},
		func() (presenter.Hops, error) {
			return manager.ResolveHops(d.settings, tileLog)
		},
		d.backend.State,
		tileLog,
	)

	d.mgr, err = manager.New(&manager.Config{
		Backend:        d.backend,
		Settings:       d.settings,
		LogBackend:     d.logBackend,
		Notifications:  notifications,
		Tile:           d.tile,
		Metrics:        metrics,
		CredentialMode: cfg.Tunnel.CredentialMode,
		Endpoints:      cfg.Tunnel.Endpoints(),
	})
	if err != nil {
		d.log.Errorf("Failed to create manager: %v", err)
		return nil, err
	}

	triggerLog := d.logBackend.GetLogger("trigger")
	d.receiver = trigger.NewReceiver(d.mgr, triggerLog)
	trigger.NewTileService(d.mgr, d.tile, triggerLog).OnStartListening()

	if !cfg.Control.Disable {
		d.control, err = control.NewListener(cfg.Control.Socket, d.mgr, d.receiver, d.logBackend.GetLogger("control"))
		if err != nil {
			d.log.Errorf("Failed to start control listener: %v", err)
			return nil, err
		}
	}

	d.Go(d.watch)

	boot := trigger.NewBoot(d.settings, d.mgr, triggerLog)
	d.Go(func() {
		ctx, cancel := d.Context(context.Background())
		defer cancel()
		if err := boot.OnBootCompleted(ctx); err != nil {
			d.log.Warningf("Boot trigger failed: %v", err)
		}
	})

	isOk = true
	return d, nil
}

// watch logs every manager state change.
func (d *Daemon) watch() {
	sub := d.mgr.Subscribe()
	defer sub.Close()

	var last tunnel.State
	for {
		select {
		case <-d.HaltCh():
			return
		case st, ok := <-sub.C:
			if !ok {
				return
			}
			if st.TunnelState != last {
				d.log.Noticef("Tunnel %v", st.TunnelState)
				last = st.TunnelState
			}
			if _, ok := st.BackendMessage.(tunnel.None); !ok {
				d.log.Debugf("State: %v", st)
			}
		}
	}
}

// Manager returns the Daemon's tunnel manager.
func (d *Daemon) Manager() *manager.Manager {
	return d.mgr
}

// Settings returns the Daemon's persisted settings.
func (d *Daemon) Settings() *settings.Settings {
	return d.settings
}

// Shutdown cleanly shuts down a given Daemon instance.
func (d *Daemon) Shutdown() {
	d.haltOnce.Do(func() { d.halt() })
}

// Wait waits till the Daemon is terminated for any reason.
func (d *Daemon) Wait() {
	<-d.haltedCh
}

// RotateLog rotates the log file if logging to a file is enabled.
func (d *Daemon) RotateLog() {
	if err := d.logBackend.Rotate(); err != nil {
		d.log.Errorf("Failed to rotate log file: %v", err)
	}
}

func (d *Daemon) halt() {
	d.log.Noticef("Starting graceful shutdown.")

	if d.control != nil {
		d.control.Halt()
		d.control = nil
	}
	if d.receiver != nil {
		d.receiver.Halt()
		d.receiver = nil
	}
	d.Worker.Halt()
	if d.mgr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownStopTimeout)
		d.mgr.Stop(ctx)
		cancel()
		d.mgr.Halt()
		d.mgr = nil
	}
	if d.backend != nil {
		d.backend.Halt()
		d.backend = nil
	}
	if d.metrics != nil {
		d.metrics.Halt()
		d.metrics = nil
	}
	if d.settings != nil {
		if err := d.settings.Close(); err != nil {
			d.log.Warningf("Failed to close settings: %v", err)
		}
		d.settings = nil
	}
	if d.stopProfiling != nil {
		if err := d.stopProfiling(); err != nil {
			d.log.Warningf("Failed to stop profiling: %v", err)
		}
	}

	d.log.Noticef("Shutdown complete.")
	close(d.haltedCh)
}
