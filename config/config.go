// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration for the mixvpn daemon.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/katzenpost/mixvpn/backend/simulated"
	"github.com/katzenpost/mixvpn/tunnel"
)

const (
	defaultLogLevel      = "NOTICE"
	defaultSettingsFile  = "settings.db"
	defaultControlSocket = "control.sock"
	defaultAppName       = "mixvpnd"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Tunnel is the tunnel configuration.
type Tunnel struct {
	// Environment is the network environment (mainnet, sandbox, canary).
	// The value persisted in the settings takes precedence once written.
	Environment string

	// CredentialMode, if set, states whether a credential is required to
	// connect.
	CredentialMode *bool

	// APIURL overrides the environment's API endpoint.
	APIURL string

	// VPNAPIURL overrides the environment's VPN API endpoint.
	VPNAPIURL string

	// NyxdURL overrides the environment's validator endpoint.
	NyxdURL string

	environment tunnel.Environment
}

func (tCfg *Tunnel) validate() error {
	env, err := tunnel.ParseEnvironment(tCfg.Environment)
	if err != nil {
		return fmt.Errorf("config: Tunnel: %w", err)
	}
	tCfg.environment = env

	for _, u := range []string{tCfg.APIURL, tCfg.VPNAPIURL, tCfg.NyxdURL} {
		if u == "" {
			continue
		}
		if _, err := url.Parse(u); err != nil {
			return fmt.Errorf("config: Tunnel: endpoint '%v' is invalid: %v", u, err)
		}
	}
	return nil
}

// ParsedEnvironment returns the validated Environment.
func (tCfg *Tunnel) ParsedEnvironment() tunnel.Environment {
	return tCfg.environment
}

// Endpoints returns the configured endpoint overrides.
func (tCfg *Tunnel) Endpoints() tunnel.Endpoints {
	return tunnel.Endpoints{
		APIURL:    tCfg.APIURL,
		VPNAPIURL: tCfg.VPNAPIURL,
		NyxdURL:   tCfg.NyxdURL,
	}
}

// Settings is the persistent state configuration.
type Settings struct {
	// DataDir is the absolute path to the daemon's state directory.
	DataDir string
}

// Path returns the settings database path.
func (sCfg *Settings) Path() string {
	return filepath.Join(sCfg.DataDir, defaultSettingsFile)
}

func (sCfg *Settings) validate() error {
	if sCfg.DataDir == "" {
		return errors.New("config: Settings: DataDir is not set")
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Settings: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	return nil
}

// Control is the control socket configuration.
type Control struct {
	// Disable disables the control socket.
	Disable bool

	// Socket is the unix socket path, by default inside DataDir.
	Socket string
}

// Metrics is the prometheus configuration.
type Metrics struct {
	// Address is the address/port to bind the prometheus metrics endpoint
	// to.  If empty, metrics are not served.
	Address string
}

func (mCfg *Metrics) validate() error {
	if mCfg.Address == "" {
		return nil
	}
	if _, err := netip.ParseAddrPort(mCfg.Address); err != nil {
		return fmt.Errorf("config: Metrics: Address '%v' is invalid: %v", mCfg.Address, err)
	}
	return nil
}

// Profiling is the pyroscope configuration.  It only takes effect in
// binaries built with the pyroscope tag.
type Profiling struct {
	// ServerAddress is the pyroscope server URL.
	ServerAddress string

	// ApplicationName is reported to the server.
	ApplicationName string

	// Tags are attached to every profile.
	Tags map[string]string
}

func (pCfg *Profiling) fixup() {
	if pCfg.ApplicationName == "" {
		pCfg.ApplicationName = defaultAppName
	}
}

// Simulated configures the simulated backend.  Durations are in
// milliseconds.
type Simulated struct {
	InitDelay       int
	EstablishDelay  int
	DisconnectDelay int
	StatsInterval   int

	// CredentialTTL is the validity of imported credentials in hours.
	CredentialTTL int

	// AccountURL is the base of the account links.
	AccountURL string
}

// BackendConfig returns the simulated backend configuration.
func (sCfg *Simulated) BackendConfig() simulated.Config {
	ms := func(v int) time.Duration {
		return time.Duration(v) * time.Millisecond
	}
	return simulated.Config{
		InitDelay:       ms(sCfg.InitDelay),
		EstablishDelay:  ms(sCfg.EstablishDelay),
		DisconnectDelay: ms(sCfg.DisconnectDelay),
		StatsInterval:   ms(sCfg.StatsInterval),
		CredentialTTL:   time.Duration(sCfg.CredentialTTL) * time.Hour,
		AccountURL:      sCfg.AccountURL,
	}
}

func (sCfg *Simulated) validate() error {
	for _, v := range []int{sCfg.InitDelay, sCfg.EstablishDelay, sCfg.DisconnectDelay, sCfg.StatsInterval, sCfg.CredentialTTL} {
		if v < 0 {
			return errors.New("config: Simulated: negative duration")
		}
	}
	return nil
}

// Config is the top level mixvpn daemon configuration.
type Config struct {
	Logging   *Logging
	Tunnel    *Tunnel
	Settings  *Settings
	Control   *Control
	Metrics   *Metrics
	Profiling *Profiling
	Simulated *Simulated
}

// FixupAndValidate applies defaults to config entries and validates the
// configuration sections.
func (c *Config) FixupAndValidate() error {
	if c.Settings == nil {
		return errors.New("config: No Settings block was present")
	}
	if err := c.Settings.validate(); err != nil {
		return err
	}

	// Handle missing sections if possible.
	if c.Logging == nil {
		l := defaultLogging
		c.Logging = &l
	}
	if c.Tunnel == nil {
		c.Tunnel = &Tunnel{}
	}
	if c.Control == nil {
		c.Control = &Control{}
	}
	if c.Control.Socket == "" {
		c.Control.Socket = filepath.Join(c.Settings.DataDir, defaultControlSocket)
	}
	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}
	if c.Profiling == nil {
		c.Profiling = &Profiling{}
	}
	c.Profiling.fixup()
	if c.Simulated == nil {
		c.Simulated = &Simulated{}
	}

	// Validate the various sections.
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Tunnel.validate(); err != nil {
		return err
	}
	if err := c.Metrics.validate(); err != nil {
		return err
	}
	return c.Simulated.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
