// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the configuration of the WIB-CRYO tools.
//
// Values are taken, in increasing order of precedence, from the
// defaults, the configuration file, the environment and the command line.
package config // import "github.com/go-lpc/cryo/config"

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/cryo/wib"
	"gopkg.in/yaml.v3"
)

const (
	Dir  = ".wib-cryo"
	File = "config.yaml"

	DefaultAddr = "localhost"
	DefaultPort = 9099

	EnvAddr = "WIB_ADDR"
	EnvPort = "WIB_ROGUE_PORT"
)

// ErrFileExists is returned when persisting a configuration would
// overwrite an existing file.
var ErrFileExists = errors.New("config: file already exists")

// Config is the configuration of the WIB-CRYO tools.
type Config struct {
	WIB     WIB     `yaml:"wib"`
	Bringup Bringup `yaml:"bringup"`
	DB      DB      `yaml:"db,omitempty"`

	path string
}

// WIB locates the register tree of a WIB-CRYO board.
type WIB struct {
	Addr   string `yaml:"addr"`
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix,omitempty"`
}

// Bringup holds the timing and retry policy of the bring-up sequence.
// Delays and timeouts are expressed in time units.
type Bringup struct {
	TimeUnit       time.Duration `yaml:"time-unit"`
	Retries        int           `yaml:"retries"`
	LockTimeout    int           `yaml:"lock-timeout"`
	MinLockedCount int           `yaml:"min-locked-count"`
	Settle         int           `yaml:"settle"`
}

// DB locates the condition database.
// An empty host disables the database: default profiles are used.
type DB struct {
	Host     string `yaml:"host,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Name     string `yaml:"name,omitempty"`
}

// DefaultPath returns the path of the default configuration file.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	return filepath.Join(home, Dir, File)
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		WIB: WIB{
			Addr:   DefaultAddr,
			Port:   DefaultPort,
			Prefix: wib.DefaultPrefix,
		},
		Bringup: Bringup{
			TimeUnit:       time.Second,
			Retries:        2,
			LockTimeout:    30,
			MinLockedCount: 10,
			Settle:         30,
		},
		path: DefaultPath(),
	}
}

// Load loads the configuration file fname on top of the defaults.
// A missing file yields the default configuration.
func Load(fname string) (*Config, error) {
	cfg := Default()
	if fname == "" {
		fname = cfg.path
	}
	cfg.path = fname

	raw, err := os.ReadFile(fname)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: could not read %q: %w", fname, err)
	}

	err = yaml.Unmarshal(raw, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: could not decode %q: %w", fname, err)
	}

	return cfg, cfg.Validate()
}

// Path returns the path of the configuration file.
func (cfg *Config) Path() string { return cfg.path }

// Persist writes the configuration to its file.
func (cfg *Config) Persist(overwrite bool) error {
	if _, err := os.Stat(cfg.path); err == nil && !overwrite {
		return fmt.Errorf("%w: %q", ErrFileExists, cfg.path)
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: could not encode configuration: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(cfg.path), 0755)
	if err != nil {
		return fmt.Errorf("config: could not create configuration directory: %w", err)
	}

	err = os.WriteFile(cfg.path, raw, 0644)
	if err != nil {
		return fmt.Errorf("config: could not write %q: %w", cfg.path, err)
	}

	return nil
}

// FromEnv overrides the WIB address and port with the values of
// $WIB_ADDR and $WIB_ROGUE_PORT, when set.
func (cfg *Config) FromEnv(getenv func(key string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(EnvAddr); v != "" {
		cfg.WIB.Addr = v
	}
	if v := getenv(EnvPort); v != "" {
		port, err := parsePort(v)
		if err != nil {
			return fmt.Errorf("config: invalid $%s: %w", EnvPort, err)
		}
		cfg.WIB.Port = port
	}
	return nil
}

// SetAddr overrides the WIB address with addr, in the "ip[:port]" form.
// The port is kept when addr does not specify one.
func (cfg *Config) SetAddr(addr string) error {
	if addr == "" {
		return nil
	}
	host, port, err := ParseAddr(addr, cfg.WIB.Port)
	if err != nil {
		return err
	}
	cfg.WIB.Addr = host
	cfg.WIB.Port = port
	return nil
}

// ParseAddr parses an "ip[:port]" address, using port when
// addr has no port. IPv6 addresses with a port are bracketed.
func ParseAddr(addr string, port int) (string, int, error) {
	if !strings.Contains(addr, ":") || net.ParseIP(addr) != nil {
		return addr, port, nil
	}
	if strings.HasPrefix(addr, "[") && strings.HasSuffix(addr, "]") {
		host := addr[1 : len(addr)-1]
		if net.ParseIP(host) == nil {
			return "", 0, fmt.Errorf("config: invalid address %q", addr)
		}
		return host, port, nil
	}

	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("config: invalid address %q: %w", addr, err)
	}
	port, err = parsePort(p)
	if err != nil {
		return "", 0, fmt.Errorf("config: invalid address %q: %w", addr, err)
	}
	if host == "" {
		host = DefaultAddr
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("could not parse port %q: %w", s, err)
	}
	if port <= 0 || port > 0xffff {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// Validate checks the consistency of the configuration.
func (cfg *Config) Validate() error {
	switch {
	case cfg.WIB.Addr == "":
		return fmt.Errorf("config: empty WIB address")
	case cfg.WIB.Port <= 0 || cfg.WIB.Port > 0xffff:
		return fmt.Errorf("config: WIB port %d out of range", cfg.WIB.Port)
	case cfg.Bringup.TimeUnit <= 0:
		return fmt.Errorf("config: invalid time unit %v", cfg.Bringup.TimeUnit)
	case cfg.Bringup.Retries < 0:
		return fmt.Errorf("config: invalid number of retries %d", cfg.Bringup.Retries)
	case cfg.Bringup.LockTimeout <= 0:
		return fmt.Errorf("config: invalid lock timeout %d", cfg.Bringup.LockTimeout)
	}
	return nil
}

// Options returns the device options matching the configuration.
func (cfg *Config) Options() []wib.Option {
	opts := []wib.Option{
		wib.WithTimeUnit(cfg.Bringup.TimeUnit),
		wib.WithRetries(cfg.Bringup.Retries),
		wib.WithLockTimeout(cfg.Bringup.LockTimeout),
		wib.WithMinLockedCount(cfg.Bringup.MinLockedCount),
		wib.WithSettle(cfg.Bringup.Settle),
	}
	if cfg.WIB.Prefix != "" {
		opts = append(opts, wib.WithPrefix(cfg.WIB.Prefix))
	}
	return opts
}
