// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad(t *testing.T) {
	tmp := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		fname := filepath.Join(tmp, "missing.yaml")
		cfg, err := Load(fname)
		if err != nil {
			t.Fatalf("could not load missing config: %+v", err)
		}
		want := Default()
		want.path = fname
		if diff := cmp.Diff(want, cfg, cmp.AllowUnexported(Config{})); diff != "" {
			t.Fatalf("invalid config (-want +got):\n%s", diff)
		}
	})

	t.Run("file", func(t *testing.T) {
		fname := filepath.Join(tmp, "config.yaml")
		err := os.WriteFile(fname, []byte(`
wib:
  addr: 192.168.121.1
  port: 9100
bringup:
  time-unit: 100ms
  retries: 4
db:
  host: db.example.org:3306
  user: cryo
  name: wibcryo
`), 0644)
		if err != nil {
			t.Fatalf("could not create config file: %+v", err)
		}

		cfg, err := Load(fname)
		if err != nil {
			t.Fatalf("could not load config: %+v", err)
		}

		want := Default()
		want.path = fname
		want.WIB.Addr = "192.168.121.1"
		want.WIB.Port = 9100
		want.Bringup.TimeUnit = 100 * time.Millisecond
		want.Bringup.Retries = 4
		want.DB = DB{Host: "db.example.org:3306", User: "cryo", Name: "wibcryo"}
		if diff := cmp.Diff(want, cfg, cmp.AllowUnexported(Config{})); diff != "" {
			t.Fatalf("invalid config (-want +got):\n%s", diff)
		}
	})

	for _, tc := range []struct {
		name string
		data string
	}{
		{"invalid-yaml", "wib: [1, 2"},
		{"invalid-port", "wib:\n  port: 70000\n"},
		{"invalid-unit", "bringup:\n  time-unit: -1s\n"},
		{"invalid-retries", "bringup:\n  retries: -1\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(tmp, tc.name+".yaml")
			err := os.WriteFile(fname, []byte(tc.data), 0644)
			if err != nil {
				t.Fatalf("could not create config file: %+v", err)
			}
			_, err = Load(fname)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestPersist(t *testing.T) {
	fname := filepath.Join(t.TempDir(), Dir, File)

	cfg := Default()
	cfg.path = fname
	cfg.WIB.Addr = "wib-01"
	cfg.Bringup.Settle = 5

	err := cfg.Persist(false)
	if err != nil {
		t.Fatalf("could not persist config: %+v", err)
	}

	err = cfg.Persist(false)
	if !errors.Is(err, ErrFileExists) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrFileExists)
	}

	err = cfg.Persist(true)
	if err != nil {
		t.Fatalf("could not overwrite config: %+v", err)
	}

	got, err := Load(fname)
	if err != nil {
		t.Fatalf("could not reload config: %+v", err)
	}
	if diff := cmp.Diff(cfg, got, cmp.AllowUnexported(Config{})); diff != "" {
		t.Fatalf("invalid round-trip (-want +got):\n%s", diff)
	}
}

func TestFromEnv(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
		addr string
		port int
		err  bool
	}{
		{name: "empty", addr: DefaultAddr, port: DefaultPort},
		{
			name: "both",
			env:  map[string]string{EnvAddr: "10.0.0.2", EnvPort: "9200"},
			addr: "10.0.0.2",
			port: 9200,
		},
		{
			name: "port",
			env:  map[string]string{EnvPort: " 9300 "},
			addr: DefaultAddr,
			port: 9300,
		},
		{
			name: "invalid-port",
			env:  map[string]string{EnvPort: "rogue"},
			err:  true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.FromEnv(func(k string) string { return tc.env[k] })
			switch {
			case err != nil && !tc.err:
				t.Fatalf("could not load env: %+v", err)
			case err == nil && tc.err:
				t.Fatalf("expected an error")
			case err != nil:
				return
			}
			if cfg.WIB.Addr != tc.addr || cfg.WIB.Port != tc.port {
				t.Fatalf("invalid address: got=%s:%d, want=%s:%d", cfg.WIB.Addr, cfg.WIB.Port, tc.addr, tc.port)
			}
		})
	}
}

func TestParseAddr(t *testing.T) {
	for _, tc := range []struct {
		addr string
		host string
		port int
		err  bool
	}{
		{addr: "192.168.121.1", host: "192.168.121.1", port: 9099},
		{addr: "192.168.121.1:9100", host: "192.168.121.1", port: 9100},
		{addr: ":9100", host: DefaultAddr, port: 9100},
		{addr: "wib:", err: true},
		{addr: "wib:port", err: true},
		{addr: "wib:0", err: true},
		{addr: "wib:1:2", err: true},
		{addr: "::1", host: "::1", port: 9099},
		{addr: "fe80::1", host: "fe80::1", port: 9099},
		{addr: "[fe80::1]", host: "fe80::1", port: 9099},
		{addr: "[::1]:9100", host: "::1", port: 9100},
		{addr: "[wib]", err: true},
	} {
		t.Run(tc.addr, func(t *testing.T) {
			host, port, err := ParseAddr(tc.addr, 9099)
			switch {
			case err != nil && !tc.err:
				t.Fatalf("could not parse address: %+v", err)
			case err == nil && tc.err:
				t.Fatalf("expected an error, got=%s:%d", host, port)
			case err != nil:
				return
			}
			if host != tc.host || port != tc.port {
				t.Fatalf("invalid address: got=%s:%d, want=%s:%d", host, port, tc.host, tc.port)
			}
		})
	}
}

func TestPrecedence(t *testing.T) {
	cfg := Default()
	cfg.WIB.Port = 9100 // from file
	err := cfg.FromEnv(func(k string) string {
		return map[string]string{EnvAddr: "10.0.0.1", EnvPort: "9200"}[k]
	})
	if err != nil {
		t.Fatalf("could not load env: %+v", err)
	}

	err = cfg.SetAddr("10.0.0.3")
	if err != nil {
		t.Fatalf("could not set address: %+v", err)
	}
	if cfg.WIB.Addr != "10.0.0.3" || cfg.WIB.Port != 9200 {
		t.Fatalf("invalid address: %s:%d", cfg.WIB.Addr, cfg.WIB.Port)
	}

	err = cfg.SetAddr("10.0.0.4:9300")
	if err != nil {
		t.Fatalf("could not set address: %+v", err)
	}
	if cfg.WIB.Addr != "10.0.0.4" || cfg.WIB.Port != 9300 {
		t.Fatalf("invalid address: %s:%d", cfg.WIB.Addr, cfg.WIB.Port)
	}
}

func TestOptions(t *testing.T) {
	cfg := Default()
	if got, want := len(cfg.Options()), 6; got != want {
		t.Fatalf("invalid number of options: got=%d, want=%d", got, want)
	}
	cfg.WIB.Prefix = ""
	if got, want := len(cfg.Options()), 5; got != want {
		t.Fatalf("invalid number of options: got=%d, want=%d", got, want)
	}
}
