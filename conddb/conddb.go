// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb gives access to the condition database of the WIB-CRYO
// boards: calibration profiles of the ASICs and setup of each WIB.
package conddb // import "github.com/go-lpc/cryo/conddb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/cryo/wib"
	"github.com/go-sql-driver/mysql"
)

const timeout = 5 * time.Second

var (
	drvName = "mysql"

	// ErrNotFound is returned when no row matches a query.
	ErrNotFound = errors.New("conddb: not found")
)

// DB exposes convenience methods to retrieve conditions data from the
// WIB-CRYO database.
type DB struct {
	db   *sql.DB
	name string // name of the WIB-CRYO database
}

var _ wib.ProfileLoader = (*DB)(nil)

// Open opens a connection to the database dbname served at host.
func Open(host, usr, pwd, dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(host, usr, pwd, dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(host, usr, pwd, dbname string) string {
	cfg := mysql.NewConfig()
	cfg.User = usr
	cfg.Passwd = pwd
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.DBName = dbname
	cfg.Timeout = timeout
	return cfg.FormatDSN()
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// Profile returns the most recent calibration profile of an ASIC, at
// room or cold temperature. The returned path is relative to wib.YMLDir.
func (db *DB) Profile(ctx context.Context, asic wib.ASIC, cold bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		fname string
		temp  = wib.Temperature(cold)
	)
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT file FROM profiles WHERE asic=? AND temperature=? ORDER BY datetime DESC LIMIT 1",
		int(asic), temp,
	)
	if err != nil {
		return fname, fmt.Errorf("conddb: could not query profile of ASIC %d: %w", asic, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fname, fmt.Errorf("conddb: could not scan db for profile of ASIC %d: %w", asic, err)
		}
		return fname, fmt.Errorf("conddb: no %s profile for ASIC %d: %w", temp, asic, ErrNotFound)
	}

	err = rows.Scan(&fname)
	if err != nil {
		return fname, fmt.Errorf("conddb: could not get profile of ASIC %d: %w", asic, err)
	}

	if err := ctx.Err(); err != nil {
		return fname, fmt.Errorf("conddb: context error while retrieving profile of ASIC %d: %w", asic, err)
	}

	return fname, nil
}

// Profiles returns the calibration profiles of both ASICs of each FEMB.
func (db *DB) Profiles(ctx context.Context, fembs []wib.FEMB, cold bool) ([]string, error) {
	asics, err := wib.ASICsOf(fembs, nil)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(asics))
	for _, asic := range asics {
		fname, err := db.Profile(ctx, asic, cold)
		if err != nil {
			return nil, err
		}
		files = append(files, fname)
	}
	return files, nil
}

// Setup describes the FEMBs attached to a WIB.
type Setup struct {
	WIB   string
	FEMBs []wib.FEMB
	Cold  bool
}

// Setup returns the most recent setup of the named WIB.
func (db *DB) Setup(ctx context.Context, name string) (Setup, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		setup = Setup{WIB: name}
		mask  uint8
	)
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT fembs, cold FROM setups WHERE wib=? ORDER BY datetime DESC LIMIT 1",
		name,
	)
	if err != nil {
		return setup, fmt.Errorf("conddb: could not query setup of WIB %q: %w", name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return setup, fmt.Errorf("conddb: could not scan db for setup of WIB %q: %w", name, err)
		}
		return setup, fmt.Errorf("conddb: no setup for WIB %q: %w", name, ErrNotFound)
	}

	err = rows.Scan(&mask, &setup.Cold)
	if err != nil {
		return setup, fmt.Errorf("conddb: could not get setup of WIB %q: %w", name, err)
	}
	if mask>>wib.NumFEMBs != 0 {
		return setup, fmt.Errorf("conddb: invalid FEMB mask 0x%x for WIB %q", mask, name)
	}

	for i := 0; i < wib.NumFEMBs; i++ {
		if (mask>>i)&1 == 1 {
			setup.FEMBs = append(setup.FEMBs, wib.FEMB(i))
		}
	}

	if err := ctx.Err(); err != nil {
		return setup, fmt.Errorf("conddb: context error while retrieving setup of WIB %q: %w", name, err)
	}

	return setup, nil
}
