// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command wib-tdaq starts a TDAQ server driving the bring-up of the
// FEMBs of a WIB.
//
// Usage:
//
//	$> wib-tdaq -id wib-01 -wib 192.168.121.1:9099 -femb 0,1 -cold
//	$> wib-tdaq -id wib-01 -setup wib-01   # FEMBs and temperature from the condition database
package main // import "github.com/go-lpc/cryo/cmd/wib-tdaq"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/cryo/conddb"
	"github.com/go-lpc/cryo/config"
	"github.com/go-lpc/cryo/wib"
)

func main() {
	var (
		fname = flag.String("config", "", "path to the configuration file (default "+config.DefaultPath()+")")
		addr  = flag.String("wib", "", "[ip][:port] of the WIB")
		ids   = flag.String("femb", "", "comma-separated list of FEMBs to drive")
		cold  = flag.Bool("cold", false, "use the cold-temperature profiles")
		setup = flag.String("setup", "", "name of the WIB setup to fetch from the condition database")
	)

	cmd := flags.New()

	log.SetPrefix("wib-tdaq: ")
	log.SetFlags(0)

	cfg, err := loadConfig(*fname, *addr, os.Getenv)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	fembs, err := wib.ParseFEMBList(*ids)
	if err != nil {
		log.Fatalf("could not parse FEMBs: %+v", err)
	}

	if *setup != "" {
		fembs, *cold, err = fetchSetup(cfg, *setup)
		if err != nil {
			log.Fatalf("could not fetch setup %q: %+v", *setup, err)
		}
	}

	opts := cfg.Options()
	if cfg.DB.Host != "" {
		db, err := conddb.Open(cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name)
		if err != nil {
			log.Fatalf("could not open condition database: %+v", err)
		}
		defer db.Close()
		opts = append(opts, wib.WithProfiles(db))
	}

	dev, err := wib.NewServer(cfg.WIB.Addr, cfg.WIB.Port, fembs, *cold, opts...)
	if err != nil {
		log.Fatalf("could not create WIB server: %+v", err)
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func loadConfig(fname, addr string, getenv func(string) string) (*config.Config, error) {
	cfg, err := config.Load(fname)
	if err != nil {
		return nil, fmt.Errorf("could not load configuration: %w", err)
	}
	err = cfg.FromEnv(getenv)
	if err != nil {
		return nil, fmt.Errorf("could not load environment: %w", err)
	}
	err = cfg.SetAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("could not parse WIB address: %w", err)
	}
	return cfg, nil
}

func fetchSetup(cfg *config.Config, name string) ([]wib.FEMB, bool, error) {
	if cfg.DB.Host == "" {
		return nil, false, fmt.Errorf("no condition database configured")
	}
	db, err := conddb.Open(cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name)
	if err != nil {
		return nil, false, fmt.Errorf("could not open condition database: %w", err)
	}
	defer db.Close()

	setup, err := db.Setup(context.Background(), name)
	if err != nil {
		return nil, false, err
	}
	return setup.FEMBs, setup.Cold, nil
}
