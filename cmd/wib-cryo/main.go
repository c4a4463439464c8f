// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command wib-cryo brings up and configures the cryogenic front-end
// boards attached to a WIB.
//
// Usage:
//
//	$> wib-cryo [-w ip[:port]] <command> [options]
//
// Example:
//
//	$> wib-cryo -w 192.168.121.1 init --femb=0,1 --cold
//	$> wib-cryo enable_clk --femb=0
//	$> wib-cryo disable_lane --femb=1 --lane=2 --val=0x1
//	$> wib-cryo shell
package main // import "github.com/go-lpc/cryo/cmd/wib-cryo"

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/conddb"
	"github.com/go-lpc/cryo/config"
	"github.com/go-lpc/cryo/internal/alert"
	"github.com/go-lpc/cryo/rogue"
	"github.com/go-lpc/cryo/wib"
)

func main() {
	log.SetPrefix("wib-cryo: ")
	log.SetFlags(0)

	root := newRootCmd(newApp(os.Stdout))
	err := root.Execute()
	if err != nil {
		log.Printf("%+v", err)
		os.Exit(1)
	}
}

type app struct {
	out io.Writer

	fname   string // configuration file
	addr    string // ip[:port] of the WIB
	verbose bool
	alert   bool

	cfg  *config.Config
	msg  tlog.MsgStream
	mail func(subject, body string) error

	// session runs f with a session to the WIB at addr:port, closing
	// it afterwards.
	session func(addr string, port int, msg tlog.MsgStream, f func(sess wib.Session) error) error
}

func newApp(out io.Writer) *app {
	return &app{
		out:  out,
		mail: alert.FromEnv(os.Getenv).Send,
		session: func(addr string, port int, msg tlog.MsgStream, f func(sess wib.Session) error) error {
			return rogue.With(addr, port, func(cli *rogue.Client) error {
				return f(cli)
			}, rogue.WithMsgStream(msg))
		},
	}
}

// setup resolves the configuration: defaults, file, environment then
// command-line flags.
func (a *app) setup(getenv func(string) string) error {
	cfg, err := config.Load(a.fname)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	err = cfg.FromEnv(getenv)
	if err != nil {
		return fmt.Errorf("could not load environment: %w", err)
	}

	err = cfg.SetAddr(a.addr)
	if err != nil {
		return fmt.Errorf("could not parse WIB address: %w", err)
	}

	lvl := tlog.LvlInfo
	if a.verbose {
		lvl = tlog.LvlDebug
	}
	a.cfg = cfg
	a.msg = tlog.NewMsgStream("wib-cryo", lvl, a.out)
	return nil
}

func (a *app) wib() string {
	return net.JoinHostPort(a.cfg.WIB.Addr, strconv.Itoa(a.cfg.WIB.Port))
}

// run executes f against a device connected to the configured WIB.
// The condition database backs the calibration profiles when db is true
// and a database host is configured.
func (a *app) run(step string, db bool, f func(ctx context.Context, dev *wib.Device) error) error {
	ctx := context.Background()

	err := a.with(ctx, db, f)
	if err != nil {
		a.notify(step, err)
		return fmt.Errorf("could not run %s on %s: %w", step, a.wib(), err)
	}
	return nil
}

func (a *app) with(ctx context.Context, db bool, f func(ctx context.Context, dev *wib.Device) error) error {
	opts := append(a.cfg.Options(), wib.WithMsgStream(a.msg))
	if db && a.cfg.DB.Host != "" {
		cdb, err := conddb.Open(a.cfg.DB.Host, a.cfg.DB.User, a.cfg.DB.Password, a.cfg.DB.Name)
		if err != nil {
			return fmt.Errorf("could not open condition database: %w", err)
		}
		defer cdb.Close()
		opts = append(opts, wib.WithProfiles(cdb))
	}

	return a.session(a.cfg.WIB.Addr, a.cfg.WIB.Port, a.msg, func(sess wib.Session) error {
		return f(ctx, wib.New(sess, opts...))
	})
}

func (a *app) notify(step string, err error) {
	if !a.alert || a.mail == nil {
		return
	}
	subject, body := alert.Failure(a.wib(), step, err)
	if err := a.mail(subject, body); err != nil {
		log.Printf("could not send alert: %+v", err)
	}
}
