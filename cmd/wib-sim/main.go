// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command wib-sim serves a simulated WIB-CRYO register tree.
//
// Usage:
//
//	$> wib-sim -addr=:9099 -lock-after=5 -fail=1 -dead=3
package main // import "github.com/go-lpc/cryo/cmd/wib-sim"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/rogue"
	"github.com/go-lpc/cryo/wib"
	"github.com/go-lpc/cryo/wib/sim"
)

func main() {
	var (
		addr   = flag.String("addr", ":9099", "[ip]:port to listen on")
		after  = flag.Int("lock-after", 5, "number of status reads before lanes lock")
		failed = flag.Int("fail", 0, "number of bring-up sequences failing to lock")
		dead   = flag.String("dead", "", "comma-separated list of FEMBs whose lanes never lock")
		prefix = flag.String("prefix", wib.DefaultPrefix, "path of the WIB-CRYO device in the register tree")
		debug  = flag.Bool("v", false, "enable verbose mode")
	)

	flag.Parse()

	log.SetPrefix("wib-sim: ")
	log.SetFlags(0)

	fembs, err := wib.ParseFEMBList(*dead)
	if err != nil {
		log.Fatalf("could not parse dead FEMBs: %+v", err)
	}

	lvl := tlog.LvlInfo
	if *debug {
		lvl = tlog.LvlDebug
	}
	msg := tlog.NewMsgStream("wib-sim", lvl, os.Stdout)

	board := sim.New(
		sim.WithLockAfter(*after),
		sim.WithFailedAttempts(*failed),
		sim.WithDeadFEMBs(fembs...),
		sim.WithPrefix(*prefix),
		sim.WithMsgStream(msg),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = run(ctx, *addr, board, msg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ctx context.Context, addr string, board *sim.Board, msg tlog.MsgStream) error {
	srv, err := rogue.NewServer(addr, board, msg)
	if err != nil {
		return fmt.Errorf("could not create server: %w", err)
	}
	msg.Infof("serving simulated WIB-CRYO on %v...", srv.Addr())

	err = srv.Serve(ctx)
	if err != nil {
		return fmt.Errorf("could not serve simulated board: %w", err)
	}
	msg.Infof("serving simulated WIB-CRYO on %v... [done]", srv.Addr())
	return nil
}
