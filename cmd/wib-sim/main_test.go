// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"
	"testing"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/wib/sim"
)

func TestRun(t *testing.T) {
	msg := tlog.NewMsgStream("wib-sim-test", tlog.LvlError, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := run(ctx, "localhost:0", sim.New(sim.WithMsgStream(msg)), msg)
	if err != nil {
		t.Fatalf("could not run server: %+v", err)
	}

	err = run(context.Background(), "localhost:-1", sim.New(sim.WithMsgStream(msg)), msg)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
