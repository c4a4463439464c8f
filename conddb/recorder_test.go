// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/rogue"
	"github.com/go-lpc/cryo/wib"
)

// recorder records the arguments of the configuration loading commands.
type recorder struct {
	args []string
}

func (r *recorder) Get(ctx context.Context, path string) (interface{}, error) {
	return nil, fmt.Errorf("unknown variable %q", path)
}

func (r *recorder) Set(path string, v interface{}) error { return nil }

func (r *recorder) Exec(cmd string, arg interface{}) error {
	if cmd == wib.CmdLoadConfig {
		r.args = append(r.args, arg.(string))
	}
	return nil
}

func (r *recorder) SetAll(pars []rogue.Par, pause time.Duration) error { return nil }

func (r *recorder) ExecAll(cmds []rogue.Cmd, pause time.Duration) error {
	for _, cmd := range cmds {
		err := r.Exec(cmd.Name, cmd.Arg)
		if err != nil {
			return err
		}
	}
	return nil
}

func quiet() log.MsgStream {
	return log.NewMsgStream("conddb-test", log.LvlError, io.Discard)
}
