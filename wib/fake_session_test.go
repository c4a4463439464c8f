// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/rogue"
)

// op is a recorded write, command or delay.
type op struct {
	Kind  string // set, exec or sleep
	Path  string
	Value interface{}
}

func set(path string, v interface{}) op { return op{Kind: "set", Path: path, Value: v} }
func exec(cmd string, v interface{}) op { return op{Kind: "exec", Path: cmd, Value: v} }
func sleep(d time.Duration) op { return op{Kind: "sleep", Value: d} }
func (o op) String() string { return fmt.Sprintf("%s(%s, %v)", o.Kind, o.Path, o.Value) }

type fakeSession struct {
	mu sync.Mutex

	ops    []op
	reads  [NumFEMBs]int           // number of lane-lock status reads, per FEMB
	status [NumFEMBs][]interface{} // scripted lane-lock statuses (uint64 or error)
	vars   map[string]interface{}
	fails  map[string]error
	closed bool

	// lock returns the lane-lock status when no status is scripted.
	lock func(sess *fakeSession, f FEMB) interface{}

	locked map[string]FEMB
}

func newFakeSession() *fakeSession {
	sess := &fakeSession{
		vars:   make(map[string]interface{}),
		fails:  make(map[string]error),
		locked: make(map[string]FEMB),
	}
	r := regs{prefix: DefaultPrefix}
	for f := FEMB(0); f < NumFEMBs; f++ {
		sess.locked[r.decoder(f, "Locked")] = f
	}
	return sess
}

func (sess *fakeSession) Get(ctx context.Context, path string) (interface{}, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.fails[path]; err != nil {
		return nil, err
	}

	f, ok := sess.locked[path]
	if !ok {
		v, ok := sess.vars[path]
		if !ok {
			return nil, fmt.Errorf("unknown variable %q", path)
		}
		return v, nil
	}

	n := sess.reads[f]
	sess.reads[f]++

	var v interface{} = uint64(0)
	switch script := sess.status[f]; {
	case len(script) > 0:
		if n >= len(script) {
			n = len(script) - 1
		}
		v = script[n]
	case sess.lock != nil:
		v = sess.lock(sess, f)
	}
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v, nil
}

func (sess *fakeSession) Set(path string, v interface{}) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.fails[path]; err != nil {
		return err
	}
	sess.ops = append(sess.ops, set(path, v))
	sess.vars[path] = v
	return nil
}

func (sess *fakeSession) Exec(cmd string, arg interface{}) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := sess.fails[cmd]; err != nil {
		return err
	}
	sess.ops = append(sess.ops, exec(cmd, arg))
	return nil
}

func (sess *fakeSession) SetAll(pars []rogue.Par, pause time.Duration) error {
	for _, par := range pars {
		err := sess.Set(par.Path, par.Value)
		if err != nil {
			return err
		}
		if pause > 0 {
			sess.sleep(pause)
		}
	}
	return nil
}

func (sess *fakeSession) ExecAll(cmds []rogue.Cmd, pause time.Duration) error {
	for _, cmd := range cmds {
		err := sess.Exec(cmd.Name, cmd.Arg)
		if err != nil {
			return err
		}
		if pause > 0 {
			sess.sleep(pause)
		}
	}
	return nil
}

func (sess *fakeSession) Close() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.closed = true
	return nil
}

func (sess *fakeSession) sleep(d time.Duration) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.ops = append(sess.ops, sleep(d))
}

// count returns the number of recorded operations equal to o.
func (sess *fakeSession) count(o op) int {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	n := 0
	for _, v := range sess.ops {
		if v == o {
			n++
		}
	}
	return n
}

func (sess *fakeSession) recorded() []op {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]op(nil), sess.ops...)
}

func (sess *fakeSession) reset() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.ops = nil
}

func quiet() log.MsgStream {
	return log.NewMsgStream("wib-test", log.LvlError, io.Discard)
}

const testUnit = time.Millisecond

func newTestDevice(sess *fakeSession, opts ...Option) *Device {
	opts = append([]Option{
		WithTimeUnit(testUnit),
		WithMsgStream(quiet()),
	}, opts...)
	dev := New(sess, opts...)
	dev.sleep = sess.sleep
	return dev
}
