// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim simulates the register tree of a WIB-CRYO board.
//
// The receiver lanes of a FEMB lock once the sample clock is enabled,
// the SR0 polarity pulsed, the counters reset and the lock detector of
// the FEMB enabled, after a configurable number of status reads.
package sim // import "github.com/go-lpc/cryo/wib/sim"

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/rogue"
	"github.com/go-lpc/cryo/wib"
)

const allLocked = 0xf

// Board is a simulated WIB-CRYO register tree.
type Board struct {
	mu   sync.Mutex
	tree *rogue.Tree
	msg  log.MsgStream

	prefix string
	locked map[string]wib.FEMB // lane-lock status path -> FEMB

	lockAfter int                // status reads before lanes lock
	failed    int                // number of bring-up sequences failing to lock
	dead      [wib.NumFEMBs]bool // FEMBs whose lanes never lock

	clk      bool
	sr0      bool
	pulsed   bool
	attempts int
	armed    bool
	reads    [wib.NumFEMBs]int

	loaded []string
	rxMask uint16
}

var _ rogue.Handler = (*Board)(nil)

// Option configures a simulated board.
type Option func(b *Board)

// WithLockAfter sets the number of lane-lock status reads needed for
// the lanes of a FEMB to lock, once the bring-up sequence was issued.
func WithLockAfter(n int) Option {
	return func(b *Board) {
		b.lockAfter = n
	}
}

// WithFailedAttempts sets the number of bring-up sequences whose lanes
// never lock.
func WithFailedAttempts(n int) Option {
	return func(b *Board) {
		b.failed = n
	}
}

// WithDeadFEMBs marks FEMBs whose lanes never lock.
func WithDeadFEMBs(fembs ...wib.FEMB) Option {
	return func(b *Board) {
		for _, f := range fembs {
			if f < wib.NumFEMBs {
				b.dead[f] = true
			}
		}
	}
}

// WithPrefix sets the path of the WIB-CRYO device in the register tree.
func WithPrefix(prefix string) Option {
	return func(b *Board) {
		b.prefix = prefix
	}
}

// WithMsgStream sets the message stream of the board.
func WithMsgStream(msg log.MsgStream) Option {
	return func(b *Board) {
		b.msg = msg
	}
}

// New creates a simulated board, with its device under wib.DefaultPrefix
// unless WithPrefix is provided.
func New(opts ...Option) *Board {
	b := &Board{
		tree:   rogue.NewTree(),
		msg:    log.NewMsgStream("wib-sim", log.LvlInfo, os.Stdout),
		prefix: wib.DefaultPrefix,
		locked: make(map[string]wib.FEMB),
		rxMask: 0xffff,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.populate()
	return b
}

func (b *Board) path(format string, args ...interface{}) string {
	return b.prefix + "." + fmt.Sprintf(format, args...)
}

func (b *Board) populate() {
	t := b.tree
	t.Add(b.path("AppFpgaRegisters.enable"), false)
	t.Add(b.path("AppFpgaRegisters.SampClkEn"), false)
	t.Add(b.path("AppFpgaRegisters.SR0Polarity"), false)
	for i := 0; i < wib.NumFEMBs; i++ {
		t.Add(b.path("AppFpgaRegisters.GlblRstPolarity%d", i), true)
		t.Add(b.path("SspGtDecoderReg%d.enable", i), false)
		t.Add(b.path("SspGtDecoderReg%d.LaneBitOrder", i), int64(0))
		b.locked[b.path("SspGtDecoderReg%d.Locked", i)] = wib.FEMB(i)
	}
	for i := 0; i < wib.NumASICs; i++ {
		t.Add(b.path("CryoAsic%d.encoder_mode_dft", i), int64(0))
		t.Command(b.path("CryoAsic%d.WriteColData", i), nil)
		t.Command(b.path("CryoAsic%d.RowCounter", i), nil)
		t.Command(b.path("CryoAsic%d.WritePixelData", i), nil)
	}
	t.Add(b.path("MMCM7Registers.enable"), false)
	t.Add(b.path("MMCM7Registers.CLKOUT3HighTime"), int64(2))
	t.Add(b.path("MMCM7Registers.CLKOUT3LowTime"), int64(2))
	t.Add(b.path("TriggerRegisters.enable"), false)
	t.Add(b.path("TriggerRegisters.RunTriggerEnable"), false)

	t.Command(wib.CmdReadAll, nil)
	t.Command(wib.CmdCountReset, b.countReset)
	t.Command(wib.CmdLoadConfig, b.loadConfig)
	t.Command(wib.CmdScript, b.script)
}

// Get returns the value of a variable.
func (b *Board) Get(path string) (interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.locked[path]
	if !ok {
		return b.tree.Get(path)
	}
	return b.status(f), nil
}

func (b *Board) status(f wib.FEMB) uint64 {
	enabled, _ := b.tree.Get(b.path("SspGtDecoderReg%d.enable", f))
	if !b.armed || b.dead[f] || enabled != true {
		return 0
	}
	b.reads[f]++
	if b.reads[f] <= b.lockAfter {
		return 0x5
	}
	return allLocked
}

// Set sets the value of a variable.
func (b *Board) Set(path string, v interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.tree.Set(path, v)
	if err != nil {
		return err
	}

	switch path {
	case b.path("AppFpgaRegisters.SampClkEn"):
		flag, err := rogue.Bool(v)
		if err != nil {
			return err
		}
		b.clk = flag
		if !flag {
			b.armed = false
			b.pulsed = false
		}
	case b.path("AppFpgaRegisters.SR0Polarity"):
		flag, err := rogue.Bool(v)
		if err != nil {
			return err
		}
		if b.clk && b.sr0 && !flag {
			b.pulsed = true
		}
		b.sr0 = flag
	}
	return nil
}

// Exec executes a command.
func (b *Board) Exec(cmd string, arg interface{}) error {
	return b.tree.Exec(cmd, arg)
}

func (b *Board) countReset(arg interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.pulsed || b.armed {
		return nil
	}
	b.attempts++
	b.reads = [wib.NumFEMBs]int{}
	b.armed = b.attempts > b.failed
	b.msg.Debugf("bring-up sequence #%d (armed=%v)", b.attempts, b.armed)
	return nil
}

func (b *Board) loadConfig(arg interface{}) error {
	fname, ok := arg.(string)
	if !ok {
		return fmt.Errorf("invalid configuration file argument %T", arg)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded = append(b.loaded, fname)
	return nil
}

func (b *Board) script(arg interface{}) error {
	cmd, ok := arg.(string)
	if !ok {
		return fmt.Errorf("invalid script argument %T", arg)
	}
	toks := strings.Fields(cmd)
	if len(toks) != 3 || toks[0] != "mem" {
		return fmt.Errorf("invalid script %q", cmd)
	}
	addr, err := strconv.ParseUint(toks[1], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid script address %q: %w", toks[1], err)
	}
	if addr != wib.RxMaskAddr {
		return fmt.Errorf("unknown memory address 0x%x", addr)
	}
	mask, err := strconv.ParseUint(toks[2], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid rx-mask %q: %w", toks[2], err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rxMask = uint16(mask)
	return nil
}

// Attempts returns the number of bring-up sequences seen by the board.
func (b *Board) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Loaded returns the configuration files loaded so far.
func (b *Board) Loaded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.loaded...)
}

// RxMask returns the current rx-mask.
func (b *Board) RxMask() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rxMask
}

// Vars returns the sorted list of variables of the board.
func (b *Board) Vars() []string {
	return b.tree.Vars()
}
