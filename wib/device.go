// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/rogue"
)

// Device sequences the bring-up of the FEMBs of a WIB-CRYO board.
//
// All register operations of a Device are issued, in order, through a
// single session. A Device is not safe for concurrent use.
type Device struct {
	sess Session
	cfg  config
	regs regs
	mon  *Monitor
	msg  log.MsgStream

	sleep func(time.Duration)
}

// New creates a new device driving the WIB-CRYO register tree reachable
// through the provided session.
func New(sess Session, opts ...Option) *Device {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Device{
		sess:  sess,
		cfg:   cfg,
		regs:  regs{prefix: cfg.prefix},
		mon:   newMonitor(sess, cfg),
		msg:   cfg.msg,
		sleep: time.Sleep,
	}
}

// Monitor returns the lock monitor of the device.
func (dev *Device) Monitor() *Monitor { return dev.mon }

func (dev *Device) units(n int) time.Duration {
	return time.Duration(n) * dev.cfg.unit
}

func (dev *Device) wait(n int) {
	if n <= 0 {
		return
	}
	dev.sleep(dev.units(n))
}

func (dev *Device) get(ctx context.Context, name string) (interface{}, error) {
	v, err := dev.sess.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("wib: could not get %q: %w", name, err)
	}
	return v, nil
}

func (dev *Device) set(name string, v interface{}) error {
	err := dev.sess.Set(name, v)
	if err != nil {
		return fmt.Errorf("wib: could not set %q: %w", name, err)
	}
	return nil
}

// setAll writes all pairs in order, waiting pause time units after each write.
func (dev *Device) setAll(pars []rogue.Par, pause int) error {
	err := dev.sess.SetAll(pars, dev.units(pause))
	if err != nil {
		return fmt.Errorf("wib: could not write registers: %w", err)
	}
	return nil
}

func (dev *Device) exec(cmd string, arg interface{}) error {
	err := dev.sess.Exec(cmd, arg)
	if err != nil {
		return fmt.Errorf("wib: could not execute %q: %w", cmd, err)
	}
	return nil
}

func (dev *Device) execAll(cmds []rogue.Cmd) error {
	err := dev.sess.ExecAll(cmds, 0)
	if err != nil {
		return fmt.Errorf("wib: could not execute commands: %w", err)
	}
	return nil
}

// Reset resets the ASICs of the provided FEMBs and disables the
// sample clock and the SR0 polarity.
func (dev *Device) Reset(fembs []FEMB) error {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return err
	}

	dev.msg.Infof("resetting ASICs of FEMBs %v", fembs)
	pars := []rogue.Par{{Path: dev.regs.enable(), Value: true}}
	for _, f := range fembs {
		pars = append(pars, rogue.Par{Path: dev.regs.glblRstPolarity(f), Value: false})
	}
	err = dev.setAll(pars, 1)
	if err != nil {
		return fmt.Errorf("wib: could not reset ASICs: %w", err)
	}

	err = dev.Clock(false)
	if err != nil {
		return err
	}

	return dev.SR0(false)
}

// Clock enables or disables the sample clock.
func (dev *Device) Clock(flag bool) error {
	return dev.set(dev.regs.sampClkEn(), flag)
}

// ToggleClock disables then enables the sample clock.
func (dev *Device) ToggleClock() error {
	return dev.setAll([]rogue.Par{
		{Path: dev.regs.sampClkEn(), Value: false},
		{Path: dev.regs.sampClkEn(), Value: true},
	}, 0)
}

// SR0 sets the SR0 (reset) polarity.
func (dev *Device) SR0(flag bool) error {
	return dev.set(dev.regs.sr0Polarity(), flag)
}

// ToggleResetPolarity pulses the SR0 polarity three times.
// The first pulse is followed by a 10 time units delay, needed for a
// change of lane-bit order to take effect.
func (dev *Device) ToggleResetPolarity() error {
	sr0 := dev.regs.sr0Polarity()
	pars := make([]rogue.Par, 0, 6)
	for i := 0; i < 3; i++ {
		pars = append(pars,
			rogue.Par{Path: sr0, Value: false},
			rogue.Par{Path: sr0, Value: true},
		)
	}

	err := dev.setAll(pars[:2], 0)
	if err != nil {
		return fmt.Errorf("wib: could not toggle SR0 polarity: %w", err)
	}
	dev.wait(10)
	err = dev.setAll(pars[2:], 0)
	if err != nil {
		return fmt.Errorf("wib: could not toggle SR0 polarity: %w", err)
	}
	return nil
}

// CountReset resets the counters of the register tree.
func (dev *Device) CountReset() error {
	return dev.exec(CmdCountReset, nil)
}

// EnableClock enables the sample clock, pulses SR0 and waits for the
// receiver lanes of the provided FEMBs to lock.
//
// The whole sequence is attempted up to 1+retries times.
// EnableClock returns a *LockError when all attempts failed, and the
// context error when ctx is done before the lanes locked.
func (dev *Device) EnableClock(ctx context.Context, fembs []FEMB) error {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return err
	}
	if len(fembs) == 0 {
		return fmt.Errorf("%w: no FEMB to enable", ErrInvalidArg)
	}

	dev.msg.Infof("enabling clock for FEMBs %v", fembs)

	var (
		st      = Idle
		attempt = 0
		rep     LockReport
	)
	dev.enter(st, attempt)

	for !st.Terminal() {
		switch st {
		case Idle, RetryPending:
			if st == RetryPending {
				attempt++
				dev.msg.Infof("enabling clock, retry #%d", attempt)
				err = dev.Clock(false)
				if err != nil {
					return err
				}
			}
			err = dev.Clock(true)
			if err != nil {
				return err
			}
			st = ClockAsserted

		case ClockAsserted:
			err = dev.SR0(true)
			if err != nil {
				return err
			}
			dev.wait(5)
			err = dev.SR0(false)
			if err != nil {
				return err
			}
			st = ResetPulsed

		case ResetPulsed:
			err = dev.CountReset()
			if err != nil {
				return err
			}
			st = Monitoring

		case Monitoring:
			rep = dev.mon.Poll(ctx, fembs, dev.units(dev.cfg.timeout), dev.cfg.minCnt)
			switch {
			case rep.Err != nil:
				return fmt.Errorf("wib: could not monitor rx links: %w", rep.Err)
			case rep.Locked:
				st = Success
			case ctx.Err() != nil:
				dev.enter(Failed, attempt)
				return fmt.Errorf("wib: rx-link monitoring of FEMBs %v interrupted: %w", fembs, ctx.Err())
			case attempt < dev.cfg.retries:
				dev.msg.Warnf("rx links of FEMBs %v not locked (counts=%v)", rep.Unlocked, rep.Counts)
				st = RetryPending
			default:
				st = Failed
			}
		}
		dev.enter(st, attempt)
	}

	if st == Failed {
		err := &LockError{
			FEMBs:    fembs,
			Unlocked: rep.Unlocked,
			Attempts: attempt + 1,
		}
		dev.msg.Errorf("failed to lock rx links: %+v", err)
		return err
	}

	dev.msg.Infof("rx links of FEMBs %v locked", fembs)
	return nil
}

func (dev *Device) enter(st ClockState, attempt int) {
	dev.msg.Debugf("enable-clock: attempt #%d -> %v", attempt, st)
	if dev.cfg.hook != nil {
		dev.cfg.hook(st, attempt)
	}
}

// SetRamp enables or disables the internal test ramp of the ASICs of
// the provided FEMBs, and toggles the SR0 polarity for the new lane-bit
// order to take effect.
func (dev *Device) SetRamp(fembs []FEMB, enabled bool) error {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return err
	}

	var (
		action   = "disabling"
		mode     = 0
		bitOrder = 0
	)
	if enabled {
		action = "enabling"
		mode = 0x3
		bitOrder = 0xf
	}
	dev.msg.Infof("%s internal ramp for FEMBs %v", action, fembs)

	pars := make([]rogue.Par, 0, 4*len(fembs))
	for _, f := range fembs {
		asics := f.ASICs()
		pars = append(pars,
			rogue.Par{Path: dev.regs.asic(asics[0], "encoder_mode_dft"), Value: mode},
			rogue.Par{Path: dev.regs.asic(asics[1], "encoder_mode_dft"), Value: mode},
			rogue.Par{Path: dev.regs.decoder(f, "enable"), Value: true},
			rogue.Par{Path: dev.regs.decoder(f, "LaneBitOrder"), Value: bitOrder},
		)
	}
	err = dev.setAll(pars, 0)
	if err != nil {
		return fmt.Errorf("wib: could not set ramp mode: %w", err)
	}

	return dev.ToggleResetPolarity()
}

// ConfigPLL configures the MMCM7 clock generator.
func (dev *Device) ConfigPLL() error {
	dev.msg.Infof("configuring PLL")
	err := dev.set(dev.regs.mmcm7("enable"), true)
	if err != nil {
		return err
	}
	err = dev.exec(CmdReadAll, nil)
	if err != nil {
		return err
	}
	err = dev.setAll([]rogue.Par{
		{Path: dev.regs.mmcm7("CLKOUT3HighTime"), Value: 1},
		{Path: dev.regs.mmcm7("CLKOUT3LowTime"), Value: 1},
	}, 0)
	if err != nil {
		return fmt.Errorf("wib: could not configure PLL: %w", err)
	}
	return dev.exec(CmdReadAll, nil)
}

// MMCM7Status is the state of the MMCM7 clock generator.
type MMCM7Status struct {
	Enable   bool
	HighTime uint64 // CLKOUT3 high time
	LowTime  uint64 // CLKOUT3 low time
}

// MMCM7 reads back the state of the MMCM7 clock generator.
func (dev *Device) MMCM7(ctx context.Context) (MMCM7Status, error) {
	var st MMCM7Status

	v, err := dev.get(ctx, dev.regs.mmcm7("enable"))
	if err != nil {
		return st, err
	}
	st.Enable, err = rogue.Bool(v)
	if err != nil {
		return st, fmt.Errorf("wib: invalid MMCM7 enable: %w", err)
	}

	v, err = dev.get(ctx, dev.regs.mmcm7("CLKOUT3HighTime"))
	if err != nil {
		return st, err
	}
	st.HighTime, err = rogue.Uint(v)
	if err != nil {
		return st, fmt.Errorf("wib: invalid MMCM7 CLKOUT3 high time: %w", err)
	}

	v, err = dev.get(ctx, dev.regs.mmcm7("CLKOUT3LowTime"))
	if err != nil {
		return st, err
	}
	st.LowTime, err = rogue.Uint(v)
	if err != nil {
		return st, fmt.Errorf("wib: invalid MMCM7 CLKOUT3 low time: %w", err)
	}

	return st, nil
}

// LoadYML loads the provided configuration files.
// Relative paths are resolved against YMLDir, on the WIB.
func (dev *Device) LoadYML(files ...string) error {
	cmds := make([]rogue.Cmd, 0, len(files))
	for _, f := range files {
		if !path.IsAbs(f) {
			f = path.Join(YMLDir, f)
		}
		cmds = append(cmds, rogue.Cmd{Name: CmdLoadConfig, Arg: f})
	}
	return dev.execAll(cmds)
}

// LoadDefaultYML loads the default calibration profiles of the provided FEMBs.
func (dev *Device) LoadDefaultYML(ctx context.Context, fembs []FEMB, cold bool) error {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return err
	}
	files, err := dev.cfg.profiles.Profiles(ctx, fembs, cold)
	if err != nil {
		return fmt.Errorf("wib: could not get calibration profiles: %w", err)
	}
	return dev.LoadYML(files...)
}

// Initialize brings up the provided FEMBs: it configures the PLL, loads
// the default calibration profiles, enables the clock and toggles the
// SR0 polarity.
func (dev *Device) Initialize(ctx context.Context, fembs []FEMB, cold bool) error {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return err
	}
	if len(fembs) == 0 {
		return fmt.Errorf("%w: no FEMB to initialize", ErrInvalidArg)
	}

	err = dev.ConfigPLL()
	if err != nil {
		return err
	}

	err = dev.LoadDefaultYML(ctx, fembs, cold)
	if err != nil {
		return err
	}

	dev.msg.Infof("wait for %v...", dev.units(dev.cfg.settle))
	dev.wait(dev.cfg.settle)

	err = dev.EnableClock(ctx, fembs)
	if err != nil {
		return err
	}

	err = dev.ToggleResetPolarity()
	if err != nil {
		return err
	}

	dev.msg.Infof("WIB-CRYO initialized (FEMBs=%v, cold=%v)", fembs, cold)
	return nil
}
