// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/rogue"
	"golang.org/x/sync/errgroup"
)

// Monitor checks whether the receiver lanes of FEMBs are locked.
type Monitor struct {
	sess Session
	regs regs
	tick time.Duration // poll interval
	msg  log.MsgStream
}

// NewMonitor creates a lock monitor polling the register tree through
// the provided session, once per time unit.
func NewMonitor(sess Session, opts ...Option) *Monitor {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newMonitor(sess, cfg)
}

func newMonitor(sess Session, cfg config) *Monitor {
	return &Monitor{
		sess: sess,
		regs: regs{prefix: cfg.prefix},
		tick: cfg.unit,
		msg:  cfg.msg,
	}
}

// LockReport is the outcome of a lock monitor run.
type LockReport struct {
	Locked   bool
	Counts   [NumFEMBs]int // consecutive all-locked polls, per FEMB
	Ticks    int           // number of polls
	Unlocked []FEMB        // FEMBs not locked at the last poll
	Err      error         // error while enabling the lock detectors
}

// IsLocked reports whether all lanes of all the provided FEMBs were
// reported locked during minLockedCnt consecutive polls, before timeout
// elapsed.
func (m *Monitor) IsLocked(ctx context.Context, fembs []FEMB, timeout time.Duration, minLockedCnt int) bool {
	return m.Poll(ctx, fembs, timeout, minLockedCnt).Locked
}

// Poll enables the lock detector of each FEMB and polls the lane-lock
// status of all FEMBs, once per tick, until the smallest per-FEMB count
// of consecutive all-locked polls reaches minLockedCnt, or until timeout
// elapsed.
//
// A failed read counts as a not-locked status.
// Lock detectors are left enabled.
func (m *Monitor) Poll(ctx context.Context, fembs []FEMB, timeout time.Duration, minLockedCnt int) LockReport {
	var rep LockReport

	fembs, err := checkFEMBs(fembs)
	if err != nil {
		rep.Err = err
		return rep
	}
	if len(fembs) == 0 {
		rep.Err = fmt.Errorf("%w: no FEMB to monitor", ErrInvalidArg)
		return rep
	}
	if minLockedCnt <= 0 {
		minLockedCnt = defaultMinLockedCnt
	}

	for _, f := range fembs {
		err := m.sess.Set(m.regs.decoder(f, "enable"), true)
		if err != nil {
			rep.Err = fmt.Errorf("wib: could not enable lock detector of FEMB %d: %w", f, err)
			rep.Unlocked = fembs
			return rep
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var grp errgroup.Group
	grp.Go(func() error {
		tick := time.NewTicker(m.tick)
		defer tick.Stop()

		for {
			for _, f := range fembs {
				if m.locked(ctx, f) {
					rep.Counts[f]++
				} else {
					rep.Counts[f] = 0
				}
			}
			rep.Ticks++

			if minCount(rep.Counts, fembs) >= minLockedCnt {
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick.C:
			}
		}
	})

	err = grp.Wait()
	for _, f := range fembs {
		if rep.Counts[f] < minLockedCnt {
			rep.Unlocked = append(rep.Unlocked, f)
		}
	}

	switch {
	case err == nil:
		rep.Locked = true
	case errors.Is(err, context.DeadlineExceeded):
		m.msg.Debugf("lock monitor timed out after %d polls (counts=%v)", rep.Ticks, rep.Counts)
	default:
		m.msg.Debugf("lock monitor interrupted after %d polls: %+v", rep.Ticks, err)
	}

	return rep
}

func (m *Monitor) locked(ctx context.Context, f FEMB) bool {
	if ctx.Err() != nil {
		return false
	}
	v, err := m.sess.Get(ctx, m.regs.decoder(f, "Locked"))
	if err != nil {
		m.msg.Debugf("could not read lane-lock status of FEMB %d: %+v", f, err)
		return false
	}
	status, err := rogue.Uint(v)
	if err != nil {
		m.msg.Debugf("invalid lane-lock status of FEMB %d: %+v", f, err)
		return false
	}
	return status == allLocked
}

func minCount(cnts [NumFEMBs]int, fembs []FEMB) int {
	min := cnts[fembs[0]]
	for _, f := range fembs[1:] {
		if cnts[f] < min {
			min = cnts[f]
		}
	}
	return min
}
