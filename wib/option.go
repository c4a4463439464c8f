// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
)

const (
	defaultRetries      = 2
	defaultLockTimeout  = 30 // in time units
	defaultMinLockedCnt = 10
	defaultSettle       = 30 // in time units
)

type config struct {
	unit     time.Duration // time unit of all delays
	retries  int
	timeout  int // lock timeout, in time units
	minCnt   int
	settle   int // settle delay after loading profiles, in time units
	prefix   string
	profiles ProfileLoader
	msg      log.MsgStream
	hook     func(st ClockState, attempt int)
}

func newConfig() config {
	return config{
		unit:     time.Second,
		retries:  defaultRetries,
		timeout:  defaultLockTimeout,
		minCnt:   defaultMinLockedCnt,
		settle:   defaultSettle,
		prefix:   DefaultPrefix,
		profiles: YMLProfiles{},
		msg:      log.NewMsgStream("wib", log.LvlInfo, os.Stdout),
	}
}

// Option configures a Device.
type Option func(cfg *config)

// WithTimeUnit sets the duration of one time unit.
// All delays and timeouts are expressed in time units.
func WithTimeUnit(d time.Duration) Option {
	return func(cfg *config) {
		cfg.unit = d
	}
}

// WithRetries sets the number of bring-up retries after a first
// failed attempt.
func WithRetries(n int) Option {
	return func(cfg *config) {
		cfg.retries = n
	}
}

// WithLockTimeout sets the lock monitor timeout, in time units.
func WithLockTimeout(n int) Option {
	return func(cfg *config) {
		cfg.timeout = n
	}
}

// WithMinLockedCount sets the number of consecutive all-locked polls
// needed to declare the receiver lanes locked.
func WithMinLockedCount(n int) Option {
	return func(cfg *config) {
		cfg.minCnt = n
	}
}

// WithSettle sets the delay, in time units, between loading the
// calibration profiles and enabling the clock.
func WithSettle(n int) Option {
	return func(cfg *config) {
		cfg.settle = n
	}
}

// WithPrefix sets the path of the WIB-CRYO device in the register tree.
func WithPrefix(prefix string) Option {
	return func(cfg *config) {
		cfg.prefix = prefix
	}
}

// WithProfiles sets the loader of the default calibration profiles.
func WithProfiles(p ProfileLoader) Option {
	return func(cfg *config) {
		cfg.profiles = p
	}
}

// WithMsgStream sets the message stream of the device.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithStateHook registers a function called on each transition of the
// clock-enable state machine.
func WithStateHook(f func(st ClockState, attempt int)) Option {
	return func(cfg *config) {
		cfg.hook = f
	}
}
