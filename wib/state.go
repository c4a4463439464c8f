// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"fmt"
)

// ClockState is a state of the clock-enable state machine.
type ClockState uint8

const (
	Idle          ClockState = iota
	ClockAsserted            // sample clock enabled
	ResetPulsed              // SR0 polarity pulsed and counters reset
	Monitoring               // waiting for the receiver lanes to lock
	Success                  // lanes locked (terminal)
	RetryPending             // lanes not locked, attempts remaining
	Failed                   // lanes not locked, attempts exhausted (terminal)
)

func (st ClockState) String() string {
	switch st {
	case Idle:
		return "idle"
	case ClockAsserted:
		return "clock-asserted"
	case ResetPulsed:
		return "reset-pulsed"
	case Monitoring:
		return "monitoring"
	case Success:
		return "success"
	case RetryPending:
		return "retry-pending"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("ClockState(%d)", uint8(st))
	}
}

// Terminal returns whether no transition can leave the state.
func (st ClockState) Terminal() bool {
	return st == Success || st == Failed
}
