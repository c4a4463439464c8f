// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wib drives the bring-up of cryogenic front-end boards (FEMBs)
// attached to a WIB-CRYO interface board.
//
// A Device issues ordered register writes through a Session and confirms,
// with a Monitor, that the receiver lanes of the targeted FEMBs reached a
// stable lock.
package wib // import "github.com/go-lpc/cryo/wib"

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/cryo/rogue"
)

const (
	NumFEMBs = 4            // number of FEMBs on a WIB
	NumLanes = 4            // number of receive lanes per FEMB
	NumASICs = 2 * NumFEMBs // number of ASICs on a WIB
	NumChans = 128          // number of channels per FEMB

	asicChans = NumChans / 2
	laneChans = NumChans / NumLanes

	allLocked = 0xf // lane-lock status when all 4 lanes are locked
)

// ErrInvalidArg is returned when an identifier is out of range.
var ErrInvalidArg = errors.New("wib: invalid argument")

// FEMB identifies a front-end board, in [0, 4).
type FEMB uint8

// Lane identifies a receive lane of a FEMB, in [0, 4).
type Lane uint8

// ASIC identifies a cryogenic readout ASIC, in [0, 8).
// FEMB i hosts ASICs 2i and 2i+1.
type ASIC uint8

// Chan identifies a channel of a FEMB, in [0, 128).
// Channels [0, 64) belong to the first ASIC of the FEMB.
type Chan uint8

// ASICs returns the two ASICs hosted by the FEMB.
func (f FEMB) ASICs() [2]ASIC {
	return [2]ASIC{ASIC(2 * f), ASIC(2*f + 1)}
}

// Session is an ordered get/set/exec channel to the register tree of a WIB.
//
// SetAll and ExecAll issue their operations in order, pausing after each
// of them, and stop at the first error.
type Session interface {
	Get(ctx context.Context, path string) (interface{}, error)
	Set(path string, v interface{}) error
	Exec(cmd string, arg interface{}) error
	SetAll(pars []rogue.Par, pause time.Duration) error
	ExecAll(cmds []rogue.Cmd, pause time.Duration) error
}

// ParseFEMBs converts the provided integers into a sorted set of FEMBs.
func ParseFEMBs(ids []int) ([]FEMB, error) {
	fembs := make([]FEMB, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= NumFEMBs {
			return nil, fmt.Errorf("%w: FEMB %d not in [0, %d)", ErrInvalidArg, id, NumFEMBs)
		}
		fembs = append(fembs, FEMB(id))
	}
	return checkFEMBs(fembs)
}

// ParseFEMBList converts a comma-separated list of integers into a
// sorted set of FEMBs. An empty list yields an empty set.
func ParseFEMBList(s string) ([]FEMB, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int
	for _, v := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: could not parse FEMB %q: %v", ErrInvalidArg, v, err)
		}
		ids = append(ids, id)
	}
	return ParseFEMBs(ids)
}

// ParseLanes converts the provided integers into a sorted set of lanes.
func ParseLanes(ids []int) ([]Lane, error) {
	lanes := make([]Lane, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= NumLanes {
			return nil, fmt.Errorf("%w: lane %d not in [0, %d)", ErrInvalidArg, id, NumLanes)
		}
		lanes = append(lanes, Lane(id))
	}
	return checkLanes(lanes)
}

// ParseASICs converts the provided integers into a sorted set of ASICs.
func ParseASICs(ids []int) ([]ASIC, error) {
	asics := make([]ASIC, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= NumASICs {
			return nil, fmt.Errorf("%w: ASIC %d not in [0, %d)", ErrInvalidArg, id, NumASICs)
		}
		asics = append(asics, ASIC(id))
	}
	return checkASICs(asics)
}

// ParseChans converts the provided integers into a list of channels.
// The order of the channels is kept.
func ParseChans(ids []int) ([]Chan, error) {
	chs := make([]Chan, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= NumChans {
			return nil, fmt.Errorf("%w: channel %d not in [0, %d)", ErrInvalidArg, id, NumChans)
		}
		chs = append(chs, Chan(id))
	}
	return chs, nil
}

func checkFEMBs(fembs []FEMB) ([]FEMB, error) {
	set := make([]FEMB, 0, len(fembs))
	seen := make(map[FEMB]bool, len(fembs))
	for _, f := range fembs {
		if f >= NumFEMBs {
			return nil, fmt.Errorf("%w: FEMB %d not in [0, %d)", ErrInvalidArg, f, NumFEMBs)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		set = append(set, f)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set, nil
}

func checkLanes(lanes []Lane) ([]Lane, error) {
	set := make([]Lane, 0, len(lanes))
	seen := make(map[Lane]bool, len(lanes))
	for _, l := range lanes {
		if l >= NumLanes {
			return nil, fmt.Errorf("%w: lane %d not in [0, %d)", ErrInvalidArg, l, NumLanes)
		}
		if seen[l] {
			continue
		}
		seen[l] = true
		set = append(set, l)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set, nil
}

func checkASICs(asics []ASIC) ([]ASIC, error) {
	set := make([]ASIC, 0, len(asics))
	seen := make(map[ASIC]bool, len(asics))
	for _, a := range asics {
		if a >= NumASICs {
			return nil, fmt.Errorf("%w: ASIC %d not in [0, %d)", ErrInvalidArg, a, NumASICs)
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		set = append(set, a)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set, nil
}

func checkChans(chs []Chan) error {
	for _, c := range chs {
		if c >= NumChans {
			return fmt.Errorf("%w: channel %d not in [0, %d)", ErrInvalidArg, c, NumChans)
		}
	}
	return nil
}

// LockError describes a bring-up whose receiver lanes never reached
// a stable lock.
type LockError struct {
	FEMBs    []FEMB // targeted FEMBs
	Unlocked []FEMB // FEMBs not locked at the end of the last attempt
	Attempts int    // number of attempts
}

func (e *LockError) Error() string {
	return fmt.Sprintf(
		"wib: could not lock rx links of FEMBs %v after %d attempt(s) (unlocked: %v)",
		e.FEMBs, e.Attempts, e.Unlocked,
	)
}
