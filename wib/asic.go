// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"fmt"

	"github.com/go-lpc/cryo/rogue"
)

// ASICsOf returns the sorted union of the provided ASICs and of both
// ASICs of each provided FEMB.
func ASICsOf(fembs []FEMB, asics []ASIC) ([]ASIC, error) {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return nil, err
	}
	all := append([]ASIC(nil), asics...)
	for _, f := range fembs {
		pair := f.ASICs()
		all = append(all, pair[:]...)
	}
	return checkASICs(all)
}

// ConfigASIC writes val to the column data of all channels of the
// provided ASICs and of the ASICs of the provided FEMBs.
func (dev *Device) ConfigASIC(fembs []FEMB, asics []ASIC, val uint32) error {
	asics, err := ASICsOf(fembs, asics)
	if err != nil {
		return err
	}

	cmds := make([]rogue.Cmd, 0, len(asics))
	for _, a := range asics {
		cmds = append(cmds, rogue.Cmd{Name: dev.regs.asic(a, "WriteColData"), Arg: val})
	}
	err = dev.execAll(cmds)
	if err != nil {
		return fmt.Errorf("wib: could not configure ASICs %v: %w", asics, err)
	}
	return nil
}

// ConfigASICChan writes val to the pixel data of the provided channels
// of each FEMB. Channels [0, 64) belong to the first ASIC of a FEMB,
// channels [64, 128) to the second one.
func (dev *Device) ConfigASICChan(fembs []FEMB, chs []Chan, val uint32) error {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return err
	}
	err = checkChans(chs)
	if err != nil {
		return err
	}

	cmds := make([]rogue.Cmd, 0, 2*len(fembs)*len(chs))
	for _, f := range fembs {
		for _, c := range chs {
			asic := ASIC(2*int(f) + int(c)/asicChans)
			cmds = append(cmds,
				rogue.Cmd{Name: dev.regs.asic(asic, "RowCounter"), Arg: int(c) % asicChans},
				rogue.Cmd{Name: dev.regs.asic(asic, "WritePixelData"), Arg: val},
			)
		}
	}
	err = dev.execAll(cmds)
	if err != nil {
		return fmt.Errorf("wib: could not configure channels: %w", err)
	}
	return nil
}

// DisableLane configures all channels of the FEMB with val and the 32
// channels of each disabled lane with val+2.
// DisableLane returns the rx-mask of the FEMB.
func (dev *Device) DisableLane(femb FEMB, lanes []Lane, val uint32) (uint16, error) {
	fembs, err := checkFEMBs([]FEMB{femb})
	if err != nil {
		return 0, err
	}
	lanes, err = checkLanes(lanes)
	if err != nil {
		return 0, err
	}
	mask, err := ComputeRxMask(femb, lanes)
	if err != nil {
		return 0, err
	}

	err = dev.ConfigASIC(fembs, nil, val)
	if err != nil {
		return 0, err
	}

	for _, l := range lanes {
		chs := make([]Chan, 0, laneChans)
		for c := int(l) * laneChans; c < int(l+1)*laneChans; c++ {
			chs = append(chs, Chan(c))
		}
		err = dev.ConfigASICChan(fembs, chs, val+0x2)
		if err != nil {
			return 0, err
		}
	}

	dev.msg.Infof("rx_mask: 0x%x for FEMB%d", mask, femb)
	return mask, nil
}

// EnableTrigger enables the run trigger.
func (dev *Device) EnableTrigger() error {
	return dev.setTrigger(true)
}

// DisableTrigger disables the run trigger.
func (dev *Device) DisableTrigger() error {
	return dev.setTrigger(false)
}

func (dev *Device) setTrigger(flag bool) error {
	pars := []rogue.Par{
		{Path: dev.regs.trigger("enable"), Value: flag},
		{Path: dev.regs.trigger("RunTriggerEnable"), Value: flag},
	}
	if !flag {
		pars[0], pars[1] = pars[1], pars[0]
	}
	return dev.setAll(pars, 0)
}
