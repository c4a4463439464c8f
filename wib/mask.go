// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"fmt"
)

// RxMaskAddr is the address, in the WIB memory map, of the rx-mask register.
const RxMaskAddr = 0xa00c0008

// ComputeRxMask returns the rx-mask of a single FEMB: the nibble of the
// FEMB has one bit set per lane that is not disabled, all the other
// nibbles are set.
func ComputeRxMask(femb FEMB, disabled []Lane) (uint16, error) {
	if femb >= NumFEMBs {
		return 0, fmt.Errorf("%w: FEMB %d not in [0, %d)", ErrInvalidArg, femb, NumFEMBs)
	}
	lanes, err := checkLanes(disabled)
	if err != nil {
		return 0, err
	}

	var off [NumLanes]bool
	for _, l := range lanes {
		off[l] = true
	}

	shift := uint(femb) * NumLanes
	mask := ^(uint16(0xf) << shift)
	for l := range off {
		if off[l] {
			continue
		}
		mask |= 1 << (shift + uint(l))
	}
	return mask, nil
}

// RxMask returns the mask with the nibbles of all FEMBs not in fembs
// forced to 0xf. The mask is returned unchanged when fembs is empty.
func RxMask(fembs []FEMB, mask uint16) (uint16, error) {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return 0, err
	}
	if len(fembs) == 0 {
		return mask, nil
	}

	var on [NumFEMBs]bool
	for _, f := range fembs {
		on[f] = true
	}
	for i := range on {
		if on[i] {
			continue
		}
		mask |= 0xf << (uint(i) * NumLanes)
	}
	return mask, nil
}

// RxMaskScript returns the board script writing mask to the rx-mask register.
func RxMaskScript(mask uint16) string {
	return fmt.Sprintf("mem 0x%x 0x%x", RxMaskAddr, mask)
}

// SetRxMask writes the rx-mask of the provided FEMBs to the board.
// Nibbles of FEMBs not in fembs are forced to 0xf.
func (dev *Device) SetRxMask(fembs []FEMB, mask uint16) (uint16, error) {
	mask, err := RxMask(fembs, mask)
	if err != nil {
		return 0, err
	}
	cmd := RxMaskScript(mask)
	dev.msg.Infof("%s", cmd)
	err = dev.exec(CmdScript, cmd)
	if err != nil {
		return 0, err
	}
	return mask, nil
}
