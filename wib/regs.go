// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"fmt"
)

// DefaultPrefix is the path of the WIB-CRYO device in the register tree.
const DefaultPrefix = "cryoAsicGen1.WibFembCryo"

// Commands of the register tree root.
const (
	CmdReadAll    = "root.ReadAll"
	CmdCountReset = "root.CountReset"
	CmdLoadConfig = "root.LoadConfig"
	CmdScript     = "root.Script" // board script, e.g. "mem 0xa00c0008 0xff0f"
)

// YMLDir is the directory, on the WIB, holding configuration files.
const YMLDir = "/etc/cryo/yml"

// regs builds register paths under a device prefix.
type regs struct {
	prefix string
}

func (r regs) app(name string) string {
	return r.prefix + ".AppFpgaRegisters." + name
}

func (r regs) enable() string      { return r.app("enable") }
func (r regs) sampClkEn() string   { return r.app("SampClkEn") }
func (r regs) sr0Polarity() string { return r.app("SR0Polarity") }

func (r regs) glblRstPolarity(f FEMB) string {
	return r.app(fmt.Sprintf("GlblRstPolarity%d", f))
}

func (r regs) decoder(f FEMB, name string) string {
	return fmt.Sprintf("%s.SspGtDecoderReg%d.%s", r.prefix, f, name)
}

func (r regs) asic(a ASIC, name string) string {
	return fmt.Sprintf("%s.CryoAsic%d.%s", r.prefix, a, name)
}

func (r regs) mmcm7(name string) string {
	return r.prefix + ".MMCM7Registers." + name
}

func (r regs) trigger(name string) string {
	return r.prefix + ".TriggerRegisters." + name
}
