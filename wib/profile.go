// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"context"
	"fmt"
)

// ProfileLoader returns the calibration profiles to load for a set of
// FEMBs. Profile paths are relative to YMLDir.
type ProfileLoader interface {
	Profiles(ctx context.Context, fembs []FEMB, cold bool) ([]string, error)
}

// YMLProfiles returns the default calibration profiles shipped with the
// WIB: one per ASIC, for the external clock, at room or cold temperature.
type YMLProfiles struct{}

func (YMLProfiles) Profiles(ctx context.Context, fembs []FEMB, cold bool) ([]string, error) {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, 2*len(fembs))
	for _, f := range fembs {
		for _, asic := range f.ASICs() {
			files = append(files, ProfileName(asic, cold))
		}
	}
	return files, nil
}

// ProfileName returns the name of the default calibration profile of an ASIC.
func ProfileName(asic ASIC, cold bool) string {
	return fmt.Sprintf("wib_cryo_config_ASIC_ExtClk_%s_asic%d.yml", Temperature(cold), asic)
}

// Temperature returns the name of the temperature condition.
func Temperature(cold bool) string {
	if cold {
		return "ColdTemp"
	}
	return "RoomTemp"
}
