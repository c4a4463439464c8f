// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cryo holds code to bring up the cryogenic front-end electronics
// attached to a WIB (warm interface board).
//
// The sub-packages are laid out from the wire up:
//
//   - rogue: the control channel to the remote register tree,
//   - wib: lock monitoring and the bring-up sequencer,
//   - conddb: the calibration-profile condition database.
package cryo // import "github.com/go-lpc/cryo"

import (
	"fmt"
	"runtime/debug"
)

// Version returns the version of cryo and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	const root = "github.com/go-lpc/cryo"
	if b.Main.Path == root {
		return modVersion(b.Main)
	}
	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		return modVersion(*m)
	}
	return "", ""
}

func modVersion(m debug.Module) (version, sum string) {
	if m.Replace == nil {
		return m.Version, m.Sum
	}
	switch r := m.Replace; {
	case r.Version != "" && r.Path != "":
		return fmt.Sprintf("%s %s", r.Path, r.Version), r.Sum
	case r.Version != "":
		return r.Version, r.Sum
	case r.Path != "":
		return r.Path, r.Sum
	default:
		return m.Version + "*", ""
	}
}
