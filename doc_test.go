// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cryo

import (
	"runtime/debug"
	"testing"
)

func TestVersion(t *testing.T) {
	const root = "github.com/go-lpc/cryo"
	for _, tc := range []struct {
		name string
		info *debug.BuildInfo
		vers string
		sum  string
	}{
		{name: "nil"},
		{
			name: "main",
			info: &debug.BuildInfo{Main: debug.Module{Path: root, Version: "v0.1.0", Sum: "h1:main"}},
			vers: "v0.1.0",
			sum:  "h1:main",
		},
		{
			name: "dep",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.org/daq"},
				Deps: []*debug.Module{
					{Path: "example.org/other", Version: "v1.0.0"},
					{Path: root, Version: "v0.2.0", Sum: "h1:dep"},
				},
			},
			vers: "v0.2.0",
			sum:  "h1:dep",
		},
		{
			name: "replace-path-version",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.org/daq"},
				Deps: []*debug.Module{{
					Path: root, Version: "v0.2.0",
					Replace: &debug.Module{Path: "../cryo", Version: "v0.3.0", Sum: "h1:r"},
				}},
			},
			vers: "../cryo v0.3.0",
			sum:  "h1:r",
		},
		{
			name: "replace-path",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.org/daq"},
				Deps: []*debug.Module{{
					Path: root, Version: "v0.2.0",
					Replace: &debug.Module{Path: "../cryo"},
				}},
			},
			vers: "../cryo",
		},
		{
			name: "replace-empty",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.org/daq"},
				Deps: []*debug.Module{{
					Path: root, Version: "v0.2.0",
					Replace: &debug.Module{},
				}},
			},
			vers: "v0.2.0*",
		},
		{
			name: "missing",
			info: &debug.BuildInfo{Main: debug.Module{Path: "example.org/daq"}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vers, sum := versionOf(tc.info)
			if vers != tc.vers {
				t.Fatalf("invalid version: got=%q, want=%q", vers, tc.vers)
			}
			if sum != tc.sum {
				t.Fatalf("invalid sum: got=%q, want=%q", sum, tc.sum)
			}
		})
	}
}
