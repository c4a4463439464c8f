// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-lpc/cryo"
	"github.com/go-lpc/cryo/config"
	"github.com/go-lpc/cryo/wib"
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "wib-cryo",
		Short:         "Bring up and configure the cryogenic FEMBs of a WIB",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(os.Getenv)
		},
	}
	root.SetOut(a.out)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.addr, "wib", "w", "", "[ip][:port] of the WIB (default $"+config.EnvAddr+":$"+config.EnvPort+")")
	flags.StringVar(&a.fname, "config", "", "path to the configuration file (default "+config.DefaultPath()+")")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose mode")
	flags.BoolVar(&a.alert, "alert", false, "send a mail alert when a command fails")

	root.AddCommand(
		newInitCmd(a),
		newResetCmd(a),
		newEnableClockCmd(a),
		newClockCmd(a),
		newToggleClockCmd(a),
		newSR0Cmd(a),
		newToggleSR0Cmd(a),
		newCountResetCmd(a),
		newConfigPLLCmd(a),
		newMMCM7Cmd(a),
		newLoadYMLCmd(a),
		newLoadDefaultYMLCmd(a),
		newConfigASICCmd(a),
		newConfigASICChanCmd(a),
		newDisableLaneCmd(a),
		newRampCmd(a, true),
		newRampCmd(a, false),
		newTriggerCmd(a, true),
		newTriggerCmd(a, false),
		newRxMaskCmd(a),
		newShellCmd(a),
		newConfigInitCmd(a),
		newVersionCmd(a),
	)
	return root
}

func fembsFlag(cmd *cobra.Command, ids *[]int) {
	cmd.Flags().IntSliceVar(ids, "femb", nil, "comma-separated list of FEMBs (0-3)")
}

func valFlag(cmd *cobra.Command, val *string) {
	cmd.Flags().StringVar(val, "val", "0", "value to write (decimal, 0x-hex, 0o-octal or 0b-binary)")
}

func newInitCmd(a *app) *cobra.Command {
	var (
		ids  []int
		cold bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize FEMBs: configure PLL, load profiles, enable clock, toggle SR0",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fembs, err := wib.ParseFEMBs(ids)
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), true, func(ctx context.Context, dev *wib.Device) error {
				return dev.Initialize(ctx, fembs, cold)
			})
		},
	}
	fembsFlag(cmd, &ids)
	cmd.Flags().BoolVar(&cold, "cold", false, "use the cold-temperature profiles")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var ids []int
	cmd := &cobra.Command{
		Use:     "reset",
		Aliases: []string{"reset_asic"},
		Short:   "Reset FEMBs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fembs, err := wib.ParseFEMBs(ids)
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.Reset(fembs)
			})
		},
	}
	fembsFlag(cmd, &ids)
	return cmd
}

func newEnableClockCmd(a *app) *cobra.Command {
	var ids []int
	cmd := &cobra.Command{
		Use:   "enable_clk",
		Short: "Enable the sample clock and wait for the rx links to lock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fembs, err := wib.ParseFEMBs(ids)
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.EnableClock(ctx, fembs)
			})
		},
	}
	fembsFlag(cmd, &ids)
	return cmd
}

func newClockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clk on|off",
		Short: "Switch the sample clock on or off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, err := parseFlag(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.Clock(flag)
			})
		},
	}
}

func newToggleClockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle_clk",
		Short: "Toggle the sample clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.ToggleClock()
			})
		},
	}
}

func newSR0Cmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sr0 on|off",
		Short: "Set the SR0 reset polarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flag, err := parseFlag(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.SR0(flag)
			})
		},
	}
}

func newToggleSR0Cmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle_sr0",
		Short: "Toggle the SR0 reset polarity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.ToggleResetPolarity()
			})
		},
	}
}

func newCountResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count_reset",
		Short: "Reset the board counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.CountReset()
			})
		},
	}
}

func newConfigPLLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config_pll",
		Short: "Configure the MMCM7 clock generator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.ConfigPLL()
			})
		},
	}
}

func newMMCM7Cmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mmcm7_status",
		Short: "Display the state of the MMCM7 clock generator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				st, err := dev.MMCM7(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"MMCM7: enable=%v CLKOUT3-high=%d CLKOUT3-low=%d\n",
					st.Enable, st.HighTime, st.LowTime,
				)
				return nil
			})
		},
	}
}

func newLoadYMLCmd(a *app) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "load_yml",
		Short: "Load configuration files (relative to " + wib.YMLDir + ")",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 {
				return fmt.Errorf("no configuration file to load")
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.LoadYML(files...)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "comma-separated list of configuration files")
	return cmd
}

func newLoadDefaultYMLCmd(a *app) *cobra.Command {
	var (
		ids  []int
		cold bool
	)
	cmd := &cobra.Command{
		Use:     "load_default_yml",
		Aliases: []string{"load"},
		Short:   "Load the calibration profiles of FEMBs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fembs, err := wib.ParseFEMBs(ids)
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), true, func(ctx context.Context, dev *wib.Device) error {
				return dev.LoadDefaultYML(ctx, fembs, cold)
			})
		},
	}
	fembsFlag(cmd, &ids)
	cmd.Flags().BoolVar(&cold, "cold", false, "use the cold-temperature profiles")
	return cmd
}

func newConfigASICCmd(a *app) *cobra.Command {
	var (
		ids  []int
		aids []int
		val  string
	)
	cmd := &cobra.Command{
		Use:   "config_asic",
		Short: "Write the column data of ASICs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fembs, err := wib.ParseFEMBs(ids)
			if err != nil {
				return err
			}
			asics, err := wib.ParseASICs(aids)
			if err != nil {
				return err
			}
			v, err := parseVal(val, 32)
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.ConfigASIC(fembs, asics, uint32(v))
			})
		},
	}
	fembsFlag(cmd, &ids)
	cmd.Flags().IntSliceVar(&aids, "asic", nil, "comma-separated list of ASICs (0-7)")
	valFlag(cmd, &val)
	return cmd
}

func newConfigASICChanCmd(a *app) *cobra.Command {
	var (
		ids  []int
		cids []int
		val  string
	)
	cmd := &cobra.Command{
		Use:   "config_asic_ch",
		Short: "Write the pixel data of ASIC channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fembs, err := wib.ParseFEMBs(ids)
			if err != nil {
				return err
			}
			chs, err := wib.ParseChans(cids)
			if err != nil {
				return err
			}
			v, err := parseVal(val, 32)
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.ConfigASICChan(fembs, chs, uint32(v))
			})
		},
	}
	fembsFlag(cmd, &ids)
	cmd.Flags().IntSliceVar(&cids, "ch", nil, "comma-separated list of channels (0-127)")
	valFlag(cmd, &val)
	return cmd
}

func newDisableLaneCmd(a *app) *cobra.Command {
	var (
		id   int
		lids []int
		val  string
	)
	cmd := &cobra.Command{
		Use:   "disable_lane",
		Short: "Disable rx lanes of a FEMB and display the resulting rx-mask",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fembs, err := wib.ParseFEMBs([]int{id})
			if err != nil {
				return err
			}
			lanes, err := wib.ParseLanes(lids)
			if err != nil {
				return err
			}
			v, err := parseVal(val, 32)
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				mask, err := dev.DisableLane(fembs[0], lanes, uint32(v))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rx-mask: 0x%04x\n", mask)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&id, "femb", 0, "FEMB (0-3)")
	cmd.Flags().IntSliceVar(&lids, "lane", nil, "comma-separated list of lanes (0-3)")
	valFlag(cmd, &val)
	return cmd
}

func newRampCmd(a *app, enabled bool) *cobra.Command {
	var ids []int
	name, short := "enable_ramp", "Enable the test ramp of FEMBs"
	if !enabled {
		name, short = "disable_ramp", "Disable the test ramp of FEMBs"
	}
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fembs, err := wib.ParseFEMBs(ids)
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				return dev.SetRamp(fembs, enabled)
			})
		},
	}
	fembsFlag(cmd, &ids)
	return cmd
}

func newTriggerCmd(a *app, enabled bool) *cobra.Command {
	name, short := "enable_trigger", "Enable the run trigger"
	if !enabled {
		name, short = "disable_trigger", "Disable the run trigger"
	}
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				if enabled {
					return dev.EnableTrigger()
				}
				return dev.DisableTrigger()
			})
		},
	}
}

func newRxMaskCmd(a *app) *cobra.Command {
	var (
		ids  []int
		mask string
	)
	cmd := &cobra.Command{
		Use:   "rx_mask",
		Short: "Write the rx-mask of FEMBs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fembs, err := wib.ParseFEMBs(ids)
			if err != nil {
				return err
			}
			v, err := parseVal(mask, 16)
			if err != nil {
				return err
			}
			return a.run(cmd.Name(), false, func(ctx context.Context, dev *wib.Device) error {
				got, err := dev.SetRxMask(fembs, uint16(v))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rx-mask: 0x%04x\n", got)
				return nil
			})
		},
	}
	fembsFlag(cmd, &ids)
	cmd.Flags().StringVar(&mask, "mask", "0xffff", "rx-mask to write")
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "config_init",
		Short: "Write the resolved configuration to the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.cfg.Persist(force)
			if err != nil {
				return fmt.Errorf("could not write configuration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", a.cfg.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the version of wib-cryo",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			version, sum := cryo.Version()
			if version == "" {
				version = "(devel)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wib-cryo %s %s\n", version, sum)
		},
	}
}

// parseVal parses an unsigned integer of the provided bit size,
// with its base implied by its prefix.
func parseVal(s string, size int) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, size)
	if err != nil {
		return 0, fmt.Errorf("could not parse value %q: %w", s, err)
	}
	return v, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "on", "true", "enable":
		return true, nil
	case "0", "off", "false", "disable":
		return false, nil
	}
	return false, fmt.Errorf("invalid flag value %q (want on|off)", s)
}
