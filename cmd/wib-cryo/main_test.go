// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/config"
	"github.com/go-lpc/cryo/rogue"
	"github.com/go-lpc/cryo/wib"
	"github.com/go-lpc/cryo/wib/sim"
)

func quiet() tlog.MsgStream {
	return tlog.NewMsgStream("wib-cryo-test", tlog.LvlError, io.Discard)
}

// board is an in-process session to a simulated board.
type board struct {
	*sim.Board
	closed int
}

func (b *board) Get(ctx context.Context, path string) (interface{}, error) {
	return b.Board.Get(path)
}

func (b *board) SetAll(pars []rogue.Par, pause time.Duration) error {
	for _, par := range pars {
		err := b.Set(par.Path, par.Value)
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *board) ExecAll(cmds []rogue.Cmd, pause time.Duration) error {
	for _, cmd := range cmds {
		err := b.Exec(cmd.Name, cmd.Arg)
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *board) Close() error {
	b.closed++
	return nil
}

type mail struct {
	subject string
	body    string
}

func newTestApp(t *testing.T, b *board) (*app, *bytes.Buffer, *[]mail) {
	t.Helper()

	fname := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(fname, []byte(`
bringup:
  time-unit: 1ms
  retries: 1
  lock-timeout: 50
  min-locked-count: 2
  settle: 1
`), 0644)
	if err != nil {
		t.Fatalf("could not create config file: %+v", err)
	}

	var (
		out   = new(bytes.Buffer)
		mails []mail
	)
	a := newApp(out)
	a.fname = fname
	a.session = func(addr string, port int, msg tlog.MsgStream, f func(sess wib.Session) error) error {
		if b == nil {
			return errors.New("no board")
		}
		defer b.Close()
		return f(b)
	}
	a.mail = func(subject, body string) error {
		mails = append(mails, mail{subject, body})
		return nil
	}
	return a, out, &mails
}

func execute(a *app, args ...string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	return root.Execute()
}

func TestInit(t *testing.T) {
	b := &board{Board: sim.New(sim.WithLockAfter(1), sim.WithMsgStream(quiet()))}
	a, _, mails := newTestApp(t, b)

	err := execute(a, "-w", "192.168.121.1:9100", "init", "--femb=0,1", "--cold")
	if err != nil {
		t.Fatalf("could not initialize: %+v", err)
	}

	var want []string
	for _, asic := range []wib.ASIC{0, 1, 2, 3} {
		want = append(want, path.Join(wib.YMLDir, wib.ProfileName(asic, true)))
	}
	if got := b.Loaded(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid profiles:\ngot= %q\nwant=%q", got, want)
	}
	if got, want := a.wib(), "192.168.121.1:9100"; got != want {
		t.Fatalf("invalid WIB address: got=%q, want=%q", got, want)
	}
	if b.closed == 0 {
		t.Fatalf("session not closed")
	}
	if len(*mails) != 0 {
		t.Fatalf("unexpected alert: %+v", *mails)
	}
}

func TestEnableClockAlert(t *testing.T) {
	b := &board{Board: sim.New(sim.WithDeadFEMBs(1), sim.WithMsgStream(quiet()))}
	a, _, mails := newTestApp(t, b)

	err := execute(a, "--alert", "enable_clk", "--femb=0,1")
	var lock *wib.LockError
	if !errors.As(err, &lock) {
		t.Fatalf("invalid error: %+v", err)
	}
	if got, want := lock.Unlocked, []wib.FEMB{1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid unlocked FEMBs: got=%v, want=%v", got, want)
	}
	if got, want := lock.Attempts, 2; got != want {
		t.Fatalf("invalid number of attempts: got=%d, want=%d", got, want)
	}

	if len(*mails) != 1 {
		t.Fatalf("invalid number of alerts: got=%d, want=1", len(*mails))
	}
	if got := (*mails)[0].subject; !strings.Contains(got, "FEMBs [1] unlocked") {
		t.Fatalf("invalid alert subject: %q", got)
	}
}

func TestCommands(t *testing.T) {
	for _, tc := range []struct {
		name  string
		args  []string
		out   string
		check func(t *testing.T, b *board)
	}{
		{
			name: "rx_mask",
			args: []string{"rx_mask", "--femb=1", "--mask=0xff0f"},
			out:  "rx-mask: 0xff0f\n",
			check: func(t *testing.T, b *board) {
				if got, want := b.RxMask(), uint16(0xff0f); got != want {
					t.Fatalf("invalid rx-mask: got=0x%x, want=0x%x", got, want)
				}
			},
		},
		{
			name: "disable_lane",
			args: []string{"disable_lane", "--femb=1", "--lane=0", "--val=0x1"},
			out:  "rx-mask: 0xffef\n",
		},
		{
			name: "mmcm7_status",
			args: []string{"mmcm7_status"},
			out:  "MMCM7: enable=false CLKOUT3-high=2 CLKOUT3-low=2\n",
		},
		{
			name: "load_yml",
			args: []string{"load_yml", "-f", "a.yml,/tmp/b.yml"},
			check: func(t *testing.T, b *board) {
				want := []string{path.Join(wib.YMLDir, "a.yml"), "/tmp/b.yml"}
				if got := b.Loaded(); !reflect.DeepEqual(got, want) {
					t.Fatalf("invalid files:\ngot= %q\nwant=%q", got, want)
				}
			},
		},
		{
			name: "clk",
			args: []string{"clk", "on"},
			check: func(t *testing.T, b *board) {
				v, err := b.Board.Get(wib.DefaultPrefix + ".AppFpgaRegisters.SampClkEn")
				if err != nil {
					t.Fatalf("could not get sample clock: %+v", err)
				}
				if v != true {
					t.Fatalf("sample clock not enabled: %v", v)
				}
			},
		},
		{
			name: "enable_trigger",
			args: []string{"enable_trigger"},
			check: func(t *testing.T, b *board) {
				v, err := b.Board.Get(wib.DefaultPrefix + ".TriggerRegisters.RunTriggerEnable")
				if err != nil {
					t.Fatalf("could not get trigger: %+v", err)
				}
				if v != true {
					t.Fatalf("trigger not enabled: %v", v)
				}
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := &board{Board: sim.New(sim.WithMsgStream(quiet()))}
			a, out, _ := newTestApp(t, b)

			err := execute(a, tc.args...)
			if err != nil {
				t.Fatalf("could not run %q: %+v", tc.args, err)
			}
			if tc.out != "" && !strings.HasSuffix(out.String(), tc.out) {
				t.Fatalf("invalid output:\ngot= %q\nwant=%q", out.String(), tc.out)
			}
			if tc.check != nil {
				tc.check(t, b)
			}
		})
	}
}

func TestCommandErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		err  error
	}{
		{name: "invalid-femb", args: []string{"reset", "--femb=4"}, err: wib.ErrInvalidArg},
		{name: "invalid-asic", args: []string{"config_asic", "--femb=0", "--asic=8"}, err: wib.ErrInvalidArg},
		{name: "invalid-chan", args: []string{"config_asic_ch", "--femb=0", "--ch=128"}, err: wib.ErrInvalidArg},
		{name: "invalid-lane", args: []string{"disable_lane", "--femb=0", "--lane=4"}, err: wib.ErrInvalidArg},
		{name: "invalid-val", args: []string{"config_asic", "--femb=0", "--val=0xfffffffff"}},
		{name: "invalid-mask", args: []string{"rx_mask", "--mask=0x10000"}},
		{name: "invalid-flag", args: []string{"sr0", "maybe"}},
		{name: "invalid-addr", args: []string{"-w", "wib:port", "toggle_clk"}},
		{name: "no-file", args: []string{"load_yml"}},
		{name: "empty-fembs", args: []string{"enable_clk"}, err: wib.ErrInvalidArg},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := &board{Board: sim.New(sim.WithMsgStream(quiet()))}
			a, _, mails := newTestApp(t, b)
			a.alert = true

			err := execute(a, tc.args...)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.err)
			}
			if tc.name == "empty-fembs" {
				if len(*mails) != 1 {
					t.Fatalf("invalid number of alerts: %d", len(*mails))
				}
				return
			}
			if b.closed != 0 {
				t.Fatalf("session to board should not have been opened")
			}
		})
	}
}

func TestNoBoard(t *testing.T) {
	a, _, mails := newTestApp(t, nil)
	a.alert = true

	err := execute(a, "count_reset")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if len(*mails) != 1 {
		t.Fatalf("invalid number of alerts: %d", len(*mails))
	}
}

func TestConfigInit(t *testing.T) {
	a, out, _ := newTestApp(t, nil)
	a.fname = filepath.Join(t.TempDir(), "wib-cryo", "config.yaml")

	err := execute(a, "config_init", "-w", "10.0.0.3:9100")
	if err != nil {
		t.Fatalf("could not write configuration: %+v", err)
	}
	if got, want := out.String(), "configuration written to "+a.fname+"\n"; got != want {
		t.Fatalf("invalid output:\ngot= %q\nwant=%q", got, want)
	}

	cfg, err := config.Load(a.fname)
	if err != nil {
		t.Fatalf("could not load configuration: %+v", err)
	}
	if cfg.WIB.Addr != "10.0.0.3" || cfg.WIB.Port != 9100 {
		t.Fatalf("invalid address: %s:%d", cfg.WIB.Addr, cfg.WIB.Port)
	}

	err = execute(a, "config_init")
	if !errors.Is(err, config.ErrFileExists) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, config.ErrFileExists)
	}

	err = execute(a, "config_init", "--force", "-w", "10.0.0.4")
	if err != nil {
		t.Fatalf("could not overwrite configuration: %+v", err)
	}
	cfg, err = config.Load(a.fname)
	if err != nil {
		t.Fatalf("could not load configuration: %+v", err)
	}
	if cfg.WIB.Addr != "10.0.0.4" || cfg.WIB.Port != 9100 {
		t.Fatalf("invalid address: %s:%d", cfg.WIB.Addr, cfg.WIB.Port)
	}
}

func TestVersion(t *testing.T) {
	a, out, _ := newTestApp(t, nil)
	a.fname = filepath.Join(t.TempDir(), "invalid.yaml")
	err := os.WriteFile(a.fname, []byte("wib: [1, 2"), 0644)
	if err != nil {
		t.Fatalf("could not create config file: %+v", err)
	}

	err = execute(a, "version")
	if err != nil {
		t.Fatalf("could not run version: %+v", err)
	}
	if !strings.HasPrefix(out.String(), "wib-cryo ") {
		t.Fatalf("invalid output: %q", out.String())
	}
}

func TestParseVal(t *testing.T) {
	for _, tc := range []struct {
		val  string
		size int
		want uint64
		err  bool
	}{
		{val: "42", size: 32, want: 42},
		{val: "0x1f", size: 32, want: 0x1f},
		{val: " 0b101 ", size: 32, want: 5},
		{val: "0o17", size: 32, want: 0o17},
		{val: "0xffff", size: 16, want: 0xffff},
		{val: "0x10000", size: 16, err: true},
		{val: "-1", size: 32, err: true},
		{val: "abc", size: 32, err: true},
	} {
		t.Run(tc.val, func(t *testing.T) {
			got, err := parseVal(tc.val, tc.size)
			switch {
			case err != nil && !tc.err:
				t.Fatalf("could not parse value: %+v", err)
			case err == nil && tc.err:
				t.Fatalf("expected an error, got=%d", got)
			case err != nil:
				return
			}
			if got != tc.want {
				t.Fatalf("invalid value: got=%d, want=%d", got, tc.want)
			}
		})
	}
}

func TestParseFlag(t *testing.T) {
	for _, tc := range []struct {
		flag string
		want bool
		err  bool
	}{
		{flag: "on", want: true},
		{flag: "1", want: true},
		{flag: "True", want: true},
		{flag: "off", want: false},
		{flag: "0", want: false},
		{flag: "maybe", err: true},
	} {
		t.Run(tc.flag, func(t *testing.T) {
			got, err := parseFlag(tc.flag)
			switch {
			case err != nil && !tc.err:
				t.Fatalf("could not parse flag: %+v", err)
			case err == nil && tc.err:
				t.Fatalf("expected an error")
			case err != nil:
				return
			}
			if got != tc.want {
				t.Fatalf("invalid flag: got=%v, want=%v", got, tc.want)
			}
		})
	}
}
