// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-lpc/cryo/rogue"
	"github.com/go-lpc/cryo/wib"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const shellHelp = `commands:
  get  <path>          read a variable
  set  <path> <value>  write a variable
  exec <cmd> [arg]     execute a command
  help                 display this help
  quit                 leave the shell
`

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session with the WIB register tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist := filepath.Join(filepath.Dir(a.cfg.Path()), "history")
			err := a.session(a.cfg.WIB.Addr, a.cfg.WIB.Port, a.msg, func(sess wib.Session) error {
				sh := &shell{
					sess: sess,
					out:  cmd.OutOrStdout(),
				}
				return sh.loop(context.Background(), hist)
			})
			if err != nil {
				return fmt.Errorf("could not run shell on %s: %w", a.wib(), err)
			}
			return nil
		},
	}
}

type shell struct {
	sess wib.Session
	out  io.Writer
}

func (sh *shell) loop(ctx context.Context, hist string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var cmds []string
		for _, c := range []string{"get ", "set ", "exec ", "help", "quit"} {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				cmds = append(cmds, c)
			}
		}
		return cmds
	})

	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("wib> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintf(sh.out, "\n")
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.eval(ctx, line)
		if err != nil {
			var cerr *rogue.ConnError
			if errors.As(err, &cerr) {
				return err
			}
			fmt.Fprintf(sh.out, "error: %+v\n", err)
		}
		if quit {
			return nil
		}
	}
}

type shellCmd struct {
	op    string
	path  string
	value interface{}
}

func parseLine(line string) (shellCmd, error) {
	var (
		cmd    shellCmd
		fields = strings.Fields(line)
	)
	if len(fields) == 0 {
		return cmd, fmt.Errorf("empty command")
	}
	cmd.op = strings.ToLower(fields[0])
	rest := strings.Join(fields[1:], " ")

	switch cmd.op {
	case "get":
		if len(fields) != 2 {
			return cmd, fmt.Errorf("invalid get command %q (want: get <path>)", line)
		}
		cmd.path = fields[1]
	case "set":
		if len(fields) < 3 {
			return cmd, fmt.Errorf("invalid set command %q (want: set <path> <value>)", line)
		}
		cmd.path = fields[1]
		cmd.value = parseValue(strings.TrimSpace(strings.TrimPrefix(rest, fields[1])))
	case "exec":
		if len(fields) < 2 {
			return cmd, fmt.Errorf("invalid exec command %q (want: exec <cmd> [arg])", line)
		}
		cmd.path = fields[1]
		if len(fields) > 2 {
			cmd.value = parseValue(strings.TrimSpace(strings.TrimPrefix(rest, fields[1])))
		}
	case "help", "?":
		cmd.op = "help"
	case "quit", "exit", "q":
		cmd.op = "quit"
	default:
		return cmd, fmt.Errorf("unknown command %q", fields[0])
	}
	return cmd, nil
}

// parseValue converts a shell argument to a register value:
// booleans, integers with their base implied by their prefix,
// or strings (quoted or not).
func parseValue(s string) interface{} {
	switch s {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v
	}
	if v, err := strconv.Unquote(s); err == nil {
		return v
	}
	return s
}

func (sh *shell) eval(ctx context.Context, line string) (quit bool, err error) {
	cmd, err := parseLine(line)
	if err != nil {
		return false, err
	}

	switch cmd.op {
	case "get":
		v, err := sh.sess.Get(ctx, cmd.path)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(sh.out, "%s = %s\n", cmd.path, rogue.Disp(v))
	case "set":
		return false, sh.sess.Set(cmd.path, cmd.value)
	case "exec":
		return false, sh.sess.Exec(cmd.path, cmd.value)
	case "help":
		fmt.Fprint(sh.out, shellHelp)
	case "quit":
		return true, nil
	}
	return false, nil
}
