// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rogue implements a control channel to a remote register tree.
//
// A session exposes ordered get/set/exec operations over dot-separated
// register paths (e.g. "cryoAsicGen1.WibFembCryo.AppFpgaRegisters.SampClkEn").
// Operations are applied synchronously, in call order. The channel never
// batches, reorders nor retries requests.
//
// Requests and replies are exchanged as a stream of JSON values over a
// single TCP connection:
//
//	-> {"op":"set","path":"a.b.c","value":true}
//	<- {"msg":"ok"}
//	-> {"op":"get","path":"a.b.d"}
//	<- {"msg":"ok","value":15}
package rogue // import "github.com/go-lpc/cryo/rogue"

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	opGet  = "get"
	opSet  = "set"
	opExec = "exec"

	replyOK = "ok"
)

type request struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

type reply struct {
	Msg   string      `json:"msg"`
	Value interface{} `json:"value,omitempty"`
}

// Par is a (path, value) pair to be written to the register tree.
type Par struct {
	Path  string
	Value interface{}
}

// Cmd is a (command, argument) pair to be executed on the register tree.
type Cmd struct {
	Name string
	Arg  interface{}
}

// ConnError describes an I/O failure on the underlying session.
// Connection errors are fatal, the session should not be used anymore,
// unless Err is a timeout: the session then stays usable.
type ConnError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("rogue: could not %s [%s]: %+v", e.Op, e.Addr, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// RemoteError describes a request rejected by the remote register tree.
type RemoteError struct {
	Addr string
	Op   string
	Path string
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rogue: [%s] %s %q: %s", e.Addr, e.Op, e.Path, e.Msg)
}

// normalize converts values decoded with json.Decoder.UseNumber into
// int64 (integral numbers) or float64.
func normalize(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(string(v), 10, 64); err == nil {
			return u
		}
		f, err := v.Float64()
		if err != nil {
			return string(v)
		}
		return f
	default:
		return v
	}
}

// Uint converts a register value to an unsigned integer.
// Booleans map to 0 or 1, strings are parsed with base prefix (e.g. "0xf").
func Uint(v interface{}) (uint64, error) {
	switch v := normalize(v).(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("rogue: negative value %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("rogue: negative value %d", v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case uint32:
		return uint64(v), nil
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, fmt.Errorf("rogue: non-integral value %v", v)
		}
		return uint64(v), nil
	case string:
		u, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("rogue: could not parse %q: %w", v, err)
		}
		return u, nil
	case nil:
		return 0, fmt.Errorf("rogue: no value")
	default:
		return 0, fmt.Errorf("rogue: invalid value type %T", v)
	}
}

// Bool converts a register value to a boolean.
func Bool(v interface{}) (bool, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b, nil
		}
	}
	u, err := Uint(v)
	if err != nil {
		return false, err
	}
	return u != 0, nil
}

// Disp returns the display form of a register value: integers in hex.
func Disp(v interface{}) string {
	switch v := normalize(v).(type) {
	case int, int64, uint64, uint32, uint8:
		return fmt.Sprintf("0x%x", v)
	case nil:
		return "None"
	default:
		return fmt.Sprintf("%v", v)
	}
}
