// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rogue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/go-daq/tdaq/log"
)

const defaultDialTimeout = 5 * time.Second

// Client is a session to a remote register tree.
//
// A Client is not safe for concurrent use: callers issue operations
// from a single logical thread of control.
type Client struct {
	addr string
	conn net.Conn
	buf  bytes.Buffer // encoded request
	enc  *json.Encoder
	dec  *json.Decoder
	msg  log.MsgStream

	timeout time.Duration
	pending int   // replies still in flight after a timed out request
	err     error // sticky connection error
}

// Option configures a Client.
type Option func(*Client)

// WithMsgStream sets the message stream used to report operations.
func WithMsgStream(msg log.MsgStream) Option {
	return func(c *Client) {
		c.msg = msg
	}
}

// WithDialTimeout sets the timeout used to establish the session.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// Dial opens a session to the register tree served at addr:port.
func Dial(addr string, port int, opts ...Option) (*Client, error) {
	cli := &Client{
		addr:    net.JoinHostPort(addr, strconv.Itoa(port)),
		msg:     log.NewMsgStream("rogue", log.LvlInfo, os.Stdout),
		timeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(cli)
	}

	conn, err := net.DialTimeout("tcp", cli.addr, cli.timeout)
	if err != nil {
		return nil, &ConnError{Addr: cli.addr, Op: "dial", Err: err}
	}
	cli.conn = conn
	cli.enc = json.NewEncoder(&cli.buf)
	cli.dec = json.NewDecoder(conn)
	cli.dec.UseNumber()

	return cli, nil
}

// With opens a session to addr:port, runs f and closes the session,
// whatever f returned.
func With(addr string, port int, f func(cli *Client) error, opts ...Option) (err error) {
	cli, err := Dial(addr, port, opts...)
	if err != nil {
		return err
	}
	defer func() {
		e := cli.Close()
		if err == nil {
			err = e
		}
	}()

	return f(cli)
}

// Addr returns the host:port of the remote end of the session.
func (c *Client) Addr() string { return c.addr }

// Close closes the session.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return &ConnError{Addr: c.addr, Op: "close", Err: err}
	}
	return nil
}

// Get reads the value of the variable at path.
// Get honors the deadline of the provided context.
func (c *Client) Get(ctx context.Context, path string) (interface{}, error) {
	v, err := c.do(ctx, request{Op: opGet, Path: path})
	if err != nil {
		return nil, err
	}
	c.msg.Debugf("[%s] get %s -> %s", c.addr, path, Disp(v))
	return v, nil
}

// Set writes v to the variable at path.
func (c *Client) Set(path string, v interface{}) error {
	c.msg.Infof("[%s] set %s <- %s", c.addr, path, Disp(v))
	_, err := c.do(context.Background(), request{Op: opSet, Path: path, Value: v})
	return err
}

// Exec executes the command cmd with the provided argument.
func (c *Client) Exec(cmd string, arg interface{}) error {
	c.msg.Infof("[%s] exe %s %s", c.addr, cmd, Disp(arg))
	_, err := c.do(context.Background(), request{Op: opExec, Path: cmd, Value: arg})
	return err
}

// SetAll writes all the provided pairs, in order, sleeping for pause
// after each write.
func (c *Client) SetAll(pars []Par, pause time.Duration) error {
	for _, par := range pars {
		err := c.Set(par.Path, par.Value)
		if err != nil {
			return fmt.Errorf("rogue: could not set %q: %w", par.Path, err)
		}
		if pause > 0 {
			time.Sleep(pause)
		}
	}
	return nil
}

// ExecAll executes all the provided commands, in order, sleeping for pause
// after each command.
func (c *Client) ExecAll(cmds []Cmd, pause time.Duration) error {
	for _, cmd := range cmds {
		err := c.Exec(cmd.Name, cmd.Arg)
		if err != nil {
			return fmt.Errorf("rogue: could not execute %q: %w", cmd.Name, err)
		}
		if pause > 0 {
			time.Sleep(pause)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, req request) (interface{}, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.conn == nil {
		return nil, &ConnError{Addr: c.addr, Op: req.Op, Err: net.ErrClosed}
	}

	// an expired context leaves the session untouched.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rogue: could not %s %q on %s: %w", req.Op, req.Path, c.addr, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		err := c.conn.SetDeadline(dl)
		if err != nil {
			return nil, c.fail(req.Op, err)
		}
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	// discard replies to requests whose caller gave up waiting.
	for c.pending > 0 {
		var rep reply
		err := c.dec.Decode(&rep)
		if err != nil {
			return nil, c.timeoutOrFail(req.Op, err, false)
		}
		c.pending--
	}

	c.buf.Reset()
	err := c.enc.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("rogue: could not encode %s request: %w", req.Op, err)
	}
	n, err := c.conn.Write(c.buf.Bytes())
	if err != nil {
		if n > 0 {
			// partial request on the wire: the stream is out of sync.
			return nil, c.fail(req.Op, err)
		}
		return nil, c.timeoutOrFail(req.Op, err, false)
	}

	var rep reply
	err = c.dec.Decode(&rep)
	if err != nil {
		return nil, c.timeoutOrFail(req.Op, err, true)
	}

	if rep.Msg != replyOK {
		return nil, &RemoteError{Addr: c.addr, Op: req.Op, Path: req.Path, Msg: rep.Msg}
	}

	return normalize(rep.Value), nil
}

// timeoutOrFail keeps the session usable when a read timed out:
// bytes already buffered are kept and the late reply is drained on
// the next request.
func (c *Client) timeoutOrFail(op string, err error, sent bool) error {
	var nerr net.Error
	if !errors.As(err, &nerr) || !nerr.Timeout() {
		return c.fail(op, err)
	}

	// json.Decoder keeps its first read error: start afresh.
	c.dec = json.NewDecoder(io.MultiReader(c.dec.Buffered(), c.conn))
	c.dec.UseNumber()
	if sent {
		c.pending++
	}
	return &ConnError{Addr: c.addr, Op: op, Err: err}
}

func (c *Client) fail(op string, err error) error {
	c.err = &ConnError{Addr: c.addr, Op: op, Err: err}
	return c.err
}
