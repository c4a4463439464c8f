// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rogue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/go-daq/tdaq/log"
	"golang.org/x/sync/errgroup"
)

// Handler serves the operations of a register tree.
type Handler interface {
	Get(path string) (interface{}, error)
	Set(path string, v interface{}) error
	Exec(cmd string, arg interface{}) error
}

// Server exposes a Handler over the control-channel protocol.
// Requests from all connections are serialized.
type Server struct {
	l   net.Listener
	h   Handler
	msg log.MsgStream

	mu sync.Mutex
}

// NewServer creates a server listening on addr.
func NewServer(addr string, h Handler, msg log.MsgStream) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rogue: could not listen on %q: %w", addr, err)
	}
	if msg == nil {
		msg = log.NewMsgStream("rogue-srv", log.LvlInfo, os.Stdout)
	}
	return &Server{l: l, h: h, msg: msg}, nil
}

// Addr returns the listening address of the server.
func (srv *Server) Addr() net.Addr { return srv.l.Addr() }

// Close stops accepting new connections.
func (srv *Server) Close() error {
	err := srv.l.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("rogue: could not close listener: %w", err)
	}
	return nil
}

// Serve accepts connections until the context is done or the server
// is closed. Serve waits for all connections to be handled.
func (srv *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var grp errgroup.Group
	grp.Go(func() error {
		<-ctx.Done()
		_ = srv.Close()
		return nil
	})

	for {
		conn, err := srv.l.Accept()
		if err != nil {
			cancel()
			_ = grp.Wait()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rogue: could not accept connection: %w", err)
		}
		grp.Go(func() error {
			srv.handle(ctx, conn)
			return nil
		})
	}
}

func (srv *Server) handle(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	srv.msg.Debugf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Debugf("serving %v... [done]", conn.RemoteAddr())

	var (
		enc = json.NewEncoder(conn)
		dec = json.NewDecoder(conn)
	)
	dec.UseNumber()

	for {
		var req request
		err := dec.Decode(&req)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				srv.msg.Warnf("could not decode request from %v: %+v", conn.RemoteAddr(), err)
				_ = enc.Encode(reply{Msg: err.Error()})
			}
			return
		}

		rep := srv.dispatch(req)
		err = enc.Encode(rep)
		if err != nil {
			srv.msg.Warnf("could not send reply to %v: %+v", conn.RemoteAddr(), err)
			return
		}
	}
}

func (srv *Server) dispatch(req request) reply {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	var (
		v   interface{}
		err error
	)
	switch req.Op {
	case opGet:
		v, err = srv.h.Get(req.Path)
	case opSet:
		err = srv.h.Set(req.Path, normalize(req.Value))
	case opExec:
		err = srv.h.Exec(req.Path, normalize(req.Value))
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		srv.msg.Debugf("%s %q: %+v", req.Op, req.Path, err)
		return reply{Msg: err.Error()}
	}
	return reply{Msg: replyOK, Value: v}
}

// Tree is a plain in-memory register tree.
// Variables must be declared with Add before being accessed; commands
// are registered with Command.
type Tree struct {
	mu   sync.RWMutex
	vars map[string]interface{}
	cmds map[string]func(arg interface{}) error
}

var _ Handler = (*Tree)(nil)

// NewTree returns an empty register tree.
func NewTree() *Tree {
	return &Tree{
		vars: make(map[string]interface{}),
		cmds: make(map[string]func(arg interface{}) error),
	}
}

// Add declares the variable path with the initial value v.
func (t *Tree) Add(path string, v interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vars[path] = v
}

// Command registers the command name.
func (t *Tree) Command(name string, f func(arg interface{}) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cmds[name] = f
}

// Vars returns the sorted list of declared variables.
func (t *Tree) Vars() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.vars))
	for k := range t.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Tree) Get(path string) (interface{}, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.vars[path]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", path)
	}
	return v, nil
}

func (t *Tree) Set(path string, v interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.vars[path]; !ok {
		return fmt.Errorf("unknown variable %q", path)
	}
	t.vars[path] = v
	return nil
}

func (t *Tree) Exec(cmd string, arg interface{}) error {
	t.mu.RLock()
	f, ok := t.cmds[cmd]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if f == nil {
		return nil
	}
	return f(arg)
}
