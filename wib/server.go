// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wib

import (
	"fmt"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/cryo/rogue"
)

type session interface {
	Session
	Close() error
}

var _ session = (*rogue.Client)(nil)

// Server drives the bring-up of a WIB-CRYO board from TDAQ run-control
// commands.
type Server struct {
	addr  string
	port  int
	fembs []FEMB
	cold  bool
	opts  []Option

	dial func(addr string, port int, msg log.MsgStream) (session, error)
	sess session
	dev  *Device
}

// NewServer creates a run-control server for the provided FEMBs of the
// WIB-CRYO board reachable at addr:port.
func NewServer(addr string, port int, fembs []FEMB, cold bool, opts ...Option) (*Server, error) {
	fembs, err := checkFEMBs(fembs)
	if err != nil {
		return nil, err
	}
	if len(fembs) == 0 {
		return nil, fmt.Errorf("%w: no FEMB to drive", ErrInvalidArg)
	}

	return &Server{
		addr:  addr,
		port:  port,
		fembs: fembs,
		cold:  cold,
		opts:  opts,
		dial: func(addr string, port int, msg log.MsgStream) (session, error) {
			cli, err := rogue.Dial(addr, port, rogue.WithMsgStream(msg))
			if err != nil {
				return nil, err
			}
			return cli, nil
		},
	}, nil
}

func (srv *Server) close() error {
	if srv.sess == nil {
		return nil
	}
	err := srv.sess.Close()
	srv.sess = nil
	srv.dev = nil
	return err
}

func (srv *Server) device() (*Device, error) {
	if srv.dev == nil {
		return nil, fmt.Errorf("wib: no session to %s:%d (missing /config?)", srv.addr, srv.port)
	}
	return srv.dev, nil
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.close()
	if err != nil {
		ctx.Msg.Warnf("could not close previous session: %+v", err)
	}

	sess, err := srv.dial(srv.addr, srv.port, ctx.Msg)
	if err != nil {
		ctx.Msg.Errorf("could not connect to WIB %s:%d: %+v", srv.addr, srv.port, err)
		return fmt.Errorf("could not connect to WIB %s:%d: %w", srv.addr, srv.port, err)
	}
	srv.sess = sess

	opts := append([]Option{WithMsgStream(ctx.Msg)}, srv.opts...)
	srv.dev = New(sess, opts...)

	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	dev, err := srv.device()
	if err != nil {
		return err
	}

	err = dev.Initialize(ctx.Ctx, srv.fembs, srv.cold)
	if err != nil {
		ctx.Msg.Errorf("could not initialize FEMBs %v: %+v", srv.fembs, err)
		return fmt.Errorf("could not initialize FEMBs %v: %w", srv.fembs, err)
	}
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev, err := srv.device()
	if err != nil {
		return err
	}

	err = dev.Reset(srv.fembs)
	if err != nil {
		ctx.Msg.Errorf("could not reset FEMBs %v: %+v", srv.fembs, err)
		return fmt.Errorf("could not reset FEMBs %v: %w", srv.fembs, err)
	}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	dev, err := srv.device()
	if err != nil {
		return err
	}

	err = dev.EnableTrigger()
	if err != nil {
		ctx.Msg.Errorf("could not enable trigger: %+v", err)
		return fmt.Errorf("could not enable trigger: %w", err)
	}
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	dev, err := srv.device()
	if err != nil {
		return err
	}

	err = dev.DisableTrigger()
	if err != nil {
		ctx.Msg.Errorf("could not disable trigger: %+v", err)
		return fmt.Errorf("could not disable trigger: %w", err)
	}
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := srv.close()
	if err != nil {
		ctx.Msg.Errorf("could not close session: %+v", err)
		return fmt.Errorf("could not close session: %w", err)
	}
	return nil
}
