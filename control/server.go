// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package control

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/backend"
	"github.com/katzenpost/mixvpn/core/worker"
	"github.com/katzenpost/mixvpn/manager"
	"github.com/katzenpost/mixvpn/trigger"
)

// Manager is the part of the tunnel manager served over the socket.
type Manager interface {
	Snapshot() manager.State
	AccountLinks(ctx context.Context) *backend.AccountLinks
}

// ActionHandler dispatches connect and disconnect actions.
type ActionHandler interface {
	Handle(action string) error
}

// Listener serves control requests on a unix domain socket.
type Listener struct {
	sync.Mutex
	worker.Worker

	log      *logging.Logger
	mgr      Manager
	actions  ActionHandler
	listener *net.UnixListener

	conns      map[uint64]*net.UnixConn
	nextConnID uint64
	closeAllCh chan interface{}
	closeAllWg sync.WaitGroup
}

// NewListener listens on the unix socket at path.  A stale socket file
// left behind by a previous instance is removed.
func NewListener(path string, mgr Manager, actions ActionHandler, log *logging.Logger) (*Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		log:        log,
		mgr:        mgr,
		actions:    actions,
		listener:   ln,
		conns:      make(map[uint64]*net.UnixConn),
		closeAllCh: make(chan interface{}),
	}
	l.Go(l.worker)
	return l, nil
}

// Addr returns the socket address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Halt closes the socket and every connection, and waits for them to
// finish.
func (l *Listener) Halt() {
	l.listener.Close()
	l.Worker.Halt()

	close(l.closeAllCh)
	l.Lock()
	for _, conn := range l.conns {
		conn.Close()
	}
	l.Unlock()
	l.closeAllWg.Wait()
}

func (l *Listener) worker() {
	addr := l.listener.Addr()
	l.log.Noticef("Listening on: %v", addr)
	defer func() {
		l.log.Noticef("Stopping listening on: %v", addr)
		l.listener.Close()
	}()
	for {
		conn, err := l.listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if e, ok := err.(net.Error); ok && !e.Timeout() {
				l.log.Errorf("Critical accept failure: %v", err)
				return
			}
			continue
		}
		l.log.Debugf("Accepted new connection")
		l.onNewConn(conn)
	}
}

func (l *Listener) onNewConn(conn *net.UnixConn) {
	l.Lock()
	defer l.Unlock()

	select {
	case <-l.closeAllCh:
		conn.Close()
		return
	default:
	}

	id := l.nextConnID
	l.nextConnID++
	l.conns[id] = conn
	l.closeAllWg.Add(1)
	go l.serve(id, conn)
}

func (l *Listener) onClosedConn(id uint64) {
	l.Lock()
	defer func() {
		l.Unlock()
		l.closeAllWg.Done()
	}()
	delete(l.conns, id)
}

func (l *Listener) serve(id uint64, conn *net.UnixConn) {
	defer func() {
		conn.Close()
		l.onClosedConn(id)
	}()

	ctx, cancel := l.Context(context.Background())
	defer cancel()

	for {
		req := new(Request)
		if err := readMessage(conn, req); err != nil {
			l.log.Debugf("Failed to read request: %v", err)
			return
		}
		resp := l.dispatch(ctx, req)
		if err := writeMessage(conn, resp); err != nil {
			l.log.Debugf("Failed to write response: %v", err)
			return
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, req *Request) *Response {
	l.log.Debugf("Request: %v", req.Action)
	resp := new(Response)
	switch req.Action {
	case trigger.ActionConnect, trigger.ActionDisconnect:
		if err := l.actions.Handle(req.Action); err != nil {
			resp.Err = err.Error()
			return resp
		}
		resp.Status = StatusFromState(l.mgr.Snapshot())
	case ActionStatus:
		resp.Status = StatusFromState(l.mgr.Snapshot())
	case ActionLinks:
		resp.Links = l.mgr.AccountLinks(ctx)
		if resp.Links == nil {
			resp.Err = "account links unavailable"
		}
	default:
		resp.Err = trigger.ErrUnknownAction.Error() + ": " + req.Action
	}
	return resp
}
