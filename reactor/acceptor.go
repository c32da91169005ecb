// Copyright 2023 Kami
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reactor

import (
	"math/rand/v2"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/govoltron/turtleserver/internal/logx"
	"github.com/govoltron/turtleserver/netaddr"
	"github.com/govoltron/turtleserver/poller"
	"github.com/govoltron/turtleserver/sock"
)

// Acceptor owns the listening socket and dispatches freshly accepted peers
// to a uniformly random worker reactor (§4.4 "uniform random dispatch, not
// round robin — round robin correlates badly with bursty short-lived
// connections").
type Acceptor struct {
	conn    *Conn
	workers []*Reactor
	log     *logx.Logger

	onAccept func(*Conn)
	onHandle func(*Conn)

	dispatched []atomic.Int64
}

// NewAcceptor binds and listens on bindAddr, registers the listening
// connection with listener, and prepares dispatch across workers. Callers
// must still set on_accept/on_handle (SetOnAccept/SetOnHandle) before
// starting the listener's loop.
func NewAcceptor(listener *Reactor, workers []*Reactor, bindAddr netaddr.Address, log *logx.Logger) (*Acceptor, error) {
	s, err := sock.New(bindAddr.Protocol())
	if err != nil {
		return nil, err
	}
	if err := s.Bind(bindAddr, true); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Listen(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.SetNonBlocking(); err != nil {
		s.Close()
		return nil, err
	}

	conn := newConn(kindAcceptor, s, log)
	conn.SetEvents(poller.Readable)

	a := &Acceptor{
		conn:       conn,
		workers:    workers,
		log:        log,
		dispatched: make([]atomic.Int64, len(workers)),
	}
	a.SetOnAccept(func(*Conn) {})
	a.SetOnHandle(func(*Conn) {})

	if err := listener.AddAcceptor(conn); err != nil {
		s.Close()
		return nil, err
	}
	return a, nil
}

// SetOnAccept installs the user's on_accept callback, invoked once per
// base accept loop (not once per accepted connection) with the listener
// connection itself, after the loop has drained every pending connection
// (§4.4 "base accept callback", "with the listener connection, not the new
// client connection").
func (a *Acceptor) SetOnAccept(fn func(*Conn)) {
	a.onAccept = fn
	a.conn.SetHandler(func(listenerConn *Conn) {
		a.baseAcceptCallback(listenerConn)
	})
}

// SetOnHandle installs the user's on_handle callback, composed after the
// base handle callback that refreshes the connection's inactivity timer
// before every invocation (§4.4, §4.6).
func (a *Acceptor) SetOnHandle(fn func(*Conn)) {
	a.onHandle = fn
}

// baseAcceptCallback drains every connection pending on the listening
// socket (looping until EAGAIN, the optional accept-loop batching
// enhancement from §9's design notes) and dispatches each to a uniformly
// random worker.
func (a *Acceptor) baseAcceptCallback(listenerConn *Conn) {
	for {
		peer, addr, err := listenerConn.Socket().Accept()
		if err != nil {
			if err != unix.EAGAIN {
				if a.log != nil {
					a.log.Warningf("accept failed: %v", err)
				}
			}
			break
		}
		if err := peer.SetNonBlocking(); err != nil {
			if a.log != nil {
				a.log.Warningf("set non-blocking on accepted fd=%d: %v", peer.Fd(), err)
			}
			peer.Close()
			continue
		}

		client := newConn(kindClient, peer, a.log)
		client.addr = addr
		client.SetEvents(poller.Readable | poller.EdgeTriggered)

		idx := rand.IntN(len(a.workers))
		client.SetHandler(a.dispatchHandle(idx))

		if a.log != nil {
			a.log.Infof("accepted fd=%d from %s, dispatching to worker %d", client.Fd(), addr, idx)
		}

		worker := a.workers[idx]
		if err := worker.AddConnection(client); err != nil {
			if a.log != nil {
				a.log.Errorf("failed to register accepted fd=%d on worker %d: %v", client.Fd(), idx, err)
			}
			peer.Close()
			continue
		}
		a.dispatched[idx].Inc()
	}
	a.onAccept(listenerConn)
}

// dispatchHandle returns the composed per-connection handler: refresh the
// inactivity timer, then call the user's on_handle.
func (a *Acceptor) dispatchHandle(workerIdx int) func(*Conn) {
	return func(conn *Conn) {
		if r := conn.Reactor(); r != nil {
			r.RefreshConnection(conn.Fd())
		}
		a.onHandle(conn)
	}
}

// DispatchCounts reports how many connections have been handed to each
// worker, in worker order, for introspection and testing the uniform
// random distribution property (§9 "debug accessors").
func (a *Acceptor) DispatchCounts() []int64 {
	counts := make([]int64, len(a.dispatched))
	for i := range a.dispatched {
		counts[i] = a.dispatched[i].Load()
	}
	return counts
}
