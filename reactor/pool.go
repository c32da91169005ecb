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
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/govoltron/turtleserver/internal/logx"
	"github.com/govoltron/turtleserver/netaddr"
)

// Pool assembles the listener reactor, the worker reactors and the acceptor
// that ties them together — one OS thread's worth of work per reactor,
// translated here as one goroutine per reactor (§5, §9 "one goroutine per
// reactor is this framework's translation of one OS thread per reactor").
//
// The synchronized-start pattern below (every worker goroutine blocks on a
// shared signal channel before entering its loop) is adapted from the
// original service bootstrap's wait-group-gated goroutine start.
type Pool struct {
	listener *Reactor
	workers  []*Reactor
	acceptor *Acceptor
	log      *logx.Logger

	wg           sync.WaitGroup
	listenerDone chan struct{}
}

// NewPool builds a listener reactor, workerCount worker reactors (each with
// its own timer wheel for inactivityTimeout when that is positive; none when
// it is zero), and the acceptor that dispatches across them.
func NewPool(bindAddr netaddr.Address, workerCount int, pollTimeoutMs int, inactivityTimeout time.Duration, log *logx.Logger) (*Pool, error) {
	if workerCount <= 0 {
		workerCount = 1
	}

	listener, err := New("listener", pollTimeoutMs, 0, log)
	if err != nil {
		return nil, err
	}

	workers := make([]*Reactor, workerCount)
	for i := range workers {
		w, err := New(fmt.Sprintf("worker-%d", i), pollTimeoutMs, inactivityTimeout, log)
		if err != nil {
			listener.Close()
			for _, built := range workers[:i] {
				built.Close()
			}
			return nil, err
		}
		workers[i] = w
	}

	acceptor, err := NewAcceptor(listener, workers, bindAddr, log)
	if err != nil {
		listener.Close()
		for _, w := range workers {
			w.Close()
		}
		return nil, err
	}

	return &Pool{
		listener:     listener,
		workers:      workers,
		acceptor:     acceptor,
		log:          log,
		listenerDone: make(chan struct{}),
	}, nil
}

// Addr reports the address the listening socket is actually bound to,
// resolving an ephemeral bind port (bindAddr's port 0) to the one the
// kernel assigned.
func (p *Pool) Addr() (netaddr.Address, error) {
	return p.acceptor.conn.Socket().LocalAddr()
}

// OnAccept installs the user's on_accept callback.
func (p *Pool) OnAccept(fn func(*Conn)) { p.acceptor.SetOnAccept(fn) }

// OnHandle installs the user's on_handle callback. Mandatory before Begin.
func (p *Pool) OnHandle(fn func(*Conn)) { p.acceptor.SetOnHandle(fn) }

// Begin starts every worker reactor's loop on its own goroutine, gated on
// one shared start signal, then runs the listener reactor's loop on the
// calling goroutine. Begin blocks until Shutdown calls SetExit on the
// listener (§6 "Begin(): blocks until set_exit").
func (p *Pool) Begin() error {
	defer close(p.listenerDone)

	signal := make(chan struct{})
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Reactor) {
			defer p.wg.Done()
			<-signal
			w.Loop()
		}(w)
	}
	close(signal)

	p.listener.Loop()
	return nil
}

// Shutdown signals every reactor to exit, waits for the worker goroutines
// to return, and closes every reactor (sockets, poller, timer source),
// joining every error encountered (§6 "Shutdown(ctx): ... joins every
// reactor's close error").
func (p *Pool) Shutdown() error {
	p.listener.SetExit()
	for _, w := range p.workers {
		w.SetExit()
	}
	p.wg.Wait()
	<-p.listenerDone

	var err error
	if e := p.listener.Close(); e != nil {
		err = multierr.Append(err, e)
	}
	for _, w := range p.workers {
		if e := w.Close(); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return err
}

// WorkerStats is one worker reactor's introspection snapshot.
type WorkerStats struct {
	Name        string
	Connections int
	Dispatched  int64
}

// Stats returns a snapshot of every worker's connection count and dispatch
// share, read by Server.Stats and by this package's own tests to assert the
// uniform-random-dispatch property (§9).
func (p *Pool) Stats() []WorkerStats {
	counts := p.acceptor.DispatchCounts()
	stats := make([]WorkerStats, len(p.workers))
	for i, w := range p.workers {
		stats[i] = WorkerStats{
			Name:        w.name,
			Connections: w.ConnectionCount(),
			Dispatched:  counts[i],
		}
	}
	return stats
}
