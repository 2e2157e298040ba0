// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package textproto

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/lukasdietrich/fauxmail/internal/log"
)

// Server is a general purpose tcp server for text based protocols like SMTP
// or POP3.
type Server interface {
	// Listen will open a new tcp listener and block until an error occurs or ctx is done.
	Listen(ctx context.Context, addr string) error

	// Serve accepts connections on l and blocks until an error occurs or ctx is done. Once ctx
	// is done, the listener and all open connections are closed and Serve waits for the
	// protocol handlers to return.
	Serve(ctx context.Context, l net.Listener) error
}

// Protocol is an interface for text based protocol implementations.
type Protocol interface {
	// Handle is supposed to consume a connection and manage all traffic
	// over it. Once Handle returns, the underlying network connection is
	// automatically closed by the server.
	Handle(Conn)
}

type server struct {
	proto   Protocol
	counter int32

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer returns a Server using a specified protocol implementation.
// The Server has to be started explicitly afterwards.
func NewServer(proto Protocol) Server {
	return &server{
		proto: proto,
		conns: make(map[net.Conn]struct{}),
	}
}

func (s *server) Listen(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, l)
}

func (s *server) Serve(ctx context.Context, l net.Listener) error {
	log.InfoContext(ctx).
		Stringer("addr", l.Addr()).
		Msg("listening")

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			l.Close()
			s.closeAll()
		case <-stop:
		}
	}()

	for {
		netConn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Temporary() { // nolint:staticcheck
				log.WarnContext(ctx).Err(err).Msg("temporary accept error")
				continue
			}

			l.Close()
			return err
		}

		if !s.track(netConn) {
			netConn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handle(ctx, netConn)
	}
}

func (s *server) handle(ctx context.Context, netConn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(netConn)

	ctx = log.WithConnection(ctx, atomic.AddInt32(&s.counter, 1))

	log.DebugContext(ctx).
		Stringer("remote", netConn.RemoteAddr()).
		Msg("accepted connection")

	s.proto.Handle(wrapConn(ctx, netConn))
}

// track registers a connection, unless the server is already shutting down.
func (s *server) track(netConn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns == nil {
		return false
	}

	s.conns[netConn] = struct{}{}
	return true
}

func (s *server) untrack(netConn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	netConn.Close()

	if s.conns != nil {
		delete(s.conns, netConn)
	}
}

func (s *server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for netConn := range s.conns {
		netConn.Close()
	}

	s.conns = nil
}
