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
	"net"
	"time"
)

// Conn is a wrapper around a network connection to enable line based reading
// and buffered writing.
type Conn interface {
	Reader
	Writer

	// Context returns the context of the connection. It carries the connection id for logging
	// and is cancelled once the server shuts down.
	Context() context.Context

	// RemoteAddr returns the address of the connected client.
	RemoteAddr() net.Addr

	// SetReadTimeout sets the deadline for read calls to a time now + x. A non-positive x
	// removes the deadline.
	SetReadTimeout(time.Duration) error

	// SetWriteTimeout sets the deadline for write calls to a time now + x. A non-positive x
	// removes the deadline.
	SetWriteTimeout(time.Duration) error
}

type conn struct {
	raw net.Conn
	ctx context.Context

	*reader
	*writer
}

// WrapConn wraps a network connection. The connection stays owned by the caller.
func WrapConn(ctx context.Context, netConn net.Conn) Conn {
	return wrapConn(ctx, netConn)
}

func wrapConn(ctx context.Context, netConn net.Conn) *conn {
	return &conn{
		raw: netConn,
		ctx: ctx,

		reader: newReader(netConn),
		writer: newWriter(netConn),
	}
}

func (c *conn) Context() context.Context {
	return c.ctx
}

func (c *conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *conn) SetReadTimeout(d time.Duration) error {
	return c.raw.SetReadDeadline(deadline(d))
}

func (c *conn) SetWriteTimeout(d time.Duration) error {
	return c.raw.SetWriteDeadline(deadline(d))
}

func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}

	return time.Now().Add(d)
}
