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

package smtp

import (
	"net"
	"time"

	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/smtp/hook"
	"github.com/lukasdietrich/fauxmail/internal/textproto"
)

type sessionState uint

const (
	sGreeting sessionState = iota
	sReady
	sMailFrom
	sRcptTo
	sData
	sClosed
)

func (s sessionState) String() string {
	return [...]string{
		"greeting",
		"ready",
		"mailFrom",
		"rcptTo",
		"data",
		"closed",
	}[s]
}

type session struct {
	textproto.Conn

	state         sessionState
	envelope      delivery.Envelope
	headers       []hook.HeaderField
	extended      bool
	authenticated bool

	idleTimeout time.Duration
}

func newSession(c textproto.Conn, idleTimeout time.Duration) *session {
	return &session{
		Conn:  c,
		state: sGreeting,
		envelope: delivery.Envelope{
			Addr: remoteIP(c.RemoteAddr()),
		},
		idleTimeout: idleTimeout,
	}
}

// reset clears the mail transaction. The greeting and authentication are kept.
func (s *session) reset() {
	s.envelope.From = models.ZeroAddress
	s.envelope.To = nil
	s.envelope.Date = time.Time{}
	s.headers = nil
}

func (s *session) reply(code int, lines ...string) error {
	if err := s.SetWriteTimeout(s.idleTimeout); err != nil {
		return err
	}

	log.TraceContext(s.Context()).
		Int("code", code).
		Strs("lines", lines).
		Msg("reply")

	r := reply{code: code, lines: lines}
	return r.writeTo(s)
}

func (s *session) read(c *command) error {
	if err := s.SetReadTimeout(s.idleTimeout); err != nil {
		return err
	}

	return c.readFrom(s)
}

func (s *session) readLine() ([]byte, error) {
	if err := s.SetReadTimeout(s.idleTimeout); err != nil {
		return nil, err
	}

	return s.ReadLine()
}

func remoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	}

	if addr == nil {
		return nil
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}

	return net.ParseIP(host)
}
