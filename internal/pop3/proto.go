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

package pop3

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/storage"
	"github.com/lukasdietrich/fauxmail/internal/textproto"
)

func init() {
	viper.SetDefault("pop3.enable", false)
	viper.SetDefault("pop3.address", "127.0.0.1:1110")
	viper.SetDefault("pop3.idletimeout", "10m")
}

// Options configures the pop3 protocol.
type Options struct {
	Enable      bool
	Address     string
	Hostname    string
	IdleTimeout time.Duration
}

// OptionsFromViper reads the pop3 options.
func OptionsFromViper() Options {
	return Options{
		Enable:      viper.GetBool("pop3.enable"),
		Address:     viper.GetString("pop3.address"),
		Hostname:    viper.GetString("general.hostname"),
		IdleTimeout: viper.GetDuration("pop3.idletimeout"),
	}
}

// Proto is a pop3 protocol implementation serving every captured message as one shared
// maildrop.
type Proto struct {
	opts       Options
	locks      *locks
	handlerMap map[string]handler
}

// New creates a new Protocol instance to be used with a textproto Server
func New(opts Options, authenticator delivery.Authenticator, store storage.Store) *Proto {
	locks := newLocks()

	return &Proto{
		opts:  opts,
		locks: locks,
		handlerMap: map[string]handler{
			"capa": capa(
				"USER",
				"UIDL",
				"PIPELINING",
				"IMPLEMENTATION fauxmail"),

			"user": user(),
			"pass": pass(locks, authenticator, store),

			"stat": stat(),
			"list": list(),
			"uidl": uidl(),
			"retr": retr(store),
			"dele": dele(),

			"noop": noop(),
			"rset": rset(),
			"quit": quit(store),
		},
	}
}

var (
	rBye            = reply{true, "closing transmission channel"}
	rTimeout        = reply{false, "timed out"}
	rError          = reply{false, "action aborted: local error in processing"}
	rNotImplemented = reply{false, "command not implemented"}
	rBadSequence    = reply{false, "bad sequence of commands"}
	rInvalidSyntax  = reply{false, "invalid syntax"}
)

// Handle accepts a pop3 connection and handles all incoming commands in a loop until the
// transmission is closed.
func (p *Proto) Handle(c textproto.Conn) {
	s := &session{
		Conn:        c,
		state:       sInit,
		idleTimeout: p.opts.IdleTimeout,
	}

	ctx := log.WithOrigin(c.Context(), "pop3")
	log.InfoContext(ctx).Msg("starting session")

	if err := s.send(&reply{true, p.opts.Hostname + " POP3 fauxmail ready"}); err != nil {
		return
	}

	err := p.loop(ctx, s)

	switch {
	case err == nil, errors.Is(err, errCloseSession):
		log.InfoContext(ctx).Msg("session closed")
		s.send(&rBye)

	case errors.Is(err, io.EOF):
		log.InfoContext(ctx).Msg("session closed by client")

	case isTimeout(err):
		log.InfoContext(ctx).Msg("session timed out")
		s.send(&rTimeout)

	case ctx.Err() != nil:
		log.InfoContext(ctx).Msg("session closed by shutdown")

	default:
		log.ErrorContext(ctx).
			Err(err).
			Msg("session closed with an error")

		s.send(&rError)
	}

	if s.state == sTransaction {
		log.DebugContext(ctx).
			Str("name", s.name).
			Msg("unlocking maildrop")

		p.locks.unlock(s.lockKey)
	}
}

func (p *Proto) loop(ctx context.Context, s *session) error {
	var cmd command

	for {
		if err := s.read(&cmd); err != nil {
			return err
		}

		ctx := log.WithCommand(ctx, cmd.name)
		h, ok := p.handlerMap[cmd.name]

		if !ok {
			log.DebugContext(ctx).Msg("command not implemented")

			if err := s.send(&rNotImplemented); err != nil {
				return err
			}

			continue
		}

		if err := h(ctx, s, &cmd); err != nil {
			if errors.Is(err, errCloseSession) {
				return err
			}

			log.DebugContext(ctx).
				Err(err).
				Msg("error during command")

			switch {
			case errors.Is(err, errBadSequence):
				if err := s.send(&rBadSequence); err != nil {
					return err
				}

			case errors.Is(err, errInvalidSyntax):
				if err := s.send(&rInvalidSyntax); err != nil {
					return err
				}

			default:
				return err
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
