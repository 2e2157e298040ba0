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
	"fmt"
	"io"

	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

var (
	errCloseSession  = errors.New("pop3: session closed")
	errBadSequence   = errors.New("pop3: bad sequence of commands")
	errInvalidSyntax = errors.New("pop3: invalid syntax")
)

var rNoMessage = reply{false, "no such message"}

type handler func(context.Context, *session, *command) error

// `USER` command as specified in RFC#1939
//
//     "USER" <name> CRLF
func user() handler {
	rOk := reply{true, "send your password"}

	return func(_ context.Context, s *session, c *command) error {
		if !s.state.in(sInit, sUser) {
			return errBadSequence
		}

		if len(c.args) != 1 {
			return errInvalidSyntax
		}

		s.name = string(c.args[0])
		s.state = sUser

		return s.send(&rOk)
	}
}

// `PASS` command as specified in RFC#1939
//
//     "PASS" <password> CRLF
func pass(l *locks, authenticator delivery.Authenticator, store storage.Store) handler {
	var (
		rOk        = reply{true, "maildrop locked and ready"}
		rWrongPass = reply{false, "invalid credentials"}
		rLocked    = reply{false, "maildrop already locked"}
	)

	return func(ctx context.Context, s *session, c *command) error {
		if !s.state.in(sUser) {
			return errBadSequence
		}

		if len(c.args) != 1 {
			return errInvalidSyntax
		}

		if err := authenticator.Auth(ctx, []byte(s.name), c.args[0]); err != nil {
			if errors.Is(err, delivery.ErrWrongCredentials) {
				s.state = sInit
				return s.send(&rWrongPass)
			}

			return err
		}

		lockKey := models.NormalizeName(s.name)

		if !l.lock(lockKey) {
			log.InfoContext(ctx).
				Str("name", s.name).
				Msg("maildrop already locked")

			s.state = sInit
			return s.send(&rLocked)
		}

		maildrop, err := openMaildrop(ctx, store)
		if err != nil {
			l.unlock(lockKey)
			return err
		}

		s.lockKey = lockKey
		s.maildrop = maildrop
		s.state = sTransaction

		log.InfoContext(ctx).
			Str("name", s.name).
			Int("count", maildrop.count()).
			Msg("maildrop opened")

		return s.send(&rOk)
	}
}

// `QUIT` command as specified in RFC#1939
//
//     "QUIT" CRLF
//
// Messages marked as deleted are removed from the store when a transaction ends with QUIT.
func quit(store storage.Store) handler {
	return func(ctx context.Context, s *session, _ *command) error {
		if s.state.in(sTransaction) {
			for _, id := range s.maildrop.marked() {
				if err := store.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
					return err
				}
			}

			log.InfoContext(ctx).
				Int("deleted", len(s.maildrop.marks)).
				Msg("maildrop updated")
		}

		return errCloseSession
	}
}

// `STAT` command as specified in RFC#1939
//
//     "STAT" CRLF
func stat() handler {
	return func(_ context.Context, s *session, _ *command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		return s.send(&reply{
			true,
			fmt.Sprintf("%d %d", s.maildrop.count(), s.maildrop.size()),
		})
	}
}

// `LIST` command as specified in RFC#1939
//
//     "LIST" [ msg ] CRLF
func list() handler {
	return func(_ context.Context, s *session, c *command) error {
		return listing(s, c, func(e entry) string {
			return fmt.Sprintf("%d", e.size)
		}, func() string {
			return fmt.Sprintf("%d messages (%d octets)", s.maildrop.count(), s.maildrop.size())
		})
	}
}

// `UIDL` command as specified in RFC#1939
//
//     "UIDL" [ msg ] CRLF
func uidl() handler {
	return func(_ context.Context, s *session, c *command) error {
		return listing(s, c, func(e entry) string {
			return fmt.Sprintf("%d", e.id)
		}, func() string {
			return "unique-id listing follows"
		})
	}
}

// listing writes either a single line for the message given as argument or a multi-line
// listing of all messages not marked as deleted.
func listing(s *session, c *command, column func(entry) string, header func() string) error {
	if !s.state.in(sTransaction) {
		return errBadSequence
	}

	switch len(c.args) {
	case 0:
		if err := s.send(&reply{true, header()}); err != nil {
			return err
		}

		for i, e := range s.maildrop.entries {
			if s.maildrop.marks[i+1] {
				continue
			}

			s.WriteString(fmt.Sprintf("%d %s", i+1, column(e)))
			s.Endline()
		}

		s.WriteString(".")
		s.Endline()

		return s.Flush()

	case 1:
		n, err := c.parseNumberArg(0)
		if err != nil {
			return err
		}

		e, ok := s.maildrop.get(n)
		if !ok {
			return s.send(&rNoMessage)
		}

		return s.send(&reply{true, fmt.Sprintf("%d %s", n, column(e))})

	default:
		return errInvalidSyntax
	}
}

// `RETR` command as specified in RFC#1939
//
//     "RETR" <msg> CRLF
func retr(store storage.Store) handler {
	return func(ctx context.Context, s *session, c *command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		if len(c.args) != 1 {
			return errInvalidSyntax
		}

		n, err := c.parseNumberArg(0)
		if err != nil {
			return err
		}

		e, ok := s.maildrop.get(n)
		if !ok {
			return s.send(&rNoMessage)
		}

		r, err := store.Raw(ctx, e.id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return s.send(&rNoMessage)
			}

			return err
		}

		defer r.Close()

		if err := s.send(&reply{true, fmt.Sprintf("%d octets", e.size)}); err != nil {
			return err
		}

		w := s.DotWriter()

		if _, err := io.Copy(w, r); err != nil {
			return err
		}

		if err := w.Close(); err != nil {
			return err
		}

		return s.Flush()
	}
}

// `DELE` command as specified in RFC#1939
//
//     "DELE" <msg> CRLF
func dele() handler {
	rOk := reply{true, "message marked as deleted"}

	return func(_ context.Context, s *session, c *command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		if len(c.args) != 1 {
			return errInvalidSyntax
		}

		n, err := c.parseNumberArg(0)
		if err != nil {
			return err
		}

		if _, ok := s.maildrop.get(n); !ok {
			return s.send(&rNoMessage)
		}

		s.maildrop.mark(n)
		return s.send(&rOk)
	}
}

// `NOOP` command as specified in RFC#1939
//
//     "NOOP" CRLF
func noop() handler {
	rOk := reply{true, ""}

	return func(_ context.Context, s *session, _ *command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		return s.send(&rOk)
	}
}

// `RSET` command as specified in RFC#1939
//
//     "RSET" CRLF
func rset() handler {
	return func(_ context.Context, s *session, _ *command) error {
		if !s.state.in(sTransaction) {
			return errBadSequence
		}

		s.maildrop.reset()

		return s.send(&reply{
			true,
			fmt.Sprintf("maildrop has %d messages (%d octets)", s.maildrop.count(), s.maildrop.size()),
		})
	}
}

// `CAPA` command as specified in RFC#2449
//
//     "CAPA" CRLF
func capa(capabilities ...string) handler {
	rOk := reply{true, "capability list follows"}

	return func(_ context.Context, s *session, _ *command) error {
		if err := s.send(&rOk); err != nil {
			return err
		}

		for _, capability := range capabilities {
			s.WriteString(capability)
			s.Endline()
		}

		s.WriteString(".")
		s.Endline()

		return s.Flush()
	}
}
