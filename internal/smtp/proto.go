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
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/smtp/hook"
	"github.com/lukasdietrich/fauxmail/internal/textproto"
)

func init() {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	viper.SetDefault("general.hostname", hostname)
	viper.SetDefault("smtp.address", "127.0.0.1:1025")
	viper.SetDefault("smtp.idletimeout", "5m")
	viper.SetDefault("smtp.datatimeout", "10m")
	viper.SetDefault("smtp.maxrecipients", 100)
	viper.SetDefault("mail.sizelimit", "10mb")
}

// Options configure the smtp protocol.
type Options struct {
	Address       string
	Hostname      string
	MaxSize       int64
	MaxRecipients int
	IdleTimeout   time.Duration
	DataTimeout   time.Duration
}

// OptionsFromViper returns the smtp options configured in viper.
func OptionsFromViper() Options {
	return Options{
		Address:       viper.GetString("smtp.address"),
		Hostname:      viper.GetString("general.hostname"),
		MaxSize:       int64(viper.GetSizeInBytes("mail.sizelimit")),
		MaxRecipients: viper.GetInt("smtp.maxrecipients"),
		IdleTimeout:   viper.GetDuration("smtp.idletimeout"),
		DataTimeout:   viper.GetDuration("smtp.datatimeout"),
	}
}

// Proto is a smtp server protocol implementation.
type Proto struct {
	opts  Options
	table map[sessionState]map[verb]handler
}

// New creates a new Protocol instance to be used with a textproto Server.
func New(
	opts Options,
	authenticator delivery.Authenticator,
	mailman *delivery.Mailman,
	fromHooks []hook.FromHook,
) *Proto {
	if opts.MaxRecipients <= 0 {
		opts.MaxRecipients = 100
	}

	var (
		heloHandler = helo(opts.Hostname)
		ehloHandler = ehlo(opts.Hostname, opts.MaxSize, authenticator)
	)

	// commands accepted in every state before the connection is closed
	always := map[verb]handler{
		vHelo:     heloHandler,
		vEhlo:     ehloHandler,
		vNoop:     noop(),
		vRset:     rset(),
		vQuit:     quit(),
		vVrfy:     vrfy(),
		vHelp:     help(),
		vExpn:     notImplemented(),
		vStarttls: notImplemented(),
	}

	return &Proto{
		opts: opts,
		table: map[sessionState]map[verb]handler{
			sGreeting: always,
			sReady: with(always, map[verb]handler{
				vAuth: auth(authenticator),
				vMail: mail(authenticator, opts.MaxSize, fromHooks),
			}),
			sMailFrom: with(always, map[verb]handler{
				vRcpt: rcpt(opts.MaxRecipients),
			}),
			sRcptTo: with(always, map[verb]handler{
				vRcpt: rcpt(opts.MaxRecipients),
				vData: data(opts.Hostname, mailman, opts.MaxSize, opts.DataTimeout),
			}),
		},
	}
}

func with(base, extra map[verb]handler) map[verb]handler {
	merged := make(map[verb]handler, len(base)+len(extra))

	for v, h := range base {
		merged[v] = h
	}

	for v, h := range extra {
		merged[v] = h
	}

	return merged
}

// Handle accepts an smtp connection and handles all incoming commands in a loop until the
// transmission is closed.
func (p *Proto) Handle(c textproto.Conn) {
	s := newSession(c, p.opts.IdleTimeout)
	ctx := log.WithOrigin(c.Context(), "smtp")

	log.InfoContext(ctx).Msg("starting session")

	if err := s.reply(220, p.opts.Hostname+" ESMTP fauxmail ready"); err != nil {
		return
	}

	err := p.loop(ctx, s)
	s.state = sClosed

	switch {
	case err == nil, errors.Is(err, errCloseSession):
		log.InfoContext(ctx).Msg("session closed")
		s.reply(221, "2.0.0 closing transmission channel")

	case errors.Is(err, io.EOF):
		log.InfoContext(ctx).Msg("session closed by client")

	case isTimeout(err):
		log.InfoContext(ctx).Msg("session timed out")
		s.reply(421, "4.4.2 "+p.opts.Hostname+" idle timeout, closing transmission channel")

	case ctx.Err() != nil:
		log.InfoContext(ctx).Msg("session closed by shutdown")

	default:
		log.ErrorContext(ctx).
			Err(err).
			Msg("session closed with an error")

		s.reply(421, "4.3.0 local error in processing, closing transmission channel")
	}
}

func (p *Proto) loop(ctx context.Context, s *session) error {
	var cmd command

	for {
		if err := s.read(&cmd); err != nil {
			return err
		}

		ctx := log.WithCommand(ctx, cmd.verb.String())

		if cmd.verb == vUnknown {
			log.DebugContext(ctx).
				Bytes("head", cmd.head).
				Msg("command not recognized")

			if err := s.reply(500, "5.5.2 command not recognized"); err != nil {
				return err
			}

			continue
		}

		var err error

		if h := p.table[s.state][cmd.verb]; h != nil {
			err = h(ctx, s, &cmd)
		} else {
			err = errBadSequence
		}

		if err != nil {
			if errors.Is(err, errCloseSession) {
				return err
			}

			log.DebugContext(ctx).
				Err(err).
				Msg("error during command")

			if err := handleError(s, err); err != nil {
				return err
			}
		}
	}
}

func handleError(s *session, err error) error {
	var smtpErr smtpError
	if errors.As(err, &smtpErr) {
		return s.reply(smtpErr.code, smtpErr.text)
	}

	switch {
	case errors.Is(err, errBadSequence):
		return s.reply(503, "5.5.1 bad sequence of commands")

	case errors.Is(err, errNotImplemented):
		return s.reply(502, "5.5.1 command not implemented")

	case errors.Is(err, errCommandSyntax):
		return s.reply(501, "5.5.4 syntax error in parameters or arguments")

	case errors.Is(err, errAuthCancelled):
		return s.reply(501, "5.0.0 authentication cancelled")

	case errors.Is(err, errAuthRequired):
		return s.reply(530, "5.7.0 authentication required")

	case errors.Is(err, delivery.ErrWrongCredentials):
		return s.reply(535, "5.7.8 authentication credentials invalid")

	case errors.Is(err, models.ErrInvalidAddressFormat):
		return s.reply(553, "5.1.3 invalid address format")

	case errors.Is(err, models.ErrPathTooLong):
		return s.reply(501, "5.5.4 path too long")
	}

	return err
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
