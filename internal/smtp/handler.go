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
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"
	"strings"
	"time"

	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/smtp/hook"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

var (
	errCloseSession   = errors.New("smtp: session closed")
	errBadSequence    = errors.New("smtp: bad sequence of commands")
	errAuthRequired   = errors.New("smtp: authentication required")
	errNotImplemented = errors.New("smtp: command not implemented")
	errAuthCancelled  = errors.New("smtp: authentication cancelled")
)

type handler func(context.Context, *session, *command) error

type smtpError struct {
	code  int
	text  string
	cause error
}

func (e smtpError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%v: %d %s", e.cause, e.code, e.text)
	}

	return fmt.Sprintf("%d %s", e.code, e.text)
}

func (e smtpError) Unwrap() error {
	return e.cause
}

// `HELO` command as specified in RFC#5321 4.1.1.1
//
//     "HELO" SP <Domain> CRLF
func helo(hostname string) handler {
	return func(ctx context.Context, s *session, c *command) error {
		if len(c.tail) == 0 {
			return errCommandSyntax
		}

		greet(ctx, s, c, false)
		return s.reply(250, hostname)
	}
}

// `EHLO` command as specified in RFC#5321 4.1.1.1
//
//     "EHLO" SP <Domain OR address-literal> CRLF
func ehlo(hostname string, maxSize int64, authenticator delivery.Authenticator) handler {
	return func(ctx context.Context, s *session, c *command) error {
		if len(c.tail) == 0 {
			return errCommandSyntax
		}

		greet(ctx, s, c, true)

		lines := []string{
			hostname,
			fmt.Sprintf("SIZE %d", maxSize),
			"8BITMIME",
			"PIPELINING",
			"ENHANCEDSTATUSCODES",
		}

		if authenticator.Required() && !s.authenticated {
			lines = append(lines, "AUTH PLAIN LOGIN")
		}

		return s.reply(250, append(lines, "HELP")...)
	}
}

func greet(ctx context.Context, s *session, c *command, extended bool) {
	s.reset()
	s.state = sReady
	s.extended = extended
	s.envelope.Helo = string(c.tail)

	log.DebugContext(ctx).
		Str("hostname", s.envelope.Helo).
		Msg("resetting transaction state")
}

// `NOOP` command as specified in RFC#5321 4.1.1.9
//
//     "NOOP" [ SP String ] CRLF
func noop() handler {
	return func(_ context.Context, s *session, _ *command) error {
		return s.reply(250, "2.0.0 OK")
	}
}

// `RSET` command as specified in RFC#5321 4.1.1.5
//
//     "RSET" CRLF
func rset() handler {
	return func(ctx context.Context, s *session, _ *command) error {
		if s.state != sGreeting {
			s.state = sReady
		}

		s.reset()

		log.DebugContext(ctx).Msg("resetting transaction state")

		return s.reply(250, "2.0.0 OK")
	}
}

// `VRFY` command as specified in RFC#5321 4.1.1.6
//
//     "VRFY" SP String CRLF
func vrfy() handler {
	return func(_ context.Context, s *session, _ *command) error {
		return s.reply(252, "2.5.0 cannot verify, but will accept anything")
	}
}

// `HELP` command as specified in RFC#5321 4.1.1.8
//
//     "HELP" [ SP String ] CRLF
func help() handler {
	return func(_ context.Context, s *session, _ *command) error {
		return s.reply(214, "2.0.0 fauxmail captures everything and delivers nothing")
	}
}

// `QUIT` command as specified in RFC#5321 4.1.1.10
//
//     "QUIT" CRLF
func quit() handler {
	return func(ctx context.Context, s *session, _ *command) error {
		log.DebugContext(ctx).Msg("closing session")

		s.state = sClosed
		return errCloseSession
	}
}

// notImplemented is used for known commands like `EXPN` or `STARTTLS`, that are deliberately
// not supported.
func notImplemented() handler {
	return func(context.Context, *session, *command) error {
		return errNotImplemented
	}
}

// `MAIL` command as specified in RFC#5321 4.1.1.2
//
//     "MAIL FROM:<" <Reverse-path> ">" [ SP Parameters ] CRLF
func mail(authenticator delivery.Authenticator, maxSize int64, hooks []hook.FromHook) handler {
	return func(ctx context.Context, s *session, c *command) error {
		if authenticator.Required() && !s.authenticated {
			log.InfoContext(ctx).Msg("attempted mail transaction without authentication")
			return errAuthRequired
		}

		arg, params, err := c.args("FROM")
		if err != nil {
			return err
		}

		if arg == "" {
			return errCommandSyntax
		}

		from, err := models.Parse(arg)
		if err != nil {
			return err
		}

		if err := checkMaxSize(ctx, params, maxSize); err != nil {
			return err
		}

		if err := execFromHooks(ctx, s, from, hooks); err != nil {
			return err
		}

		s.envelope.From = from
		s.state = sMailFrom

		log.DebugContext(ctx).
			Stringer("from", from).
			Msg("beginning mail transaction")

		return s.reply(250, "2.1.0 OK")
	}
}

func checkMaxSize(ctx context.Context, params map[string]string, maxSize int64) error {
	// see RFC#1870 "6. The extended MAIL command"

	sizeParam, ok := params["SIZE"]
	if !ok {
		return nil
	}

	size, err := strconv.ParseInt(sizeParam, 10, 64)
	if err != nil || size < 0 {
		log.DebugContext(ctx).
			Str("size", sizeParam).
			Msg("invalid SIZE parameter")

		return errCommandSyntax
	}

	if maxSize > 0 && size > maxSize {
		log.InfoContext(ctx).
			Int64("size", size).
			Int64("maxSize", maxSize).
			Msg("requested SIZE parameter exceeding maximum configured size")

		return smtpError{code: 552, text: "5.3.4 message size exceeds fixed maximum message size"}
	}

	return nil
}

func execFromHooks(ctx context.Context, s *session, from models.Address, hooks []hook.FromHook) error {
	var headers []hook.HeaderField

	for _, hook := range hooks {
		result, err := hook(ctx, s.authenticated, s.envelope.Addr, from)
		if err != nil {
			return err
		}

		if result.Reject {
			return smtpError{code: result.Code, text: result.Text}
		}

		headers = append(headers, result.Headers...)
	}

	s.headers = headers
	return nil
}

// `RCPT` command as specified in RFC#5321 4.1.1.3
//
//     "RCPT TO:<" <Forward-path> ">" [ SP Parameters ] CRLF
func rcpt(maxRecipients int) handler {
	return func(ctx context.Context, s *session, c *command) error {
		arg, _, err := c.args("TO")
		if err != nil {
			return err
		}

		if len(s.envelope.To) >= maxRecipients {
			log.DebugContext(ctx).
				Int("recipientCount", len(s.envelope.To)).
				Msg("too many recipients")

			return smtpError{code: 452, text: "4.5.3 too many recipients"}
		}

		to, err := models.Parse(arg)
		if err != nil {
			return err
		}

		s.envelope.To = append(s.envelope.To, to)
		s.state = sRcptTo

		log.DebugContext(ctx).
			Stringer("to", to).
			Msg("recipient added")

		return s.reply(250, "2.1.5 OK")
	}
}

// `DATA` command as specified in RFC#5321 4.1.1.4
//
//     "DATA" CRLF
func data(hostname string, mailman *delivery.Mailman, maxSize int64, timeout time.Duration) handler {
	return func(ctx context.Context, s *session, _ *command) error {
		log.DebugContext(ctx).Msg("receiving mail content")

		if err := s.reply(354, "start mail input; end with <CRLF>.<CRLF>"); err != nil {
			return err
		}

		s.state = sData

		if err := s.SetReadTimeout(timeout); err != nil {
			return err
		}

		s.envelope.Date = time.Now()

		var (
			r  = s.DotReader()
			lr = r
		)

		if maxSize > 0 {
			// one byte more than allowed is enough to detect oversized content
			lr = &limitedReader{r, maxSize + 1}
		}

		body, err := ioutil.ReadAll(lr)
		if err != nil {
			if !errors.Is(err, errReaderLimitReached) {
				return err
			}

			// discard the remaining content to get back in sync with the client
			if _, err := io.Copy(ioutil.Discard, r); err != nil {
				return err
			}

			s.reset()
			s.state = sReady

			return smtpError{code: 552, text: "5.3.4 message size exceeds fixed maximum message size"}
		}

		prepender := newPrepender(1 + len(s.headers))
		prepender.prepend("Received", received(hostname, s))

		for _, header := range s.headers {
			prepender.prepend(header.Key, header.Value)
		}

		envelope := s.envelope
		envelope.Size = int64(len(body))

		s.reset()
		s.state = sReady

		log.InfoContext(ctx).Msg("committing mail transaction")

		message, err := mailman.Deliver(ctx, envelope, prepender.wrap(body))
		if err != nil {
			if errors.Is(err, storage.ErrStoreFull) {
				return smtpError{code: 452, text: "4.3.1 insufficient system storage", cause: err}
			}

			return smtpError{code: 451, text: "4.3.0 local error in processing", cause: err}
		}

		return s.reply(250, fmt.Sprintf("2.0.0 OK id=%d", message.ID))
	}
}

func received(hostname string, s *session) string {
	var b strings.Builder

	fmt.Fprintf(&b, "from %s", s.envelope.Helo)

	if s.envelope.Addr != nil {
		fmt.Fprintf(&b, " ([%s])", s.envelope.Addr)
	}

	fmt.Fprintf(&b, " by %s (fauxmail) with %s", hostname, protocolName(s))

	if len(s.envelope.To) == 1 {
		fmt.Fprintf(&b, " for <%s>", s.envelope.To[0])
	}

	fmt.Fprintf(&b, "; %s", s.envelope.Date.Format(time.RFC1123Z))

	return b.String()
}

// protocolName returns the "with" protocol type of RFC#3848.
func protocolName(s *session) string {
	switch {
	case s.authenticated:
		return "ESMTPA"
	case s.extended:
		return "ESMTP"
	default:
		return "SMTP"
	}
}

// `AUTH` command as specified in RFC#4954
//
//     "AUTH" SP <Mechanism> [ SP <Initial-Response> ] CRLF
func auth(authenticator delivery.Authenticator) handler {
	return func(ctx context.Context, s *session, c *command) error {
		if !authenticator.Required() {
			return smtpError{code: 503, text: "5.5.1 authentication not enabled"}
		}

		if s.authenticated {
			return smtpError{code: 503, text: "5.5.1 already authenticated"}
		}

		fields := strings.Fields(string(c.tail))
		if len(fields) == 0 || len(fields) > 2 {
			return errCommandSyntax
		}

		var initial string
		if len(fields) == 2 {
			initial = fields[1]
		}

		var (
			name, pass []byte
			err        error
		)

		switch strings.ToUpper(fields[0]) {
		case "PLAIN":
			name, pass, err = plainAuth(s, initial)
		case "LOGIN":
			name, pass, err = loginAuth(s, initial)
		default:
			return smtpError{code: 504, text: "5.5.4 unrecognized authentication type"}
		}

		if err != nil {
			return err
		}

		if err := authenticator.Auth(ctx, name, pass); err != nil {
			return err
		}

		s.authenticated = true

		log.InfoContext(ctx).
			Bytes("name", name).
			Msg("authenticated")

		return s.reply(235, "2.7.0 authentication successful")
	}
}

func plainAuth(s *session, initial string) (name, pass []byte, err error) {
	response := initial

	if response == "" {
		if response, err = challenge(s, ""); err != nil {
			return nil, nil, err
		}
	}

	b, err := decodeBase64(response)
	if err != nil {
		return nil, nil, err
	}

	switch fields := strings.Split(string(b), "\x00"); len(fields) {
	case 2:
		// <authentication-identity> NULLBYTE <password>
		return []byte(fields[0]), []byte(fields[1]), nil

	case 3:
		// <authorization-identity> NULLBYTE <authentication-identity> NULLBYTE <password>
		// the authorization identity must be empty or equal to the authentication identity

		if fields[0] != "" && fields[0] != fields[1] {
			return nil, nil, errCommandSyntax
		}

		return []byte(fields[1]), []byte(fields[2]), nil

	default:
		return nil, nil, errCommandSyntax
	}
}

func loginAuth(s *session, initial string) (name, pass []byte, err error) {
	response := initial

	if response == "" {
		if response, err = challenge(s, "VXNlcm5hbWU6"); err != nil {
			return nil, nil, err
		}
	}

	if name, err = decodeBase64(response); err != nil {
		return nil, nil, err
	}

	if response, err = challenge(s, "UGFzc3dvcmQ6"); err != nil {
		return nil, nil, err
	}

	if pass, err = decodeBase64(response); err != nil {
		return nil, nil, err
	}

	return name, pass, nil
}

// challenge sends a 334 continuation and reads the client response. A response of "*" cancels
// the exchange.
func challenge(s *session, text string) (string, error) {
	if err := s.reply(334, text); err != nil {
		return "", err
	}

	line, err := s.readLine()
	if err != nil {
		return "", err
	}

	response := strings.TrimSpace(string(line))
	if response == "*" {
		return "", errAuthCancelled
	}

	return response, nil
}

func decodeBase64(encoded string) ([]byte, error) {
	if encoded == "=" {
		return []byte{}, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errCommandSyntax
	}

	return decoded, nil
}
