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

package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lukasdietrich/fauxmail/internal/api"
	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/pop3"
	"github.com/lukasdietrich/fauxmail/internal/smtp"
	"github.com/lukasdietrich/fauxmail/internal/textproto"
)

type startCommand struct {
	SMTP        *smtp.Proto
	SMTPOptions smtp.Options
	POP3        *pop3.Proto
	POP3Options pop3.Options
	API         *api.Server
	Cleaner     *delivery.Cleaner
}

func (s *startCommand) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		log.Info().Stringer("signal", sig).Msg("received signal, shutting down")
		cancel()
	}()

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 3)
	)

	serve := func(fn func() error) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := fn(); err != nil {
				errs <- err
				cancel()
			}
		}()
	}

	serve(func() error {
		ctx := log.WithOrigin(ctx, "smtp")
		return textproto.NewServer(s.SMTP).Listen(ctx, s.SMTPOptions.Address)
	})

	serve(func() error {
		return s.API.Listen(log.WithOrigin(ctx, "http"))
	})

	if s.POP3Options.Enable {
		serve(func() error {
			ctx := log.WithOrigin(ctx, "pop3")
			return textproto.NewServer(s.POP3).Listen(ctx, s.POP3Options.Address)
		})
	}

	if s.Cleaner.Enabled() {
		wg.Add(1)

		go func() {
			defer wg.Done()
			s.Cleaner.Run(log.WithOrigin(ctx, "cleaner"))
		}()
	}

	wg.Wait()
	close(errs)

	log.Info().Msg("stopped")

	return <-errs
}
