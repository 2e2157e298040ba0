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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

const shellPageSize = 20

type shellCommand struct {
	Store   storage.Store
	Journal storage.Journal
}

func (s *shellCommand) run() error {
	shell := ishell.New()
	s.setupShell(shell)
	shell.Run()

	return nil
}

func (s *shellCommand) setupShell(shell *ishell.Shell) {
	shell.AddCmd(&ishell.Cmd{
		Name: "list",
		Help: "list captured messages: list [page] [search]",
		Func: s.wrapShellFunc(s.list),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "show",
		Help: "show a message: show <id>",
		Func: s.wrapShellFunc(s.show),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "delete",
		Help: "delete a message: delete <id>",
		Func: s.wrapShellFunc(s.delete),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "clear",
		Help: "delete all messages",
		Func: s.wrapShellFunc(s.clear),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "logs",
		Help: "show recent capture events: logs [limit]",
		Func: s.wrapShellFunc(s.logs),
	})
}

func (s *shellCommand) list(ctx shellContext) error {
	page := 1

	if len(ctx.shell.Args) > 0 {
		n, err := strconv.Atoi(ctx.arg(0))
		if err != nil || n < 1 {
			return errors.New("Usage: list [page] [search]")
		}

		page = n
	}

	var search string
	if len(ctx.shell.Args) > 1 {
		search = strings.Join(ctx.shell.Args[1:], " ")
	}

	messageSlice, total, err := s.Store.List(ctx, models.Query{
		Offset: (page - 1) * shellPageSize,
		Limit:  shellPageSize,
		Search: search,
	})

	if err != nil {
		return err
	}

	ctx.printf("\n(%d) Messages, page %d:\n", total, page)
	for _, message := range messageSlice {
		ctx.printf("\t%5d  %s  %-30s  %q\n",
			message.ID,
			message.ReceivedAt.Local().Format("2006-01-02 15:04:05"),
			message.From,
			message.Subject)
	}
	ctx.printf("\n")

	return nil
}

func (s *shellCommand) show(ctx shellContext) error {
	if !ctx.checkArgs(1) {
		return errors.New("Usage: show <id>")
	}

	id, err := ctx.id(0)
	if err != nil {
		return err
	}

	message, err := s.Store.Get(ctx, id)
	if err != nil {
		return err
	}

	ctx.printf("\nID:       %d\n", message.ID)
	ctx.printf("Source:   %s\n", message.Source)
	ctx.printf("Received: %s\n", message.ReceivedAt.Local().Format("2006-01-02 15:04:05"))
	ctx.printf("From:     %s\n", message.From)
	ctx.printf("To:       %s\n", strings.Join(message.To, ", "))
	ctx.printf("Subject:  %s\n", message.Subject)
	ctx.printf("Size:     %d\n", message.RawSize)

	for _, attachment := range message.Attachments {
		ctx.printf("Attached: [%d] %s (%s, %d bytes)\n",
			attachment.Index,
			attachment.Filename,
			attachment.ContentType,
			attachment.Size)
	}

	ctx.printf("\n%s\n\n", message.Body)

	return nil
}

func (s *shellCommand) delete(ctx shellContext) error {
	if !ctx.checkArgs(1) {
		return errors.New("Usage: delete <id>")
	}

	id, err := ctx.id(0)
	if err != nil {
		return err
	}

	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}

	ctx.printf("\n\tMessage %d deleted.\n\n", id)
	return nil
}

func (s *shellCommand) clear(ctx shellContext) error {
	if !ctx.checkArgs(0) {
		return errors.New("Usage: clear")
	}

	if err := s.Store.Clear(ctx); err != nil {
		return err
	}

	ctx.printf("\n\tAll messages deleted.\n\n")
	return nil
}

func (s *shellCommand) logs(ctx shellContext) error {
	limit := shellPageSize

	if len(ctx.shell.Args) > 0 {
		n, err := strconv.Atoi(ctx.arg(0))
		if err != nil || n < 1 {
			return errors.New("Usage: logs [limit]")
		}

		limit = n
	}

	events, err := s.Journal.Recent(ctx, limit)
	if err != nil {
		return err
	}

	ctx.printf("\n(%d) Events:\n", len(events))
	for _, event := range events {
		ctx.printf("\t%s  %-5s  %s\n",
			event.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			event.Level,
			event.Text)
	}
	ctx.printf("\n")

	return nil
}

type shellContext struct {
	context.Context
	shell *ishell.Context
}

func (c *shellContext) checkArgs(n int) bool {
	return len(c.shell.Args) == n
}

func (c *shellContext) arg(i int) string {
	return c.shell.Args[i]
}

func (c *shellContext) id(i int) (int64, error) {
	id, err := strconv.ParseInt(c.arg(i), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid message id %q", c.arg(i))
	}

	return id, nil
}

func (c *shellContext) printf(format string, v ...interface{}) {
	c.shell.Printf(format, v...)
}

func (s *shellCommand) wrapShellFunc(fn func(shellContext) error) func(*ishell.Context) {
	return func(shell *ishell.Context) {
		ctx := shellContext{
			Context: context.Background(),
			shell:   shell,
		}

		if err := fn(ctx); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				shell.Println("no such message")
				return
			}

			shell.Err(err)
		}
	}
}
