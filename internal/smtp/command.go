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
	"bytes"
	"errors"
	"strings"

	"github.com/lukasdietrich/fauxmail/internal/textproto"
)

var (
	errCommandSyntax = errors.New("command: invalid syntax")
)

// command represents a command-line of the form:
//
//     <head> <SP> <tail> <CR> <LF>
//
// head and tail point into the buffer of the reader and are only valid until the next line is
// read.
type command struct {
	verb verb
	head []byte
	tail []byte
}

func (c *command) readFrom(r textproto.Reader) error {
	line, err := r.ReadLine()
	if err != nil {
		return err
	}

	c.parse(line)
	return nil
}

// parse a line into head and tail of a command.
// tail will be nil if no space is found.
func (c *command) parse(line []byte) {
	space := bytes.IndexRune(line, ' ')

	if space < 0 {
		c.head = line
		c.tail = nil
	} else {
		c.head = line[:space]
		c.tail = bytes.TrimSpace(line[space+1:])
	}

	c.verb = parseVerb(c.head)
}

// args parses the tail of `MAIL` and `RCPT` commands:
//
//     <name> ":<" <address> ">" [ SP <key>[=<value>] ]*
//
// Parameter keys are returned in upper case.
func (c *command) args(name string) (arg string, params map[string]string, err error) {
	tail := c.tail

	if len(tail) < len(name)+1 || !bytes.EqualFold(tail[:len(name)], []byte(name)) {
		return "", nil, errCommandSyntax
	}

	tail = tail[len(name):]

	if tail[0] != ':' {
		return "", nil, errCommandSyntax
	}

	tail = bytes.TrimLeft(tail[1:], " ")

	if len(tail) == 0 || tail[0] != '<' {
		return "", nil, errCommandSyntax
	}

	end := bytes.IndexByte(tail, '>')
	if end < 0 {
		return "", nil, errCommandSyntax
	}

	arg = string(tail[1:end])
	params = make(map[string]string)

	for _, field := range bytes.Fields(tail[end+1:]) {
		key, value := string(field), ""

		if eq := strings.IndexByte(key, '='); eq >= 0 {
			key, value = key[:eq], key[eq+1:]
		}

		params[strings.ToUpper(key)] = value
	}

	return arg, params, nil
}
