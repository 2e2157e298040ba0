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
)

// verb is the closed set of commands known to the server.
type verb int

const (
	vUnknown verb = iota
	vHelo
	vEhlo
	vAuth
	vMail
	vRcpt
	vData
	vRset
	vNoop
	vQuit
	vVrfy
	vExpn
	vHelp
	vStarttls
)

var verbNames = [...]string{
	vUnknown:  "unknown",
	vHelo:     "helo",
	vEhlo:     "ehlo",
	vAuth:     "auth",
	vMail:     "mail",
	vRcpt:     "rcpt",
	vData:     "data",
	vRset:     "rset",
	vNoop:     "noop",
	vQuit:     "quit",
	vVrfy:     "vrfy",
	vExpn:     "expn",
	vHelp:     "help",
	vStarttls: "starttls",
}

func (v verb) String() string {
	return verbNames[v]
}

func parseVerb(head []byte) verb {
	name := string(bytes.ToLower(head))

	for v, verbName := range verbNames {
		if verb(v) != vUnknown && verbName == name {
			return verb(v)
		}
	}

	return vUnknown
}
