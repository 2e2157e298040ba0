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
	"strconv"

	"github.com/lukasdietrich/fauxmail/internal/textproto"
)

// reply is a possibly multi-line server response. All but the last line are written with a
// hyphen after the code.
type reply struct {
	code  int
	lines []string
}

func (r *reply) writeTo(w textproto.Writer) error {
	code := strconv.Itoa(r.code)

	for i, line := range r.lines {
		separator := "-"
		if i == len(r.lines)-1 {
			separator = " "
		}

		w.WriteString(code)
		w.WriteString(separator)
		w.WriteString(line)
		w.Endline()
	}

	return w.Flush()
}
