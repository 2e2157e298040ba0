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

package textproto

import (
	"bufio"
	"io"
)

// maxLineLength is far above the 1000 octets of RFC#5321 4.5.3.1.6, so that sloppy clients
// sending long body lines are not cut off.
const maxLineLength = 1 << 20

// Reader is a line based reader.
type Reader interface {
	// ReadLine reads a single line without the trailing <CR> <LF>. The returned slice is only
	// valid until the next call.
	ReadLine() ([]byte, error)

	// DotReader returns an io.Reader, which decodes a dot-encoded sequence of lines. The reader
	// returns io.EOF once the final dot line is consumed.
	DotReader() io.Reader
}

type reader struct {
	buffer *bufio.Scanner
}

func newReader(r io.Reader) *reader {
	buffer := bufio.NewScanner(r)
	buffer.Buffer(make([]byte, 4096), maxLineLength)

	return &reader{
		buffer: buffer,
	}
}

func (r *reader) ReadLine() ([]byte, error) {
	if !r.buffer.Scan() {
		if err := r.buffer.Err(); err != nil {
			return nil, err
		}

		return nil, io.EOF
	}

	return r.buffer.Bytes(), nil
}

func (r *reader) DotReader() io.Reader {
	return &dotReader{r: r}
}
