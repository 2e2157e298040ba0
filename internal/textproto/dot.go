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

// dotReader decodes the dot-encoding of RFC#5321 4.5.2. Every decoded line ends with <CR> <LF>.
type dotReader struct {
	r *reader

	buf     []byte
	pending []byte
	done    bool
}

func (d *dotReader) Read(b []byte) (int, error) {
	for len(d.pending) == 0 {
		if d.done {
			return 0, io.EOF
		}

		if err := d.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(b, d.pending)
	d.pending = d.pending[n:]

	return n, nil
}

func (d *dotReader) fill() error {
	line, err := d.r.ReadLine()
	if err != nil {
		if err == io.EOF {
			// the peer went away before the terminating dot line
			return io.ErrUnexpectedEOF
		}

		return err
	}

	if len(line) == 1 && line[0] == '.' {
		d.done = true
		return nil
	}

	if len(line) > 1 && line[0] == '.' {
		line = line[1:]
	}

	d.buf = append(append(d.buf[:0], line...), '\r', '\n')
	d.pending = d.buf

	return nil
}

// dotWriter encodes text into dot-encoded lines. Bare <LF> line endings are written as
// <CR> <LF>.
type dotWriter struct {
	w *bufio.Writer

	lineStart bool
	lastCR    bool
}

func (d *dotWriter) Write(b []byte) (int, error) {
	for i, r := range b {
		if d.lineStart && r == '.' {
			if err := d.w.WriteByte('.'); err != nil {
				return i, err
			}
		}

		if r == '\n' && !d.lastCR {
			if err := d.w.WriteByte('\r'); err != nil {
				return i, err
			}
		}

		if err := d.w.WriteByte(r); err != nil {
			return i, err
		}

		d.lineStart = r == '\n'
		d.lastCR = r == '\r'
	}

	return len(b), nil
}

func (d *dotWriter) Close() error {
	if !d.lineStart {
		if !d.lastCR {
			if err := d.w.WriteByte('\r'); err != nil {
				return err
			}
		}

		if err := d.w.WriteByte('\n'); err != nil {
			return err
		}
	}

	_, err := d.w.WriteString(".\r\n")
	return err
}
