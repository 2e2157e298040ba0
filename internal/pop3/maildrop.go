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

	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

type entry struct {
	id   int64
	size int64
}

// maildrop is a snapshot of the store taken at the start of a transaction. Messages are
// numbered starting at 1 in insertion order.
type maildrop struct {
	entries []entry
	marks   map[int]bool
}

func openMaildrop(ctx context.Context, store storage.Store) (*maildrop, error) {
	messageSlice, _, err := store.List(ctx, models.Query{})
	if err != nil {
		return nil, err
	}

	entries := make([]entry, len(messageSlice))
	for i, message := range messageSlice {
		entries[i] = entry{id: message.ID, size: message.RawSize}
	}

	return &maildrop{
		entries: entries,
		marks:   make(map[int]bool),
	}, nil
}

// get returns the entry with message number n, unless it does not exist or is marked as deleted.
func (m *maildrop) get(n int) (entry, bool) {
	if n < 1 || n > len(m.entries) || m.marks[n] {
		return entry{}, false
	}

	return m.entries[n-1], true
}

func (m *maildrop) count() int {
	return len(m.entries) - len(m.marks)
}

func (m *maildrop) size() int64 {
	var size int64

	for i, e := range m.entries {
		if !m.marks[i+1] {
			size += e.size
		}
	}

	return size
}

func (m *maildrop) mark(n int) {
	m.marks[n] = true
}

func (m *maildrop) reset() {
	m.marks = make(map[int]bool)
}

// marked returns the message ids of all entries marked as deleted.
func (m *maildrop) marked() []int64 {
	ids := make([]int64, 0, len(m.marks))

	for i, e := range m.entries {
		if m.marks[i+1] {
			ids = append(ids, e.id)
		}
	}

	return ids
}
