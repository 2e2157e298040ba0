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

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/lukasdietrich/fauxmail/internal/database"
	"github.com/lukasdietrich/fauxmail/internal/models"
)

// Journal is an append-only log of capture activity.
type Journal interface {
	// Record appends an event. The time of creation is assigned by the journal.
	Record(context.Context, models.Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]models.Event, error)
}

type memoryJournal struct {
	mu     sync.Mutex
	seq    int64
	events []models.Event
	next   int
	full   bool
}

// NewMemoryJournal creates a journal, that keeps the latest capacity events.
func NewMemoryJournal(capacity int) Journal {
	if capacity <= 0 {
		capacity = 1
	}

	return &memoryJournal{
		events: make([]models.Event, capacity),
	}
}

func (j *memoryJournal) Record(ctx context.Context, event models.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	event.ID = j.seq
	event.CreatedAt = time.Now().UTC()

	j.events[j.next] = event
	j.next = (j.next + 1) % len(j.events)
	j.full = j.full || j.next == 0

	return nil
}

func (j *memoryJournal) Recent(ctx context.Context, limit int) ([]models.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := j.next
	if j.full {
		n = len(j.events)
	}

	if limit > 0 && limit < n {
		n = limit
	}

	eventSlice := make([]models.Event, n)

	for i := range eventSlice {
		k := (j.next - 1 - i + len(j.events)) % len(j.events)
		eventSlice[i] = j.events[k]
	}

	return eventSlice, nil
}

type sqliteJournal struct {
	conn   database.Conn
	events database.EventDao
}

// NewSqliteJournal creates a journal stored in the events table.
func NewSqliteJournal(conn database.Conn, events database.EventDao) Journal {
	return &sqliteJournal{
		conn:   conn,
		events: events,
	}
}

func (j *sqliteJournal) Record(ctx context.Context, event models.Event) error {
	event.CreatedAt = time.Now().UTC()

	_, err := j.events.Insert(ctx, j.conn, &event)
	return err
}

func (j *sqliteJournal) Recent(ctx context.Context, limit int) ([]models.Event, error) {
	return j.events.FindRecent(ctx, j.conn, limit)
}
