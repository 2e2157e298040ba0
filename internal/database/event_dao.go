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

package database

import (
	"context"

	"github.com/lukasdietrich/fauxmail/internal/models"
)

// EventDao is a data access object for the capture journal.
type EventDao interface {
	// Insert appends an event and returns its id.
	Insert(context.Context, Queryer, *models.Event) (int64, error)
	// FindRecent returns the latest events, newest first.
	FindRecent(context.Context, Queryer, int) ([]models.Event, error)
}

type eventDao struct{}

// NewEventDao creates a new EventDao.
func NewEventDao() EventDao {
	return eventDao{}
}

func (eventDao) Insert(ctx context.Context, q Queryer, event *models.Event) (int64, error) {
	const query = `
		insert into "events" (
			"created_at" ,
			"level" ,
			"text" ,
			"message_id"
		) values (
			:created_at ,
			:level ,
			:text ,
			:message_id
		) ;
	`

	result, err := execNamed(ctx, q, query, event)
	if err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

func (eventDao) FindRecent(ctx context.Context, q Queryer, limit int) ([]models.Event, error) {
	const query = `
		select *
		from "events"
		order by "id" desc
		limit $1 ;
	`

	var eventSlice []models.Event

	if err := selectSlice(ctx, q, &eventSlice, query, limitArg(limit)); err != nil {
		return nil, err
	}

	return eventSlice, nil
}
