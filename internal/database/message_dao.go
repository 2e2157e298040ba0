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
	"time"

	"github.com/lukasdietrich/fauxmail/internal/models"
)

// MessageDao is a data access object for all message related queries.
type MessageDao interface {
	// Insert inserts a new message and returns the id assigned by the database.
	Insert(context.Context, Queryer, *models.Message) (int64, error)
	// FindByID returns a single message without its attachments.
	FindByID(context.Context, Queryer, int64) (*models.Message, error)
	// Find returns a page of messages matching the query in order of their ids.
	Find(context.Context, Queryer, models.Query) ([]models.Message, error)
	// Count returns the number of messages matching the search term.
	Count(context.Context, Queryer, string) (int, error)
	// FindOldest returns the n messages with the lowest ids.
	FindOldest(context.Context, Queryer, int) ([]models.Message, error)
	// FindReceivedBefore returns all messages received before the given time.
	FindReceivedBefore(context.Context, Queryer, time.Time) ([]models.Message, error)
	// Delete deletes a single message and, by cascade, its attachments.
	Delete(context.Context, Queryer, int64) error
	// DeleteAll deletes all messages.
	DeleteAll(context.Context, Queryer) error
}

// messageDao is the sqlite implementation of MessageDao.
type messageDao struct{}

// NewMessageDao creates a new MessageDao.
func NewMessageDao() MessageDao {
	return messageDao{}
}

func (messageDao) Insert(ctx context.Context, q Queryer, message *models.Message) (int64, error) {
	const query = `
		insert into "messages" (
			"blob_id" ,
			"source" ,
			"sender" ,
			"recipients" ,
			"envelope_from" ,
			"envelope_to" ,
			"subject" ,
			"body" ,
			"html" ,
			"headers" ,
			"received_at" ,
			"raw_size"
		) values (
			:blob_id ,
			:source ,
			:sender ,
			:recipients ,
			:envelope_from ,
			:envelope_to ,
			:subject ,
			:body ,
			:html ,
			:headers ,
			:received_at ,
			:raw_size
		) ;
	`

	result, err := execNamed(ctx, q, query, message)
	if err != nil {
		return 0, err
	}

	if err := ensureRowsAffected(result); err != nil {
		return 0, err
	}

	return result.LastInsertId()
}

func (messageDao) FindByID(ctx context.Context, q Queryer, id int64) (*models.Message, error) {
	const query = `
		select *
		from "messages"
		where "id" = $1 ;
	`

	var message models.Message

	if err := selectOne(ctx, q, &message, query, id); err != nil {
		return nil, err
	}

	return &message, nil
}

func (messageDao) Find(ctx context.Context, q Queryer, mq models.Query) ([]models.Message, error) {
	const (
		queryAsc = `
			select *
			from "messages"
			where $1 = ''
			   or "sender" like '%' || $1 || '%'
			   or "recipients" like '%' || $1 || '%'
			   or "subject" like '%' || $1 || '%'
			   or "body" like '%' || $1 || '%'
			order by "id" asc
			limit $2 offset $3 ;
		`

		queryDesc = `
			select *
			from "messages"
			where $1 = ''
			   or "sender" like '%' || $1 || '%'
			   or "recipients" like '%' || $1 || '%'
			   or "subject" like '%' || $1 || '%'
			   or "body" like '%' || $1 || '%'
			order by "id" desc
			limit $2 offset $3 ;
		`
	)

	query := queryAsc
	if mq.Descending {
		query = queryDesc
	}

	var messageSlice []models.Message

	if err := selectSlice(ctx, q, &messageSlice, query, mq.Search, limitArg(mq.Limit), mq.Offset); err != nil {
		return nil, err
	}

	return messageSlice, nil
}

func (messageDao) Count(ctx context.Context, q Queryer, search string) (int, error) {
	const query = `
		select count(*)
		from "messages"
		where $1 = ''
		   or "sender" like '%' || $1 || '%'
		   or "recipients" like '%' || $1 || '%'
		   or "subject" like '%' || $1 || '%'
		   or "body" like '%' || $1 || '%' ;
	`

	var count int

	if err := selectOne(ctx, q, &count, query, search); err != nil {
		return 0, err
	}

	return count, nil
}

func (messageDao) FindOldest(ctx context.Context, q Queryer, n int) ([]models.Message, error) {
	const query = `
		select *
		from "messages"
		order by "id" asc
		limit $1 ;
	`

	var messageSlice []models.Message

	if err := selectSlice(ctx, q, &messageSlice, query, n); err != nil {
		return nil, err
	}

	return messageSlice, nil
}

func (messageDao) FindReceivedBefore(
	ctx context.Context,
	q Queryer,
	before time.Time,
) ([]models.Message, error) {
	const query = `
		select *
		from "messages"
		where "received_at" < $1
		order by "id" asc ;
	`

	var messageSlice []models.Message

	if err := selectSlice(ctx, q, &messageSlice, query, before.UTC()); err != nil {
		return nil, err
	}

	return messageSlice, nil
}

func (messageDao) Delete(ctx context.Context, q Queryer, id int64) error {
	const query = `
		delete from "messages"
		where "id" = $1 ;
	`

	result, err := execPositional(ctx, q, query, id)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (messageDao) DeleteAll(ctx context.Context, q Queryer) error {
	const query = `
		delete from "messages" ;
	`

	_, err := execPositional(ctx, q, query)
	return err
}
