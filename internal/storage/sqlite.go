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
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lukasdietrich/fauxmail/internal/database"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
)

// sqliteStore keeps metadata in a sqlite database and raw sources in blobs. Writers are
// serialized by a mutex, so that the capacity check and the insert happen in one step.
type sqliteStore struct {
	mu          sync.Mutex
	conn        database.Conn
	blobs       Blobs
	messages    database.MessageDao
	attachments database.AttachmentDao
	opts        StoreOptions
}

// NewSqliteStore creates a store on top of an open database connection.
func NewSqliteStore(
	conn database.Conn,
	blobs Blobs,
	messages database.MessageDao,
	attachments database.AttachmentDao,
	opts StoreOptions,
) Store {
	return &sqliteStore{
		conn:        conn,
		blobs:       blobs,
		messages:    messages,
		attachments: attachments,
		opts:        opts,
	}
}

func (s *sqliteStore) Insert(
	ctx context.Context,
	message *models.Message,
	raw io.Reader,
) (*models.Message, error) {
	blobID, size, err := s.blobs.Write(ctx, raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		s.deleteBlobs(ctx, blobID)
		return nil, err
	}

	defer tx.RollbackWith(func() { // nolint:errcheck
		s.deleteBlobs(ctx, blobID)
	})

	evicted, err := s.makeRoom(ctx, tx)
	if err != nil {
		return nil, err
	}

	stored := message.Clone()
	stored.BlobID = blobID
	stored.ReceivedAt = time.Now().UTC()

	if stored.RawSize == 0 {
		stored.RawSize = size
	}

	if stored.ID, err = s.messages.Insert(ctx, tx, stored); err != nil {
		return nil, err
	}

	for i := range stored.Attachments {
		attachment := &stored.Attachments[i]
		attachment.MessageID = stored.ID
		attachment.Index = i

		if err := s.attachments.Insert(ctx, tx, attachment); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if len(evicted) > 0 {
		log.InfoContext(ctx).
			Int("evicted", len(evicted)).
			Msg("store capacity reached, evicting oldest messages")

		s.deleteBlobs(ctx, evicted...)
	}

	return stored, nil
}

// makeRoom enforces the capacity before an insert. It returns the blobs of evicted messages,
// which must be deleted once the transaction is committed.
func (s *sqliteStore) makeRoom(ctx context.Context, tx database.Tx) ([]string, error) {
	if s.opts.Capacity <= 0 {
		return nil, nil
	}

	count, err := s.messages.Count(ctx, tx, "")
	if err != nil {
		return nil, err
	}

	if count < s.opts.Capacity {
		return nil, nil
	}

	if s.opts.Overflow == OverflowReject {
		return nil, ErrStoreFull
	}

	oldest, err := s.messages.FindOldest(ctx, tx, count-s.opts.Capacity+1)
	if err != nil {
		return nil, err
	}

	return s.deleteMessages(ctx, tx, oldest)
}

func (s *sqliteStore) deleteMessages(
	ctx context.Context,
	tx database.Tx,
	messageSlice []models.Message,
) ([]string, error) {
	ids := make([]string, len(messageSlice))

	for i, message := range messageSlice {
		if err := s.messages.Delete(ctx, tx, message.ID); err != nil {
			return nil, err
		}

		ids[i] = message.BlobID
	}

	return ids, nil
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (*models.Message, error) {
	message, err := s.messages.FindByID(ctx, s.conn, id)
	if err != nil {
		if database.IsErrNoRows(err) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	if err := s.loadAttachments(ctx, message); err != nil {
		return nil, err
	}

	return message, nil
}

func (s *sqliteStore) List(ctx context.Context, query models.Query) ([]models.Message, int, error) {
	total, err := s.messages.Count(ctx, s.conn, query.Search)
	if err != nil {
		return nil, 0, err
	}

	messageSlice, err := s.messages.Find(ctx, s.conn, query)
	if err != nil {
		return nil, 0, err
	}

	for i := range messageSlice {
		if err := s.loadAttachments(ctx, &messageSlice[i]); err != nil {
			return nil, 0, err
		}
	}

	return messageSlice, total, nil
}

func (s *sqliteStore) loadAttachments(ctx context.Context, message *models.Message) error {
	attachments, err := s.attachments.FindByMessage(ctx, s.conn, message.ID)
	if err != nil {
		return err
	}

	message.Attachments = attachments
	return nil
}

func (s *sqliteStore) Raw(ctx context.Context, id int64) (io.ReadCloser, error) {
	message, err := s.messages.FindByID(ctx, s.conn, id)
	if err != nil {
		if database.IsErrNoRows(err) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	r, err := s.blobs.Reader(message.BlobID)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}

	return r, err
}

func (s *sqliteStore) Delete(ctx context.Context, id int64) error {
	return s.deleteWhere(ctx, func(tx database.Tx) ([]models.Message, error) {
		message, err := s.messages.FindByID(ctx, tx, id)
		if err != nil {
			if database.IsErrNoRows(err) {
				return nil, ErrNotFound
			}

			return nil, err
		}

		return []models.Message{*message}, nil
	})
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	return s.deleteWhere(ctx, func(tx database.Tx) ([]models.Message, error) {
		return s.messages.Find(ctx, tx, models.Query{})
	})
}

func (s *sqliteStore) Expire(ctx context.Context, before time.Time) (int, error) {
	var n int

	err := s.deleteWhere(ctx, func(tx database.Tx) ([]models.Message, error) {
		expired, err := s.messages.FindReceivedBefore(ctx, tx, before)
		n = len(expired)

		return expired, err
	})

	if err != nil {
		return 0, err
	}

	return n, nil
}

// deleteWhere deletes the selected messages in one transaction and removes their blobs after
// the commit.
func (s *sqliteStore) deleteWhere(
	ctx context.Context,
	selectFn func(database.Tx) ([]models.Message, error),
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}

	defer tx.Rollback() // nolint:errcheck

	messageSlice, err := selectFn(tx)
	if err != nil {
		return err
	}

	ids, err := s.deleteMessages(ctx, tx, messageSlice)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.deleteBlobs(ctx, ids...)
	return nil
}

func (s *sqliteStore) deleteBlobs(ctx context.Context, ids ...string) {
	deleteBlobs(ctx, s.blobs, ids...)
}
