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
	"sort"
	"sync"
	"time"

	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
)

// memoryStore keeps metadata in a slice ordered by id. The raw sources live in blobs, which are
// usually backed by an afero.MemMapFs.
type memoryStore struct {
	mu       sync.RWMutex
	blobs    Blobs
	opts     StoreOptions
	seq      int64
	messages []*models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(blobs Blobs, opts StoreOptions) Store {
	return &memoryStore{
		blobs: blobs,
		opts:  opts,
	}
}

func (s *memoryStore) Insert(
	ctx context.Context,
	message *models.Message,
	raw io.Reader,
) (*models.Message, error) {
	blobID, size, err := s.blobs.Write(ctx, raw)
	if err != nil {
		return nil, err
	}

	stored, evicted, err := s.insert(message, blobID, size)
	if err != nil {
		s.deleteBlobs(ctx, blobID)
		return nil, err
	}

	if len(evicted) > 0 {
		log.InfoContext(ctx).
			Int("evicted", len(evicted)).
			Msg("store capacity reached, evicting oldest messages")

		s.deleteBlobs(ctx, blobIDs(evicted)...)
	}

	return stored, nil
}

func (s *memoryStore) insert(
	message *models.Message,
	blobID string,
	size int64,
) (*models.Message, []*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []*models.Message

	if s.opts.Capacity > 0 && len(s.messages) >= s.opts.Capacity {
		if s.opts.Overflow == OverflowReject {
			return nil, nil, ErrStoreFull
		}

		n := len(s.messages) - s.opts.Capacity + 1
		evicted = append(evicted, s.messages[:n]...)

		for i := range s.messages[:n] {
			s.messages[i] = nil
		}

		s.messages = s.messages[n:]
	}

	s.seq++

	stored := message.Clone()
	stored.ID = s.seq
	stored.BlobID = blobID
	stored.ReceivedAt = time.Now().UTC()

	if stored.RawSize == 0 {
		stored.RawSize = size
	}

	for i := range stored.Attachments {
		stored.Attachments[i].MessageID = stored.ID
		stored.Attachments[i].Index = i
	}

	s.messages = append(s.messages, stored)

	return stored.Clone(), evicted, nil
}

func (s *memoryStore) Get(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.find(id)
	if !ok {
		return nil, ErrNotFound
	}

	return s.messages[i].Clone(), nil
}

func (s *memoryStore) List(ctx context.Context, query models.Query) ([]models.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*models.Message

	for _, message := range s.messages {
		if query.Matches(message) {
			matches = append(matches, message)
		}
	}

	if query.Descending {
		for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
			matches[i], matches[j] = matches[j], matches[i]
		}
	}

	total := len(matches)
	page := paginate(matches, query.Offset, query.Limit)
	messageSlice := make([]models.Message, len(page))

	for i, message := range page {
		messageSlice[i] = *message.Clone()
	}

	return messageSlice, total, nil
}

func (s *memoryStore) Raw(ctx context.Context, id int64) (io.ReadCloser, error) {
	message, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	r, err := s.blobs.Reader(message.BlobID)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}

	return r, err
}

func (s *memoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()

	i, ok := s.find(id)
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	blobID := s.messages[i].BlobID
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	s.mu.Unlock()

	s.deleteBlobs(ctx, blobID)
	return nil
}

func (s *memoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	cleared := s.messages
	s.messages = nil
	s.mu.Unlock()

	s.deleteBlobs(ctx, blobIDs(cleared)...)
	return nil
}

func (s *memoryStore) Expire(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()

	var (
		kept    []*models.Message
		expired []*models.Message
	)

	for _, message := range s.messages {
		if message.ReceivedAt.Before(before) {
			expired = append(expired, message)
		} else {
			kept = append(kept, message)
		}
	}

	s.messages = kept
	s.mu.Unlock()

	s.deleteBlobs(ctx, blobIDs(expired)...)
	return len(expired), nil
}

// find returns the index of the message with the given id. The caller must hold the lock.
func (s *memoryStore) find(id int64) (int, bool) {
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].ID >= id
	})

	return i, i < len(s.messages) && s.messages[i].ID == id
}

func (s *memoryStore) deleteBlobs(ctx context.Context, ids ...string) {
	deleteBlobs(ctx, s.blobs, ids...)
}

func deleteBlobs(ctx context.Context, blobs Blobs, ids ...string) {
	for _, id := range ids {
		if err := blobs.Delete(ctx, id); err != nil {
			log.WarnContext(ctx).
				Err(err).
				Str("blob", id).
				Msg("could not remove blob")
		}
	}
}

func blobIDs(messages []*models.Message) []string {
	ids := make([]string, len(messages))

	for i, message := range messages {
		ids[i] = message.BlobID
	}

	return ids
}

func paginate(messages []*models.Message, offset, limit int) []*models.Message {
	if offset < 0 {
		offset = 0
	}

	if offset >= len(messages) {
		return nil
	}

	messages = messages[offset:]

	if limit > 0 && limit < len(messages) {
		messages = messages[:limit]
	}

	return messages
}
