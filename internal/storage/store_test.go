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
	"fmt"
	"io/ioutil"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/fauxmail/internal/crypto"
	"github.com/lukasdietrich/fauxmail/internal/database"
	"github.com/lukasdietrich/fauxmail/internal/models"
)

var errBrokenReader = errors.New("broken reader")

func TestStoreOptionsFromViper(t *testing.T) {
	viper.Set("storage.backend", "sqlite")
	viper.Set("storage.capacity", 3)
	viper.Set("storage.overflow", "reject")
	viper.Set("storage.journal.capacity", 7)

	defer func() {
		viper.Set("storage.backend", "memory")
		viper.Set("storage.capacity", 1000)
		viper.Set("storage.overflow", "evict")
		viper.Set("storage.journal.capacity", 500)
	}()

	expected := StoreOptions{
		Backend:         BackendSqlite,
		Capacity:        3,
		Overflow:        OverflowReject,
		JournalCapacity: 7,
	}
	actual := StoreOptionsFromViper()
	assert.Equal(t, expected, actual)
}

func TestStoreOptionsValidate(t *testing.T) {
	valid := StoreOptions{Backend: BackendMemory, Overflow: OverflowEvict}
	assert.NoError(t, valid.Validate())

	for _, opts := range []StoreOptions{
		{Backend: "redis", Overflow: OverflowEvict},
		{Backend: BackendSqlite, Overflow: "drop"},
		{Backend: BackendMemory, Overflow: OverflowReject, Capacity: -1},
	} {
		assert.Error(t, opts.Validate(), "%+v", opts)
	}
}

func TestOpenMemory(t *testing.T) {
	storage, cleanup, err := Open(
		afero.NewMemMapFs(),
		crypto.NewIDGenerator(),
		StoreOptions{Backend: BackendMemory, Overflow: OverflowEvict, JournalCapacity: 10},
		BlobsOptions{Foldername: "blobs"},
		database.ConnOptions{},
	)

	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, storage.Store)
	assert.NotNil(t, storage.Journal)
}

func TestOpenSqlite(t *testing.T) {
	fs := afero.NewMemMapFs()

	storage, cleanup, err := Open(
		fs,
		crypto.NewIDGenerator(),
		StoreOptions{Backend: BackendSqlite, Overflow: OverflowEvict},
		BlobsOptions{Foldername: "blobs"},
		database.ConnOptions{Filename: ":memory:", JournalMode: "memory"},
	)

	require.NoError(t, err)
	defer cleanup()

	stored, err := storage.Store.Insert(context.TODO(), newMessage("hello"), strings.NewReader("raw"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, stored.ID)

	exists, err := afero.Exists(fs, "blobs/"+stored.BlobID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, _, err := Open(
		afero.NewMemMapFs(),
		crypto.NewIDGenerator(),
		StoreOptions{Backend: "tape", Overflow: OverflowEvict},
		BlobsOptions{},
		database.ConnOptions{},
	)

	assert.Error(t, err)
}

func TestMemoryStoreTestSuite(t *testing.T) {
	suite.Run(t, &StoreTestSuite{
		open: func(t *testing.T, fs afero.Fs, opts StoreOptions) (Store, func()) {
			blobs, err := NewBlobs(fs, crypto.NewIDGenerator(), BlobsOptions{Foldername: "blobs"})
			require.NoError(t, err)

			return NewMemoryStore(blobs, opts), func() {}
		},
	})
}

func TestSqliteStoreTestSuite(t *testing.T) {
	suite.Run(t, &StoreTestSuite{
		open: func(t *testing.T, fs afero.Fs, opts StoreOptions) (Store, func()) {
			blobs, err := NewBlobs(fs, crypto.NewIDGenerator(), BlobsOptions{Foldername: "blobs"})
			require.NoError(t, err)

			conn := openTestConnection(t)
			store := NewSqliteStore(
				conn,
				blobs,
				database.NewMessageDao(),
				database.NewAttachmentDao(),
				opts,
			)

			return store, func() { conn.Close() }
		},
	})
}

func openTestConnection(t *testing.T) database.Conn {
	conn, err := database.OpenConnection(database.ConnOptions{
		Filename:    ":memory:",
		JournalMode: "memory",
	})

	require.NoError(t, err)
	return conn
}

type StoreTestSuite struct {
	suite.Suite

	open func(*testing.T, afero.Fs, StoreOptions) (Store, func())

	fs      afero.Fs
	store   Store
	cleanup func()
}

func (s *StoreTestSuite) SetupTest() {
	s.reopen(StoreOptions{Backend: BackendMemory, Overflow: OverflowEvict})
}

func (s *StoreTestSuite) TearDownTest() {
	s.cleanup()
}

func (s *StoreTestSuite) reopen(opts StoreOptions) {
	if s.cleanup != nil {
		s.cleanup()
	}

	s.fs = afero.NewMemMapFs()
	s.store, s.cleanup = s.open(s.T(), s.fs, opts)
}

func (s *StoreTestSuite) insert(subject string) *models.Message {
	stored, err := s.store.Insert(context.TODO(), newMessage(subject), strings.NewReader(subject))
	s.Require().NoError(err)

	return stored
}

func (s *StoreTestSuite) assertBlobCount(expected int) {
	files, err := afero.ReadDir(s.fs, "blobs")
	s.Require().NoError(err)
	s.Assert().Len(files, expected)
}

func (s *StoreTestSuite) subjects(messageSlice []models.Message) []string {
	subjects := make([]string, len(messageSlice))

	for i, message := range messageSlice {
		subjects[i] = message.Subject
	}

	return subjects
}

func (s *StoreTestSuite) TestInsertAndGet() {
	before := time.Now().UTC().Add(-time.Second)

	message := newMessage("TestInsertAndGet")
	message.Attachments = []models.Attachment{
		{Filename: "a.txt", ContentType: "text/plain", Size: 3},
		{Filename: "b.png", ContentType: "image/png", Size: 5},
	}

	stored, err := s.store.Insert(context.TODO(), message, strings.NewReader("raw source"))
	s.Require().NoError(err)
	s.Assert().EqualValues(1, stored.ID)
	s.Assert().NotEmpty(stored.BlobID)
	s.Assert().EqualValues(len("raw source"), stored.RawSize)
	s.Assert().True(stored.ReceivedAt.After(before))
	s.Assert().Zero(message.ID, "the argument must not be modified")

	actual, err := s.store.Get(context.TODO(), stored.ID)
	s.Require().NoError(err)
	s.Assert().Equal(stored.ID, actual.ID)
	s.Assert().Equal("sender@example.com", actual.From)
	s.Assert().Equal(models.StringList{"rcpt@example.com"}, actual.To)
	s.Assert().Equal("TestInsertAndGet", actual.Subject)
	s.Assert().Equal("Hello\n", actual.Body)
	s.Assert().Equal("text/plain", actual.Headers.Get("Content-Type"))
	s.Assert().True(stored.ReceivedAt.Equal(actual.ReceivedAt))

	s.Require().Len(actual.Attachments, 2)
	s.Assert().Equal("a.txt", actual.Attachments[0].Filename)
	s.Assert().Equal(0, actual.Attachments[0].Index)
	s.Assert().Equal("b.png", actual.Attachments[1].Filename)
	s.Assert().Equal(1, actual.Attachments[1].Index)
	s.Assert().Equal(stored.ID, actual.Attachments[1].MessageID)
}

func (s *StoreTestSuite) TestKeepsRawSizeOfCaller() {
	message := newMessage("TestKeepsRawSizeOfCaller")
	message.RawSize = 42

	stored, err := s.store.Insert(context.TODO(), message, strings.NewReader("short"))
	s.Require().NoError(err)
	s.Assert().EqualValues(42, stored.RawSize)
}

func (s *StoreTestSuite) TestGetNotFound() {
	_, err := s.store.Get(context.TODO(), 1)
	s.Assert().ErrorIs(err, ErrNotFound)
}

func (s *StoreTestSuite) TestStoredMessageIsImmutable() {
	stored := s.insert("TestStoredMessageIsImmutable")
	stored.Subject = "changed"
	stored.To[0] = "changed@example.com"

	actual, err := s.store.Get(context.TODO(), stored.ID)
	s.Require().NoError(err)
	s.Assert().Equal("TestStoredMessageIsImmutable", actual.Subject)
	s.Assert().Equal("rcpt@example.com", actual.To[0])
}

func (s *StoreTestSuite) TestIDsAreStrictlyIncreasingAndNeverReused() {
	first := s.insert("first")
	second := s.insert("second")

	s.Require().NoError(s.store.Delete(context.TODO(), second.ID))

	third := s.insert("third")
	s.Assert().Greater(second.ID, first.ID)
	s.Assert().Greater(third.ID, second.ID)
}

func (s *StoreTestSuite) TestConcurrentInserts() {
	const n = 100

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int64]bool)
	)

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			stored, err := s.store.Insert(
				context.TODO(),
				newMessage(fmt.Sprintf("message %d", i)),
				strings.NewReader("raw"))

			if s.Assert().NoError(err) {
				mu.Lock()
				ids[stored.ID] = true
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()

	s.Assert().Len(ids, n)

	messageSlice, total, err := s.store.List(context.TODO(), models.Query{})
	s.Require().NoError(err)
	s.Assert().Equal(n, total)
	s.Assert().Len(messageSlice, n)

	for i := 1; i < len(messageSlice); i++ {
		s.Assert().Greater(messageSlice[i].ID, messageSlice[i-1].ID)
	}
}

func (s *StoreTestSuite) TestList() {
	for i := 1; i <= 5; i++ {
		s.insert(fmt.Sprintf("subject %d", i))
	}

	messageSlice, total, err := s.store.List(context.TODO(), models.Query{Offset: 1, Limit: 2})
	s.Require().NoError(err)
	s.Assert().Equal(5, total)
	s.Assert().Equal([]string{"subject 2", "subject 3"}, s.subjects(messageSlice))

	messageSlice, total, err = s.store.List(context.TODO(), models.Query{Limit: 2, Descending: true})
	s.Require().NoError(err)
	s.Assert().Equal(5, total)
	s.Assert().Equal([]string{"subject 5", "subject 4"}, s.subjects(messageSlice))

	messageSlice, total, err = s.store.List(context.TODO(), models.Query{Offset: 10})
	s.Require().NoError(err)
	s.Assert().Equal(5, total)
	s.Assert().Empty(messageSlice)
}

func (s *StoreTestSuite) TestListSearch() {
	s.insert("invoice march")
	s.insert("newsletter")
	s.insert("Invoice april")

	messageSlice, total, err := s.store.List(context.TODO(), models.Query{Search: "invoice"})
	s.Require().NoError(err)
	s.Assert().Equal(2, total)
	s.Assert().Equal([]string{"invoice march", "Invoice april"}, s.subjects(messageSlice))
}

func (s *StoreTestSuite) TestRaw() {
	stored, err := s.store.Insert(
		context.TODO(),
		newMessage("TestRaw"),
		strings.NewReader("Subject: TestRaw\r\n\r\nHello\r\n"))
	s.Require().NoError(err)

	r, err := s.store.Raw(context.TODO(), stored.ID)
	s.Require().NoError(err)

	defer r.Close()

	raw, err := ioutil.ReadAll(r)
	s.Require().NoError(err)
	s.Assert().Equal("Subject: TestRaw\r\n\r\nHello\r\n", string(raw))

	_, err = s.store.Raw(context.TODO(), stored.ID+1)
	s.Assert().ErrorIs(err, ErrNotFound)
}

func (s *StoreTestSuite) TestDelete() {
	first := s.insert("first")
	second := s.insert("second")

	s.Require().NoError(s.store.Delete(context.TODO(), first.ID))
	s.Assert().ErrorIs(s.store.Delete(context.TODO(), first.ID), ErrNotFound)

	_, err := s.store.Get(context.TODO(), first.ID)
	s.Assert().ErrorIs(err, ErrNotFound)

	_, err = s.store.Get(context.TODO(), second.ID)
	s.Assert().NoError(err)

	s.assertBlobCount(1)
}

func (s *StoreTestSuite) TestClear() {
	s.insert("first")
	s.insert("second")

	s.Require().NoError(s.store.Clear(context.TODO()))

	_, total, err := s.store.List(context.TODO(), models.Query{})
	s.Require().NoError(err)
	s.Assert().Zero(total)
	s.assertBlobCount(0)

	s.Assert().EqualValues(3, s.insert("third").ID)
}

func (s *StoreTestSuite) TestExpire() {
	s.insert("old")
	s.insert("older")

	n, err := s.store.Expire(context.TODO(), time.Now().Add(-time.Hour))
	s.Require().NoError(err)
	s.Assert().Zero(n)

	n, err = s.store.Expire(context.TODO(), time.Now().Add(time.Hour))
	s.Require().NoError(err)
	s.Assert().Equal(2, n)
	s.assertBlobCount(0)
}

func (s *StoreTestSuite) TestEvictOldest() {
	s.reopen(StoreOptions{Backend: BackendMemory, Capacity: 3, Overflow: OverflowEvict})

	for i := 1; i <= 5; i++ {
		s.insert(fmt.Sprintf("subject %d", i))
	}

	messageSlice, total, err := s.store.List(context.TODO(), models.Query{})
	s.Require().NoError(err)
	s.Assert().Equal(3, total)
	s.Assert().Equal([]string{"subject 3", "subject 4", "subject 5"}, s.subjects(messageSlice))
	s.assertBlobCount(3)

	_, err = s.store.Get(context.TODO(), 1)
	s.Assert().ErrorIs(err, ErrNotFound)
}

func (s *StoreTestSuite) TestEvictManyThenDelete() {
	s.reopen(StoreOptions{Backend: BackendMemory, Capacity: 4, Overflow: OverflowEvict})

	for i := 1; i <= 50; i++ {
		s.insert(fmt.Sprintf("subject %d", i))
	}

	s.Require().NoError(s.store.Delete(context.TODO(), 48))

	messageSlice, total, err := s.store.List(context.TODO(), models.Query{})
	s.Require().NoError(err)
	s.Assert().Equal(3, total)
	s.Assert().Equal([]string{"subject 47", "subject 49", "subject 50"}, s.subjects(messageSlice))
	s.assertBlobCount(3)

	for _, id := range []int64{47, 49, 50} {
		message, err := s.store.Get(context.TODO(), id)
		s.Require().NoError(err)
		s.Assert().Equal(id, message.ID)
	}

	stored := s.insert("subject 51")
	s.Assert().EqualValues(51, stored.ID)

	_, total, err = s.store.List(context.TODO(), models.Query{})
	s.Require().NoError(err)
	s.Assert().Equal(4, total)
}

func (s *StoreTestSuite) TestRejectWhenFull() {
	s.reopen(StoreOptions{Backend: BackendMemory, Capacity: 2, Overflow: OverflowReject})

	s.insert("first")
	s.insert("second")

	_, err := s.store.Insert(context.TODO(), newMessage("third"), strings.NewReader("raw"))
	s.Assert().ErrorIs(err, ErrStoreFull)

	messageSlice, total, err := s.store.List(context.TODO(), models.Query{})
	s.Require().NoError(err)
	s.Assert().Equal(2, total)
	s.Assert().Equal([]string{"first", "second"}, s.subjects(messageSlice))
	s.assertBlobCount(2)
}

func (s *StoreTestSuite) TestFailedBlobWriteStoresNothing() {
	_, err := s.store.Insert(context.TODO(), newMessage("broken"), iotest.ErrReader(errBrokenReader))
	s.Assert().ErrorIs(err, errBrokenReader)

	_, total, err := s.store.List(context.TODO(), models.Query{})
	s.Require().NoError(err)
	s.Assert().Zero(total)
	s.assertBlobCount(0)
}

func TestSqliteStoreFailedInsertRemovesBlob(t *testing.T) {
	blobs := new(MockBlobs)
	blobs.On("Write", mock.Anything, mock.Anything).Return("blob-1", int64(3), nil)
	blobs.On("Delete", mock.Anything, "blob-1").Return(nil)

	conn := openTestConnection(t)
	defer conn.Close()

	store := NewSqliteStore(
		conn,
		blobs,
		failingMessageDao{database.NewMessageDao()},
		database.NewAttachmentDao(),
		StoreOptions{Backend: BackendSqlite, Overflow: OverflowEvict},
	)

	_, err := store.Insert(context.TODO(), newMessage("fail"), strings.NewReader("raw"))
	assert.ErrorIs(t, err, errBrokenReader)

	blobs.AssertExpectations(t)
}

type failingMessageDao struct {
	database.MessageDao
}

func (failingMessageDao) Insert(context.Context, database.Queryer, *models.Message) (int64, error) {
	return 0, errBrokenReader
}

func TestMemoryJournal(t *testing.T) {
	journal := NewMemoryJournal(3)

	for i := 1; i <= 5; i++ {
		require.NoError(t, journal.Record(context.TODO(), models.Event{
			Level: "info",
			Text:  fmt.Sprintf("event %d", i),
		}))
	}

	events, err := journal.Recent(context.TODO(), 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "event 5", events[0].Text)
	assert.EqualValues(t, 5, events[0].ID)
	assert.Equal(t, "event 3", events[2].Text)
	assert.False(t, events[0].CreatedAt.IsZero())

	events, err = journal.Recent(context.TODO(), 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestMemoryJournalPartial(t *testing.T) {
	journal := NewMemoryJournal(10)
	require.NoError(t, journal.Record(context.TODO(), models.Event{Text: "only"}))

	events, err := journal.Recent(context.TODO(), 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "only", events[0].Text)
}

func TestSqliteJournal(t *testing.T) {
	conn := openTestConnection(t)
	defer conn.Close()

	journal := NewSqliteJournal(conn, database.NewEventDao())

	for i := 1; i <= 3; i++ {
		require.NoError(t, journal.Record(context.TODO(), models.Event{
			Level: "info",
			Text:  fmt.Sprintf("event %d", i),
		}))
	}

	events, err := journal.Recent(context.TODO(), 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "event 3", events[0].Text)
	assert.Equal(t, "event 2", events[1].Text)
}

func newMessage(subject string) *models.Message {
	return &models.Message{
		Source:       models.SourceSMTP,
		From:         "sender@example.com",
		To:           models.StringList{"rcpt@example.com"},
		EnvelopeFrom: "sender@example.com",
		EnvelopeTo:   models.StringList{"rcpt@example.com"},
		Subject:      subject,
		Body:         "Hello\n",
		Headers:      models.Header{"Content-Type": {"text/plain"}},
	}
}
