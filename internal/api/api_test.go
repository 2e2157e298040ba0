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

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/fauxmail/internal/crypto"
	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

const attachmentMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: files\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"see attachment\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; name=\"notes.txt\"\r\n" +
	"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"\r\n" +
	"attached\r\n" +
	"--b1--\r\n"

func TestApiTestSuite(t *testing.T) {
	suite.Run(t, new(ApiTestSuite))
}

type ApiTestSuite struct {
	suite.Suite

	storeOpts storage.StoreOptions
	opts      Options
	auth      delivery.AuthOptions

	store   storage.Store
	journal storage.Journal
	handler http.Handler
}

func (s *ApiTestSuite) SetupTest() {
	viper.Set("security.crypto.argon2.time", 1)
	viper.Set("security.crypto.argon2.memory", 1024)
	viper.Set("security.crypto.argon2.threads", 1)

	s.storeOpts = storage.StoreOptions{
		Backend:  storage.BackendMemory,
		Overflow: storage.OverflowEvict,
	}

	s.opts = Options{MaxSize: 64 * 1024}
	s.auth = delivery.AuthOptions{}

	s.setup()
}

func (s *ApiTestSuite) setup() {
	blobs, err := storage.NewBlobs(afero.NewMemMapFs(), crypto.NewIDGenerator(), storage.BlobsOptions{
		Foldername: "blobs",
	})
	s.Require().NoError(err)

	authenticator, err := delivery.NewAuthenticator(s.auth)
	s.Require().NoError(err)

	s.store = storage.NewMemoryStore(blobs, s.storeOpts)
	s.journal = storage.NewMemoryJournal(10)

	mailman := delivery.NewMailman(s.store, s.journal, crypto.NewIDGenerator())
	s.handler = New(s.opts, authenticator, mailman, s.store, s.journal).Handler()
}

func (s *ApiTestSuite) request(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request

	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	return s.serve(req)
}

func (s *ApiTestSuite) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	return rec
}

func (s *ApiTestSuite) send(from, to, subject, text string) int64 {
	body := fmt.Sprintf(`{"from":%q,"to":[%q],"subject":%q,"text":%q}`, from, to, subject, text)
	rec := s.request(http.MethodPost, "/send", body)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var response sendResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &response))

	return response.ID
}

func (s *ApiTestSuite) list(target string) listResponse {
	rec := s.request(http.MethodGet, target, "")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var response listResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &response))

	return response
}

func (s *ApiTestSuite) TestSend() {
	rec := s.request(http.MethodPost, "/send",
		`{"from":"a@b.c","to":["d@e.f"],"subject":"Hi","text":"Yo","headers":{"X-Test":"1"}}`)

	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.Assert().JSONEq(`{"id":1}`, rec.Body.String())
	s.Assert().NotEmpty(rec.Header().Get(requestIDHeader))

	message, err := s.store.Get(context.TODO(), 1)
	s.Require().NoError(err)

	s.Assert().Equal(models.SourceREST, message.Source)
	s.Assert().Equal("a@b.c", message.From)
	s.Assert().Equal(models.StringList{"d@e.f"}, message.To)
	s.Assert().Equal("Hi", message.Subject)
	s.Assert().Equal("Yo", message.Body)
	s.Assert().Equal("1", message.Headers.Get("X-Test"))
}

func (s *ApiTestSuite) TestSendInvalid() {
	for _, body := range []string{
		`not json`,
		`{"from":"x@y","to":["z@w"],"subject":"S","text":"T"} trailing garbage`,
		`{"from":"x@y","to":["z@w"],"text":"T"}{"from":"x@y","to":["z@w"],"text":"T"}`,
		`{"from":"","to":["d@e.f"],"text":"Yo"}`,
		`{"from":"a@b.c","to":[],"text":"Yo"}`,
		`{"from":"a@b.c","text":"Yo"}`,
		`{"from":"not-an-address","to":["d@e.f"],"text":"Yo"}`,
		`{"from":"a@b.c","to":["@e.f"],"text":"Yo"}`,
	} {
		rec := s.request(http.MethodPost, "/send", body)
		s.Assert().Equal(http.StatusBadRequest, rec.Code, body)
	}

	s.Assert().Empty(s.list("/messages").Messages)
}

func (s *ApiTestSuite) TestSendTooLarge() {
	s.opts.MaxSize = 16
	s.setup()

	rec := s.request(http.MethodPost, "/send", `{"from":"a@b.c","to":["d@e.f"],"text":"Yo"}`)
	s.Assert().Equal(http.StatusRequestEntityTooLarge, rec.Code)
}

func (s *ApiTestSuite) TestSendStoreFull() {
	s.storeOpts.Capacity = 1
	s.storeOpts.Overflow = storage.OverflowReject
	s.setup()

	s.send("a@b.c", "d@e.f", "first", "1")

	rec := s.request(http.MethodPost, "/send", `{"from":"a@b.c","to":["d@e.f"],"text":"2"}`)
	s.Assert().Equal(http.StatusInsufficientStorage, rec.Code)

	s.Assert().Equal(1, s.list("/messages").Total)
}

func (s *ApiTestSuite) TestSendRaw() {
	rec := s.request(http.MethodPost, "/send/raw", "From: a@b.c\r\nTo: d@e.f\r\nSubject: raw\r\n\r\nBody\r\n")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	message, err := s.store.Get(context.TODO(), 1)
	s.Require().NoError(err)

	s.Assert().Equal(models.SourceRaw, message.Source)
	s.Assert().Equal("raw", message.Subject)
	s.Assert().Equal("Body\n", message.Body)
}

func (s *ApiTestSuite) TestSendRawInvalid() {
	for _, body := range []string{
		"just a body",
		"Subject: no addresses\r\n\r\nBody\r\n",
		"From: a@b.c\r\nSubject: no recipients\r\n\r\nBody\r\n",
	} {
		rec := s.request(http.MethodPost, "/send/raw", body)
		s.Assert().Equal(http.StatusBadRequest, rec.Code, body)
	}
}

func (s *ApiTestSuite) TestListOrderAndPaging() {
	for i := 1; i <= 5; i++ {
		s.send("a@b.c", "d@e.f", fmt.Sprintf("subject %d", i), "text")
	}

	response := s.list("/messages")
	s.Assert().Equal(5, response.Total)
	s.Assert().Equal(1, response.Page)
	s.Assert().Equal(defaultPageLimit, response.Limit)
	s.Require().Len(response.Messages, 5)
	s.Assert().EqualValues(1, response.Messages[0].ID)
	s.Assert().EqualValues(5, response.Messages[4].ID)

	response = s.list("/messages?page=2&limit=2")
	s.Assert().Equal(5, response.Total)
	s.Require().Len(response.Messages, 2)
	s.Assert().EqualValues(3, response.Messages[0].ID)
	s.Assert().EqualValues(4, response.Messages[1].ID)

	response = s.list("/messages?dir=desc&limit=1")
	s.Require().Len(response.Messages, 1)
	s.Assert().EqualValues(5, response.Messages[0].ID)

	response = s.list("/messages?limit=1000&page=0")
	s.Assert().Equal(maxPageLimit, response.Limit)
	s.Assert().Equal(1, response.Page)
}

func (s *ApiTestSuite) TestListEmpty() {
	rec := s.request(http.MethodGet, "/messages", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Assert().JSONEq(`{"total":0,"page":1,"limit":50,"messages":[]}`, rec.Body.String())
}

func (s *ApiTestSuite) TestListInvalidParams() {
	s.Assert().Equal(http.StatusBadRequest, s.request(http.MethodGet, "/messages?page=abc", "").Code)
	s.Assert().Equal(http.StatusBadRequest, s.request(http.MethodGet, "/messages?dir=sideways", "").Code)
}

func (s *ApiTestSuite) TestSearch() {
	s.send("a@b.c", "d@e.f", "Invoice 42", "text")
	s.send("a@b.c", "d@e.f", "Newsletter", "text")
	s.send("billing@shop.test", "d@e.f", "Hello", "text")

	response := s.list("/search?q=invoice")
	s.Require().Len(response.Messages, 1)
	s.Assert().Equal("Invoice 42", response.Messages[0].Subject)

	response = s.list("/messages?q=BILLING")
	s.Require().Len(response.Messages, 1)
	s.Assert().Equal("billing@shop.test", response.Messages[0].From)

	s.Assert().Equal(3, s.list("/search").Total)
}

func (s *ApiTestSuite) TestGet() {
	id := s.send("a@b.c", "d@e.f", "Hi", "Yo")

	rec := s.request(http.MethodGet, fmt.Sprintf("/messages/%d", id), "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var message models.Message
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &message))
	s.Assert().Equal(id, message.ID)
	s.Assert().Equal("Hi", message.Subject)
	s.Assert().Contains(rec.Body.String(), `"attachments":[]`)
}

func (s *ApiTestSuite) TestGetMissing() {
	s.Assert().Equal(http.StatusNotFound, s.request(http.MethodGet, "/messages/42", "").Code)
	s.Assert().Equal(http.StatusBadRequest, s.request(http.MethodGet, "/messages/abc", "").Code)
	s.Assert().Equal(http.StatusNotFound, s.request(http.MethodGet, "/messages/42/raw", "").Code)
	s.Assert().Equal(http.StatusNotFound, s.request(http.MethodGet, "/messages/42/html", "").Code)
}

func (s *ApiTestSuite) TestDelete() {
	id := s.send("a@b.c", "d@e.f", "Hi", "Yo")
	target := fmt.Sprintf("/messages/%d", id)

	s.Assert().Equal(http.StatusNoContent, s.request(http.MethodDelete, target, "").Code)
	s.Assert().Equal(http.StatusNotFound, s.request(http.MethodGet, target, "").Code)
	s.Assert().Equal(http.StatusNotFound, s.request(http.MethodDelete, target, "").Code)
}

func (s *ApiTestSuite) TestClear() {
	s.send("a@b.c", "d@e.f", "1", "1")
	s.send("a@b.c", "d@e.f", "2", "2")

	s.Assert().Equal(http.StatusNoContent, s.request(http.MethodDelete, "/messages", "").Code)
	s.Assert().Zero(s.list("/messages").Total)

	s.Assert().EqualValues(3, s.send("a@b.c", "d@e.f", "3", "3"))
}

func (s *ApiTestSuite) TestRaw() {
	raw := "From: a@b.c\r\nTo: d@e.f\r\nSubject: raw\r\n\r\nBody\r\n"
	s.Require().Equal(http.StatusOK, s.request(http.MethodPost, "/send/raw", raw).Code)

	rec := s.request(http.MethodGet, "/messages/1/raw", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Assert().Equal("message/rfc822", rec.Header().Get("Content-Type"))
	s.Assert().Equal(raw, rec.Body.String())
}

func (s *ApiTestSuite) TestHTML() {
	rec := s.request(http.MethodPost, "/send",
		`{"from":"a@b.c","to":["d@e.f"],"subject":"Rich","text":"plain","html":"<p>rich</p>"}`)
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.request(http.MethodGet, "/messages/1/html", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Assert().Contains(rec.Header().Get("Content-Type"), "text/html")
	s.Assert().Contains(rec.Body.String(), "<p>rich</p>")
	s.Assert().Contains(rec.Body.String(), "<title>Rich</title>")
}

func (s *ApiTestSuite) TestHTMLEscapesText() {
	s.send("a@b.c", "d@e.f", "Plain", "<script>alert(1)</script>")

	rec := s.request(http.MethodGet, "/messages/1/html", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Assert().NotContains(rec.Body.String(), "<script>alert")
	s.Assert().Contains(rec.Body.String(), "&lt;script&gt;")
}

func (s *ApiTestSuite) TestAttachments() {
	s.Require().Equal(http.StatusOK, s.request(http.MethodPost, "/send/raw", attachmentMessage).Code)

	rec := s.request(http.MethodGet, "/messages/1/attachments", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var attachments []models.Attachment
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &attachments))
	s.Require().Len(attachments, 1)
	s.Assert().Equal("notes.txt", attachments[0].Filename)
	s.Assert().Equal(0, attachments[0].Index)

	rec = s.request(http.MethodGet, "/messages/1/attachments/0", "")
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Assert().Equal("attached", strings.TrimSpace(rec.Body.String()))
	s.Assert().Contains(rec.Header().Get("Content-Type"), "text/plain")
	s.Assert().Equal(`inline; filename=notes.txt`, rec.Header().Get("Content-Disposition"))

	s.Assert().Equal(http.StatusNotFound, s.request(http.MethodGet, "/messages/1/attachments/1", "").Code)
	s.Assert().Equal(http.StatusBadRequest, s.request(http.MethodGet, "/messages/1/attachments/x", "").Code)
}

func (s *ApiTestSuite) TestLogs() {
	s.send("a@b.c", "d@e.f", "1", "1")
	s.send("a@b.c", "d@e.f", "2", "2")

	rec := s.request(http.MethodGet, "/logs?limit=1", "")
	s.Require().Equal(http.StatusOK, rec.Code)

	var events []models.Event
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &events))
	s.Require().Len(events, 1)
	s.Assert().Equal("info", events[0].Level)
	s.Require().NotNil(events[0].MessageID)
	s.Assert().EqualValues(2, *events[0].MessageID)
}

func (s *ApiTestSuite) TestCors() {
	req := httptest.NewRequest(http.MethodOptions, "/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)

	rec := s.serve(req)
	s.Assert().Equal(http.StatusNoContent, rec.Code)
	s.Assert().Equal("*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func (s *ApiTestSuite) TestBasicAuth() {
	s.opts.RequireAuth = true
	s.auth = delivery.AuthOptions{User: "dev", Pass: "secret"}
	s.setup()

	rec := s.request(http.MethodGet, "/messages", "")
	s.Assert().Equal(http.StatusUnauthorized, rec.Code)
	s.Assert().NotEmpty(rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.SetBasicAuth("dev", "wrong")
	s.Assert().Equal(http.StatusUnauthorized, s.serve(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.SetBasicAuth("Dev", "secret")
	s.Assert().Equal(http.StatusOK, s.serve(req).Code)
}

func (s *ApiTestSuite) TestBasicAuthSuccessIsNotDelayed() {
	s.opts.RequireAuth = true
	s.auth = delivery.AuthOptions{User: "dev", Pass: "secret", MinDuration: time.Second}
	s.setup()

	start := time.Now()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/messages", nil)
		req.SetBasicAuth("dev", "secret")
		s.Assert().Equal(http.StatusOK, s.serve(req).Code)
	}

	s.Assert().Less(time.Since(start), time.Second)
}

func (s *ApiTestSuite) TestBasicAuthWithoutCredentials() {
	s.opts.RequireAuth = true
	s.setup()

	s.Assert().Equal(http.StatusOK, s.request(http.MethodGet, "/messages", "").Code)
}

func (s *ApiTestSuite) TestConcurrentSend() {
	const n = 50

	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			body := fmt.Sprintf(`{"from":"a@b.c","to":["d@e.f"],"text":"%d"}`, i)
			rec := s.request(http.MethodPost, "/send", body)
			s.Assert().Equal(http.StatusOK, rec.Code)
		}(i)
	}

	wg.Wait()

	response := s.list("/messages?limit=200")
	s.Require().Len(response.Messages, n)

	ids := make(map[int64]bool)
	for _, message := range response.Messages {
		ids[message.ID] = true
	}

	s.Assert().Len(ids, n)
}

func TestStatusOf(t *testing.T) {
	suite.Run(t, new(statusTestSuite))
}

type statusTestSuite struct {
	suite.Suite
}

func (s *statusTestSuite) TestMapping() {
	s.Assert().Equal(http.StatusNotFound, statusOf(fmt.Errorf("wrapped: %w", storage.ErrNotFound)))
	s.Assert().Equal(http.StatusInsufficientStorage, statusOf(storage.ErrStoreFull))
	s.Assert().Equal(http.StatusBadRequest, statusOf(delivery.ErrInvalidSubmission))
	s.Assert().Equal(http.StatusUnauthorized, statusOf(delivery.ErrWrongCredentials))
	s.Assert().Equal(http.StatusInternalServerError, statusOf(context.Canceled))
}
