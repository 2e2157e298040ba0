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

package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Source names the front door a message came through.
type Source string

const (
	// SourceSMTP is a message received during a smtp `DATA` command.
	SourceSMTP Source = "smtp"
	// SourceREST is a message submitted as json to the http api.
	SourceREST Source = "rest"
	// SourceRaw is a message submitted as a raw rfc#5322 document to the http api.
	SourceRaw Source = "raw"
)

// Message is a captured mail. Once inserted into a store it is never modified.
type Message struct {
	ID           int64        `json:"id" db:"id"`
	BlobID       string       `json:"-" db:"blob_id"`
	Source       Source       `json:"source" db:"source"`
	From         string       `json:"from" db:"sender"`
	To           StringList   `json:"to" db:"recipients"`
	EnvelopeFrom string       `json:"envelopeFrom" db:"envelope_from"`
	EnvelopeTo   StringList   `json:"envelopeTo" db:"envelope_to"`
	Subject      string       `json:"subject" db:"subject"`
	Body         string       `json:"body" db:"body"`
	HTML         string       `json:"html,omitempty" db:"html"`
	Headers      Header       `json:"headers" db:"headers"`
	Attachments  []Attachment `json:"attachments" db:"-"`
	ReceivedAt   time.Time    `json:"receivedAt" db:"received_at"`
	RawSize      int64        `json:"rawSize" db:"raw_size"`
}

// Clone returns a deep copy of the message, so that the copy can be handed out without sharing
// slices or maps with the original.
func (m *Message) Clone() *Message {
	clone := *m
	clone.To = append(StringList(nil), m.To...)
	clone.EnvelopeTo = append(StringList(nil), m.EnvelopeTo...)
	clone.Attachments = append([]Attachment(nil), m.Attachments...)

	if m.Headers != nil {
		clone.Headers = make(Header, len(m.Headers))

		for key, values := range m.Headers {
			clone.Headers[key] = append([]string(nil), values...)
		}
	}

	return &clone
}

// Attachment describes a non-inline part of a message. The content itself stays in the raw
// source of the message.
type Attachment struct {
	MessageID   int64  `json:"-" db:"message_id"`
	Index       int    `json:"index" db:"position"`
	Filename    string `json:"filename" db:"filename"`
	ContentType string `json:"contentType" db:"content_type"`
	Size        int64  `json:"size" db:"size"`
}

// Query selects a page of messages.
type Query struct {
	Offset     int
	Limit      int
	Search     string
	Descending bool
}

var fold = cases.Fold()

// Matches reports whether the message contains the search term in its sender, recipients,
// subject or body. The comparison is case-insensitive. An empty search matches everything.
func (q *Query) Matches(m *Message) bool {
	if q.Search == "" {
		return true
	}

	term := fold.String(q.Search)
	fields := []string{m.From, m.Subject, m.Body, strings.Join(m.To, " ")}

	for _, field := range fields {
		if strings.Contains(fold.String(field), term) {
			return true
		}
	}

	return false
}

// Event is an entry of the capture journal.
type Event struct {
	ID        int64     `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	Level     string    `json:"level" db:"level"`
	Text      string    `json:"text" db:"text"`
	MessageID *int64    `json:"messageId,omitempty" db:"message_id"`
}

// StringList is a list of strings stored as a json array.
type StringList []string

// Scan implements the sql.Scanner interface.
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Value implements the sql/driver.Valuer interface.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}

	return valueJSON(l)
}

// Header is a mail header block stored as a json object.
type Header map[string][]string

// Get returns the first value for key.
func (h Header) Get(key string) string {
	if values := h[key]; len(values) > 0 {
		return values[0]
	}

	return ""
}

// Scan implements the sql.Scanner interface.
func (h *Header) Scan(src interface{}) error {
	return scanJSON(src, h)
}

// Value implements the sql/driver.Valuer interface.
func (h Header) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}

	return valueJSON(h)
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), dest)
	case []byte:
		return json.Unmarshal(v, dest)
	case nil:
		return nil
	default:
		return errors.New("models: unsupported json column type")
	}
}

func valueJSON(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return string(b), nil
}
