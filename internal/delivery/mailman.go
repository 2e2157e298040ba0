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

package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lukasdietrich/fauxmail/internal/crypto"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/mime"
	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

var (
	// ErrInvalidSubmission is returned when a submission lacks a sender or recipients, or
	// contains an address that cannot be parsed.
	ErrInvalidSubmission = errors.New("invalid submission")
)

// Submission is a message submitted as json to the http api.
type Submission struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers"`
}

// Mailman turns everything the front doors receive into messages and hands them to the store.
// Every outcome is recorded in the journal.
type Mailman struct {
	store   storage.Store
	journal storage.Journal
	idGen   crypto.IDGenerator
}

// NewMailman creates a new mailman for delivery.
func NewMailman(
	store storage.Store,
	journal storage.Journal,
	idGen crypto.IDGenerator,
) *Mailman {
	return &Mailman{
		store:   store,
		journal: journal,
		idGen:   idGen,
	}
}

// Deliver stores a message received over smtp. Addresses of the header block take precedence
// over the envelope. raw may contain trace headers, that were not part of the transmitted
// content.
func (m *Mailman) Deliver(ctx context.Context, envelope Envelope, raw []byte) (*models.Message, error) {
	content, err := mime.Parse(raw)
	if err != nil {
		log.WarnContext(ctx).
			Err(err).
			Msg("could not parse message, storing it as plain text")

		content = &mime.Content{
			Header: make(models.Header),
			Text:   strings.ReplaceAll(string(raw), "\r\n", "\n"),
		}
	}

	message := newMessage(models.SourceSMTP, content)
	message.EnvelopeFrom = envelope.From.String()
	message.EnvelopeTo = envelope.recipients()
	message.RawSize = envelope.Size

	if message.RawSize == 0 {
		message.RawSize = int64(len(raw))
	}

	if message.From == "" {
		message.From = message.EnvelopeFrom
	}

	if len(message.To) == 0 {
		message.To = message.EnvelopeTo
	}

	return m.insert(ctx, message, raw)
}

// Submit validates a json submission, composes its raw source and stores it. The body of the
// message is the submitted text as is. rawSize is the length of the request body.
func (m *Mailman) Submit(ctx context.Context, sub Submission, rawSize int64) (*models.Message, error) {
	from, to, err := validateAddresses(sub.From, sub.To)
	if err != nil {
		return nil, err
	}

	id, err := m.idGen.GenerateID()
	if err != nil {
		return nil, err
	}

	raw, err := mime.Compose(&mime.Draft{
		ID:      id + "@fauxmail",
		From:    from,
		To:      to,
		Subject: sub.Subject,
		Text:    sub.Text,
		HTML:    sub.HTML,
		Header:  sub.Headers,
		Date:    time.Now(),
	})

	if err != nil {
		return nil, err
	}

	content, err := mime.Parse(raw)
	if err != nil {
		return nil, err
	}

	message := models.Message{
		Source:       models.SourceREST,
		From:         from,
		To:           to,
		EnvelopeFrom: from,
		EnvelopeTo:   to,
		Subject:      sub.Subject,
		Body:         sub.Text,
		HTML:         sub.HTML,
		Headers:      content.Header,
		RawSize:      rawSize,
	}

	return m.insert(ctx, &message, raw)
}

// SubmitRaw stores a raw rfc#5322 message. Sender and recipients are taken from its header
// block.
func (m *Mailman) SubmitRaw(ctx context.Context, raw []byte) (*models.Message, error) {
	if !mime.HasHeader(raw) {
		return nil, fmt.Errorf("%w: missing header block", ErrInvalidSubmission)
	}

	content, err := mime.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	from, to, err := validateAddresses(content.From, content.To)
	if err != nil {
		return nil, err
	}

	message := newMessage(models.SourceRaw, content)
	message.From = from
	message.To = to
	message.EnvelopeFrom = from
	message.EnvelopeTo = to
	message.RawSize = int64(len(raw))

	return m.insert(ctx, message, raw)
}

func (m *Mailman) insert(ctx context.Context, message *models.Message, raw []byte) (*models.Message, error) {
	stored, err := m.store.Insert(ctx, message, bytes.NewReader(raw))
	if err != nil {
		log.ErrorContext(ctx).
			Err(err).
			Str("from", message.From).
			Msg("could not store message")

		m.record(ctx, models.Event{
			Level: "error",
			Text:  fmt.Sprintf("%s message from %s was not stored: %v", message.Source, message.From, err),
		})

		return nil, err
	}

	log.InfoContext(ctx).
		Int64("id", stored.ID).
		Str("source", string(stored.Source)).
		Str("from", stored.From).
		Strs("to", stored.To).
		Int64("size", stored.RawSize).
		Msg("message captured")

	m.record(ctx, models.Event{
		Level:     "info",
		Text:      fmt.Sprintf("%s message from %s to %s", stored.Source, stored.From, strings.Join(stored.To, ", ")),
		MessageID: &stored.ID,
	})

	return stored, nil
}

func (m *Mailman) record(ctx context.Context, event models.Event) {
	if err := m.journal.Record(ctx, event); err != nil {
		log.WarnContext(ctx).
			Err(err).
			Msg("could not record event")
	}
}

func newMessage(source models.Source, content *mime.Content) *models.Message {
	message := models.Message{
		Source:  source,
		From:    content.From,
		To:      content.To,
		Subject: content.Subject,
		Body:    content.Text,
		HTML:    content.HTML,
		Headers: content.Header,
	}

	for i, part := range content.Attachments {
		message.Attachments = append(message.Attachments, models.Attachment{
			Index:       i,
			Filename:    part.Filename,
			ContentType: part.ContentType,
			Size:        int64(len(part.Content)),
		})
	}

	return &message
}

func validateAddresses(from string, to []string) (string, models.StringList, error) {
	if strings.TrimSpace(from) == "" {
		return "", nil, fmt.Errorf("%w: missing sender", ErrInvalidSubmission)
	}

	if len(to) == 0 {
		return "", nil, fmt.Errorf("%w: missing recipients", ErrInvalidSubmission)
	}

	fromAddr, err := models.Parse(from)
	if err != nil {
		return "", nil, fmt.Errorf("%w: sender %q: %v", ErrInvalidSubmission, from, err)
	}

	toList := make(models.StringList, len(to))

	for i, raw := range to {
		addr, err := models.Parse(raw)
		if err != nil {
			return "", nil, fmt.Errorf("%w: recipient %q: %v", ErrInvalidSubmission, raw, err)
		}

		toList[i] = addr.String()
	}

	return fromAddr.String(), toList, nil
}
