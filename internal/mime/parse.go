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

package mime

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/lukasdietrich/fauxmail/internal/models"
)

// Content is the parsed form of a raw message.
type Content struct {
	Header      models.Header
	From        string
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Part
}

// Part is an attachment of a message.
type Part struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Parse reads the header block and the body parts of a raw message. A message without any
// header block is treated as a plain text body. Line endings of the text body are normalized
// to <LF>.
func Parse(raw []byte) (*Content, error) {
	if !HasHeader(raw) {
		return &Content{
			Header: make(models.Header),
			Text:   normalizeNewlines(string(skipEmptyHeader(raw))),
		}, nil
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mime: could not parse message: %w", err)
	}

	content := Content{
		Header:  make(models.Header),
		Subject: env.GetHeader("Subject"),
		Text:    normalizeNewlines(env.Text),
		HTML:    env.HTML,
	}

	for _, key := range env.GetHeaderKeys() {
		content.Header[key] = env.GetHeaderValues(key)
	}

	if from := addressList(env, "From"); len(from) > 0 {
		content.From = from[0]
	}

	content.To = append(addressList(env, "To"), addressList(env, "Cc")...)

	for _, part := range append(env.Attachments, env.Inlines...) {
		if part.FileName == "" {
			continue
		}

		content.Attachments = append(content.Attachments, Part{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Content:     part.Content,
		})
	}

	return &content, nil
}

// HasHeader reports whether raw starts with a header block. Every line up to the first empty
// line (or the end of raw) must be a header field or the continuation of one.
func HasHeader(raw []byte) bool {
	if len(raw) == 0 {
		return false
	}

	for first := true; len(raw) > 0; first = false {
		var line []byte

		if end := bytes.IndexByte(raw, '\n'); end < 0 {
			line, raw = raw, nil
		} else {
			line, raw = raw[:end], raw[end+1:]
		}

		line = bytes.TrimRight(line, "\r")

		switch {
		case len(line) == 0:
			return !first
		case line[0] == ' ' || line[0] == '\t':
			if first {
				return false
			}
		case !isField(line):
			return false
		}
	}

	return true
}

func isField(line []byte) bool {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return false
	}

	// see RFC#5322 2.2 for the characters allowed in field names
	for _, b := range line[:colon] {
		if b < 33 || b > 126 {
			return false
		}
	}

	return true
}

func skipEmptyHeader(raw []byte) []byte {
	switch {
	case bytes.HasPrefix(raw, []byte("\r\n")):
		return raw[2:]
	case bytes.HasPrefix(raw, []byte("\n")):
		return raw[1:]
	default:
		return raw
	}
}

func addressList(env *enmime.Envelope, key string) []string {
	list, err := env.AddressList(key)
	if err != nil {
		if raw := strings.TrimSpace(env.GetHeader(key)); raw != "" {
			return []string{raw}
		}

		return nil
	}

	addresses := make([]string, 0, len(list))
	for _, addr := range list {
		addresses = append(addresses, addr.Address)
	}

	return addresses
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
