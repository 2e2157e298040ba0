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
	stdmime "mime"
	"net/mail"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// Draft is a message that is not yet encoded.
type Draft struct {
	ID      string
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
	Header  map[string]string
	Date    time.Time
}

// Compose encodes a draft into a raw rfc#5322 message. A draft with html becomes a
// multipart/alternative message, otherwise a single text/plain part.
func Compose(d *Draft) ([]byte, error) {
	root := enmime.NewPart("text/plain")
	root.Charset = "utf-8"
	root.Content = []byte(d.Text)

	if d.HTML != "" {
		text := root

		html := enmime.NewPart("text/html")
		html.Charset = "utf-8"
		html.Content = []byte(d.HTML)

		root = enmime.NewPart("multipart/alternative")
		root.AddChild(text)
		root.AddChild(html)
	}

	for key, value := range d.Header {
		root.Header.Set(key, value)
	}

	to := make([]string, 0, len(d.To))
	for _, addr := range d.To {
		to = append(to, formatAddress(addr))
	}

	root.Header.Set("From", formatAddress(d.From))
	root.Header.Set("To", strings.Join(to, ", "))
	root.Header.Set("Subject", stdmime.QEncoding.Encode("utf-8", d.Subject))
	root.Header.Set("Date", d.Date.Format(time.RFC1123Z))
	root.Header.Set("MIME-Version", "1.0")

	if d.ID != "" {
		root.Header.Set("Message-ID", fmt.Sprintf("<%s>", d.ID))
	}

	var buffer bytes.Buffer
	if err := root.Encode(&buffer); err != nil {
		return nil, fmt.Errorf("mime: could not encode message: %w", err)
	}

	return buffer.Bytes(), nil
}

func formatAddress(addr string) string {
	a := mail.Address{Address: addr}
	return a.String()
}
