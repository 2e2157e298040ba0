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
	"html/template"
	"strings"

	"github.com/lukasdietrich/fauxmail/internal/models"
)

const messageTemplateName = "message"

type messageView struct {
	Message *models.Message
	Content template.HTML
}

var messageTemplate = template.Must(template.New(messageTemplateName).
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{with .Message.Subject}}{{.}}{{else}}(no subject){{end}}</title>
<style>body { font-family: system-ui, sans-serif; margin: 1.5rem; }</style>
</head>
<body>
<h2>{{with .Message.Subject}}{{.}}{{else}}(no subject){{end}}</h2>
<p>
<strong>From:</strong> {{with .Message.From}}{{.}}{{else}}(unknown){{end}}
<strong>To:</strong> {{with .Message.To}}{{join . ", "}}{{else}}(none){{end}}
</p>
<hr>
{{if .Content}}<div>{{.Content}}</div>{{else if .Message.Body}}<pre>{{.Message.Body}}</pre>{{else}}<em>No content</em>{{end}}
<h3>Attachments</h3>
{{range .Message.Attachments}}<div><a href="/messages/{{$.Message.ID}}/attachments/{{.Index}}">{{with .Filename}}{{.}}{{else}}(attachment){{end}}</a> ({{.Size}} bytes, {{.ContentType}})</div>
{{else}}<p>None</p>
{{end}}
</body>
</html>
`))
