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
	"fmt"
	"html/template"
	"io/ioutil"
	stdmime "mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lukasdietrich/fauxmail/internal/mime"
	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

type messagesHandler struct {
	store storage.Store
}

type listParams struct {
	Page  int    `form:"page"`
	Limit int    `form:"limit"`
	Query string `form:"q"`
	Dir   string `form:"dir"`
}

type listResponse struct {
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Messages []models.Message `json:"messages"`
}

func (p *listParams) normalize() error {
	if p.Page < 1 {
		p.Page = 1
	}

	switch {
	case p.Limit < 1:
		p.Limit = defaultPageLimit
	case p.Limit > maxPageLimit:
		p.Limit = maxPageLimit
	}

	switch strings.ToLower(p.Dir) {
	case "", "asc", "desc":
		return nil
	default:
		return fmt.Errorf("%w: dir must be asc or desc", errInvalidQuery)
	}
}

func (p *listParams) query() models.Query {
	return models.Query{
		Offset:     (p.Page - 1) * p.Limit,
		Limit:      p.Limit,
		Search:     strings.TrimSpace(p.Query),
		Descending: strings.EqualFold(p.Dir, "desc"),
	}
}

// list handles `GET /messages` and `GET /search`.
func (h messagesHandler) list(c *gin.Context) {
	var params listParams

	if err := c.ShouldBindQuery(&params); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errInvalidQuery, err))
		return
	}

	if err := params.normalize(); err != nil {
		abortWithError(c, err)
		return
	}

	messageSlice, total, err := h.store.List(c.Request.Context(), params.query())
	if err != nil {
		abortWithError(c, err)
		return
	}

	if messageSlice == nil {
		messageSlice = []models.Message{}
	}

	c.JSON(http.StatusOK, listResponse{
		Total:    total,
		Page:     params.Page,
		Limit:    params.Limit,
		Messages: messageSlice,
	})
}

// clear handles `DELETE /messages`.
func (h messagesHandler) clear(c *gin.Context) {
	if err := h.store.Clear(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// get handles `GET /messages/:id`.
func (h messagesHandler) get(c *gin.Context) {
	message, ok := h.find(c)
	if !ok {
		return
	}

	if message.Attachments == nil {
		message.Attachments = []models.Attachment{}
	}

	c.JSON(http.StatusOK, message)
}

// delete handles `DELETE /messages/:id`.
func (h messagesHandler) delete(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// html handles `GET /messages/:id/html`.
func (h messagesHandler) html(c *gin.Context) {
	message, ok := h.find(c)
	if !ok {
		return
	}

	var content template.HTML

	if message.HTML != "" {
		// captured html is shown as is
		content = template.HTML(message.HTML) // nolint:gosec
	}

	c.HTML(http.StatusOK, messageTemplateName, messageView{
		Message: message,
		Content: content,
	})
}

// raw handles `GET /messages/:id/raw`.
func (h messagesHandler) raw(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	raw, err := h.readRaw(c, id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, "message/rfc822", raw)
}

// attachments handles `GET /messages/:id/attachments`.
func (h messagesHandler) attachments(c *gin.Context) {
	message, ok := h.find(c)
	if !ok {
		return
	}

	if message.Attachments == nil {
		message.Attachments = []models.Attachment{}
	}

	c.JSON(http.StatusOK, message.Attachments)
}

// attachment handles `GET /messages/:id/attachments/:index`. The content is taken from the
// raw source, so it is parsed again on every download.
func (h messagesHandler) attachment(c *gin.Context) {
	id, err := paramID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		abortWithError(c, fmt.Errorf("%w: %q", errInvalidID, c.Param("index")))
		return
	}

	raw, err := h.readRaw(c, id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	content, err := mime.Parse(raw)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if index >= len(content.Attachments) {
		abortWithError(c, fmt.Errorf("%w: attachment %d of message %d", errNoContent, index, id))
		return
	}

	part := content.Attachments[index]

	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.Header("Content-Disposition", stdmime.FormatMediaType("inline", map[string]string{
		"filename": part.Filename,
	}))

	c.Data(http.StatusOK, contentType, part.Content)
}

func (h messagesHandler) find(c *gin.Context) (*models.Message, bool) {
	id, err := paramID(c)
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}

	message, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}

	return message, true
}

func (h messagesHandler) readRaw(c *gin.Context, id int64) ([]byte, error) {
	r, err := h.store.Raw(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}

	defer r.Close()

	return ioutil.ReadAll(r)
}

func paramID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: %q", errInvalidID, c.Param("id"))
	}

	return id, nil
}
