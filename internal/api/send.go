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
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/lukasdietrich/fauxmail/internal/delivery"
)

type sendHandler struct {
	mailman *delivery.Mailman
	maxSize int64
}

type sendResponse struct {
	ID int64 `json:"id"`
}

// json handles `POST /send`.
func (h sendHandler) json(c *gin.Context) {
	body, err := h.readBody(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if !json.Valid(body) {
		abortWithError(c, fmt.Errorf("%w: body is not valid json", delivery.ErrInvalidSubmission))
		return
	}

	var submission delivery.Submission

	if err := binding.JSON.BindBody(body, &submission); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", delivery.ErrInvalidSubmission, err))
		return
	}

	message, err := h.mailman.Submit(c.Request.Context(), submission, int64(len(body)))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sendResponse{ID: message.ID})
}

// raw handles `POST /send/raw`.
func (h sendHandler) raw(c *gin.Context) {
	body, err := h.readBody(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	message, err := h.mailman.SubmitRaw(c.Request.Context(), body)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, sendResponse{ID: message.ID})
}

func (h sendHandler) readBody(c *gin.Context) ([]byte, error) {
	var r io.Reader = c.Request.Body

	if h.maxSize > 0 {
		r = io.LimitReader(r, h.maxSize+1)
	}

	body, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if h.maxSize > 0 && int64(len(body)) > h.maxSize {
		return nil, errTooLarge
	}

	return body, nil
}
