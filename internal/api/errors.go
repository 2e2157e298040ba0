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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

var (
	errInvalidID    = errors.New("api: invalid id")
	errInvalidQuery = errors.New("api: invalid query parameter")
	errNoContent    = errors.New("api: no such content")
	errTooLarge     = errors.New("api: request body too large")
)

type errorResponse struct {
	Error string `json:"error"`
}

// abortWithError maps err to a status code and aborts the request with a json error body.
func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)

	if status == http.StatusInternalServerError {
		log.ErrorContext(c.Request.Context()).
			Err(err).
			Msg("could not handle request")
	} else {
		log.DebugContext(c.Request.Context()).
			Err(err).
			Int("status", status).
			Msg("request rejected")
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, errNoContent):
		return http.StatusNotFound

	case errors.Is(err, storage.ErrStoreFull):
		return http.StatusInsufficientStorage

	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, delivery.ErrInvalidSubmission),
		errors.Is(err, models.ErrInvalidAddressFormat),
		errors.Is(err, models.ErrPathTooLong),
		errors.Is(err, errInvalidID),
		errors.Is(err, errInvalidQuery):
		return http.StatusBadRequest

	case errors.Is(err, delivery.ErrWrongCredentials):
		return http.StatusUnauthorized
	}

	return http.StatusInternalServerError
}
