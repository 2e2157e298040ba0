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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

const maxLogLimit = 200

type logsHandler struct {
	journal storage.Journal
}

type logsParams struct {
	Limit int `form:"limit"`
}

// recent handles `GET /logs`. Events are returned newest first.
func (h logsHandler) recent(c *gin.Context) {
	var params logsParams

	if err := c.ShouldBindQuery(&params); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", errInvalidQuery, err))
		return
	}

	if params.Limit < 1 || params.Limit > maxLogLimit {
		params.Limit = maxLogLimit
	}

	events, err := h.journal.Recent(c.Request.Context(), params.Limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if events == nil {
		events = []models.Event{}
	}

	c.JSON(http.StatusOK, events)
}
