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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/log"
)

const requestIDHeader = "X-Request-Id"

// requestLogger tags the request context with an identifier and logs every finished request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			start     = time.Now()
			requestID = uuid.New().String()
		)

		ctx := log.WithOrigin(c.Request.Context(), "http")
		ctx = log.WithRequest(ctx, requestID)

		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, requestID)

		c.Next()

		log.DebugContext(ctx).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	}
}

func recovery(c *gin.Context, err interface{}) {
	log.ErrorContext(c.Request.Context()).
		Interface("panic", err).
		Msg("recovered from panic")

	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// basicAuth requires the configured smtp credentials on every request.
func basicAuth(authenticator delivery.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		name, pass, ok := c.Request.BasicAuth()
		if !ok {
			unauthorized(c)
			return
		}

		ctx := c.Request.Context()

		if err := authenticator.Auth(ctx, []byte(name), []byte(pass)); err != nil {
			if errors.Is(err, delivery.ErrWrongCredentials) {
				unauthorized(c)
				return
			}

			abortWithError(c, err)
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Basic realm="fauxmail"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}
