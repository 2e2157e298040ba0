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
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/fauxmail/internal/delivery"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

func init() {
	viper.SetDefault("http.address", "127.0.0.1:8025")
	viper.SetDefault("http.requireauth", false)
	viper.SetDefault("http.cors.origins", []string{"*"})
	viper.SetDefault("http.shutdowntimeout", "5s")

	gin.SetMode(gin.ReleaseMode)
}

// Options configures the http api.
type Options struct {
	Address         string
	RequireAuth     bool
	CorsOrigins     []string
	MaxSize         int64
	ShutdownTimeout time.Duration
}

// OptionsFromViper reads the http options. The size limit is shared with smtp.
func OptionsFromViper() Options {
	return Options{
		Address:         viper.GetString("http.address"),
		RequireAuth:     viper.GetBool("http.requireauth"),
		CorsOrigins:     viper.GetStringSlice("http.cors.origins"),
		MaxSize:         int64(viper.GetSizeInBytes("mail.sizelimit")),
		ShutdownTimeout: viper.GetDuration("http.shutdowntimeout"),
	}
}

// Server serves the ingestion and inspection api.
type Server struct {
	opts    Options
	handler http.Handler
}

// New creates the router with all routes.
func New(
	opts Options,
	authenticator delivery.Authenticator,
	mailman *delivery.Mailman,
	store storage.Store,
	journal storage.Journal,
) *Server {
	router := gin.New()
	router.SetHTMLTemplate(messageTemplate)

	router.Use(requestLogger(), gin.CustomRecovery(recovery))
	router.Use(cors.New(corsConfig(opts.CorsOrigins)))

	if opts.RequireAuth && authenticator.Required() {
		router.Use(basicAuth(authenticator))
	}

	var (
		send     = sendHandler{mailman: mailman, maxSize: opts.MaxSize}
		messages = messagesHandler{store: store}
		logs     = logsHandler{journal: journal}
	)

	router.POST("/send", send.json)
	router.POST("/send/raw", send.raw)

	router.GET("/messages", messages.list)
	router.DELETE("/messages", messages.clear)
	router.GET("/messages/:id", messages.get)
	router.DELETE("/messages/:id", messages.delete)
	router.GET("/messages/:id/html", messages.html)
	router.GET("/messages/:id/raw", messages.raw)
	router.GET("/messages/:id/attachments", messages.attachments)
	router.GET("/messages/:id/attachments/:index", messages.attachment)

	router.GET("/search", messages.list)
	router.GET("/logs", logs.recent)

	return &Server{
		opts:    opts,
		handler: router,
	}
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	config.AddAllowMethods(http.MethodDelete)
	config.AddAllowHeaders("Authorization")

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}

	return config
}

// Handler returns the http handler of the api.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen opens a tcp listener on the configured address and serves until ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	l, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, l)
}

// Serve accepts http connections on l. Once ctx is done, the server is shut down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	server := http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return log.WithOrigin(context.Background(), "http")
		},
	}

	shutdownErr := make(chan error, 1)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	log.InfoContext(ctx).
		Stringer("addr", l.Addr()).
		Msg("listening")

	if err := server.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return <-shutdownErr
}
