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
	"context"
	"errors"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/fauxmail/internal/crypto"
	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
)

var (
	// ErrWrongCredentials is returned when either the user name or the password does not match
	// the configured credentials.
	ErrWrongCredentials = errors.New("wrong user or password combination")
)

func init() {
	viper.SetDefault("security.auth.minDuration", "1s")
}

// AuthOptions hold the single set of credentials clients must present.
type AuthOptions struct {
	User string
	Pass string
	// MinDuration is the minimum time a failed authentication attempt takes.
	MinDuration time.Duration
}

// AuthOptionsFromViper returns the credentials configured in viper.
func AuthOptionsFromViper() AuthOptions {
	return AuthOptions{
		User:        viper.GetString("smtp.user"),
		Pass:        viper.GetString("smtp.pass"),
		MinDuration: viper.GetDuration("security.auth.minDuration"),
	}
}

// Authenticator checks credentials of smtp, pop3 and http clients.
type Authenticator interface {
	// Required reports whether credentials are configured at all.
	Required() bool
	// Auth checks a user name and password. If no credentials are configured every attempt is
	// successful. Otherwise ErrWrongCredentials is returned for a mismatch.
	Auth(ctx context.Context, name, pass []byte) error
}

type authenticator struct {
	name        string
	hash        string
	minDuration time.Duration
}

// NewAuthenticator creates a new Authenticator. The configured password is hashed once, so that
// it is not kept around in plain text.
func NewAuthenticator(opts AuthOptions) (Authenticator, error) {
	a := authenticator{
		minDuration: opts.MinDuration,
	}

	if opts.User == "" && opts.Pass == "" {
		log.Info().Msg("no credentials configured, authentication is disabled")
		return &a, nil
	}

	hash, err := crypto.Hash([]byte(opts.Pass))
	if err != nil {
		return nil, err
	}

	a.name = models.NormalizeName(opts.User)
	a.hash = hash

	return &a, nil
}

func (a *authenticator) Required() bool {
	return a.hash != ""
}

func (a *authenticator) Auth(ctx context.Context, name, pass []byte) (err error) {
	if !a.Required() {
		return nil
	}

	startTime := time.Now()
	defer func() {
		if err != nil {
			a.ensureMinDuration(startTime)
		}
	}()

	// The password is verified even for an unknown name, so that both cases take equally long.
	err = crypto.Verify(a.hash, pass)
	if err != nil && !errors.Is(err, crypto.ErrPasswordMismatch) {
		return err
	}

	if models.NormalizeName(string(name)) != a.name {
		log.WarnContext(ctx).
			Bytes("name", name).
			Msg("failed auth attempt: unknown user")

		return ErrWrongCredentials
	}

	if err != nil {
		log.WarnContext(ctx).
			Bytes("name", name).
			Msg("failed auth attempt: wrong password")

		return ErrWrongCredentials
	}

	return nil
}

func (a *authenticator) ensureMinDuration(start time.Time) {
	elapsed := time.Since(start)
	remaining := a.minDuration - elapsed

	if remaining > 0 {
		time.Sleep(remaining)
	}
}
