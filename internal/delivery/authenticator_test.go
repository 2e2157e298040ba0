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
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/fauxmail/internal/log"
)

func useFastHashing() {
	viper.Set("security.crypto.argon2.time", 1)
	viper.Set("security.crypto.argon2.memory", 1024)
	viper.Set("security.crypto.argon2.threads", 1)
}

func TestAuthOptionsFromViper(t *testing.T) {
	viper.Set("smtp.user", "dev")
	viper.Set("smtp.pass", "hunter2")
	viper.Set("security.auth.minDuration", "250ms")

	defer func() {
		viper.Set("smtp.user", "")
		viper.Set("smtp.pass", "")
		viper.Set("security.auth.minDuration", "1s")
	}()

	expected := AuthOptions{
		User:        "dev",
		Pass:        "hunter2",
		MinDuration: 250 * time.Millisecond,
	}
	assert.Equal(t, expected, AuthOptionsFromViper())
}

func TestAuthenticatorTestSuite(t *testing.T) {
	suite.Run(t, new(AuthenticatorTestSuite))
}

type AuthenticatorTestSuite struct {
	suite.Suite

	authenticator Authenticator
}

func (s *AuthenticatorTestSuite) SetupTest() {
	useFastHashing()
	s.authenticator = s.newAuthenticator(0)
}

func (s *AuthenticatorTestSuite) newAuthenticator(minDuration time.Duration) Authenticator {
	authenticator, err := NewAuthenticator(AuthOptions{
		User:        "Someone",
		Pass:        "hunter2",
		MinDuration: minDuration,
	})

	s.Require().NoError(err)
	return authenticator
}

func (s *AuthenticatorTestSuite) TestRequired() {
	s.Assert().True(s.authenticator.Required())

	open, err := NewAuthenticator(AuthOptions{})
	s.Require().NoError(err)
	s.Assert().False(open.Required())
	s.Assert().NoError(open.Auth(context.TODO(), []byte("anyone"), []byte("anything")))
}

func (s *AuthenticatorTestSuite) TestAuthSuccessful() {
	ctx := log.WithCommand(context.TODO(), "TestAuthSuccessful")

	err := s.authenticator.Auth(ctx, []byte("someone"), []byte("hunter2"))
	s.Assert().NoError(err)
}

func (s *AuthenticatorTestSuite) TestAuthWrongPassword() {
	ctx := log.WithCommand(context.TODO(), "TestAuthWrongPassword")

	err := s.authenticator.Auth(ctx, []byte("someone"), []byte("hunter3"))
	s.Assert().Equal(ErrWrongCredentials, err)
}

func (s *AuthenticatorTestSuite) TestAuthUnknownUser() {
	ctx := log.WithCommand(context.TODO(), "TestAuthUnknownUser")

	err := s.authenticator.Auth(ctx, []byte("someone-else"), []byte("hunter2"))
	s.Assert().Equal(ErrWrongCredentials, err)
}

func (s *AuthenticatorTestSuite) TestAuthMinDurationFaster() {
	s.authenticator = s.newAuthenticator(300 * time.Millisecond)

	ctx := log.WithCommand(context.TODO(), "TestAuthMinDurationFaster")

	startTime := time.Now()
	expectedEndTime := startTime.Add(300 * time.Millisecond)

	err := s.authenticator.Auth(ctx, []byte("someone"), []byte("wrong"))
	s.Assert().Equal(ErrWrongCredentials, err)

	s.Assert().WithinDuration(expectedEndTime, time.Now(), 100*time.Millisecond)
}

func (s *AuthenticatorTestSuite) TestAuthSuccessSkipsMinDuration() {
	s.authenticator = s.newAuthenticator(time.Second)

	ctx := log.WithCommand(context.TODO(), "TestAuthSuccessSkipsMinDuration")

	startTime := time.Now()

	err := s.authenticator.Auth(ctx, []byte("someone"), []byte("hunter2"))
	s.Assert().NoError(err)

	s.Assert().Less(time.Since(startTime), 500*time.Millisecond)
}
