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

package database

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/fauxmail/internal/models"
)

func TestAttachmentDaoTestSuite(t *testing.T) {
	suite.Run(t, new(AttachmentDaoTestSuite))
}

type AttachmentDaoTestSuite struct {
	baseDatabaseTestSuite

	attachmentDao AttachmentDao
}

func (s *AttachmentDaoTestSuite) SetupSuite() {
	s.attachmentDao = NewAttachmentDao()
}

func (s *AttachmentDaoTestSuite) SetupTest() {
	s.baseDatabaseTestSuite.SetupTest()

	_, err := NewMessageDao().Insert(s.ctx, s.conn, newTestMessage("blob-1"))
	s.Require().NoError(err)
}

func (s *AttachmentDaoTestSuite) TestInsertAndFind() {
	second := models.Attachment{MessageID: 1, Index: 1, Filename: "b.png", ContentType: "image/png", Size: 20}
	first := models.Attachment{MessageID: 1, Index: 0, Filename: "a.txt", ContentType: "text/plain", Size: 10}

	s.Require().NoError(s.attachmentDao.Insert(s.ctx, s.conn, &second))
	s.Require().NoError(s.attachmentDao.Insert(s.ctx, s.conn, &first))

	actual, err := s.attachmentDao.FindByMessage(s.ctx, s.conn, 1)
	s.Require().NoError(err)
	s.Assert().Equal([]models.Attachment{first, second}, actual)
}

func (s *AttachmentDaoTestSuite) TestInsertUnknownMessage() {
	attachment := models.Attachment{MessageID: 42, Filename: "a.txt"}
	s.Assert().Error(s.attachmentDao.Insert(s.ctx, s.conn, &attachment))
}

func (s *AttachmentDaoTestSuite) TestFindNone() {
	actual, err := s.attachmentDao.FindByMessage(s.ctx, s.conn, 1)
	s.Require().NoError(err)
	s.Assert().Empty(actual)
}
