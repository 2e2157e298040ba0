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
	"context"

	"github.com/lukasdietrich/fauxmail/internal/models"
)

// AttachmentDao is a data access object for attachment metadata.
type AttachmentDao interface {
	// Insert inserts the metadata of an attachment.
	Insert(context.Context, Queryer, *models.Attachment) error
	// FindByMessage returns all attachments of a message ordered by their position.
	FindByMessage(context.Context, Queryer, int64) ([]models.Attachment, error)
}

type attachmentDao struct{}

// NewAttachmentDao creates a new AttachmentDao.
func NewAttachmentDao() AttachmentDao {
	return attachmentDao{}
}

func (attachmentDao) Insert(ctx context.Context, q Queryer, attachment *models.Attachment) error {
	const query = `
		insert into "attachments" (
			"message_id" ,
			"position" ,
			"filename" ,
			"content_type" ,
			"size"
		) values (
			:message_id ,
			:position ,
			:filename ,
			:content_type ,
			:size
		) ;
	`

	result, err := execNamed(ctx, q, query, attachment)
	if err != nil {
		return err
	}

	return ensureRowsAffected(result)
}

func (attachmentDao) FindByMessage(
	ctx context.Context,
	q Queryer,
	messageID int64,
) ([]models.Attachment, error) {
	const query = `
		select *
		from "attachments"
		where "message_id" = $1
		order by "position" asc ;
	`

	var attachmentSlice []models.Attachment

	if err := selectSlice(ctx, q, &attachmentSlice, query, messageID); err != nil {
		return nil, err
	}

	return attachmentSlice, nil
}
