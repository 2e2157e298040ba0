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

package storage

import (
	"github.com/google/wire"
	"github.com/spf13/afero"

	"github.com/lukasdietrich/fauxmail/internal/crypto"
	"github.com/lukasdietrich/fauxmail/internal/database"
	"github.com/lukasdietrich/fauxmail/internal/log"
)

// WireSet provides the configured store and journal.
var WireSet = wire.NewSet(
	StoreOptionsFromViper,
	BlobsOptionsFromViper,
	database.ConnOptionsFromViper,
	NewFilesystem,
	Open,
	wire.FieldsOf(new(*Storage), "Store", "Journal"),
)

// Storage bundles the store and journal of one backend.
type Storage struct {
	Store   Store
	Journal Journal
}

// Open creates the store and journal of the configured backend. The returned cleanup function
// closes the database connection, if there is one.
func Open(
	fs afero.Fs,
	idGen crypto.IDGenerator,
	opts StoreOptions,
	blobsOpts BlobsOptions,
	connOpts database.ConnOptions,
) (*Storage, func(), error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("backend", string(opts.Backend)).
		Int("capacity", opts.Capacity).
		Str("overflow", string(opts.Overflow)).
		Msg("opening message store")

	if opts.Backend == BackendMemory {
		return openMemory(idGen, opts, blobsOpts)
	}

	return openSqlite(fs, idGen, opts, blobsOpts, connOpts)
}

func openMemory(
	idGen crypto.IDGenerator,
	opts StoreOptions,
	blobsOpts BlobsOptions,
) (*Storage, func(), error) {
	blobs, err := NewBlobs(afero.NewMemMapFs(), idGen, blobsOpts)
	if err != nil {
		return nil, nil, err
	}

	storage := Storage{
		Store:   NewMemoryStore(blobs, opts),
		Journal: NewMemoryJournal(opts.JournalCapacity),
	}

	return &storage, func() {}, nil
}

func openSqlite(
	fs afero.Fs,
	idGen crypto.IDGenerator,
	opts StoreOptions,
	blobsOpts BlobsOptions,
	connOpts database.ConnOptions,
) (*Storage, func(), error) {
	blobs, err := NewBlobs(fs, idGen, blobsOpts)
	if err != nil {
		return nil, nil, err
	}

	conn, err := database.OpenConnection(connOpts)
	if err != nil {
		return nil, nil, err
	}

	storage := Storage{
		Store: NewSqliteStore(
			conn,
			blobs,
			database.NewMessageDao(),
			database.NewAttachmentDao(),
			opts,
		),
		Journal: NewSqliteJournal(conn, database.NewEventDao()),
	}

	cleanup := func() {
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Msg("could not close database connection")
		}
	}

	return &storage, cleanup, nil
}
