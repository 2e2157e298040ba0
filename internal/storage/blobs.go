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
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/lukasdietrich/fauxmail/internal/crypto"
	"github.com/lukasdietrich/fauxmail/internal/log"
)

func init() {
	viper.SetDefault("storage.blobs.foldername", "data/blobs")
}

// NewFilesystem returns the filesystem of the operating system.
func NewFilesystem() afero.Fs {
	return afero.NewOsFs()
}

// BlobsOptions configure where blobs are stored.
type BlobsOptions struct {
	// Foldername is the folder containing the blob files.
	Foldername string
}

// BlobsOptionsFromViper returns the blob options configured in viper.
func BlobsOptionsFromViper() BlobsOptions {
	return BlobsOptions{
		Foldername: viper.GetString("storage.blobs.foldername"),
	}
}

// Blobs is a permanent storage for blobs of data. Each blob holds the raw source of a message.
type Blobs interface {
	// Write copies all the data from r to a new blob and returns its id and size.
	Write(context.Context, io.Reader) (string, int64, error)
	// Reader opens a blob for reading. The responsibility to close the reader is on the caller.
	Reader(string) (io.ReadCloser, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(context.Context, string) error
}

type blobs struct {
	fs    afero.Fs
	idGen crypto.IDGenerator
}

// NewBlobs creates a new blob store inside of the configured folder of fs.
func NewBlobs(fs afero.Fs, idGen crypto.IDGenerator, opts BlobsOptions) (Blobs, error) {
	if err := fs.MkdirAll(opts.Foldername, 0700); err != nil {
		return nil, err
	}

	return &blobs{
		fs:    afero.NewBasePathFs(fs, opts.Foldername),
		idGen: idGen,
	}, nil
}

func (b *blobs) Write(ctx context.Context, r io.Reader) (string, int64, error) {
	id, err := b.idGen.GenerateID()
	if err != nil {
		return "", -1, err
	}

	f, err := b.fs.Create(id)
	if err != nil {
		return "", -1, err
	}

	log.DebugContext(ctx).
		Str("blob", id).
		Msg("writing blob")

	size, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		b.Delete(ctx, id) // nolint:errcheck

		return "", -1, err
	}

	return id, size, f.Close()
}

func (b *blobs) Reader(id string) (io.ReadCloser, error) {
	if id == "" {
		return nil, os.ErrNotExist
	}

	return b.fs.Open(id)
}

func (b *blobs) Delete(ctx context.Context, id string) error {
	log.DebugContext(ctx).
		Str("blob", id).
		Msg("removing blob")

	if err := b.fs.Remove(id); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}
