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
	"io"

	"github.com/stretchr/testify/mock"
)

// MockBlobs is a mock implementation of Blobs.
type MockBlobs struct {
	mock.Mock
}

// Write implements Blobs.
func (m *MockBlobs) Write(ctx context.Context, r io.Reader) (string, int64, error) {
	args := m.Called(ctx, r)
	return args.String(0), args.Get(1).(int64), args.Error(2)
}

// Reader implements Blobs.
func (m *MockBlobs) Reader(id string) (io.ReadCloser, error) {
	args := m.Called(id)
	r, _ := args.Get(0).(io.ReadCloser)
	return r, args.Error(1)
}

// Delete implements Blobs.
func (m *MockBlobs) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
