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
	"fmt"
	"io"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/fauxmail/internal/models"
)

var (
	// ErrNotFound is returned when a message does not exist (anymore).
	ErrNotFound = errors.New("storage: message not found")
	// ErrStoreFull is returned by Insert when the capacity is reached and the overflow policy
	// rejects new messages.
	ErrStoreFull = errors.New("storage: store is full")
)

func init() {
	viper.SetDefault("storage.backend", string(BackendMemory))
	viper.SetDefault("storage.capacity", 1000)
	viper.SetDefault("storage.overflow", string(OverflowEvict))
	viper.SetDefault("storage.journal.capacity", 500)
}

// Store holds captured messages. All methods are safe for concurrent use.
type Store interface {
	// Insert writes the raw source, assigns the next id and the time of reception and stores the
	// message. The stored copy is returned. Either the message is stored completely or not at
	// all.
	Insert(ctx context.Context, message *models.Message, raw io.Reader) (*models.Message, error)
	// Get returns a single message or ErrNotFound.
	Get(ctx context.Context, id int64) (*models.Message, error)
	// List returns a page of messages in insertion order and the number of all messages
	// matching the query.
	List(ctx context.Context, query models.Query) ([]models.Message, int, error)
	// Raw opens the raw source of a message.
	Raw(ctx context.Context, id int64) (io.ReadCloser, error)
	// Delete removes a single message or returns ErrNotFound.
	Delete(ctx context.Context, id int64) error
	// Clear removes all messages.
	Clear(ctx context.Context) error
	// Expire removes all messages received before the given time and returns their number.
	Expire(ctx context.Context, before time.Time) (int, error)
}

// Backend selects the implementation of Store and Journal.
type Backend string

const (
	// BackendMemory keeps everything in memory. Nothing survives a restart.
	BackendMemory Backend = "memory"
	// BackendSqlite keeps metadata in a sqlite database and raw sources as files.
	BackendSqlite Backend = "sqlite"
)

// OverflowPolicy decides what happens when a store reaches its capacity.
type OverflowPolicy string

const (
	// OverflowEvict removes the oldest messages first.
	OverflowEvict OverflowPolicy = "evict"
	// OverflowReject refuses new messages with ErrStoreFull.
	OverflowReject OverflowPolicy = "reject"
)

// StoreOptions configure a Store.
type StoreOptions struct {
	Backend Backend
	// Capacity is the maximum number of messages. Zero means unbounded.
	Capacity int
	Overflow OverflowPolicy
	// JournalCapacity is the number of events kept by an in-memory journal.
	JournalCapacity int
}

// StoreOptionsFromViper returns the store options configured in viper.
func StoreOptionsFromViper() StoreOptions {
	return StoreOptions{
		Backend:         Backend(viper.GetString("storage.backend")),
		Capacity:        viper.GetInt("storage.capacity"),
		Overflow:        OverflowPolicy(viper.GetString("storage.overflow")),
		JournalCapacity: viper.GetInt("storage.journal.capacity"),
	}
}

// Validate checks for unknown backends, policies and negative capacities.
func (o StoreOptions) Validate() error {
	switch o.Backend {
	case BackendMemory, BackendSqlite:
	default:
		return fmt.Errorf("storage: unknown backend %q", o.Backend)
	}

	switch o.Overflow {
	case OverflowEvict, OverflowReject:
	default:
		return fmt.Errorf("storage: unknown overflow policy %q", o.Overflow)
	}

	if o.Capacity < 0 {
		return fmt.Errorf("storage: negative capacity %d", o.Capacity)
	}

	return nil
}
