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
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/lukasdietrich/fauxmail/internal/log"
	"github.com/lukasdietrich/fauxmail/internal/models"
	"github.com/lukasdietrich/fauxmail/internal/storage"
)

func init() {
	viper.SetDefault("storage.retention", "0s")
	viper.SetDefault("storage.cleaninterval", "1m")
}

// CleanerOptions configure the retention of messages.
type CleanerOptions struct {
	// Retention is the age after which messages are removed. Zero keeps messages forever.
	Retention time.Duration
	// Interval is the time between two runs of the cleaner.
	Interval time.Duration
}

// CleanerOptionsFromViper returns the retention options configured in viper.
func CleanerOptionsFromViper() CleanerOptions {
	return CleanerOptions{
		Retention: viper.GetDuration("storage.retention"),
		Interval:  viper.GetDuration("storage.cleaninterval"),
	}
}

// Cleaner is a service to remove messages older than the retention.
type Cleaner struct {
	store   storage.Store
	journal storage.Journal
	opts    CleanerOptions
}

// NewCleaner creates a new Cleaner.
func NewCleaner(store storage.Store, journal storage.Journal, opts CleanerOptions) *Cleaner {
	return &Cleaner{
		store:   store,
		journal: journal,
		opts:    opts,
	}
}

// Enabled reports whether a retention is configured.
func (c *Cleaner) Enabled() bool {
	return c.opts.Retention > 0
}

// Clean removes all expired messages and returns their number.
func (c *Cleaner) Clean(ctx context.Context) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}

	n, err := c.store.Expire(ctx, time.Now().Add(-c.opts.Retention))
	if err != nil {
		return 0, err
	}

	if n > 0 {
		log.InfoContext(ctx).
			Int("expired", n).
			Msg("removed expired messages")

		if err := c.journal.Record(ctx, models.Event{
			Level: "info",
			Text:  fmt.Sprintf("removed %d messages older than %s", n, c.opts.Retention),
		}); err != nil {
			log.WarnContext(ctx).Err(err).Msg("could not record event")
		}
	}

	return n, nil
}

// Run cleans periodically until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if !c.Enabled() {
		return
	}

	interval := c.opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := c.Clean(ctx); err != nil {
			log.ErrorContext(ctx).
				Err(err).
				Msg("could not remove expired messages")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
