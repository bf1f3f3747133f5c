// Package store is the gorm persistence layer. Every committed write is
// re-read and published to the change feed.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/changefeed"
)

// ErrStaleWrite is returned by a version-guarded update that matched no row
// because another writer got there first.
var ErrStaleWrite = errors.New("store: stale write")

type base struct {
	db     *gorm.DB
	feed   changefeed.Publisher
	logger zerolog.Logger
}

func newBase(db *gorm.DB, feed changefeed.Publisher, logger zerolog.Logger) base {
	return base{db: db, feed: feed, logger: logger.With().Str("component", "store").Logger()}
}

// publish is best-effort: the row is already committed and subscribers
// reconcile on their next event.
func (b base) publish(ctx context.Context, collection string, op changefeed.Operation, key string, row any) {
	if b.feed == nil {
		return
	}
	evt, err := changefeed.NewEvent(collection, op, key, row)
	if err == nil {
		err = b.feed.Publish(ctx, evt)
	}
	if err != nil {
		b.logger.Warn().Err(err).Str("collection", collection).Str("key", key).Msg("change feed publish failed")
	}
}

// readErr maps gorm read errors onto the domain taxonomy.
func readErr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", what, apperr.ErrPersistence, err)
}

func writeErr(err error, what string) error {
	return fmt.Errorf("%s: %w: %v", what, apperr.ErrPersistence, err)
}
