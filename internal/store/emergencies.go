package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/changefeed"
	"care-coordination-server/internal/models"
)

// EmergencyStore persists SOS events.
type EmergencyStore struct {
	base
	now func() time.Time
}

func NewEmergencyStore(db *gorm.DB, feed changefeed.Publisher, logger zerolog.Logger) *EmergencyStore {
	return &EmergencyStore{base: newBase(db, feed, logger), now: time.Now}
}

func (s *EmergencyStore) Create(ctx context.Context, evt *models.EmergencyEvent) error {
	if evt.Status == "" {
		evt.Status = models.EmergencyActive
	}
	if err := s.db.WithContext(ctx).Create(evt).Error; err != nil {
		return writeErr(err, "create emergency event")
	}
	s.publish(ctx, changefeed.EmergencyEvents, changefeed.OpInsert, evt.ID, evt)
	return nil
}

func (s *EmergencyStore) Get(ctx context.Context, id string) (*models.EmergencyEvent, error) {
	var evt models.EmergencyEvent
	if err := s.db.WithContext(ctx).First(&evt, "id = ?", id).Error; err != nil {
		return nil, readErr(err, fmt.Sprintf("emergency event %s", id))
	}
	return &evt, nil
}

// Resolve moves an active event to resolved. The update is conditional on
// the row still being active, so a resolved event can never be reactivated
// or re-resolved; that case returns ErrInvalidTransition.
func (s *EmergencyStore) Resolve(ctx context.Context, id, resolvedBy string) (*models.EmergencyEvent, error) {
	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.EmergencyEvent{}).
		Where("id = ? AND status = ?", id, models.EmergencyActive).
		Updates(map[string]any{
			"status":      models.EmergencyResolved,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})
	if res.Error != nil {
		return nil, writeErr(res.Error, fmt.Sprintf("resolve emergency event %s", id))
	}

	evt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return evt, fmt.Errorf("emergency event %s is %s: %w", id, evt.Status, apperr.ErrInvalidTransition)
	}
	s.publish(ctx, changefeed.EmergencyEvents, changefeed.OpUpdate, id, evt)
	return evt, nil
}

// ListByStatus returns events in the given status, newest first.
func (s *EmergencyStore) ListByStatus(ctx context.Context, status models.EmergencyStatus) ([]models.EmergencyEvent, error) {
	var evts []models.EmergencyEvent
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at desc").
		Find(&evts).Error
	if err != nil {
		return nil, readErr(err, "list emergency events")
	}
	return evts, nil
}

// Count returns the number of events; an empty status counts all of them.
func (s *EmergencyStore) Count(ctx context.Context, status models.EmergencyStatus) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.EmergencyEvent{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, readErr(err, "count emergency events")
	}
	return n, nil
}
