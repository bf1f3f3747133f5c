// Package sos runs the emergency dispatch pipeline: locate the caller with a
// high accuracy attempt and one low accuracy fallback, persist the event,
// resolve the emergency contact and hand the alert to the outbound channel.
package sos

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"care-coordination-server/internal/alert"
	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/metrics"
	"care-coordination-server/internal/models"
)

// ErrInProgress is returned when the caller already has a pipeline locating.
var ErrInProgress = errors.New("sos: dispatch already in progress")

// State is the per-user pipeline state.
type State string

const (
	StateIdle     State = "idle"
	StateLocating State = "locating"
	StateSent     State = "sent"
)

type EventStore interface {
	Create(ctx context.Context, evt *models.EmergencyEvent) error
	Resolve(ctx context.Context, id, resolvedBy string) (*models.EmergencyEvent, error)
	ListByStatus(ctx context.Context, status models.EmergencyStatus) ([]models.EmergencyEvent, error)
}

type ContactLookup interface {
	EmergencyContact(ctx context.Context, userID string) (string, bool, error)
}

type AlertQueue interface {
	Enqueue(a alert.Alert) bool
}

type Options struct {
	HighAccuracyTimeout time.Duration
	FallbackTimeout     time.Duration
	MaxCacheAge         time.Duration
	FallbackPhone       string
	MapURL              string
}

// Result describes a dispatch that got a location. Event is nil when the
// event could not be persisted.
type Result struct {
	Event       *models.EmergencyEvent `json:"event"`
	Fix         Fix                    `json:"fix"`
	AlertQueued bool                   `json:"alertQueued"`
	State       State                  `json:"state"`
}

type Service struct {
	locator  Locator
	events   EventStore
	contacts ContactLookup
	alerts   AlertQueue
	opts     Options
	metrics  *metrics.Recorder
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	states map[string]State
}

func NewService(locator Locator, events EventStore, contacts ContactLookup, alerts AlertQueue, opts Options, rec *metrics.Recorder, logger zerolog.Logger) *Service {
	if opts.MapURL == "" {
		opts.MapURL = "https://www.google.com/maps"
	}
	return &Service{
		locator:  locator,
		events:   events,
		contacts: contacts,
		alerts:   alerts,
		opts:     opts,
		metrics:  rec,
		logger:   logger.With().Str("component", "sos").Logger(),
		now:      time.Now,
		states:   make(map[string]State),
	}
}

// State returns the caller's pipeline state. Entries exist only while a
// pipeline is running, so a finished or never started caller reads idle.
func (s *Service) State(userID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[userID]; ok {
		return st
	}
	return StateIdle
}

func (s *Service) begin(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states[userID] == StateLocating {
		return false
	}
	s.states[userID] = StateLocating
	return true
}

func (s *Service) finish(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
}

// ReportFix records a device fix for the caller.
func (s *Service) ReportFix(ctx context.Context, actor models.Actor, fix Fix) error {
	if actor.ID == "" {
		return fmt.Errorf("fix without identity: %w", apperr.ErrUnauthorized)
	}
	return s.locator.Report(ctx, actor.ID, fix)
}

// Trigger runs the pipeline for a patient. Once started it is not cancelled
// by ctx; each location attempt is bounded by its own timeout instead.
//
// A persistence failure after a good fix still sends the alert. The result
// is returned together with an error wrapping apperr.ErrPersistence.
func (s *Service) Trigger(ctx context.Context, actor models.Actor) (*Result, error) {
	return s.TriggerWithFix(ctx, actor, nil)
}

// TriggerWithFix is Trigger with the fix the device sent along with the
// request. The fix is recorded as of the trigger start, so either attempt
// may use it; the high accuracy attempt still requires a high accuracy fix.
func (s *Service) TriggerWithFix(ctx context.Context, actor models.Actor, inline *Fix) (*Result, error) {
	if actor.Role != models.RolePatient || actor.ID == "" {
		return nil, fmt.Errorf("only patients can trigger SOS: %w", apperr.ErrUnauthorized)
	}
	if !s.begin(actor.ID) {
		return nil, ErrInProgress
	}
	defer s.finish(actor.ID)
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With().Str("user_id", actor.ID).Logger()

	since := s.now()
	if inline != nil {
		f := *inline
		f.RecordedAt = since
		if err := s.locator.Report(ctx, actor.ID, f); err != nil {
			log.Warn().Err(err).Msg("inline fix not recorded")
		}
	}

	fix, err := s.acquire(ctx, actor.ID, since, log)
	if err != nil {
		s.metrics.ObserveDispatch("location_unavailable")
		log.Warn().Err(err).Msg("sos location unavailable")
		return nil, err
	}

	evt := &models.EmergencyEvent{
		UserID:   actor.ID,
		Lat:      fix.Lat,
		Lng:      fix.Lng,
		Accuracy: fix.Accuracy,
		Status:   models.EmergencyActive,
	}
	persistErr := s.events.Create(ctx, evt)
	if persistErr != nil {
		log.Error().Err(persistErr).Msg("sos event not persisted; alerting anyway")
	}

	queued := s.alerts.Enqueue(alert.Alert{
		EventID: evt.ID,
		UserID:  actor.ID,
		To:      s.contactFor(ctx, actor.ID, log),
		Body:    FormatAlert(s.opts.MapURL, fix),
	})

	res := &Result{Fix: fix, AlertQueued: queued, State: StateSent}
	if persistErr != nil {
		s.metrics.ObserveDispatch("persist_failed")
		return res, fmt.Errorf("emergency event not saved: %w", persistErr)
	}
	res.Event = evt
	s.metrics.ObserveDispatch("sent")
	log.Info().Str("event_id", evt.ID).Float64("accuracy", fix.Accuracy).Bool("alert_queued", queued).Msg("sos dispatched")
	return res, nil
}

// acquire makes the high accuracy attempt and, only after it has definitely
// failed, the low accuracy fallback.
func (s *Service) acquire(ctx context.Context, userID string, since time.Time, log zerolog.Logger) (Fix, error) {
	attempts := []struct {
		label string
		opts  LocateOptions
	}{
		{"high", LocateOptions{HighAccuracy: true, Timeout: s.opts.HighAccuracyTimeout, MaxAge: s.opts.MaxCacheAge, Since: since}},
		{"low", LocateOptions{HighAccuracy: false, Timeout: s.opts.FallbackTimeout, Since: since}},
	}

	var errs []error
	for _, a := range attempts {
		start := time.Now()
		fix, err := s.locator.Locate(ctx, userID, a.opts)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			s.metrics.ObserveLocationAttempt(a.label, "ok", elapsed)
			return fix, nil
		}
		s.metrics.ObserveLocationAttempt(a.label, "failed", elapsed)
		log.Info().Err(err).Str("accuracy", a.label).Msg("location attempt failed")
		errs = append(errs, fmt.Errorf("%s accuracy: %w", a.label, err))
	}
	return Fix{}, fmt.Errorf("%w: %w", apperr.ErrLocationUnavailable, errors.Join(errs...))
}

func (s *Service) contactFor(ctx context.Context, userID string, log zerolog.Logger) string {
	phone, ok, err := s.contacts.EmergencyContact(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("emergency contact lookup failed; using fallback number")
		return s.opts.FallbackPhone
	}
	if !ok {
		return s.opts.FallbackPhone
	}
	return phone
}

// FormatAlert renders the outbound message for fix.
func FormatAlert(mapURL string, fix Fix) string {
	lat := strconv.FormatFloat(fix.Lat, 'f', -1, 64)
	lng := strconv.FormatFloat(fix.Lng, 'f', -1, 64)
	return fmt.Sprintf("🚨 *SOS* - I need help!\n📍 Location: %s?q=%s,%s\n(Acc: %dm)",
		mapURL, lat, lng, int64(math.Round(fix.Accuracy)))
}

// Resolve closes an active event. Resolving an already resolved event
// returns it unchanged with apperr.ErrInvalidTransition.
func (s *Service) Resolve(ctx context.Context, eventID string, actor models.Actor) (*models.EmergencyEvent, error) {
	if actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("only admins can resolve SOS events: %w", apperr.ErrUnauthorized)
	}
	evt, err := s.events.Resolve(ctx, eventID, actor.ID)
	if err != nil {
		return evt, err
	}
	s.logger.Info().Str("event_id", eventID).Str("resolved_by", actor.ID).Msg("sos resolved")
	return evt, nil
}

// Active lists unresolved events, newest first.
func (s *Service) Active(ctx context.Context, actor models.Actor) ([]models.EmergencyEvent, error) {
	return s.list(ctx, actor, models.EmergencyActive)
}

// History lists resolved events, newest first.
func (s *Service) History(ctx context.Context, actor models.Actor) ([]models.EmergencyEvent, error) {
	return s.list(ctx, actor, models.EmergencyResolved)
}

func (s *Service) list(ctx context.Context, actor models.Actor, status models.EmergencyStatus) ([]models.EmergencyEvent, error) {
	if actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("only admins can list SOS events: %w", apperr.ErrUnauthorized)
	}
	return s.events.ListByStatus(ctx, status)
}
