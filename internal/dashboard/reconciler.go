// Package dashboard turns change feed events into authoritative row
// snapshots for one viewer. An event only says which row changed; the row
// pushed to the viewer is always re-read from the store.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/booking"
	"care-coordination-server/internal/changefeed"
	"care-coordination-server/internal/metrics"
	"care-coordination-server/internal/models"
)

// Snapshot is one row as the viewer should now display it. Visible false
// tells the viewer to drop the row; Row is then omitted.
type Snapshot struct {
	Collection string               `json:"collection"`
	Operation  changefeed.Operation `json:"operation"`
	Key        string               `json:"key"`
	Visible    bool                 `json:"visible"`
	Row        any                  `json:"row,omitempty"`
	At         time.Time            `json:"at"`
}

type AppointmentReader interface {
	Get(ctx context.Context, id uint64) (*models.Appointment, error)
}

type EmergencyReader interface {
	Get(ctx context.Context, id string) (*models.EmergencyEvent, error)
}

type DoctorResolver interface {
	GetByEmail(ctx context.Context, email string) (*models.Doctor, error)
}

// BookingLister returns the viewer's current appointment working set.
type BookingLister interface {
	List(ctx context.Context, actor models.Actor) ([]models.Appointment, error)
}

// EmergencyLister returns the active SOS events an admin should see.
type EmergencyLister interface {
	Active(ctx context.Context, actor models.Actor) ([]models.EmergencyEvent, error)
}

// Sources are the authoritative reads behind a dashboard.
type Sources struct {
	Appointments AppointmentReader
	Emergencies  EmergencyReader
	Doctors      DoctorResolver
	Bookings     BookingLister
	SOS          EmergencyLister
}

// OpSync marks the initial snapshots sent when a stream opens.
const OpSync changefeed.Operation = "sync"

type Reconciler struct {
	feed    changefeed.Feed
	src     Sources
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

func NewReconciler(feed changefeed.Feed, src Sources, rec *metrics.Recorder, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		feed:    feed,
		src:     src,
		metrics: rec,
		logger:  logger.With().Str("component", "dashboard").Logger(),
	}
}

// stream is the per-viewer state: which keys the viewer currently shows.
type stream struct {
	r      *Reconciler
	actor  models.Actor
	shown  map[string]bool
	out    chan Snapshot
	logger zerolog.Logger
}

// Stream subscribes actor's dashboard. It first sends the viewer's current
// working set as OpSync snapshots, then one snapshot per relevant change.
// Subscribing happens before the initial read so no change is missed. The
// returned channel is closed when ctx is done or the feed ends.
func (r *Reconciler) Stream(ctx context.Context, actor models.Actor) (<-chan Snapshot, error) {
	apptPred, err := r.appointmentFilter(ctx, actor)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	appts, err := r.feed.Subscribe(ctx, changefeed.Appointments, apptPred)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe appointments: %w", err)
	}

	var sosEvents <-chan changefeed.ChangeEvent
	var sos changefeed.Subscription
	if actor.Role == models.RoleAdmin {
		sos, err = r.feed.Subscribe(ctx, changefeed.EmergencyEvents, changefeed.All)
		if err != nil {
			_ = appts.Close()
			cancel()
			return nil, fmt.Errorf("subscribe emergency events: %w", err)
		}
		sosEvents = sos.Events()
	}

	s := &stream{
		r:      r,
		actor:  actor,
		shown:  make(map[string]bool),
		out:    make(chan Snapshot, 16),
		logger: r.logger.With().Str("role", string(actor.Role)).Str("viewer", actor.ID).Logger(),
	}

	go func() {
		defer close(s.out)
		defer cancel()
		defer appts.Close()
		if sos != nil {
			defer sos.Close()
		}

		if !s.sync(ctx) {
			return
		}

		apptEvents := appts.Events()
		for apptEvents != nil || sosEvents != nil {
			var evt changefeed.ChangeEvent
			var ok bool
			select {
			case <-ctx.Done():
				return
			case evt, ok = <-apptEvents:
				if !ok {
					apptEvents = nil
					continue
				}
			case evt, ok = <-sosEvents:
				if !ok {
					sosEvents = nil
					continue
				}
			}
			snap, send := s.reconcile(ctx, evt)
			if !send {
				continue
			}
			if !s.emit(ctx, snap) {
				return
			}
		}
	}()
	return s.out, nil
}

func (s *stream) emit(ctx context.Context, snap Snapshot) bool {
	select {
	case s.out <- snap:
		s.r.metrics.ObserveSnapshot(snap.Collection)
		return true
	case <-ctx.Done():
		return false
	}
}

// sync sends the initial working set and marks it as shown.
func (s *stream) sync(ctx context.Context) bool {
	now := time.Now().UTC()
	appts, err := s.r.src.Bookings.List(ctx, s.actor)
	if err != nil {
		s.logger.Warn().Err(err).Msg("initial appointment read failed")
	}
	for i := range appts {
		key := strconv.FormatUint(appts[i].ID, 10)
		s.shown[changefeed.Appointments+"/"+key] = true
		snap := Snapshot{Collection: changefeed.Appointments, Operation: OpSync, Key: key, Visible: true, Row: &appts[i], At: now}
		if !s.emit(ctx, snap) {
			return false
		}
	}

	if s.actor.Role != models.RoleAdmin {
		return true
	}
	events, err := s.r.src.SOS.Active(ctx, s.actor)
	if err != nil {
		s.logger.Warn().Err(err).Msg("initial emergency read failed")
	}
	for i := range events {
		key := events[i].ID
		s.shown[changefeed.EmergencyEvents+"/"+key] = true
		snap := Snapshot{Collection: changefeed.EmergencyEvents, Operation: OpSync, Key: key, Visible: true, Row: &events[i], At: now}
		if !s.emit(ctx, snap) {
			return false
		}
	}
	return true
}

// appointmentFilter narrows the feed before the re-read. Patient ownership
// is immutable so it can be read from the event row. Doctors see every
// appointment event because a re-forward moves a row out of their view.
func (r *Reconciler) appointmentFilter(ctx context.Context, actor models.Actor) (changefeed.Predicate, error) {
	switch actor.Role {
	case models.RoleAdmin:
		return changefeed.All, nil
	case models.RolePatient:
		if actor.ID == "" {
			return nil, fmt.Errorf("patient without id: %w", apperr.ErrUnauthorized)
		}
		return func(evt changefeed.ChangeEvent) bool {
			var row struct {
				PatientID string `json:"patientId"`
			}
			if err := json.Unmarshal(evt.Row, &row); err != nil {
				return true
			}
			return row.PatientID == actor.ID
		}, nil
	case models.RoleDoctor:
		if _, err := r.src.Doctors.GetByEmail(ctx, actor.Email); err != nil {
			return nil, err
		}
		return changefeed.All, nil
	}
	return nil, fmt.Errorf("role %q: %w", actor.Role, apperr.ErrUnauthorized)
}

func (s *stream) reconcile(ctx context.Context, evt changefeed.ChangeEvent) (Snapshot, bool) {
	snap := Snapshot{Collection: evt.Collection, Operation: evt.Operation, Key: evt.Key, At: time.Now().UTC()}

	var row any
	var visible bool
	var err error
	switch evt.Collection {
	case changefeed.Appointments:
		row, visible, err = s.appointment(ctx, evt.Key)
	case changefeed.EmergencyEvents:
		row, visible, err = s.emergency(ctx, evt.Key)
	default:
		return snap, false
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("collection", evt.Collection).Str("key", evt.Key).Msg("authoritative re-read failed")
		return snap, false
	}

	id := evt.Collection + "/" + evt.Key
	if !visible {
		if !s.shown[id] {
			return snap, false
		}
		delete(s.shown, id)
		return snap, true
	}
	s.shown[id] = true
	snap.Visible = true
	snap.Row = row
	return snap, true
}

func (s *stream) appointment(ctx context.Context, key string) (any, bool, error) {
	id, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("appointment key %q: %w", key, err)
	}
	appt, err := s.r.src.Appointments.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	visible := booking.CanView(appt, s.actor)
	if s.actor.Role == models.RoleDoctor && appt.Status == models.StatusRejected {
		visible = false
	}
	return appt, visible, nil
}

func (s *stream) emergency(ctx context.Context, key string) (any, bool, error) {
	evt, err := s.r.src.Emergencies.Get(ctx, key)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// The admin working set is the active list; a resolved event leaves it.
	visible := s.actor.Role == models.RoleAdmin && evt.Status == models.EmergencyActive
	return evt, visible, nil
}
