package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/metrics"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/room"
	"care-coordination-server/internal/store"
)

// Consistency selects how concurrent writes to the same row are resolved.
type Consistency string

const (
	// LastWriterWins issues UPDATE ... WHERE id = ?; a concurrent write to
	// the same row silently overwrites the earlier one.
	LastWriterWins Consistency = "lww"
	// CompareAndSwap guards the UPDATE with the version read before the
	// rules were checked. A stale write fails with ErrInvalidTransition.
	CompareAndSwap Consistency = "cas"
)

// Repository is the appointment storage the service needs.
type Repository interface {
	Create(ctx context.Context, appt *models.Appointment) error
	Get(ctx context.Context, id uint64) (*models.Appointment, error)
	Apply(ctx context.Context, id uint64, change store.StatusChange) (*models.Appointment, error)
	ListByPatient(ctx context.Context, patientID string) ([]models.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]models.Appointment, error)
	ListOpen(ctx context.Context) ([]models.Appointment, error)
}

// DoctorLookup resolves doctors by id and by session email.
type DoctorLookup interface {
	Get(ctx context.Context, id string) (*models.Doctor, error)
	GetByEmail(ctx context.Context, email string) (*models.Doctor, error)
}

type Options struct {
	Consistency Consistency
	TokenPrefix string
}

// CreateInput is what a patient supplies when booking.
type CreateInput struct {
	Reason        string
	ScheduledDate time.Time
}

// TransitionPayload carries edge specific input. DoctorID is required for
// forward edges and ignored otherwise.
type TransitionPayload struct {
	DoctorID string
}

// TransitionError reports a refused transition together with the row as it
// is currently stored, so callers can re-render before retrying.
type TransitionError struct {
	Current *models.Appointment
	To      models.AppointmentStatus
	Err     error
}

func (e *TransitionError) Error() string {
	if e.Current == nil {
		return fmt.Sprintf("transition to %s: %v", e.To, e.Err)
	}
	return fmt.Sprintf("appointment %d %s -> %s: %v", e.Current.ID, e.Current.Status, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Service is the booking state machine.
type Service struct {
	repo    Repository
	doctors DoctorLookup
	opts    Options
	metrics *metrics.Recorder
	logger  zerolog.Logger
}

func NewService(repo Repository, doctors DoctorLookup, opts Options, rec *metrics.Recorder, logger zerolog.Logger) *Service {
	if opts.Consistency == "" {
		opts.Consistency = LastWriterWins
	}
	if opts.TokenPrefix == "" {
		opts.TokenPrefix = "consult"
	}
	return &Service{
		repo:    repo,
		doctors: doctors,
		opts:    opts,
		metrics: rec,
		logger:  logger.With().Str("component", "booking").Logger(),
	}
}

// Create books a new pending appointment for the calling patient.
func (s *Service) Create(ctx context.Context, actor models.Actor, in CreateInput) (*models.Appointment, error) {
	if actor.Role != models.RolePatient || actor.ID == "" {
		return nil, fmt.Errorf("only patients can book appointments: %w", apperr.ErrUnauthorized)
	}
	appt := &models.Appointment{
		PatientID:     actor.ID,
		Reason:        strings.TrimSpace(in.Reason),
		ScheduledDate: in.ScheduledDate,
		Status:        models.StatusPending,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		return nil, err
	}
	s.logger.Info().Uint64("appointment_id", appt.ID).Str("patient_id", actor.ID).Msg("appointment created")
	return appt, nil
}

// Get returns an appointment visible to actor: admins see every row,
// patients their own and doctors the ones assigned to them.
func (s *Service) Get(ctx context.Context, id uint64, actor models.Actor) (*models.Appointment, error) {
	appt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(appt, actor) {
		return nil, fmt.Errorf("appointment %d: %w", id, apperr.ErrUnauthorized)
	}
	return appt, nil
}

// CanView reports whether actor may see appt.
func CanView(appt *models.Appointment, actor models.Actor) bool {
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RolePatient:
		return actor.ID != "" && actor.ID == appt.PatientID
	case models.RoleDoctor:
		return appt.Doctor != nil && appt.Doctor.OwnedBy(actor.Email)
	}
	return false
}

// List returns the actor's working set. Patients get their own bookings,
// doctors the non-rejected bookings assigned to them and admins every
// booking that is not yet confirmed.
func (s *Service) List(ctx context.Context, actor models.Actor) ([]models.Appointment, error) {
	switch actor.Role {
	case models.RolePatient:
		return s.repo.ListByPatient(ctx, actor.ID)
	case models.RoleDoctor:
		doc, err := s.doctors.GetByEmail(ctx, actor.Email)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return []models.Appointment{}, nil
			}
			return nil, err
		}
		return s.repo.ListByDoctor(ctx, doc.ID)
	case models.RoleAdmin:
		return s.repo.ListOpen(ctx)
	}
	return nil, fmt.Errorf("role %q: %w", actor.Role, apperr.ErrUnauthorized)
}

// RequestTransition moves appointment id to status to on behalf of actor.
// Refusals are returned as *TransitionError wrapping ErrInvalidTransition,
// ErrUnauthorized or ErrNotFound and leave the stored row untouched.
func (s *Service) RequestTransition(ctx context.Context, id uint64, to models.AppointmentStatus, actor models.Actor, payload TransitionPayload) (*models.Appointment, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		s.metrics.ObserveTransition("", string(to), outcomeOf(err))
		return nil, err
	}
	from := current.Status

	updated, err := s.transition(ctx, current, to, actor, payload)
	s.metrics.ObserveTransition(string(from), string(to), outcomeOf(err))

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Uint64("appointment_id", id).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("role", string(actor.Role)).
		Msg("appointment transition")
	return updated, err
}

func (s *Service) transition(ctx context.Context, current *models.Appointment, to models.AppointmentStatus, actor models.Actor, payload TransitionPayload) (*models.Appointment, error) {
	refuse := func(err error) (*models.Appointment, error) {
		return nil, &TransitionError{Current: current, To: to, Err: err}
	}

	rule, ok := Lookup(current.Status, to)
	if !ok {
		return refuse(apperr.ErrInvalidTransition)
	}
	if actor.Role != rule.Actor {
		return refuse(fmt.Errorf("%s may not move %s to %s: %w", actor.Role, rule.From, rule.To, apperr.ErrUnauthorized))
	}

	change := store.StatusChange{To: to}
	if s.opts.Consistency == CompareAndSwap {
		change.ExpectedVersion = current.Version
	}

	if rule.DoctorOwned {
		if current.Doctor == nil || !current.Doctor.OwnedBy(actor.Email) {
			return refuse(fmt.Errorf("caller is not the assigned doctor: %w", apperr.ErrUnauthorized))
		}
	}
	if rule.AssignsDoctor {
		doctorID := strings.TrimSpace(payload.DoctorID)
		if doctorID == "" {
			return refuse(fmt.Errorf("doctor id is required: %w", apperr.ErrNotFound))
		}
		doc, err := s.doctors.Get(ctx, doctorID)
		if err != nil {
			return refuse(err)
		}
		change.DoctorID = &doc.ID
	}
	if rule.IssuesToken {
		token := room.NewToken(s.opts.TokenPrefix, current.ID)
		change.MeetingToken = &token
	}

	updated, err := s.repo.Apply(ctx, current.ID, change)
	if err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			if fresh, rerr := s.repo.Get(ctx, current.ID); rerr == nil {
				current = fresh
			}
			return refuse(fmt.Errorf("row changed concurrently: %w", apperr.ErrInvalidTransition))
		}
		return nil, err
	}
	return updated, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, apperr.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, apperr.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
