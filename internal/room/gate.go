// Package room decides who may join the video consultation tied to an
// appointment.
package room

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/metrics"
	"care-coordination-server/internal/models"
)

// AppointmentReader loads an appointment with its doctor preloaded.
type AppointmentReader interface {
	Get(ctx context.Context, id uint64) (*models.Appointment, error)
}

// Decision is the outcome of an access check. Granted is false whenever an
// error is returned.
type Decision struct {
	Granted       bool   `json:"granted"`
	AppointmentID uint64 `json:"appointmentId,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func deny(id uint64, reason string) Decision {
	return Decision{AppointmentID: id, Reason: reason}
}

// Gate re-derives room access from the appointment row on every call.
type Gate struct {
	appointments AppointmentReader
	prefix       string
	metrics      *metrics.Recorder
	logger       zerolog.Logger
}

func NewGate(appointments AppointmentReader, prefix string, rec *metrics.Recorder, logger zerolog.Logger) *Gate {
	return &Gate{
		appointments: appointments,
		prefix:       prefix,
		metrics:      rec,
		logger:       logger.With().Str("component", "room_gate").Logger(),
	}
}

// Authorize grants the patient who owns the appointment and the doctor whose
// email matches the assigned doctor. Everyone else, admins included, is
// denied.
func (g *Gate) Authorize(ctx context.Context, token string, actor models.Actor) (Decision, error) {
	d, err := g.decide(ctx, token, actor)
	g.metrics.ObserveRoomDecision(string(actor.Role), d.Granted)
	g.logger.Info().
		Uint64("appointment_id", d.AppointmentID).
		Str("role", string(actor.Role)).
		Bool("granted", d.Granted).
		Str("reason", d.Reason).
		Msg("room access decision")
	return d, err
}

func (g *Gate) decide(ctx context.Context, token string, actor models.Actor) (Decision, error) {
	id, err := ParseToken(g.prefix, token)
	if err != nil {
		return deny(0, "malformed room token"), err
	}

	appt, err := g.appointments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return deny(id, "appointment not found"), err
		}
		return deny(id, "appointment lookup failed"), err
	}

	switch actor.Role {
	case models.RolePatient:
		if actor.ID != "" && actor.ID == appt.PatientID {
			return Decision{
				Granted:       true,
				AppointmentID: id,
				DisplayName:   "Patient",
				ParticipantID: actor.ID,
			}, nil
		}
	case models.RoleDoctor:
		if appt.Doctor != nil && appt.Doctor.OwnedBy(actor.Email) {
			return Decision{
				Granted:       true,
				AppointmentID: id,
				DisplayName:   "Dr. " + appt.Doctor.Name,
				ParticipantID: "doc_" + appt.Doctor.Email,
			}, nil
		}
	}
	return deny(id, "not a participant of this consultation"), nil
}
