package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"care-coordination-server/internal/changefeed"
	"care-coordination-server/internal/models"
)

// StatusChange is a single-row status update. DoctorID and MeetingToken are
// written only when non-nil. ExpectedVersion 0 means last-writer-wins;
// otherwise the update only applies if the row still carries that version.
type StatusChange struct {
	To              models.AppointmentStatus
	DoctorID        *string
	MeetingToken    *string
	ExpectedVersion uint64
}

// AppointmentStore persists appointments.
type AppointmentStore struct {
	base
}

func NewAppointmentStore(db *gorm.DB, feed changefeed.Publisher, logger zerolog.Logger) *AppointmentStore {
	return &AppointmentStore{base: newBase(db, feed, logger)}
}

func appointmentKey(id uint64) string { return strconv.FormatUint(id, 10) }

// Create inserts a new appointment.
func (s *AppointmentStore) Create(ctx context.Context, appt *models.Appointment) error {
	if appt.Version == 0 {
		appt.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(appt).Error; err != nil {
		return writeErr(err, "create appointment")
	}
	s.publish(ctx, changefeed.Appointments, changefeed.OpInsert, appointmentKey(appt.ID), appt)
	return nil
}

// Get loads an appointment with its doctor.
func (s *AppointmentStore) Get(ctx context.Context, id uint64) (*models.Appointment, error) {
	var appt models.Appointment
	if err := s.db.WithContext(ctx).Preload("Doctor").First(&appt, "id = ?", id).Error; err != nil {
		return nil, readErr(err, fmt.Sprintf("appointment %d", id))
	}
	return &appt, nil
}

// Apply writes change as one UPDATE statement and returns the re-read row.
func (s *AppointmentStore) Apply(ctx context.Context, id uint64, change StatusChange) (*models.Appointment, error) {
	updates := map[string]any{
		"status":  change.To,
		"version": gorm.Expr("version + 1"),
	}
	if change.DoctorID != nil {
		updates["doctor_id"] = *change.DoctorID
	}
	if change.MeetingToken != nil {
		updates["meeting_token"] = *change.MeetingToken
	}

	q := s.db.WithContext(ctx).Model(&models.Appointment{}).Where("id = ?", id)
	if change.ExpectedVersion > 0 {
		q = q.Where("version = ?", change.ExpectedVersion)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, writeErr(res.Error, fmt.Sprintf("update appointment %d", id))
	}
	if res.RowsAffected == 0 {
		if change.ExpectedVersion > 0 {
			return nil, fmt.Errorf("appointment %d at version %d: %w", id, change.ExpectedVersion, ErrStaleWrite)
		}
		return nil, readErr(gorm.ErrRecordNotFound, fmt.Sprintf("appointment %d", id))
	}

	appt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, changefeed.Appointments, changefeed.OpUpdate, appointmentKey(id), appt)
	return appt, nil
}

// ListByPatient returns a patient's bookings, newest first.
func (s *AppointmentStore) ListByPatient(ctx context.Context, patientID string) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).Preload("Doctor").
		Where("patient_id = ?", patientID).
		Order("created_at desc").
		Find(&appts).Error
	if err != nil {
		return nil, readErr(err, "list patient appointments")
	}
	return appts, nil
}

// ListByDoctor returns bookings assigned to a doctor, excluding ones the
// doctor has rejected.
func (s *AppointmentStore) ListByDoctor(ctx context.Context, doctorID string) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).
		Where("doctor_id = ? AND status <> ?", doctorID, models.StatusRejected).
		Order("created_at desc").
		Find(&appts).Error
	if err != nil {
		return nil, readErr(err, "list doctor appointments")
	}
	return appts, nil
}

// ListOpen returns every booking still awaiting admin or doctor action.
func (s *AppointmentStore) ListOpen(ctx context.Context) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := s.db.WithContext(ctx).Preload("Doctor").
		Where("status <> ?", models.StatusConfirmed).
		Order("created_at desc").
		Find(&appts).Error
	if err != nil {
		return nil, readErr(err, "list open appointments")
	}
	return appts, nil
}

// CountOpen counts bookings that are not yet confirmed.
func (s *AppointmentStore) CountOpen(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Appointment{}).Where("status <> ?", models.StatusConfirmed).Count(&n).Error; err != nil {
		return 0, readErr(err, "count open appointments")
	}
	return n, nil
}
