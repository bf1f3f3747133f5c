package models

import (
	"fmt"
	"time"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusForwarded AppointmentStatus = "forwarded"
	StatusApproved  AppointmentStatus = "approved"
	StatusRejected  AppointmentStatus = "rejected"
	StatusConfirmed AppointmentStatus = "confirmed"
)

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusForwarded, StatusApproved, StatusRejected, StatusConfirmed:
		return true
	}
	return false
}

// Appointment is the booking record shared by patient, admin and doctor.
// The numeric ID is embedded in meeting tokens.
type Appointment struct {
	ID            uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	PatientID     string            `gorm:"size:36;index;not null" json:"patientId"`
	DoctorID      *string           `gorm:"size:36;index" json:"doctorId"`
	Reason        string            `gorm:"size:255" json:"reason"`
	ScheduledDate time.Time         `gorm:"type:date" json:"scheduledDate"`
	Status        AppointmentStatus `gorm:"size:20;default:'pending';index" json:"status"`
	MeetingToken  *string           `gorm:"size:100;uniqueIndex" json:"meetingToken"`
	Version       uint64            `gorm:"not null;default:1" json:"version"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`

	// Relations
	Doctor *Doctor `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
}

// AssignedDoctor returns the doctor id or "" when none is set.
func (a *Appointment) AssignedDoctor() string {
	if a.DoctorID == nil {
		return ""
	}
	return *a.DoctorID
}

// Token returns the meeting token or "" when none is set.
func (a *Appointment) Token() string {
	if a.MeetingToken == nil {
		return ""
	}
	return *a.MeetingToken
}

// CheckInvariants verifies the field relationships every stored row must
// satisfy. A rejected booking keeps its doctor so only pending rows are
// doctorless.
func (a *Appointment) CheckInvariants() error {
	if !a.Status.Valid() {
		return fmt.Errorf("appointment %d: unknown status %q", a.ID, a.Status)
	}
	hasDoctor := a.AssignedDoctor() != ""
	if a.Status == StatusPending && hasDoctor {
		return fmt.Errorf("appointment %d: pending with doctor %s", a.ID, a.AssignedDoctor())
	}
	if a.Status != StatusPending && !hasDoctor {
		return fmt.Errorf("appointment %d: %s without doctor", a.ID, a.Status)
	}
	hasToken := a.Token() != ""
	if hasToken != (a.Status == StatusConfirmed) {
		return fmt.Errorf("appointment %d: status %s with meeting token set=%t", a.ID, a.Status, hasToken)
	}
	return nil
}
