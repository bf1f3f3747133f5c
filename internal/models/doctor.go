package models

import "strings"

// GeneralSpecialization is reported for doctors registered without one.
const GeneralSpecialization = "General"

// Doctor is a consultant that bookings can be forwarded to. Email is the
// identity key matched against a doctor's session.
type Doctor struct {
	BaseModel
	Name           string `gorm:"size:150;not null" json:"name"`
	Email          string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Specialization string `gorm:"size:100;index" json:"specialization"`
}

// Category returns the specialization, defaulting to General.
func (d *Doctor) Category() string {
	if s := strings.TrimSpace(d.Specialization); s != "" {
		return s
	}
	return GeneralSpecialization
}

// OwnedBy reports whether the given session email belongs to this doctor.
func (d *Doctor) OwnedBy(email string) bool {
	email = strings.TrimSpace(email)
	return email != "" && strings.EqualFold(email, d.Email)
}
