package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role enum
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// User is an authenticated account. Doctors log in as users whose email
// matches a Doctor row.
type User struct {
	BaseModel
	Email          string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password       string `gorm:"size:255;not null" json:"-"` // Never send password in JSON
	FirstName      string `gorm:"size:100" json:"firstName"`
	LastName       string `gorm:"size:100" json:"lastName"`
	Role           Role   `gorm:"size:20;default:'patient';index" json:"role"`
	PhoneNumber    string `gorm:"size:32" json:"phoneNumber,omitempty"`
	EmergencyPhone string `gorm:"size:32" json:"emergencyPhone,omitempty"`
}

// UserSanitized represents the user data that is safe to send in API responses.
type UserSanitized struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Role           Role      `json:"role"`
	PhoneNumber    string    `json:"phoneNumber,omitempty"`
	EmergencyPhone string    `json:"emergencyPhone,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// SetPassword hashes a password and sets it on the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

// CheckPassword compares a password with the user's hashed password
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}

// Actor returns the identity context for this user.
func (u *User) Actor() Actor {
	return Actor{Role: u.Role, ID: u.ID, Email: u.Email}
}

// Sanitize creates a UserSanitized struct from a User model, excluding sensitive data.
func (u *User) Sanitize() UserSanitized {
	return UserSanitized{
		ID:             u.ID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Role:           u.Role,
		PhoneNumber:    u.PhoneNumber,
		EmergencyPhone: u.EmergencyPhone,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}
