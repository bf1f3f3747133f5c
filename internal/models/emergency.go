package models

import "time"

// EmergencyStatus is the lifecycle of an SOS event. Resolved is terminal.
type EmergencyStatus string

const (
	EmergencyActive   EmergencyStatus = "active"
	EmergencyResolved EmergencyStatus = "resolved"
)

// EmergencyEvent is a persisted SOS trigger.
type EmergencyEvent struct {
	BaseModel
	UserID     string          `gorm:"size:36;index;not null" json:"userId"`
	Lat        float64         `json:"lat"`
	Lng        float64         `json:"lng"`
	Accuracy   float64         `json:"accuracy"`
	Status     EmergencyStatus `gorm:"size:20;default:'active';index" json:"status"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty"`
	ResolvedBy string          `gorm:"size:36" json:"resolvedBy,omitempty"`
}
