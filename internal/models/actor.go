package models

// Actor is the caller identity handed to every core operation by the
// authentication layer. The core treats it as an already-verified fact.
// ID identifies patients; Email identifies doctors.
type Actor struct {
	Role  Role   `json:"role"`
	ID    string `json:"id"`
	Email string `json:"email"`
}
