// Package booking owns the appointment lifecycle. Every status change goes
// through Service.RequestTransition, which checks the edge, the actor and the
// edge's precondition before issuing one atomic row update.
package booking

import "care-coordination-server/internal/models"

// Rule is one legal edge of the appointment lifecycle.
type Rule struct {
	From  models.AppointmentStatus
	To    models.AppointmentStatus
	Actor models.Role

	// AssignsDoctor edges require an existing doctor id in the payload.
	AssignsDoctor bool
	// DoctorOwned edges may only be taken by the currently assigned doctor.
	DoctorOwned bool
	// IssuesToken edges generate the meeting token.
	IssuesToken bool
}

var rules = []Rule{
	{From: models.StatusPending, To: models.StatusForwarded, Actor: models.RoleAdmin, AssignsDoctor: true},
	{From: models.StatusRejected, To: models.StatusForwarded, Actor: models.RoleAdmin, AssignsDoctor: true},
	{From: models.StatusForwarded, To: models.StatusApproved, Actor: models.RoleDoctor, DoctorOwned: true},
	{From: models.StatusForwarded, To: models.StatusRejected, Actor: models.RoleDoctor, DoctorOwned: true},
	{From: models.StatusApproved, To: models.StatusConfirmed, Actor: models.RoleAdmin, IssuesToken: true},
}

// Lookup returns the rule for the edge from -> to.
func Lookup(from, to models.AppointmentStatus) (Rule, bool) {
	for _, r := range rules {
		if r.From == from && r.To == to {
			return r, true
		}
	}
	return Rule{}, false
}

// AllowedTargets lists the statuses role may move a row in status from to.
// Confirmed has no outgoing edges.
func AllowedTargets(from models.AppointmentStatus, role models.Role) []models.AppointmentStatus {
	var out []models.AppointmentStatus
	for _, r := range rules {
		if r.From == from && r.Actor == role {
			out = append(out, r.To)
		}
	}
	return out
}

// Rules returns a copy of the transition table.
func Rules() []Rule {
	return append([]Rule(nil), rules...)
}
