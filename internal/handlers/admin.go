package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"care-coordination-server/internal/models"
	"care-coordination-server/internal/utils"
)

type UserCounter interface {
	CountByRole(ctx context.Context, role models.Role) (int64, error)
}

type EmergencyCounter interface {
	Count(ctx context.Context, status models.EmergencyStatus) (int64, error)
}

type OpenBookingCounter interface {
	CountOpen(ctx context.Context) (int64, error)
}

// AdminHandler serves the authority dashboard summary.
type AdminHandler struct {
	Users        UserCounter
	Emergencies  EmergencyCounter
	Appointments OpenBookingCounter
}

func NewAdminHandler(users UserCounter, emergencies EmergencyCounter, appointments OpenBookingCounter) *AdminHandler {
	return &AdminHandler{Users: users, Emergencies: emergencies, Appointments: appointments}
}

// Overview is the admin dashboard header.
type Overview struct {
	Patients         int64 `json:"patients"`
	TotalSOS         int64 `json:"totalSos"`
	ActiveSOS        int64 `json:"activeSos"`
	OpenAppointments int64 `json:"openAppointments"`
}

// GetOverview runs the four counts concurrently.
func (h *AdminHandler) GetOverview(c *gin.Context) {
	var ov Overview
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() (err error) {
		ov.Patients, err = h.Users.CountByRole(ctx, models.RolePatient)
		return err
	})
	g.Go(func() (err error) {
		ov.TotalSOS, err = h.Emergencies.Count(ctx, "")
		return err
	})
	g.Go(func() (err error) {
		ov.ActiveSOS, err = h.Emergencies.Count(ctx, models.EmergencyActive)
		return err
	})
	g.Go(func() (err error) {
		ov.OpenAppointments, err = h.Appointments.CountOpen(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Success(c, "Overview fetched successfully", ov)
}
