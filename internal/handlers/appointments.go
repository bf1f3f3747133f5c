package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"care-coordination-server/internal/booking"
	"care-coordination-server/internal/middleware"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/utils"
)

// Bookings is the booking state machine as seen by the HTTP layer.
type Bookings interface {
	Create(ctx context.Context, actor models.Actor, in booking.CreateInput) (*models.Appointment, error)
	Get(ctx context.Context, id uint64, actor models.Actor) (*models.Appointment, error)
	List(ctx context.Context, actor models.Actor) ([]models.Appointment, error)
	RequestTransition(ctx context.Context, id uint64, to models.AppointmentStatus, actor models.Actor, payload booking.TransitionPayload) (*models.Appointment, error)
}

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	Bookings Bookings
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(bookings Bookings) *AppointmentHandler {
	return &AppointmentHandler{Bookings: bookings}
}

const dateLayout = "2006-01-02"

// CreateAppointmentRequest represents the request body for booking.
type CreateAppointmentRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
	Date   string `json:"date" binding:"required"`
}

// CreateAppointment books a pending appointment for the calling patient.
func (h *AppointmentHandler) CreateAppointment(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	var req CreateAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		utils.BadRequest(c, "Invalid date, expected YYYY-MM-DD")
		return
	}

	appt, err := h.Bookings.Create(c.Request.Context(), actor, booking.CreateInput{Reason: req.Reason, ScheduledDate: date})
	if err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Created(c, "Appointment created successfully", appt)
}

// GetAppointments lists the caller's working set: own bookings for patients,
// assigned bookings for doctors and the open queue for admins.
func (h *AppointmentHandler) GetAppointments(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	appts, err := h.Bookings.List(c.Request.Context(), actor)
	if err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Success(c, "Appointments fetched successfully", appts)
}

// GetAppointmentByID handles fetching a single appointment by its ID.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	appt, err := h.Bookings.Get(c.Request.Context(), id, actor)
	if err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Success(c, "Appointment fetched successfully", appt)
}

// TransitionRequest asks for a status change. DoctorID is required when
// forwarding.
type TransitionRequest struct {
	Status   string `json:"status" binding:"required" validate:"appointment_status"`
	DoctorID string `json:"doctorId"`
}

// TransitionAppointment applies one edge of the appointment lifecycle. A
// refused transition answers with the row as currently stored.
func (h *AppointmentHandler) TransitionAppointment(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	id, ok := appointmentID(c)
	if !ok {
		return
	}

	var req TransitionRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	appt, err := h.Bookings.RequestTransition(c.Request.Context(), id, models.AppointmentStatus(req.Status), actor, booking.TransitionPayload{DoctorID: req.DoctorID})
	if err != nil {
		var terr *booking.TransitionError
		if errors.As(err, &terr) && terr.Current != nil && booking.CanView(terr.Current, actor) {
			utils.DomainError(c, err, terr.Current)
			return
		}
		utils.DomainError(c, err, nil)
		return
	}
	utils.Success(c, "Appointment updated successfully", appt)
}

func appointmentID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		utils.BadRequest(c, "Invalid Appointment ID format")
		return 0, false
	}
	return id, true
}
