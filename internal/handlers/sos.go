package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"care-coordination-server/internal/middleware"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/sos"
	"care-coordination-server/internal/utils"
)

// Dispatch is the SOS pipeline as seen by the HTTP layer.
type Dispatch interface {
	ReportFix(ctx context.Context, actor models.Actor, fix sos.Fix) error
	TriggerWithFix(ctx context.Context, actor models.Actor, inline *sos.Fix) (*sos.Result, error)
	State(userID string) sos.State
	Resolve(ctx context.Context, eventID string, actor models.Actor) (*models.EmergencyEvent, error)
	Active(ctx context.Context, actor models.Actor) ([]models.EmergencyEvent, error)
	History(ctx context.Context, actor models.Actor) ([]models.EmergencyEvent, error)
}

// SOSHandler serves the emergency endpoints.
type SOSHandler struct {
	SOS Dispatch
}

func NewSOSHandler(d Dispatch) *SOSHandler {
	return &SOSHandler{SOS: d}
}

// FixRequest is a device position report.
type FixRequest struct {
	Lat          float64 `json:"lat" validate:"min=-90,max=90"`
	Lng          float64 `json:"lng" validate:"min=-180,max=180"`
	Accuracy     float64 `json:"accuracy" validate:"min=0"`
	HighAccuracy bool    `json:"highAccuracy"`
}

func (r FixRequest) fix() sos.Fix {
	return sos.Fix{Lat: r.Lat, Lng: r.Lng, Accuracy: r.Accuracy, HighAccuracy: r.HighAccuracy}
}

// TriggerRequest may carry the fix the device already has.
type TriggerRequest struct {
	Fix *FixRequest `json:"fix"`
}

// ReportFix records a device fix for the caller.
func (h *SOSHandler) ReportFix(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	var req FixRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	if err := h.SOS.ReportFix(c.Request.Context(), actor, req.fix()); err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Success(c, "Location recorded", nil)
}

// Trigger runs the SOS pipeline for the calling patient. A fix in the body
// is handed to the pipeline so either location attempt can use it.
func (h *SOSHandler) Trigger(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	var inline *sos.Fix
	if req.Fix != nil {
		if err := utils.Validate(req.Fix); err != nil {
			utils.BadRequest(c, "Validation failed: "+utils.FormatValidationError(err))
			return
		}
		f := req.Fix.fix()
		inline = &f
	}

	res, err := h.SOS.TriggerWithFix(c.Request.Context(), actor, inline)
	switch {
	case err == nil:
		utils.Created(c, "SOS sent", res)
	case errors.Is(err, sos.ErrInProgress):
		utils.Error(c, http.StatusConflict, "An SOS is already being sent")
	case res != nil:
		// Location was acquired and the alert handed off, but the event
		// was not stored.
		_ = c.Error(err)
		c.JSON(http.StatusAccepted, utils.ResponseData{
			Status:  http.StatusAccepted,
			Message: "SOS alert sent but the emergency record could not be saved",
			Data:    res,
			Error:   "Emergency record not saved",
		})
	default:
		utils.DomainError(c, err, gin.H{"state": h.SOS.State(actor.ID)})
	}
}

// State reports the caller's pipeline state.
func (h *SOSHandler) State(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	utils.Success(c, "SOS state fetched successfully", gin.H{"state": h.SOS.State(actor.ID)})
}

func (h *SOSHandler) Active(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c)
	events, err := h.SOS.Active(c.Request.Context(), actor)
	if err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Success(c, "Active SOS events fetched successfully", events)
}

func (h *SOSHandler) History(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c)
	events, err := h.SOS.History(c.Request.Context(), actor)
	if err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Success(c, "SOS history fetched successfully", events)
}

// Resolve closes an active SOS event. Resolving twice answers 409 with the
// stored event.
func (h *SOSHandler) Resolve(c *gin.Context) {
	actor, _ := middleware.ActorFromContext(c)
	evt, err := h.SOS.Resolve(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		utils.DomainError(c, err, evt)
		return
	}
	utils.Success(c, "SOS resolved", evt)
}
