package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"care-coordination-server/internal/middleware"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/room"
	"care-coordination-server/internal/utils"
)

// RoomGate decides video room access.
type RoomGate interface {
	Authorize(ctx context.Context, token string, actor models.Actor) (room.Decision, error)
}

type RoomHandler struct {
	Gate RoomGate
}

func NewRoomHandler(gate RoomGate) *RoomHandler {
	return &RoomHandler{Gate: gate}
}

// Access answers whether the caller may join the room for :token. A grant
// carries the display name and participant id to join with.
func (h *RoomHandler) Access(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	decision, err := h.Gate.Authorize(c.Request.Context(), c.Param("token"), actor)
	if err != nil {
		utils.DomainError(c, err, decision)
		return
	}
	if !decision.Granted {
		utils.ErrorWithData(c, http.StatusForbidden, "Access denied: you are not a participant of this consultation", decision)
		return
	}
	utils.Success(c, "Access granted", decision)
}
