package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"care-coordination-server/internal/dashboard"
	"care-coordination-server/internal/middleware"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Streamer opens a dashboard stream for one viewer.
type Streamer interface {
	Stream(ctx context.Context, actor models.Actor) (<-chan dashboard.Snapshot, error)
}

// DashboardHandler pushes dashboard snapshots over a websocket.
type DashboardHandler struct {
	Streams  Streamer
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewDashboardHandler accepts websocket handshakes from allowedOrigin only.
// An empty allowedOrigin accepts any origin.
func NewDashboardHandler(streams Streamer, allowedOrigin string, logger zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		Streams: streams,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if allowedOrigin == "" || origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return u.Scheme+"://"+u.Host == allowedOrigin
			},
		},
		logger: logger.With().Str("component", "dashboard_ws").Logger(),
	}
}

// Connect upgrades the request and streams snapshots until either side
// closes. The stream, and with it every feed subscription, is released when
// the connection ends.
func (h *DashboardHandler) Connect(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	snapshots, err := h.Streams.Stream(ctx, actor)
	if err != nil {
		utils.DomainError(c, err, nil)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	sessionID := uuid.NewString()
	log := h.logger.With().Str("session_id", sessionID).Str("role", string(actor.Role)).Logger()
	log.Info().Msg("dashboard connected")

	go h.readPump(ws, cancel)
	h.writePump(ctx, ws, snapshots, log)
	log.Info().Msg("dashboard disconnected")
}

// readPump discards client messages and cancels the stream when the client
// goes away.
func (h *DashboardHandler) readPump(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *DashboardHandler) writePump(ctx context.Context, ws *websocket.Conn, snapshots <-chan dashboard.Snapshot, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case snap, ok := <-snapshots:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"), time.Now().Add(writeWait))
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				log.Error().Err(err).Str("key", snap.Key).Msg("encode snapshot")
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
