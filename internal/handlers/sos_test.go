package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/room"
	"care-coordination-server/internal/sos"
)

type mockDispatch struct {
	ReportFixFunc func(ctx context.Context, actor models.Actor, fix sos.Fix) error
	TriggerFunc   func(ctx context.Context, actor models.Actor, inline *sos.Fix) (*sos.Result, error)
	ResolveFunc   func(ctx context.Context, id string, actor models.Actor) (*models.EmergencyEvent, error)
	ListFunc      func(ctx context.Context, actor models.Actor) ([]models.EmergencyEvent, error)
	state         sos.State
}

func (m *mockDispatch) ReportFix(ctx context.Context, actor models.Actor, fix sos.Fix) error {
	return m.ReportFixFunc(ctx, actor, fix)
}

func (m *mockDispatch) TriggerWithFix(ctx context.Context, actor models.Actor, inline *sos.Fix) (*sos.Result, error) {
	return m.TriggerFunc(ctx, actor, inline)
}

func (m *mockDispatch) State(string) sos.State { return m.state }

func (m *mockDispatch) Resolve(ctx context.Context, id string, actor models.Actor) (*models.EmergencyEvent, error) {
	return m.ResolveFunc(ctx, id, actor)
}

func (m *mockDispatch) Active(ctx context.Context, actor models.Actor) ([]models.EmergencyEvent, error) {
	return m.ListFunc(ctx, actor)
}

func (m *mockDispatch) History(ctx context.Context, actor models.Actor) ([]models.EmergencyEvent, error) {
	return m.ListFunc(ctx, actor)
}

func sosAPI(d Dispatch) *gin.Engine {
	h := NewSOSHandler(d)
	return newAPI(func(g *gin.RouterGroup) {
		g.POST("/sos", h.Trigger)
		g.POST("/sos/fixes", h.ReportFix)
		g.GET("/sos/state", h.State)
		g.GET("/sos/active", h.Active)
		g.GET("/sos/history", h.History)
		g.POST("/sos/:id/resolve", h.Resolve)
	})
}

func TestTriggerStatusCodes(t *testing.T) {
	fix := sos.Fix{Lat: 12.9, Lng: 77.6, Accuracy: 40}
	tests := []struct {
		name       string
		res        *sos.Result
		err        error
		wantStatus int
	}{
		{"sent", &sos.Result{Event: &models.EmergencyEvent{UserID: "p1"}, Fix: fix, AlertQueued: true, State: sos.StateSent}, nil, http.StatusCreated},
		{"already running", nil, sos.ErrInProgress, http.StatusConflict},
		{"no location", nil, fmt.Errorf("%w: %w", apperr.ErrLocationUnavailable, errors.New("timeout")), http.StatusUnprocessableEntity},
		{"not a patient", nil, apperr.ErrUnauthorized, http.StatusForbidden},
		{"alerted but not stored", &sos.Result{Fix: fix, AlertQueued: true, State: sos.StateSent}, fmt.Errorf("emergency event not saved: %w", apperr.ErrPersistence), http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sosAPI(&mockDispatch{
				state: sos.StateIdle,
				TriggerFunc: func(context.Context, models.Actor, *sos.Fix) (*sos.Result, error) {
					return tt.res, tt.err
				},
			})
			w, env := do(t, r, &patient, http.MethodPost, "/api/v1/sos", nil)
			assert.Equal(t, tt.wantStatus, w.Code, env.Error)
			if tt.res != nil {
				var got sos.Result
				require.NoError(t, json.Unmarshal(env.Data, &got))
				assert.True(t, got.AlertQueued)
			}
			if tt.wantStatus == http.StatusAccepted {
				assert.NotEmpty(t, env.Error)
			}
		})
	}
}

func TestTriggerPassesInlineFix(t *testing.T) {
	var got *sos.Fix
	calls := 0
	r := sosAPI(&mockDispatch{
		TriggerFunc: func(_ context.Context, _ models.Actor, inline *sos.Fix) (*sos.Result, error) {
			calls++
			got = inline
			return &sos.Result{State: sos.StateSent}, nil
		},
	})

	w, _ := do(t, r, &patient, http.MethodPost, "/api/v1/sos", gin.H{
		"fix": gin.H{"lat": 12.97, "lng": 77.59, "accuracy": 8, "highAccuracy": true},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, got)
	assert.True(t, got.HighAccuracy)
	assert.InDelta(t, 12.97, got.Lat, 1e-9)

	w, _ = do(t, r, &patient, http.MethodPost, "/api/v1/sos", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, got)

	w, _ = do(t, r, &patient, http.MethodPost, "/api/v1/sos", gin.H{"fix": gin.H{"lat": 120, "lng": 0}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2, calls)
}

func TestResolveConflictCarriesEvent(t *testing.T) {
	r := sosAPI(&mockDispatch{
		ResolveFunc: func(_ context.Context, id string, _ models.Actor) (*models.EmergencyEvent, error) {
			evt := &models.EmergencyEvent{BaseModel: models.BaseModel{ID: id}, Status: models.EmergencyResolved}
			return evt, fmt.Errorf("sos %s: %w", id, apperr.ErrInvalidTransition)
		},
	})

	w, env := do(t, r, &admin, http.MethodPost, "/api/v1/sos/e1/resolve", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	var evt models.EmergencyEvent
	require.NoError(t, json.Unmarshal(env.Data, &evt))
	assert.Equal(t, "e1", evt.ID)
	assert.Equal(t, models.EmergencyResolved, evt.Status)
}

func TestSOSListsAndState(t *testing.T) {
	r := sosAPI(&mockDispatch{
		state: sos.StateLocating,
		ListFunc: func(_ context.Context, actor models.Actor) ([]models.EmergencyEvent, error) {
			if actor.Role != models.RoleAdmin {
				return nil, apperr.ErrUnauthorized
			}
			return []models.EmergencyEvent{{UserID: "p1", Status: models.EmergencyActive}}, nil
		},
	})

	w, _ := do(t, r, &admin, http.MethodGet, "/api/v1/sos/active", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, r, &patient, http.MethodGet, "/api/v1/sos/history", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := do(t, r, &patient, http.MethodGet, "/api/v1/sos/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"locating"}`, string(env.Data))
}

type gateFunc func(ctx context.Context, token string, actor models.Actor) (room.Decision, error)

func (f gateFunc) Authorize(ctx context.Context, token string, actor models.Actor) (room.Decision, error) {
	return f(ctx, token, actor)
}

func TestRoomAccess(t *testing.T) {
	h := NewRoomHandler(gateFunc(func(_ context.Context, token string, actor models.Actor) (room.Decision, error) {
		switch {
		case token == "bad":
			return room.Decision{Reason: "malformed"}, apperr.ErrInvalidToken
		case actor.Role == models.RolePatient:
			return room.Decision{Granted: true, AppointmentID: 7, DisplayName: "Patient", ParticipantID: actor.ID}, nil
		default:
			return room.Decision{AppointmentID: 7, Reason: "not a participant"}, nil
		}
	}))
	r := newAPI(func(g *gin.RouterGroup) {
		g.GET("/rooms/:token/access", h.Access)
	})

	w, env := do(t, r, &patient, http.MethodGet, "/api/v1/rooms/consult-7-abc/access", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var d room.Decision
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.True(t, d.Granted)
	assert.Equal(t, "Patient", d.DisplayName)

	w, env = do(t, r, &admin, http.MethodGet, "/api/v1/rooms/consult-7-abc/access", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.False(t, d.Granted)

	w, _ = do(t, r, &patient, http.MethodGet, "/api/v1/rooms/bad/access", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type countFuncs struct {
	byRole func(models.Role) (int64, error)
	sos    func(models.EmergencyStatus) (int64, error)
	open   func() (int64, error)
}

func (c countFuncs) CountByRole(_ context.Context, role models.Role) (int64, error) {
	return c.byRole(role)
}

func (c countFuncs) Count(_ context.Context, status models.EmergencyStatus) (int64, error) {
	return c.sos(status)
}

func (c countFuncs) CountOpen(context.Context) (int64, error) { return c.open() }

func TestAdminOverview(t *testing.T) {
	counts := countFuncs{
		byRole: func(models.Role) (int64, error) { return 12, nil },
		sos: func(s models.EmergencyStatus) (int64, error) {
			if s == models.EmergencyActive {
				return 2, nil
			}
			return 9, nil
		},
		open: func() (int64, error) { return 4, nil },
	}
	h := NewAdminHandler(counts, counts, counts)
	r := newAPI(func(g *gin.RouterGroup) {
		g.GET("/admin/overview", h.GetOverview)
	})

	w, env := do(t, r, &admin, http.MethodGet, "/api/v1/admin/overview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"patients":12,"totalSos":9,"activeSos":2,"openAppointments":4}`, string(env.Data))

	counts.open = func() (int64, error) { return 0, fmt.Errorf("count: %w", apperr.ErrPersistence) }
	h.Appointments = counts
	w, _ = do(t, r, &admin, http.MethodGet, "/api/v1/admin/overview", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
