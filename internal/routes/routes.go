package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"care-coordination-server/internal/config"
	"care-coordination-server/internal/handlers"
	"care-coordination-server/internal/middleware"
	"care-coordination-server/internal/models"
)

// Handlers bundles the HTTP handlers mounted by SetupRoutes.
type Handlers struct {
	Auth         *handlers.AuthHandler
	Appointments *handlers.AppointmentHandler
	Doctors      *handlers.DoctorHandler
	SOS          *handlers.SOSHandler
	Rooms        *handlers.RoomHandler
	Admin        *handlers.AdminHandler
	Dashboard    *handlers.DashboardHandler
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, h Handlers, cfg *config.Config, gatherer prometheus.Gatherer) {
	// Public routes (no authentication required)
	public := router.Group("/api/v1")
	{
		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/register", h.Auth.Register)
			authRoutes.POST("/login", h.Auth.Login)
		}
	}

	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg))
	{
		authRoutesPrivate := private.Group("/auth")
		{
			authRoutesPrivate.GET("/profile", h.Auth.GetProfile)
			authRoutesPrivate.PUT("/profile", h.Auth.UpdateProfile)
		}

		private.POST("/users", middleware.RoleAuthMiddleware(models.RoleAdmin), h.Auth.CreateAccount)

		// Role rules for transitions live in the booking state machine.
		appointmentRoutes := private.Group("/appointments")
		{
			appointmentRoutes.POST("", middleware.RoleAuthMiddleware(models.RolePatient), h.Appointments.CreateAppointment)
			appointmentRoutes.GET("", h.Appointments.GetAppointments)
			appointmentRoutes.GET("/:id", h.Appointments.GetAppointmentByID)
			appointmentRoutes.POST("/:id/transitions", h.Appointments.TransitionAppointment)
		}

		doctorRoutes := private.Group("/doctors")
		{
			doctorRoutes.GET("", h.Doctors.GetDoctors)
			doctorRoutes.GET("/specializations", h.Doctors.GetSpecializations)
			doctorRoutes.POST("", middleware.RoleAuthMiddleware(models.RoleAdmin), h.Doctors.CreateDoctor)
		}

		sosRoutes := private.Group("/sos")
		{
			sosRoutes.POST("", middleware.RoleAuthMiddleware(models.RolePatient), h.SOS.Trigger)
			sosRoutes.POST("/fixes", middleware.RoleAuthMiddleware(models.RolePatient), h.SOS.ReportFix)
			sosRoutes.GET("/state", h.SOS.State)

			adminSOS := sosRoutes.Group("")
			adminSOS.Use(middleware.RoleAuthMiddleware(models.RoleAdmin))
			{
				adminSOS.GET("/active", h.SOS.Active)
				adminSOS.GET("/history", h.SOS.History)
				adminSOS.POST("/:id/resolve", h.SOS.Resolve)
			}
		}

		private.GET("/admin/overview", middleware.RoleAuthMiddleware(models.RoleAdmin), h.Admin.GetOverview)
		private.GET("/rooms/:token/access", h.Rooms.Access)
		private.GET("/dashboard/ws", h.Dashboard.Connect)
	}

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
}
