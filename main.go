package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"care-coordination-server/internal/alert"
	"care-coordination-server/internal/booking"
	"care-coordination-server/internal/changefeed"
	"care-coordination-server/internal/config"
	"care-coordination-server/internal/dashboard"
	"care-coordination-server/internal/directory"
	"care-coordination-server/internal/handlers"
	"care-coordination-server/internal/logging"
	"care-coordination-server/internal/metrics"
	"care-coordination-server/internal/middleware"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/room"
	"care-coordination-server/internal/routes"
	"care-coordination-server/internal/sos"
	"care-coordination-server/internal/store"
)

func main() {
	// A missing .env is fine; the process environment still applies.
	envErr := godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Environment, cfg.LogLevel)
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("no .env file loaded")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := models.InitDB(models.DatabaseConfig{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	var feed changefeed.Feed
	switch cfg.Feed.Driver {
	case "memory":
		mem := changefeed.NewMemoryFeed()
		defer mem.Close()
		feed = mem
	default:
		feed = changefeed.NewRedisFeed(rdb, cfg.Feed.ChannelPrefix, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(registry)

	users := store.NewUserStore(db, logger)
	doctors := store.NewDoctorStore(db, feed, logger)
	appointments := store.NewAppointmentStore(db, feed, logger)
	emergencies := store.NewEmergencyStore(db, feed, logger)

	if err := seedAdmin(ctx, users, cfg.Admin, logger); err != nil {
		return err
	}

	var sender alert.Sender = alert.LogSender{Logger: logger}
	if cfg.Alerts.TwilioAccountSID != "" && cfg.Alerts.TwilioAuthToken != "" {
		sender = alert.NewTwilioSender(alert.TwilioConfig{
			AccountSID: cfg.Alerts.TwilioAccountSID,
			AuthToken:  cfg.Alerts.TwilioAuthToken,
			From:       cfg.Alerts.TwilioFrom,
			BaseURL:    cfg.Alerts.TwilioBaseURL,
			Channel:    cfg.Alerts.Channel,
			Timeout:    cfg.Alerts.SendTimeout,
		}, logger)
	} else {
		logger.Warn().Msg("twilio credentials not set, alerts are logged only")
	}
	dispatcher := alert.NewDispatcher(sender, alert.DispatcherOptions{
		Workers:     cfg.Alerts.Workers,
		QueueSize:   cfg.Alerts.QueueSize,
		SendTimeout: cfg.Alerts.SendTimeout,
	}, rec, logger)

	bookings := booking.NewService(appointments, doctors, booking.Options{
		Consistency: booking.Consistency(cfg.Booking.Consistency),
		TokenPrefix: cfg.Booking.TokenPrefix,
	}, rec, logger)
	dir := directory.New(doctors, logger)
	dispatch := sos.NewService(
		sos.NewRedisLocator(rdb, cfg.SOS.FixTTL, logger),
		emergencies, users, dispatcher,
		sos.Options{
			HighAccuracyTimeout: cfg.SOS.HighAccuracyTimeout,
			FallbackTimeout:     cfg.SOS.FallbackTimeout,
			MaxCacheAge:         cfg.SOS.MaxCacheAge,
			FallbackPhone:       cfg.SOS.FallbackPhone,
			MapURL:              cfg.SOS.MapURL,
		}, rec, logger)
	gate := room.NewGate(appointments, cfg.Booking.TokenPrefix, rec, logger)
	reconciler := dashboard.NewReconciler(feed, dashboard.Sources{
		Appointments: appointments,
		Emergencies:  emergencies,
		Doctors:      doctors,
		Bookings:     bookings,
		SOS:          dispatch,
	}, rec, logger)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	router.Use(cors.New(corsConfig))

	routes.SetupRoutes(router, routes.Handlers{
		Auth:         handlers.NewAuthHandler(users, cfg),
		Appointments: handlers.NewAppointmentHandler(bookings),
		Doctors:      handlers.NewDoctorHandler(dir),
		SOS:          handlers.NewSOSHandler(dispatch),
		Rooms:        handlers.NewRoomHandler(gate),
		Admin:        handlers.NewAdminHandler(users, emergencies, appointments),
		Dashboard:    handlers.NewDashboardHandler(reconciler, cfg.Origin, logger),
	}, cfg, registry)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Str("feed", cfg.Feed.Driver).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// seedAdmin creates the configured admin account if no account holds its
// email yet. Later admins and patients are created through the API.
func seedAdmin(ctx context.Context, users *store.UserStore, admin config.AdminConfig, logger zerolog.Logger) error {
	if admin.Email == "" {
		return nil
	}
	account := &models.User{Email: admin.Email, FirstName: "Admin", Role: models.RoleAdmin}
	if err := account.SetPassword(admin.Password); err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	created, err := users.EnsureAccount(ctx, account)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		logger.Info().Str("email", admin.Email).Msg("admin account seeded")
	}
	return nil
}
