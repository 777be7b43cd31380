package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"geoattend/config"
	_ "geoattend/docs"
	"geoattend/internal/adapters/auth"
	"geoattend/internal/adapters/email"
	"geoattend/internal/adapters/location"
	"geoattend/internal/cache"
	httpdelivery "geoattend/internal/delivery/http"
	"geoattend/internal/delivery/http/controllers"
	"geoattend/internal/delivery/http/middleware"
	"geoattend/internal/domain"
	"geoattend/internal/repository/postgres"
	"geoattend/internal/services"
)

const (
	serviceTimeout  = 10 * time.Second
	statusCacheTTL  = 15 * time.Second
	monitorRefresh  = time.Minute
	sampleMaxAge    = 2 * time.Minute
	shutdownTimeout = 15 * time.Second
)

// @title GeoAttend API
// @version 1.0
// @description Geofence-based attendance monitoring engine.
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Exit(1)
	}
	logger := config.NewLogger("server")

	db, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		logger.Error("failed to ping database", "err", err)
		os.Exit(1)
	}

	// Redis backs the status cache and the sweep lock. It is optional: when
	// unreachable the API serves status reads from the engine and the in-
	// process sweeper runs unlocked.
	var statusCache controllers.StatusCache
	var sweepLocker services.SweepLocker
	redisClient := cache.New(cfg.RedisAddr, statusCacheTTL)
	pingCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(pingCtx)
	cancel()
	if err != nil {
		logger.Warn("redis unreachable, status cache and sweep lock disabled", "addr", cfg.RedisAddr, "err", err)
	} else {
		statusCache = redisClient
		sweepLocker = redisClient
		defer redisClient.Close()
	}

	userRepo := postgres.NewUserRepository(db)
	eventRepo := postgres.NewEventRepository(db)
	regRepo := postgres.NewEventRegistrationRepository(db)
	attendanceRepo := postgres.NewAttendanceRepository(db)

	sink := buildNotificationSink(cfg, userRepo, eventRepo, logger)

	hub := location.NewHub(sampleMaxAge)
	windowCalc := services.NewWindowCalculator(
		cfg.Engine.CheckInOpenLead,
		cfg.Engine.EarlyCheckInLead,
		cfg.Engine.DefaultEventDuration,
	)
	tracker := services.NewEscalationTracker(cfg.Engine.OutsideWarningFraction)
	clock := domain.UTCClock()

	engine := services.NewAttendanceEngine(
		attendanceRepo, eventRepo, regRepo,
		windowCalc, tracker, clock, sink, hub,
		cfg.Engine.HeartbeatInterval,
		cfg.Engine.LocationTimeout,
		cfg.Engine.LocationFailureNotifyAfter,
		logger,
	)
	defer engine.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resumeHeartbeats(rootCtx, engine, eventRepo, cfg.Engine.CheckInOpenLead, logger)

	monitor := services.NewMonitor(
		eventRepo, regRepo, attendanceRepo, engine, hub, clock,
		cfg.Engine.CheckInOpenLead, monitorRefresh, logger,
	)
	go monitor.Run(rootCtx)
	defer monitor.Close()

	sweeper := services.NewSweeper(attendanceRepo, engine, sweepLocker, clock, cfg.Engine.SweepInterval, logger)
	go sweeper.Run(rootCtx)

	codec := auth.NewJWTCodec(cfg.JWTSecret)
	authService := services.NewAuthService(userRepo, auth.NewBcryptHasher(0), codec, cfg.JWTExpiry)
	eventService := services.NewEventService(eventRepo, regRepo, attendanceRepo, windowCalc, serviceTimeout)

	authController := controllers.NewAuthController(logger, authService, userRepo)
	eventController := controllers.NewEventController(logger, eventService)
	attendanceController := controllers.NewAttendanceController(logger, engine, attendanceRepo, eventRepo, hub, statusCache)

	mux := httpdelivery.NewRouter(rootCtx, logger, codec, authController, eventController, attendanceController, cfg.Engine.RateLimitPerMin)
	handler := middleware.CORS(cfg.AllowedOrigins, middleware.LoggingMiddleware(logger, mux))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "err", err)
	}
}

// buildNotificationSink assembles the sink chain: structured log always,
// email on top when a provider is configured.
func buildNotificationSink(cfg *config.Config, userRepo domain.UserRepository, eventRepo domain.EventRepository, logger *slog.Logger) domain.NotificationSink {
	logSink := services.NewLogSink(logger)
	if cfg.NotifyProvider != "ses" {
		return logSink
	}
	mailer, err := email.NewMailer(email.MailerConfig{
		Provider:    cfg.NotifyProvider,
		FromAddress: cfg.NotifyFrom,
		SES: email.SESConfig{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESAccessKeyID,
			SecretAccessKey: cfg.SESSecretKey,
		},
	}, logger)
	if err != nil {
		logger.Warn("mailer unavailable, falling back to log notifications", "err", err)
		return logSink
	}
	emailSink := services.NewEmailSink(mailer, email.NewTemplateRenderer(), userRepo, eventRepo, logger)
	return services.NewMultiSink(logger, logSink, emailSink)
}

// resumeHeartbeats restarts escalation timers for records left open by a
// previous process, scoped to events that are currently monitorable.
func resumeHeartbeats(ctx context.Context, engine *services.AttendanceEngine, eventRepo domain.EventRepository, lead time.Duration, logger *slog.Logger) {
	listCtx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()
	events, err := eventRepo.ListMonitorable(listCtx, time.Now().UTC(), lead)
	if err != nil {
		logger.Error("failed to list events for heartbeat resume", "err", err)
		return
	}
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	engine.ResumeTracking(ctx, ids)
}
