package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"geoattend/internal/delivery/http/controllers"
	"geoattend/internal/delivery/http/middleware"
	"geoattend/internal/domain"
)

// NewRouter initializes the HTTP router with all application routes. ctx
// bounds the lifetime of background work started by middleware (the rate
// limiter's janitor).
func NewRouter(
	ctx context.Context,
	logger *slog.Logger,
	verifier domain.TokenVerifier,
	authController *controllers.AuthController,
	eventController *controllers.EventController,
	attendanceController *controllers.AttendanceController,
	ingestRateLimitPerMin int,
) *http.ServeMux {
	mux := http.NewServeMux()
	auth := middleware.RequireAuth(verifier, logger)

	// Auth
	mux.HandleFunc("POST /auth/signup", authController.SignUp)
	mux.HandleFunc("POST /auth/login", authController.Login)
	mux.HandleFunc("GET /me", auth(authController.Me))

	// Events
	mux.HandleFunc("POST /events", auth(eventController.CreateEvent))
	mux.HandleFunc("GET /events", auth(eventController.ListMyEvents))
	mux.HandleFunc("GET /events/{eventID}", auth(eventController.GetEvent))
	mux.HandleFunc("POST /events/{eventID}/registrations", auth(eventController.RegisterForEvent))
	mux.HandleFunc("GET /registrations", auth(eventController.ListMyRegisteredEvents))
	mux.HandleFunc("GET /events/{eventID}/attendance", auth(eventController.ListAttendance))

	// Attendance
	mux.HandleFunc("POST /events/{eventID}/check-in", auth(attendanceController.CheckIn))
	mux.HandleFunc("POST /events/{eventID}/location",
		middleware.RateLimit(ctx, ingestRateLimitPerMin, auth(attendanceController.IngestLocation)))
	mux.HandleFunc("POST /attendance/{recordID}/check-out", auth(attendanceController.CheckOut))
	mux.HandleFunc("GET /attendance/{recordID}/status", auth(attendanceController.Status))
	mux.HandleFunc("GET /attendance/{recordID}/alerts", auth(attendanceController.ListAlerts))

	// Operational
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Swagger
	mux.Handle("/swagger/", httpSwagger.WrapHandler)

	return mux
}
