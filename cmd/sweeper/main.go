package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"geoattend/config"
	"geoattend/internal/cache"
	"geoattend/internal/domain"
	"geoattend/internal/repository/postgres"
	"geoattend/internal/services"
)

// The sweeper closes attendance records left open after their event window
// ended. It runs the same pass as the in-server sweep loop, packaged as a
// one-shot binary for cron or a supervised loop with -loop.
func main() {
	loop := flag.Bool("loop", false, "keep sweeping on the configured interval instead of exiting after one pass")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Exit(1)
	}
	logger := config.NewLogger("sweeper")

	db, err := sql.Open("postgres", cfg.DBUrl)
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = db.PingContext(ctx)
	cancel()
	if err != nil {
		logger.Error("failed to ping database", "err", err)
		os.Exit(1)
	}

	// The redis lock keeps concurrent sweepers (or the in-server loop) from
	// double-sweeping. Optional: without redis the pass runs unlocked, which
	// is still safe because forced check-outs are idempotent.
	var locker services.SweepLocker
	redisClient := cache.New(cfg.RedisAddr, time.Minute)
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(ctx)
	cancel()
	if err != nil {
		logger.Warn("redis unreachable, sweeping without lock", "addr", cfg.RedisAddr, "err", err)
	} else {
		locker = redisClient
		defer redisClient.Close()
	}

	eventRepo := postgres.NewEventRepository(db)
	regRepo := postgres.NewEventRegistrationRepository(db)
	attendanceRepo := postgres.NewAttendanceRepository(db)

	windowCalc := services.NewWindowCalculator(
		cfg.Engine.CheckInOpenLead,
		cfg.Engine.EarlyCheckInLead,
		cfg.Engine.DefaultEventDuration,
	)
	tracker := services.NewEscalationTracker(cfg.Engine.OutsideWarningFraction)
	clock := domain.UTCClock()

	// No live location source and no heartbeats: the sweeper only forces
	// window-end check-outs through the shared transition path.
	engine := services.NewAttendanceEngine(
		attendanceRepo, eventRepo, regRepo,
		windowCalc, tracker, clock, services.NewLogSink(logger), nil,
		time.Hour, cfg.Engine.LocationTimeout, cfg.Engine.LocationFailureNotifyAfter,
		logger,
	)
	defer engine.Close()

	sweeper := services.NewSweeper(attendanceRepo, engine, locker, clock, cfg.Engine.SweepInterval, logger)

	if *loop {
		runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		sweeper.Run(runCtx)
		return
	}
	if err := sweeper.RunOnce(context.Background()); err != nil {
		logger.Error("sweep failed", "err", err)
		os.Exit(1)
	}
}
