package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"geoattend/internal/domain"
)

// Monitor is the automatic check-in/check-out trigger. For every registered
// participant of an event whose monitoring window is open it subscribes to
// the live location stream; samples drive automatic check-in (through the
// engine, guarded by record state, so restarts cannot double-apply) and feed
// the running state machine. Subscriptions are cancelled when the record
// turns terminal or the event leaves the monitorable window.
type Monitor struct {
	eventRepo      domain.EventRepository
	regRepo        domain.EventRegistrationRepository
	attendanceRepo domain.AttendanceRepository
	engine         domain.AttendanceService
	source         domain.LocationSource
	clock          domain.Clock
	logger         *slog.Logger

	openLead        time.Duration
	refreshInterval time.Duration

	mu   sync.Mutex
	subs map[string]*monitorSub
}

type monitorSub struct {
	eventID string
	userID  string
	cancel  context.CancelFunc
	sub     domain.Subscription
}

// NewMonitor wires the trigger. refreshInterval controls how often the set
// of monitored participants is recomputed from the catalog.
func NewMonitor(
	eventRepo domain.EventRepository,
	regRepo domain.EventRegistrationRepository,
	attendanceRepo domain.AttendanceRepository,
	engine domain.AttendanceService,
	source domain.LocationSource,
	clock domain.Clock,
	openLead, refreshInterval time.Duration,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		eventRepo:       eventRepo,
		regRepo:         regRepo,
		attendanceRepo:  attendanceRepo,
		engine:          engine,
		source:          source,
		clock:           clock,
		openLead:        openLead,
		refreshInterval: refreshInterval,
		logger:          logger,
		subs:            make(map[string]*monitorSub),
	}
}

// Run refreshes the monitored set on a fixed cadence until the context is
// cancelled, then releases every subscription.
func (m *Monitor) Run(ctx context.Context) {
	m.refresh(ctx)
	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

// refresh reconciles subscriptions against the currently monitorable events.
func (m *Monitor) refresh(ctx context.Context) {
	now := m.clock.Now()
	events, err := m.eventRepo.ListMonitorable(ctx, now, m.openLead)
	if err != nil {
		m.logger.Error("failed to list monitorable events", "err", err)
		return
	}

	active := make(map[string]struct{})
	for _, event := range events {
		regs, err := m.regRepo.ListByEventID(ctx, event.ID)
		if err != nil {
			m.logger.Error("failed to list registrations", "event_id", event.ID, "err", err)
			continue
		}
		for _, reg := range regs {
			key := subKey(event.ID, reg.UserID)
			active[key] = struct{}{}
			m.ensureSubscribed(ctx, event.ID, reg.UserID)
		}
	}

	// Drop subscriptions that fell out of the window, forcing the final
	// auto check-out for any record still open.
	m.mu.Lock()
	var stale []*monitorSub
	for key, sub := range m.subs {
		if _, ok := active[key]; !ok {
			stale = append(stale, sub)
			delete(m.subs, key)
		}
	}
	m.mu.Unlock()

	for _, sub := range stale {
		sub.cancel()
		sub.sub.Close()
		m.checkOutIfOpen(ctx, sub.eventID, sub.userID)
	}
}

// ensureSubscribed starts the per-participant stream once. Terminal records
// never get a subscription.
func (m *Monitor) ensureSubscribed(ctx context.Context, eventID, userID string) {
	key := subKey(eventID, userID)
	m.mu.Lock()
	if _, ok := m.subs[key]; ok {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if rec, err := m.attendanceRepo.GetByEventAndUser(ctx, eventID, userID); err == nil && rec.State.Terminal() {
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub, err := m.source.Watch(subCtx, eventID, userID)
	if err != nil {
		cancel()
		// A failed stream never implies presence or absence; we simply try
		// again on the next refresh.
		m.logger.Warn("failed to watch location", "event_id", eventID, "user_id", userID, "err", err)
		return
	}

	ms := &monitorSub{eventID: eventID, userID: userID, cancel: cancel, sub: sub}
	m.mu.Lock()
	if _, ok := m.subs[key]; ok {
		// Raced with another refresh.
		m.mu.Unlock()
		cancel()
		sub.Close()
		return
	}
	m.subs[key] = ms
	m.mu.Unlock()

	go m.consume(subCtx, ms)
}

func (m *Monitor) consume(ctx context.Context, ms *monitorSub) {
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-ms.sub.Samples():
			if !ok {
				return
			}
			if m.handleSample(ctx, ms, sample) {
				m.release(ms)
				return
			}
		}
	}
}

// handleSample applies one sample and reports whether monitoring for the
// participant is finished.
func (m *Monitor) handleSample(ctx context.Context, ms *monitorSub, sample domain.LocationSample) (done bool) {
	err := m.engine.ProcessSample(ctx, sample)
	if err == nil {
		return false
	}
	if !errors.Is(err, domain.ErrNotFound) {
		m.logger.Error("failed to process sample", "event_id", ms.eventID, "user_id", ms.userID, "err", err)
		return false
	}

	// No record yet: attempt the automatic check-in. In-window and
	// inside-geofence failures are the normal "not there yet" case and are
	// retried on the next sample.
	_, err = m.engine.CheckIn(ctx, ms.eventID, ms.userID, sample, false)
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrOutsideGeofence), errors.Is(err, domain.ErrWindowNotOpen):
		return false
	case errors.Is(err, domain.ErrForbidden):
		// Registration disappeared; stop watching.
		m.logger.Info("registration gone, releasing monitor", "event_id", ms.eventID, "user_id", ms.userID)
		return true
	default:
		m.logger.Error("automatic check-in failed", "event_id", ms.eventID, "user_id", ms.userID, "err", err)
		return false
	}
}

func (m *Monitor) checkOutIfOpen(ctx context.Context, eventID, userID string) {
	rec, err := m.attendanceRepo.GetByEventAndUser(ctx, eventID, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			m.logger.Error("failed to read record for final check-out", "event_id", eventID, "user_id", userID, "err", err)
		}
		return
	}
	if rec.State.Terminal() {
		return
	}
	if _, err := m.engine.CheckOut(ctx, rec.ID, domain.CheckOutAuto); err != nil {
		m.logger.Error("automatic check-out failed", "record_id", rec.ID, "err", err)
	}
}

func (m *Monitor) release(ms *monitorSub) {
	key := subKey(ms.eventID, ms.userID)
	m.mu.Lock()
	if cur, ok := m.subs[key]; ok && cur == ms {
		delete(m.subs, key)
	}
	m.mu.Unlock()
	ms.cancel()
	ms.sub.Close()
}

// Close cancels every live subscription. Required cleanup on teardown.
func (m *Monitor) Close() {
	m.mu.Lock()
	subs := make([]*monitorSub, 0, len(m.subs))
	for key, sub := range m.subs {
		subs = append(subs, sub)
		delete(m.subs, key)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
		sub.sub.Close()
	}
}

func subKey(eventID, userID string) string {
	return eventID + ":" + userID
}
