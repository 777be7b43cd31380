package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"geoattend/internal/domain"
)

// DefaultOutsideWarningFraction of the event's max-time-outside at which the
// warning escalation fires.
const DefaultOutsideWarningFraction = 0.5

// EscalationLevel is the outcome of evaluating an outside episode.
type EscalationLevel int

const (
	EscalationNone EscalationLevel = iota
	EscalationWarning
	EscalationAbsent
)

// EscalationTracker turns the length of the current continuous outside
// episode into an escalation decision. It is pure: all clock access comes in
// through the caller.
type EscalationTracker struct {
	warningFraction float64
}

// NewEscalationTracker builds a tracker firing the warning at the given
// fraction of an event's max-time-outside. Fractions outside (0,1] fall back
// to the default.
func NewEscalationTracker(warningFraction float64) *EscalationTracker {
	if warningFraction <= 0 || warningFraction > 1 {
		warningFraction = DefaultOutsideWarningFraction
	}
	return &EscalationTracker{warningFraction: warningFraction}
}

// Thresholds returns the warning and limit durations for an event.
func (t *EscalationTracker) Thresholds(event *domain.Event) (warning, limit time.Duration) {
	limit = time.Duration(event.MaxOutsideSeconds) * time.Second
	warning = time.Duration(float64(limit) * t.warningFraction)
	return warning, limit
}

// Evaluate classifies the record's current outside episode at the given
// instant. Records that are inside, terminal, or have no limit configured
// never escalate.
func (t *EscalationTracker) Evaluate(rec *domain.AttendanceRecord, event *domain.Event, now time.Time) EscalationLevel {
	if rec.State.Terminal() || rec.OutsideSince == nil || event.MaxOutsideSeconds <= 0 {
		return EscalationNone
	}
	elapsed := now.Sub(*rec.OutsideSince)
	warning, limit := t.Thresholds(event)
	switch {
	case elapsed >= limit:
		return EscalationAbsent
	case elapsed >= warning:
		return EscalationWarning
	default:
		return EscalationNone
	}
}

// Heartbeat forces a periodic re-evaluation per tracked record so that a
// participant whose device stops transmitting is still escalated. This is a
// liveness mechanism, not an optimization: without it an outside episode
// would only advance when samples happen to arrive.
//
// The tick callback reports whether the record reached a terminal state, at
// which point its timer is released. Stop and StopAll are the required
// cleanup paths for manual check-out and service teardown.
type Heartbeat struct {
	interval time.Duration
	tick     func(ctx context.Context, recordID string) (terminal bool)
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewHeartbeat builds a heartbeat runner. interval must be positive.
func NewHeartbeat(interval time.Duration, tick func(ctx context.Context, recordID string) bool, logger *slog.Logger) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		tick:     tick,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Track starts the per-record timer if it is not already running.
func (h *Heartbeat) Track(recordID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.cancels[recordID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancels[recordID] = cancel
	go h.run(ctx, recordID)
}

// Stop cancels the per-record timer. Safe to call for untracked records.
func (h *Heartbeat) Stop(recordID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.cancels[recordID]; ok {
		cancel()
		delete(h.cancels, recordID)
	}
}

// StopAll cancels every timer. Called on service teardown.
func (h *Heartbeat) StopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, cancel := range h.cancels {
		cancel()
		delete(h.cancels, id)
	}
}

// Tracking reports whether the record currently has a heartbeat timer.
func (h *Heartbeat) Tracking(recordID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.cancels[recordID]
	return ok
}

func (h *Heartbeat) run(ctx context.Context, recordID string) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.tick(ctx, recordID) {
				h.logger.Debug("heartbeat released terminal record", "record_id", recordID)
				h.Stop(recordID)
				return
			}
		}
	}
}
