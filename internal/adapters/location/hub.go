package location

import (
	"context"
	"sync"
	"time"

	"geoattend/internal/domain"
)

const subscriberBuffer = 16

// Hub is an in-process location backend: the sample ingest endpoint publishes
// into it, and the monitoring side consumes it through the
// domain.LocationSource interface. Current never fabricates a position: a
// missing or stale last sample is ErrLocationUnavailable.
type Hub struct {
	maxAge time.Duration

	mu   sync.RWMutex
	last map[string]domain.LocationSample
	subs map[string]map[*subscription]struct{}
}

// NewHub builds a hub. maxAge bounds how old a last-seen sample may be before
// Current refuses to report it.
func NewHub(maxAge time.Duration) *Hub {
	return &Hub{
		maxAge: maxAge,
		last:   make(map[string]domain.LocationSample),
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

type subscription struct {
	hub       *Hub
	key       string
	ch        chan domain.LocationSample
	closeOnce sync.Once
}

func (s *subscription) Samples() <-chan domain.LocationSample { return s.ch }

// Close deregisters the subscription and closes its channel while holding the
// hub write lock. Publish sends under the read lock, so a send can never hit
// the closed channel.
func (s *subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		if set, ok := s.hub.subs[s.key]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.key)
			}
		}
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

func key(eventID, userID string) string {
	return eventID + ":" + userID
}

// Publish records the sample as the participant's latest position and fans it
// out to watchers. Slow watchers lose samples rather than block the ingest
// path.
func (h *Hub) Publish(sample domain.LocationSample) {
	k := key(sample.EventID, sample.UserID)
	h.mu.Lock()
	h.last[k] = sample
	h.mu.Unlock()

	// Non-blocking sends happen under the read lock. Close removes the
	// subscription and closes its channel under the write lock, so once a
	// channel is closed it is unreachable from here.
	h.mu.RLock()
	for sub := range h.subs[k] {
		select {
		case sub.ch <- sample:
		default:
		}
	}
	h.mu.RUnlock()
}

// Current returns the participant's latest published sample if it is fresh
// enough.
func (h *Hub) Current(_ context.Context, eventID, userID string) (*domain.LocationSample, error) {
	h.mu.RLock()
	sample, ok := h.last[key(eventID, userID)]
	h.mu.RUnlock()
	if !ok {
		return nil, domain.ErrLocationUnavailable
	}
	if h.maxAge > 0 && time.Since(sample.Timestamp) > h.maxAge {
		return nil, domain.ErrLocationUnavailable
	}
	return &sample, nil
}

// Watch subscribes to the participant's live sample stream. The subscription
// is released on Close or when the context ends.
func (h *Hub) Watch(ctx context.Context, eventID, userID string) (domain.Subscription, error) {
	k := key(eventID, userID)
	sub := &subscription{hub: h, key: k, ch: make(chan domain.LocationSample, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[k]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[k] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

var _ domain.LocationSource = (*Hub)(nil)
