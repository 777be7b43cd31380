package domain

import (
	"context"
	"time"
)

// Clock abstracts wall-clock access so the engine's time arithmetic is
// testable.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// UTCClock returns a Clock reporting the current instant in UTC.
func UTCClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}

// Subscription is a live feed of location samples for one participant at one
// event. Close releases the feed; Samples is closed afterwards.
type Subscription interface {
	Samples() <-chan LocationSample
	Close()
}

// LocationSource provides location fixes and live streams for participants.
// Implementations must honor the context deadline on Current and must never
// fabricate a position: a missing fix is an ErrLocationUnavailable, not a
// guess.
type LocationSource interface {
	Current(ctx context.Context, eventID, userID string) (*LocationSample, error)
	Watch(ctx context.Context, eventID, userID string) (Subscription, error)
}
