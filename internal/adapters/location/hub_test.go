package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"geoattend/internal/domain"
)

func sample(eventID, userID string, at time.Time) domain.LocationSample {
	return domain.LocationSample{EventID: eventID, UserID: userID, Lat: 40, Lon: -74, Timestamp: at}
}

func TestHub_CurrentFreshness(t *testing.T) {
	hub := NewHub(time.Minute)
	ctx := context.Background()

	if _, err := hub.Current(ctx, "ev-1", "user-1"); !errors.Is(err, domain.ErrLocationUnavailable) {
		t.Fatalf("error = %v, want ErrLocationUnavailable before any publish", err)
	}

	hub.Publish(sample("ev-1", "user-1", time.Now()))
	got, err := hub.Current(ctx, "ev-1", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.EventID != "ev-1" || got.UserID != "user-1" {
		t.Errorf("got sample for %s/%s", got.EventID, got.UserID)
	}

	hub.Publish(sample("ev-1", "user-2", time.Now().Add(-2*time.Minute)))
	if _, err := hub.Current(ctx, "ev-1", "user-2"); !errors.Is(err, domain.ErrLocationUnavailable) {
		t.Errorf("error = %v, want ErrLocationUnavailable for stale sample", err)
	}
}

func TestHub_WatchDelivers(t *testing.T) {
	hub := NewHub(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := hub.Watch(ctx, "ev-1", "user-1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer sub.Close()

	hub.Publish(sample("ev-1", "user-1", time.Now()))
	hub.Publish(sample("ev-1", "user-2", time.Now())) // different participant

	select {
	case got := <-sub.Samples():
		if got.UserID != "user-1" {
			t.Errorf("delivered sample for %s, want user-1", got.UserID)
		}
	case <-time.After(time.Second):
		t.Fatal("no sample delivered")
	}
	select {
	case got, ok := <-sub.Samples():
		if ok {
			t.Errorf("unexpected extra sample for %s", got.UserID)
		}
	default:
	}
}

func TestHub_CloseReleasesSubscription(t *testing.T) {
	hub := NewHub(time.Minute)
	sub, err := hub.Watch(context.Background(), "ev-1", "user-1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	sub.Close()
	sub.Close() // idempotent

	if _, ok := <-sub.Samples(); ok {
		t.Error("channel should be closed after Close")
	}

	// Publishing after close must not panic or deliver.
	hub.Publish(sample("ev-1", "user-1", time.Now()))
}

func TestHub_PublishDuringConcurrentClose(t *testing.T) {
	hub := NewHub(time.Minute)

	// A publisher racing a closing watcher must never send on the closed
	// channel. Many short rounds make the interleaving likely; run with
	// -race to catch regressions.
	for i := 0; i < 200; i++ {
		sub, err := hub.Watch(context.Background(), "ev-1", "user-1")
		if err != nil {
			t.Fatalf("watch: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				hub.Publish(sample("ev-1", "user-1", time.Now()))
			}
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
		wg.Wait()

		// Drain whatever was delivered before the close won.
		for range sub.Samples() {
		}
	}
}

func TestHub_ContextCancelCloses(t *testing.T) {
	hub := NewHub(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Watch(ctx, "ev-1", "user-1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Samples():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after context cancel")
		}
	}
}
