package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	h "geoattend/internal/delivery/http/helpers"
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// RateLimit returns a per-client-IP token bucket limiter allowing perMinute
// requests with a burst of the same size. A background janitor drops stale
// buckets and exits when ctx is cancelled. Applied to the high-frequency
// sample ingest route.
func RateLimit(ctx context.Context, perMinute int, next http.HandlerFunc) http.HandlerFunc {
	refillPerSec := float64(perMinute) / 60.0
	burst := float64(perMinute)

	var mu sync.Mutex
	buckets := make(map[string]*bucket)

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, b := range buckets {
					if time.Since(b.lastSeen) > 3*time.Minute {
						delete(buckets, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		mu.Lock()
		b, ok := buckets[ip]
		now := time.Now()
		if !ok {
			b = &bucket{tokens: burst, lastSeen: now}
			buckets[ip] = b
		}
		b.tokens += now.Sub(b.lastSeen).Seconds() * refillPerSec
		if b.tokens > burst {
			b.tokens = burst
		}
		b.lastSeen = now
		allowed := b.tokens >= 1
		if allowed {
			b.tokens--
		}
		mu.Unlock()

		if !allowed {
			h.WriteJSONError(w, http.StatusTooManyRequests, h.ErrCodeRateLimited, "too many requests")
			return
		}
		next(w, r)
	}
}
