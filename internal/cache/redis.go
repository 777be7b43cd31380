package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"geoattend/internal/domain"
)

const (
	statusKeyPrefix = "geoattend:status:"
	sweepLockKey    = "geoattend:sweep:lock"
)

// Client wraps redis for the two concerns the engine has here: a TTL'd
// status-snapshot cache for cheap reads, and the sweep advisory lock.
type Client struct {
	rdb       *redis.Client
	statusTTL time.Duration
}

func New(addr string, statusTTL time.Duration) *Client {
	return &Client{
		rdb:       redis.NewClient(&redis.Options{Addr: addr}),
		statusTTL: statusTTL,
	}
}

// Ping verifies connectivity at startup.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// PutStatus caches the latest snapshot for a record.
func (c *Client) PutStatus(ctx context.Context, snap *domain.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal status snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, statusKeyPrefix+snap.RecordID, payload, c.statusTTL).Err(); err != nil {
		return fmt.Errorf("cache status snapshot: %w", err)
	}
	return nil
}

// GetStatus returns the cached snapshot, or domain.ErrNotFound when the key
// is cold.
func (c *Client) GetStatus(ctx context.Context, recordID string) (*domain.StatusSnapshot, error) {
	payload, err := c.rdb.Get(ctx, statusKeyPrefix+recordID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read cached status: %w", err)
	}
	snap := &domain.StatusSnapshot{}
	if err := json.Unmarshal(payload, snap); err != nil {
		return nil, fmt.Errorf("decode cached status: %w", err)
	}
	return snap, nil
}

// InvalidateStatus drops the cached snapshot after a transition.
func (c *Client) InvalidateStatus(ctx context.Context, recordID string) error {
	return c.rdb.Del(ctx, statusKeyPrefix+recordID).Err()
}

// AcquireSweepLock takes the cross-process sweep lock with SET NX PX. The
// returned release function is a no-op when the lock was not acquired.
func (c *Client) AcquireSweepLock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	ok, err := c.rdb.SetNX(ctx, sweepLockKey, "1", ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		if err := c.rdb.Del(context.Background(), sweepLockKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
			// Best effort: the TTL reclaims a lock we failed to delete.
			return
		}
	}
	return release, true, nil
}
