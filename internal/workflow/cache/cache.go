// Package cache stores rendered status snapshots in Redis. The snapshot is
// a pure read model, so the cache is advisory: every entry carries a TTL
// and mutations invalidate eagerly, but a missed invalidation only means a
// briefly stale read.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"examen/internal/workflow/models"
	id "examen/pkg/domain"
	"examen/pkg/platform/sentinel"
)

const (
	snapshotKeyPrefix = "workflow:status:"
	defaultTTL        = 30 * time.Second
)

// SnapshotCache is a Redis-backed cache of cycle-report status snapshots.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a snapshot cache. A non-positive ttl falls back to the
// default.
func New(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(cycleID id.CycleID, reportID id.ReportID) string {
	return fmt.Sprintf("%s%s:%s", snapshotKeyPrefix, cycleID, reportID)
}

// Get returns the cached snapshot for a cycle-report.
//
// Errors: sentinel.ErrNotFound on a miss.
func (c *SnapshotCache) Get(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) (*models.Snapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(cycleID, reportID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt entry behaves like a miss; the next Set repairs it.
		return nil, sentinel.ErrNotFound
	}
	return &snap, nil
}

// Set stores a snapshot under the configured TTL.
func (c *SnapshotCache) Set(ctx context.Context, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey(snap.CycleID, snap.ReportID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot for a cycle-report.
func (c *SnapshotCache) Invalidate(ctx context.Context, cycleID id.CycleID, reportID id.ReportID) error {
	if err := c.client.Del(ctx, snapshotKey(cycleID, reportID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
