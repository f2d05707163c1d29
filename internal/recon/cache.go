package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "recon:version"

// Cache keeps generated reports in Redis so repeated report reads skip
// the database. A version counter invalidates every cached report at
// once when a new run completes.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) reportKey(ctx context.Context, runID int64) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("recon:report:%d:%d", runID, ver), nil
}

// FetchReport loads a cached report or populates it using the loader.
// A nil cache degrades to calling the loader directly.
func (c *Cache) FetchReport(ctx context.Context, runID int64, loader func(context.Context) (Report, error)) (Report, error) {
	if loader == nil {
		return Report{}, errors.New("recon: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.reportKey(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var report Report
		if err := json.Unmarshal(raw, &report); err == nil {
			return report, nil
		}
		// Corrupt entry: fall through and repopulate.
	} else if err != redis.Nil {
		return Report{}, err
	}

	// Concurrent misses on the same key collapse into one load.
	v, err, _ := c.group.Do(key, func() (any, error) {
		report, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(report)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			return nil, err
		}
		return report, nil
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

// Invalidate bumps the cache version, expiring every cached report.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}
