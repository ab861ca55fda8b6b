package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch-board/domain"
	"dispatch-board/syncer"
)

// Cache wraps a Storage instance with Redis-backed caching for read
// operations. Scheduling writes pass through and evict the site's cached
// board so the next hydration sees fresh data.
type Cache struct {
	base  syncer.Remote
	redis *redis.Client
	ttl   time.Duration
}

// cachedWindow carries the fetch bounds alongside the payload; a cached
// entry only serves requests for the same bounds.
type cachedWindow struct {
	From   string        `json:"from"`
	To     string        `json:"to"`
	Window syncer.Window `json:"window"`
}

// NewCache creates a caching Remote wrapper using the provided Redis client and TTL.
func NewCache(base syncer.Remote, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
}

func (c *Cache) FetchWindow(ctx context.Context, site string, from, to domain.Date) (syncer.Window, error) {
	if win, ok := c.loadWindowFromCache(ctx, site, from, to); ok {
		return win, nil
	}

	win, err := c.base.FetchWindow(ctx, site, from, to)
	if err != nil {
		return syncer.Window{}, err
	}

	c.storeWindow(ctx, site, from, to, win)
	return win, nil
}

func (c *Cache) FetchUnscheduled(ctx context.Context, site string) ([]domain.Order, error) {
	if orders, ok := c.loadPoolFromCache(ctx, site); ok {
		return orders, nil
	}

	orders, err := c.base.FetchUnscheduled(ctx, site)
	if err != nil {
		return nil, err
	}

	c.storePool(ctx, site, orders)
	return orders, nil
}

func (c *Cache) FetchTrucks(ctx context.Context, site string) ([]string, error) {
	if trucks, ok := c.loadTrucksFromCache(ctx, site); ok {
		return trucks, nil
	}

	trucks, err := c.base.FetchTrucks(ctx, site)
	if err != nil {
		return nil, err
	}

	c.storeTrucks(ctx, site, trucks)
	return trucks, nil
}

func (c *Cache) UpdateSchedule(ctx context.Context, site string, upd syncer.ScheduleUpdate) error {
	if err := c.base.UpdateSchedule(ctx, site, upd); err != nil {
		return err
	}

	c.evict(ctx, site)
	return nil
}

func (c *Cache) SaveRun(ctx context.Context, site string, run domain.Run, cell domain.CellKey) error {
	if err := c.base.SaveRun(ctx, site, run, cell); err != nil {
		return err
	}

	c.evict(ctx, site)
	return nil
}

func (c *Cache) SaveRunSequence(ctx context.Context, site string, run domain.Run) error {
	if err := c.base.SaveRunSequence(ctx, site, run); err != nil {
		return err
	}

	c.evict(ctx, site)
	return nil
}

func (c *Cache) DeleteRuns(ctx context.Context, site string, runIDs []string) error {
	if err := c.base.DeleteRuns(ctx, site, runIDs); err != nil {
		return err
	}

	c.evict(ctx, site)
	return nil
}

func (c *Cache) loadWindowFromCache(ctx context.Context, site string, from, to domain.Date) (syncer.Window, bool) {
	if c.redis == nil {
		return syncer.Window{}, false
	}
	data, err := c.redis.Get(ctx, windowCacheKey(site)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, windowCacheKey(site)).Err()
		}
		return syncer.Window{}, false
	}
	var cached cachedWindow
	if err := json.Unmarshal(data, &cached); err != nil {
		_ = c.redis.Del(ctx, windowCacheKey(site)).Err()
		return syncer.Window{}, false
	}
	if cached.From != from.String() || cached.To != to.String() {
		return syncer.Window{}, false
	}
	return cached.Window, true
}

func (c *Cache) loadPoolFromCache(ctx context.Context, site string) ([]domain.Order, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, poolCacheKey(site)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, poolCacheKey(site)).Err()
		}
		return nil, false
	}
	var orders []domain.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		_ = c.redis.Del(ctx, poolCacheKey(site)).Err()
		return nil, false
	}
	return orders, true
}

func (c *Cache) loadTrucksFromCache(ctx context.Context, site string) ([]string, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, trucksCacheKey(site)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, trucksCacheKey(site)).Err()
		}
		return nil, false
	}
	var trucks []string
	if err := json.Unmarshal(data, &trucks); err != nil {
		_ = c.redis.Del(ctx, trucksCacheKey(site)).Err()
		return nil, false
	}
	return trucks, true
}

func (c *Cache) storeWindow(ctx context.Context, site string, from, to domain.Date, win syncer.Window) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(cachedWindow{From: from.String(), To: to.String(), Window: win})
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, windowCacheKey(site), data, c.ttl).Err()
}

func (c *Cache) storePool(ctx context.Context, site string, orders []domain.Order) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(orders)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, poolCacheKey(site), data, c.ttl).Err()
}

func (c *Cache) storeTrucks(ctx context.Context, site string, trucks []string) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(trucks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, trucksCacheKey(site), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, site string) {
	if c.redis == nil {
		return
	}
	// Truck rows never change through scheduling writes, their cache stays.
	_, _ = c.redis.Del(ctx, windowCacheKey(site), poolCacheKey(site)).Result()
}

func windowCacheKey(site string) string {
	return "window:" + site
}

func poolCacheKey(site string) string {
	return "pool:" + site
}

func trucksCacheKey(site string) string {
	return "trucks:" + site
}
