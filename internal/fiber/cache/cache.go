package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/corda/corda-runtime-os-sub030/internal/fiber"
	"github.com/corda/corda-runtime-os-sub030/internal/metrickeys"
	"github.com/corda/corda-runtime-os-sub030/metrics"
)

// LRUCache keeps live fibers for a bounded time. Fibers dropped from the cache are stopped.
type LRUCache struct {
	mc metrics.Client
	c  *ttlcache.Cache[string, *fiber.Fiber]
}

var _ fiber.Cache = (*LRUCache)(nil)

func NewFiberLRUCache(mc metrics.Client, size int, expiration time.Duration) *LRUCache {
	c := ttlcache.New(
		ttlcache.WithCapacity[string, *fiber.Fiber](uint64(size)),
		ttlcache.WithTTL[string, *fiber.Fiber](expiration),
	)

	c.OnEviction(func(ctx context.Context, er ttlcache.EvictionReason, i *ttlcache.Item[string, *fiber.Fiber]) {
		reason := ""
		switch er {
		case ttlcache.EvictionReasonExpired:
			reason = "expired"
		case ttlcache.EvictionReasonCapacityReached:
			reason = "capacity"
		default:
			// Explicit deletes stop the fiber themselves, or hand it back to the runner
			return
		}

		// Stop the parked fiber to release its goroutine
		i.Value().Exit()

		mc.Counter(metrickeys.FiberCacheEviction, metrics.Tags{metrickeys.EvictionReason: reason}, 1)
	})

	return &LRUCache{
		mc: mc,
		c:  c,
	}
}

func (lc *LRUCache) Take(flowID string) (*fiber.Fiber, bool) {
	item := lc.c.Get(flowID)
	if item == nil {
		return nil, false
	}

	lc.c.Delete(flowID)

	lc.mc.Gauge(metrickeys.FiberCacheSize, metrics.Tags{}, int64(lc.c.Len()))

	return item.Value(), true
}

func (lc *LRUCache) Put(flowID string, f *fiber.Fiber) {
	if existing := lc.c.Get(flowID); existing != nil && existing.Value() != f {
		lc.c.Delete(flowID)
		existing.Value().Exit()
	}

	lc.c.Set(flowID, f, ttlcache.DefaultTTL)

	lc.mc.Gauge(metrickeys.FiberCacheSize, metrics.Tags{}, int64(lc.c.Len()))
}

func (lc *LRUCache) Evict(flowID string) {
	item := lc.c.Get(flowID)
	if item == nil {
		return
	}

	lc.c.Delete(flowID)
	item.Value().Exit()

	lc.mc.Gauge(metrickeys.FiberCacheSize, metrics.Tags{}, int64(lc.c.Len()))
}

func (lc *LRUCache) Len() int {
	return lc.c.Len()
}

// StartEviction expires cached fibers until ctx is done.
func (lc *LRUCache) StartEviction(ctx context.Context) {
	go lc.c.Start()

	<-ctx.Done()

	lc.c.Stop()
}

// Close stops all cached fibers.
func (lc *LRUCache) Close() {
	for _, item := range lc.c.Items() {
		item.Value().Exit()
	}

	lc.c.DeleteAll()
}
