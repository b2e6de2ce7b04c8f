package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"github.com/stilva/shop_backend/config"
)

// AcquireProductLocks takes best-effort redis locks on a set of products so
// concurrent reservation/receipt paths do not interleave their aggregate
// reads. Ids are locked in sorted order to keep two callers from deadlocking
// each other. A nil locker (redis not ready, unit tests) degrades to a
// no-op: transactional aggregates stay correct, the lock only narrows the
// race window.
func AcquireProductLocks(ctx context.Context, logger *logrus.Logger, productIds []int) func() {
	locker := config.GetRedisLock()
	if locker == nil || len(productIds) == 0 {
		return func() {}
	}

	sorted := append([]int(nil), productIds...)
	sort.Ints(sorted)

	locks := make([]*redislock.Lock, 0, len(sorted))
	for _, pid := range sorted {
		lock, err := locker.Obtain(ctx, fmt.Sprintf("lock:product:%d", pid), 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
		})
		if err != nil {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":      "AcquireProductLocks",
					"product_id": pid,
				}).Warn("could not obtain product lock; proceeding without it: " + err.Error())
			}
			continue
		}
		locks = append(locks, lock)
	}

	return func() {
		for _, lock := range locks {
			if err := lock.Release(ctx); err != nil && logger != nil {
				logger.WithFields(logrus.Fields{
					"field": "AcquireProductLocks",
				}).Warn("failed to release product lock: " + err.Error())
			}
		}
	}
}
