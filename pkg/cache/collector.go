package cache

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Collector pacing
const (
	tickInterval = time.Second
	// minSleep keeps the collector from waking up exactly on the second
	// boundary it is aiming for and sleeping zero.
	minSleep = time.Millisecond
)

// CollectorStats are cumulative counters, safe to read while the collector runs.
type CollectorStats struct {
	Ticks     atomic.Int64 // sweeps performed
	Scheduled atomic.Int64 // TTL registrations moved into the schedule
	Evicted   atomic.Int64 // entries removed
	Stale     atomic.Int64 // scheduled keys already deleted or re-registered
	Overruns  atomic.Int64 // ticks that took longer than the tick interval
	Faults    atomic.Int64 // evictions that failed
}

// TickReport summarizes one sweep.
type TickReport struct {
	Scheduled int
	Evicted   int
	Stale     int
	Faults    int
}

// Collector expires entries on a one second cadence. Each tick it drains the
// store's invalidation index into a schedule of absolute expiry seconds, then
// evicts everything that is due.
//
// A Collector is driven by a single goroutine (Run); Tick is exported for
// callers that want to drive the clock themselves.
type Collector struct {
	store    *Store
	logger   *log.Logger
	now      func() time.Time
	since    func(time.Time) time.Duration
	evictFn  func(storeKey string, revision uint64) bool
	schedule map[int64]map[string]uint64 // unix second -> store key -> revision

	Stats CollectorStats
}

// NewCollector creates a collector for store. A nil logger logs through the
// standard logger.
func NewCollector(store *Store, logger *log.Logger) *Collector {
	c := &Collector{
		store:    store,
		logger:   logger,
		now:      time.Now,
		since:    time.Since,
		schedule: make(map[int64]map[string]uint64),
	}
	if store != nil {
		c.evictFn = store.Evict
	}
	return c
}

// Run sweeps the store once per second until ctx is cancelled. It is meant to
// run for the lifetime of the process. If a sweep takes longer than a second
// the next one starts immediately and the overrun is counted and logged.
//
// Run panics if the collector has no store to sweep.
func (c *Collector) Run(ctx context.Context) error {
	if c.store == nil {
		panic("cache: collector started without a store")
	}

	for {
		started := time.Now()
		c.Tick(c.now())
		elapsed := c.since(started)

		if elapsed >= tickInterval {
			overruns := c.Stats.Overruns.Inc()
			c.logf("cache: collector tick took %s, running behind (%d overruns)", elapsed, overruns)
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}

		timer := time.NewTimer(untilNextTick(c.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick performs one sweep as of now.
func (c *Collector) Tick(now time.Time) TickReport {
	var report TickReport
	second := now.Unix()

	for storeKey, inv := range c.store.SwapInvalidations() {
		if inv.TTL == 0 {
			continue
		}
		due := second + inv.TTL
		bucket, ok := c.schedule[due]
		if !ok {
			bucket = make(map[string]uint64)
			c.schedule[due] = bucket
		}
		bucket[storeKey] = inv.Revision
		report.Scheduled++
	}

	// Every bucket at or before now is due, so a tick that overran and
	// skipped a second still drains the bucket it missed.
	for due, bucket := range c.schedule {
		if due > second {
			continue
		}
		for storeKey, revision := range bucket {
			evicted, err := c.evict(storeKey, revision)
			switch {
			case err != nil:
				report.Faults++
				c.logf("cache: collector: %v", err)
			case evicted:
				report.Evicted++
			default:
				report.Stale++
			}
		}
		delete(c.schedule, due)
	}

	c.Stats.Ticks.Inc()
	c.Stats.Scheduled.Add(int64(report.Scheduled))
	c.Stats.Evicted.Add(int64(report.Evicted))
	c.Stats.Stale.Add(int64(report.Stale))
	c.Stats.Faults.Add(int64(report.Faults))
	return report
}

// Pending returns how many keys are waiting in the schedule. It must only be
// called from the goroutine driving the collector.
func (c *Collector) Pending() int {
	n := 0
	for _, bucket := range c.schedule {
		n += len(bucket)
	}
	return n
}

func (c *Collector) evict(storeKey string, revision uint64) (evicted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("evicting %q: %v", storeKey, r)
		}
	}()
	return c.evictFn(storeKey, revision), nil
}

func (c *Collector) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// untilNextTick returns the time left until the next whole second, plus a
// small offset so the wait is never zero.
func untilNextTick(now time.Time) time.Duration {
	next := now.Truncate(tickInterval).Add(tickInterval)
	return next.Sub(now) + minSleep
}
