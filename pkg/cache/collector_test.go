package cache

import (
	"bytes"
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"
)

func quietCollector(s *Store) *Collector {
	return NewCollector(s, log.New(io.Discard, "", 0))
}

func put(s *Store, key string, ttl int64) {
	s.Do(testNS, func(tx *Tx) {
		e := NewEntry(key, 0, ttl, []byte("v"))
		tx.Put(e)
		tx.Schedule(e, ttl)
	})
}

func exists(s *Store, key string) bool {
	var ok bool
	s.Do(testNS, func(tx *Tx) { ok = tx.Exists(key) })
	return ok
}

func TestCollectorExpiresOnSchedule(t *testing.T) {
	s := NewStore()
	c := quietCollector(s)
	start := time.Unix(1_700_000_000, 0)

	put(s, "short", 2)
	put(s, "forever", 0)

	report := c.Tick(start)
	if report.Scheduled != 1 {
		t.Errorf("Expected 1 scheduled, got %d", report.Scheduled)
	}

	c.Tick(start.Add(time.Second))
	if !exists(s, "short") {
		t.Fatal("short should survive until its second is due")
	}

	report = c.Tick(start.Add(2 * time.Second))
	if report.Evicted != 1 || exists(s, "short") {
		t.Errorf("short should be evicted, report %+v", report)
	}

	for i := 3; i < 10; i++ {
		c.Tick(start.Add(time.Duration(i) * time.Second))
	}
	if !exists(s, "forever") {
		t.Error("an exptime of 0 must never expire")
	}
	if c.Pending() != 0 {
		t.Errorf("Expected empty schedule, got %d pending", c.Pending())
	}
	if c.Stats.Ticks.Load() != 10 || c.Stats.Evicted.Load() != 1 {
		t.Errorf("Unexpected stats: ticks=%d evicted=%d", c.Stats.Ticks.Load(), c.Stats.Evicted.Load())
	}
}

func TestCollectorToleratesStaleRegistrations(t *testing.T) {
	s := NewStore()
	c := quietCollector(s)
	start := time.Unix(1_700_000_000, 0)

	put(s, "k", 1)
	c.Tick(start)

	// Re-set with a longer TTL before the first registration is due.
	put(s, "k", 5)
	report := c.Tick(start.Add(time.Second))
	if report.Stale != 1 {
		t.Errorf("Expected the old registration to be stale, report %+v", report)
	}
	if !exists(s, "k") {
		t.Fatal("k was re-set and must outlive its first TTL")
	}

	report = c.Tick(start.Add(6 * time.Second))
	if report.Evicted != 1 || exists(s, "k") {
		t.Errorf("k should expire on its second registration, report %+v", report)
	}
}

func TestCollectorDrainsMissedSeconds(t *testing.T) {
	s := NewStore()
	c := quietCollector(s)
	start := time.Unix(1_700_000_000, 0)

	put(s, "k", 1)
	c.Tick(start)

	// The tick for start+1 never happens.
	report := c.Tick(start.Add(3 * time.Second))
	if report.Evicted != 1 {
		t.Errorf("A late tick should still evict overdue keys, report %+v", report)
	}
}

func TestCollectorIgnoresDeletedKeys(t *testing.T) {
	s := NewStore()
	c := quietCollector(s)
	start := time.Unix(1_700_000_000, 0)

	put(s, "k", 1)
	s.Do(testNS, func(tx *Tx) { tx.Clear() })

	c.Tick(start)
	report := c.Tick(start.Add(time.Second))
	if report.Stale != 1 || report.Evicted != 0 {
		t.Errorf("Expected one stale key, report %+v", report)
	}
}

func TestCollectorRunExpiresInRealTime(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for real collector ticks")
	}

	s := NewStore()
	c := quietCollector(s)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	put(s, "ttl", 1)
	put(s, "keep", 0)

	deadline := time.Now().Add(4 * time.Second)
	for exists(s, "ttl") && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if exists(s, "ttl") {
		t.Error("ttl should have been collected within a few ticks")
	}
	if !exists(s, "keep") {
		t.Error("keep has no TTL and must survive")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestUntilNextTick(t *testing.T) {
	now := time.Unix(100, int64(250*time.Millisecond))
	if got := untilNextTick(now); got != 750*time.Millisecond+minSleep {
		t.Errorf("Expected 751ms, got %s", got)
	}
	if got := untilNextTick(time.Unix(100, 0)); got != time.Second+minSleep {
		t.Errorf("Expected a full tick on the boundary, got %s", got)
	}
}

func TestCollectorCountsOverruns(t *testing.T) {
	s := NewStore()
	var logs bytes.Buffer
	c := NewCollector(s, log.New(&logs, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeps := 0
	c.since = func(time.Time) time.Duration {
		sweeps++
		if sweeps == 3 {
			cancel()
		}
		return 2 * time.Second
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("an overrunning collector should not wait between ticks")
	}

	if c.Stats.Overruns.Load() != 3 || c.Stats.Ticks.Load() != 3 {
		t.Errorf("Expected 3 ticks and 3 overruns, got %d and %d", c.Stats.Ticks.Load(), c.Stats.Overruns.Load())
	}
	if got := strings.Count(logs.String(), "running behind"); got != 3 {
		t.Errorf("Expected 3 overrun log lines, got %d in %q", got, logs.String())
	}
}

func TestCollectorContinuesAfterEvictionFault(t *testing.T) {
	s := NewStore()
	var logs bytes.Buffer
	c := NewCollector(s, log.New(&logs, "", 0))
	c.evictFn = func(storeKey string, revision uint64) bool {
		if storeKey == testNS+"broken" {
			panic("corrupt entry")
		}
		return s.Evict(storeKey, revision)
	}
	start := time.Unix(1_700_000_000, 0)

	put(s, "broken", 1)
	put(s, "first", 1)
	put(s, "second", 1)
	c.Tick(start)

	report := c.Tick(start.Add(time.Second))
	if report.Faults != 1 || report.Evicted != 2 {
		t.Errorf("Expected 1 fault and 2 evictions, got %+v", report)
	}
	if exists(s, "first") || exists(s, "second") {
		t.Error("a failed eviction must not stop the rest of the sweep")
	}
	if c.Stats.Faults.Load() != 1 {
		t.Errorf("Expected 1 fault counted, got %d", c.Stats.Faults.Load())
	}
	if !strings.Contains(logs.String(), "corrupt entry") {
		t.Errorf("Expected the fault to be logged, got %q", logs.String())
	}
	if c.Pending() != 0 {
		t.Errorf("Expected the due bucket drained, got %d pending", c.Pending())
	}

	// The collector keeps going on later ticks.
	put(s, "later", 1)
	c.Tick(start.Add(2 * time.Second))
	if report := c.Tick(start.Add(3 * time.Second)); report.Evicted != 1 || report.Faults != 0 {
		t.Errorf("Expected a clean sweep afterwards, got %+v", report)
	}
}
