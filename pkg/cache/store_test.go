package cache

import (
	"fmt"
	"sync"
	"testing"
)

const testNS = "test:"

func TestStoreBasicOperations(t *testing.T) {
	s := NewStore()

	s.Do(testNS, func(tx *Tx) {
		tx.Put(NewEntry("key1", 7, 0, []byte("value1")))
	})

	s.Do(testNS, func(tx *Tx) {
		e, exists := tx.Get("key1")
		if !exists {
			t.Fatal("key1 should exist")
		}
		if string(e.Value) != "value1" || e.Flags != 7 || e.Bytes != 6 {
			t.Errorf("Unexpected entry %+v", e)
		}
		if !tx.Delete("key1") {
			t.Error("Delete should return true")
		}
		if tx.Exists("key1") {
			t.Error("Key should not exist after deletion")
		}
		if tx.Delete("key1") {
			t.Error("Second delete should return false")
		}
	})
}

func TestStoreNamespacesAreIsolated(t *testing.T) {
	s := NewStore()

	s.Do("a:", func(tx *Tx) { tx.Put(NewEntry("k", 0, 0, []byte("from a"))) })
	s.Do("b:", func(tx *Tx) { tx.Put(NewEntry("k", 0, 0, []byte("from b"))) })

	s.Do("a:", func(tx *Tx) {
		if n := tx.Clear(); n != 1 {
			t.Errorf("Expected 1 cleared, got %d", n)
		}
	})

	s.Do("b:", func(tx *Tx) {
		e, exists := tx.Get("k")
		if !exists || string(e.Value) != "from b" {
			t.Errorf("Namespace b should be untouched, got %+v (exists: %t)", e, exists)
		}
	})
	if s.Len() != 1 {
		t.Errorf("Expected 1 entry left, got %d", s.Len())
	}
}

func TestStoreEntryCopiesValue(t *testing.T) {
	buf := []byte("hello")
	e := NewEntry("k", 0, 0, buf)
	buf[0] = 'j'

	if string(e.Value) != "hello" {
		t.Errorf("Entry should own its value, got %q", e.Value)
	}
	update := []byte("world")
	e.SetValue(update)
	update[0] = 'y'
	if string(e.Value) != "world" || e.Bytes != 5 {
		t.Errorf("SetValue should copy the value, got %q (%d bytes)", e.Value, e.Bytes)
	}
}

func TestStoreScheduleAndEvict(t *testing.T) {
	s := NewStore()

	var first *Entry
	s.Do(testNS, func(tx *Tx) {
		first = NewEntry("k", 0, 10, []byte("v1"))
		tx.Put(first)
		tx.Schedule(first, 10)
	})

	pending := s.SwapInvalidations()
	inv, ok := pending[testNS+"k"]
	if !ok || inv.TTL != 10 {
		t.Fatalf("Expected pending registration with ttl 10, got %+v (ok: %t)", inv, ok)
	}
	if len(s.SwapInvalidations()) != 0 {
		t.Error("Swap should leave an empty index behind")
	}

	s.Do(testNS, func(tx *Tx) {
		e := NewEntry("k", 0, 20, []byte("v2"))
		tx.Put(e)
		tx.Schedule(e, 20)
	})

	if s.Evict(testNS+"k", inv.Revision) {
		t.Error("A stale registration must not evict the newer entry")
	}
	latest := s.SwapInvalidations()[testNS+"k"]
	if !s.Evict(testNS+"k", latest.Revision) {
		t.Error("The current registration should evict the entry")
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store, got %d entries", s.Len())
	}
}

func TestStoreConcurrentCompoundOperations(t *testing.T) {
	s := NewStore()
	const workers = 50

	var wg sync.WaitGroup
	inserted := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Do(testNS, func(tx *Tx) {
				if !tx.Exists("shared") {
					tx.Put(NewEntry("shared", 0, 0, []byte(fmt.Sprint(i))))
					inserted <- fmt.Sprint(i)
				}
			})
		}(i)
	}
	wg.Wait()
	close(inserted)

	winners := 0
	var winner string
	for w := range inserted {
		winners++
		winner = w
	}
	if winners != 1 {
		t.Fatalf("Expected exactly one insert, got %d", winners)
	}
	s.Do(testNS, func(tx *Tx) {
		e, _ := tx.Get("shared")
		if string(e.Value) != winner {
			t.Errorf("Expected value %s, got %s", winner, e.Value)
		}
	})
}

func TestStoreReleasesLockOnPanic(t *testing.T) {
	s := NewStore()

	func() {
		defer func() { _ = recover() }()
		s.Do(testNS, func(tx *Tx) { panic("boom") })
	}()

	done := make(chan struct{})
	go func() {
		s.Do(testNS, func(tx *Tx) {})
		close(done)
	}()
	<-done
}
