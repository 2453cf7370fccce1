// Package cache provides the shared in-memory store behind the memcache
// engine and the collector that expires its entries.
//
// All access goes through Store.Do, which runs a function while holding the
// store's single lock. Compound commands (check-then-insert for add,
// read-modify-write for append or incr) therefore never expose a partial
// update to another connection:
//
//	store := cache.NewStore()
//	store.Do("memcache:", func(tx *cache.Tx) {
//		if _, exists := tx.Get("greeting"); !exists {
//			e := cache.NewEntry("greeting", 0, 60, []byte("hello"))
//			tx.Put(e)
//			tx.Schedule(e, 60)
//		}
//	})
//
// Entries whose TTL is registered with Tx.Schedule are removed by a Collector
// running in its own goroutine.
package cache

import (
	"strings"
	"sync"
)

// Invalidation is a pending TTL registration waiting to be picked up by the
// collector.
type Invalidation struct {
	TTL      int64 // seconds from the moment the collector sees it; 0 never expires
	Revision uint64
}

// Store holds entries of any number of namespaces in one map, keyed by
// namespace prefix + key, together with the invalidation index that feeds
// the collector. The zero value is not usable; call NewStore.
type Store struct {
	mu            sync.Mutex
	items         map[string]*Entry
	invalidations map[string]Invalidation
	revision      uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		items:         make(map[string]*Entry),
		invalidations: make(map[string]Invalidation),
	}
}

// Do runs fn with exclusive access to the entries of one namespace. The lock
// is released when fn returns or panics. fn must not retain tx.
func (s *Store) Do(namespace string, fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&Tx{store: s, namespace: namespace})
}

// Len returns the number of entries across all namespaces.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// SwapInvalidations hands the current invalidation index to the caller and
// installs an empty one.
func (s *Store) SwapInvalidations() map[string]Invalidation {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.invalidations
	s.invalidations = make(map[string]Invalidation)
	return pending
}

// Evict removes the entry stored under the fully qualified key if it is
// still owned by the given TTL registration. It reports whether an entry
// was removed.
func (s *Store) Evict(storeKey string, revision uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[storeKey]
	if !ok || e.revision != revision {
		return false
	}
	delete(s.items, storeKey)
	return true
}

// Tx is a view of one namespace valid only inside Store.Do.
type Tx struct {
	store     *Store
	namespace string
}

// Get returns the live entry for key. Callers may mutate it in place; the
// change is visible to others once Do returns.
func (tx *Tx) Get(key string) (*Entry, bool) {
	e, ok := tx.store.items[tx.namespace+key]
	return e, ok
}

// Exists reports whether key holds an entry.
func (tx *Tx) Exists(key string) bool {
	_, ok := tx.store.items[tx.namespace+key]
	return ok
}

// Put stores e under e.Key, replacing any previous entry.
func (tx *Tx) Put(e *Entry) {
	tx.store.items[tx.namespace+e.Key] = e
}

// Delete removes key and reports whether it existed.
func (tx *Tx) Delete(key string) bool {
	storeKey := tx.namespace + key
	if _, ok := tx.store.items[storeKey]; !ok {
		return false
	}
	delete(tx.store.items, storeKey)
	return true
}

// Clear removes every entry of the namespace and returns how many were
// removed. Pending TTL registrations are left for the collector, which
// ignores keys that no longer exist.
func (tx *Tx) Clear() int {
	if tx.namespace == "" {
		n := len(tx.store.items)
		clear(tx.store.items)
		return n
	}

	n := 0
	for storeKey := range tx.store.items {
		if strings.HasPrefix(storeKey, tx.namespace) {
			delete(tx.store.items, storeKey)
			n++
		}
	}
	return n
}

// Schedule registers ttl (seconds, 0 for never) for e, overriding any
// registration still pending for the same key. e must already be stored.
func (tx *Tx) Schedule(e *Entry, ttl int64) {
	tx.store.revision++
	e.revision = tx.store.revision
	tx.store.invalidations[tx.namespace+e.Key] = Invalidation{TTL: ttl, Revision: e.revision}
}
