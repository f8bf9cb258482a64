package bulkfetch

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

type (
	// ValueStore is the backing store for cached values. Implementations do
	// not need to be safe for concurrent use; the Coordinator serializes all
	// access under its own lock.
	//
	// The default store is an unbounded map, under which cached values
	// persist for the life of the Coordinator unless explicitly refreshed.
	// Bounded implementations (e.g. NewLRUStore) may evict, trading that
	// guarantee for a memory ceiling; an evicted key simply becomes
	// re-requestable.
	ValueStore[K comparable, V any] interface {
		Get(key K) (V, bool)
		Set(key K, value V)
		Delete(key K)
		Len() int
	}

	mapStore[K comparable, V any] map[K]V

	lruStore[K comparable, V any] struct {
		cache *lru.Cache[K, V]
	}
)

func newMapStore[K comparable, V any]() ValueStore[K, V] {
	return make(mapStore[K, V])
}

func (x mapStore[K, V]) Get(key K) (V, bool) {
	v, ok := x[key]
	return v, ok
}

func (x mapStore[K, V]) Set(key K, value V) { x[key] = value }

func (x mapStore[K, V]) Delete(key K) { delete(x, key) }

func (x mapStore[K, V]) Len() int { return len(x) }

// NewLRUStore returns a bounded ValueStore backed by an LRU cache of the
// given size, for use via Config.Store. A panic will occur if size is not
// positive.
func NewLRUStore[K comparable, V any](size int) ValueStore[K, V] {
	cache, err := lru.New[K, V](size)
	if err != nil {
		panic(`bulkfetch: invalid lru store size`)
	}
	return &lruStore[K, V]{cache: cache}
}

func (x *lruStore[K, V]) Get(key K) (V, bool) { return x.cache.Get(key) }

func (x *lruStore[K, V]) Set(key K, value V) { x.cache.Add(key, value) }

func (x *lruStore[K, V]) Delete(key K) { x.cache.Remove(key) }

func (x *lruStore[K, V]) Len() int { return x.cache.Len() }
