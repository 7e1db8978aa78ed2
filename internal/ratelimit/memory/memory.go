// Package memory holds limiter state in process memory, keyed by string.
package memory

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry maps keys to values created lazily on first use. Entries are never
// evicted. Lookups of existing keys do not take a lock.
type Registry[V any] struct {
	entries sync.Map
	size    atomic.Int64
}

func New[V any]() *Registry[V] {
	return &Registry[V]{}
}

// Get returns the value stored for key, if any.
func (r *Registry[V]) Get(key string) (V, bool) {
	v, ok := r.entries.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// GetOrCreate returns the value for key, storing create() first if the key is
// new. When several goroutines race on a new key exactly one value is kept and
// all of them get it back; created reports whether this call stored it.
func (r *Registry[V]) GetOrCreate(key string, create func() V) (v V, created bool) {
	if existing, ok := r.entries.Load(key); ok {
		return existing.(V), false
	}

	actual, loaded := r.entries.LoadOrStore(key, create())
	if !loaded {
		r.size.Add(1)
	}
	return actual.(V), !loaded
}

func (r *Registry[V]) Len() int {
	return int(r.size.Load())
}

// Keys returns the registered keys in sorted order.
func (r *Registry[V]) Keys() []string {
	keys := make([]string, 0, r.Len())
	r.entries.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}
