package engine

import "sort"

// ordMap is a map whose keys stay sorted under a caller-supplied
// ordering. Posting and bucket indices both need deterministic
// full-table scans (cursor replication, repeatable searches), which a
// plain Go map cannot give.
type ordMap[K comparable, V any] struct {
	cmp  func(a, b K) int
	keys []K
	m    map[K]V
}

func newOrdMap[K comparable, V any](cmp func(a, b K) int) *ordMap[K, V] {
	return &ordMap[K, V]{cmp: cmp, m: make(map[K]V)}
}

func (o *ordMap[K, V]) Len() int {
	return len(o.keys)
}

func (o *ordMap[K, V]) Get(k K) (V, bool) {
	v, ok := o.m[k]
	return v, ok
}

// Put inserts or replaces. New keys are placed by binary search.
func (o *ordMap[K, V]) Put(k K, v V) {
	if _, exists := o.m[k]; !exists {
		i := sort.Search(len(o.keys), func(i int) bool { return o.cmp(o.keys[i], k) >= 0 })
		o.keys = append(o.keys, k)
		copy(o.keys[i+1:], o.keys[i:])
		o.keys[i] = k
	}
	o.m[k] = v
}

func (o *ordMap[K, V]) Delete(k K) bool {
	if _, exists := o.m[k]; !exists {
		return false
	}
	delete(o.m, k)
	i := sort.Search(len(o.keys), func(i int) bool { return o.cmp(o.keys[i], k) >= 0 })
	o.keys = append(o.keys[:i], o.keys[i+1:]...)
	return true
}

// Ascend visits entries in key order until fn returns false.
func (o *ordMap[K, V]) Ascend(fn func(K, V) bool) {
	for _, k := range o.keys {
		if !fn(k, o.m[k]) {
			return
		}
	}
}

// AscendGreater visits entries with key > from, in key order.
func (o *ordMap[K, V]) AscendGreater(from K, fn func(K, V) bool) {
	i := sort.Search(len(o.keys), func(i int) bool { return o.cmp(o.keys[i], from) > 0 })
	for ; i < len(o.keys); i++ {
		if !fn(o.keys[i], o.m[o.keys[i]]) {
			return
		}
	}
}

// AscendAtLeast visits entries with key >= from, in key order.
func (o *ordMap[K, V]) AscendAtLeast(from K, fn func(K, V) bool) {
	i := sort.Search(len(o.keys), func(i int) bool { return o.cmp(o.keys[i], from) >= 0 })
	for ; i < len(o.keys); i++ {
		if !fn(o.keys[i], o.m[o.keys[i]]) {
			return
		}
	}
}

// Last returns the greatest key.
func (o *ordMap[K, V]) Last() (K, bool) {
	var zero K
	if len(o.keys) == 0 {
		return zero, false
	}
	return o.keys[len(o.keys)-1], true
}
