package engine

import "sort"

// resultBuilder keeps the best offset+pageSize candidates of a scan in
// sorted order. Feeding n candidates costs O(n log k) and never
// materializes the full match set; hasMore records whether anything
// was ever pushed off the tail.
type resultBuilder[T any] struct {
	cmp     func(a, b T) int
	limit   int
	items   []T
	hasMore bool
}

func newResultBuilder[T any](cmp func(a, b T) int, offset, pageSize int) *resultBuilder[T] {
	return &resultBuilder[T]{cmp: cmp, limit: offset + pageSize}
}

// Add binary-search-inserts x, evicting the tail when over capacity.
// Equal keys keep insertion order; callers give the comparator a
// stable tertiary key so that never matters for the page content.
func (b *resultBuilder[T]) Add(x T) {
	if b.limit == 0 {
		b.hasMore = true
		return
	}
	i := sort.Search(len(b.items), func(i int) bool { return b.cmp(b.items[i], x) > 0 })
	if i == len(b.items) && len(b.items) == b.limit {
		b.hasMore = true
		return
	}
	b.items = append(b.items, x)
	copy(b.items[i+1:], b.items[i:])
	b.items[i] = x
	if len(b.items) > b.limit {
		b.items = b.items[:b.limit]
		b.hasMore = true
	}
}

// Page returns the entries from offset on, plus the eviction flag.
func (b *resultBuilder[T]) Page(offset int) ([]T, bool) {
	if offset >= len(b.items) {
		return nil, b.hasMore
	}
	return b.items[offset:], b.hasMore
}
