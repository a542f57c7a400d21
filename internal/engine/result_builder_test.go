package engine

import "testing"

func intCmp(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func TestResultBuilder_KeepsBestK(t *testing.T) {
	b := newResultBuilder(intCmp, 0, 3)
	for _, v := range []int{9, 1, 8, 2, 7, 3} {
		b.Add(v)
	}

	page, hasMore := b.Page(0)
	if len(page) != 3 {
		t.Fatalf("expected 3 items, got %d", len(page))
	}
	for i, want := range []int{1, 2, 3} {
		if page[i] != want {
			t.Errorf("page[%d] = %d, want %d", i, page[i], want)
		}
	}
	if !hasMore {
		t.Error("expected hasMore after evictions")
	}
}

func TestResultBuilder_NoEvictionNoMore(t *testing.T) {
	b := newResultBuilder(intCmp, 0, 10)
	for _, v := range []int{5, 2, 9} {
		b.Add(v)
	}

	page, hasMore := b.Page(0)
	if len(page) != 3 || hasMore {
		t.Fatalf("expected full page without hasMore, got %d items hasMore=%v", len(page), hasMore)
	}
}

func TestResultBuilder_OffsetSkipsPrefix(t *testing.T) {
	b := newResultBuilder(intCmp, 2, 2)
	for v := 10; v > 0; v-- {
		b.Add(v)
	}

	page, hasMore := b.Page(2)
	if len(page) != 2 || page[0] != 3 || page[1] != 4 {
		t.Fatalf("expected [3 4], got %v", page)
	}
	if !hasMore {
		t.Error("expected hasMore with 10 candidates and capacity 4")
	}
}

// Offset past the match set returns an empty page and no more pages.
func TestResultBuilder_OffsetBeyondMatches(t *testing.T) {
	b := newResultBuilder(intCmp, 20, 10)
	for v := 0; v < 15; v++ {
		b.Add(v)
	}

	page, hasMore := b.Page(20)
	if len(page) != 0 {
		t.Fatalf("expected empty page, got %d items", len(page))
	}
	if hasMore {
		t.Error("expected hasMore=false when every match fits under capacity")
	}
}

func TestResultBuilder_ZeroCapacity(t *testing.T) {
	b := newResultBuilder(intCmp, 0, 0)
	b.Add(1)

	page, hasMore := b.Page(0)
	if len(page) != 0 || !hasMore {
		t.Fatalf("zero capacity should keep nothing and flag more, got %v hasMore=%v", page, hasMore)
	}
}
