package engine

import (
	"fmt"
	"sort"

	"auction_go/internal/domain"
)

// maxBucketAppearances bounds the per-bucket appearance-count array.
// When all four slots are taken, a new appearance is silently dropped.
// That is a deliberate product limit, not a bug: the uncollected
// filter tolerates undercounting, never phantom entries.
const maxBucketAppearances = 4

type appearanceCount struct {
	ID    uint32
	Count uint32
}

// Bucket is one search-index entry: every posting sharing an item
// identity key, plus the denormalized statistics search sorts and
// filters on. A bucket exists in the index iff it holds postings.
type Bucket struct {
	Key  domain.BucketKey
	tmpl *domain.ItemTemplate

	sortLevel     uint32
	qualityMask   uint32
	qualityCounts [domain.QualityCount]uint32
	minPrice      uint64

	appearances       [maxBucketAppearances]appearanceCount
	minCompanionLevel uint8
	maxCompanionLevel uint8

	// postings stay sorted ascending by effective price, then start
	// time, then id. This is the same comparator the price sort uses;
	// commodity matching walks it front to back.
	postings []*domain.Posting
}

func newBucket(key domain.BucketKey, tmpl *domain.ItemTemplate) *Bucket {
	return &Bucket{
		Key:       key,
		tmpl:      tmpl,
		sortLevel: tmpl.SortLevel(),
	}
}

// comparePostings is the canonical posting order: ascending effective
// price, earliest start time, lowest id.
func comparePostings(a, b *domain.Posting) int {
	pa, pb := a.EffectivePrice(), b.EffectivePrice()
	switch {
	case pa != pb:
		if pa < pb {
			return -1
		}
		return 1
	case !a.StartTime.Equal(b.StartTime):
		if a.StartTime.Before(b.StartTime) {
			return -1
		}
		return 1
	case a.ID != b.ID:
		if a.ID < b.ID {
			return -1
		}
		return 1
	default:
		return 0
	}
}

func (b *Bucket) Template() *domain.ItemTemplate { return b.tmpl }
func (b *Bucket) MinPrice() uint64               { return b.minPrice }
func (b *Bucket) SortLevel() uint32              { return b.sortLevel }
func (b *Bucket) QualityMask() uint32            { return b.qualityMask }
func (b *Bucket) Postings() []*domain.Posting    { return b.postings }
func (b *Bucket) IsCompanion() bool              { return b.Key.SpeciesID != 0 }

// CompanionLevels returns the min/max companion level across postings.
func (b *Bucket) CompanionLevels() (uint8, uint8) {
	return b.minCompanionLevel, b.maxCompanionLevel
}

// Appearances returns the occupied appearance slots.
func (b *Bucket) Appearances() []appearanceCount {
	out := make([]appearanceCount, 0, maxBucketAppearances)
	for _, a := range b.appearances {
		if a.Count > 0 {
			out = append(out, a)
		}
	}
	return out
}

// Quantity is the total unit count across all postings.
func (b *Bucket) Quantity() uint64 {
	var n uint64
	for _, p := range b.postings {
		n += p.TotalCount()
	}
	return n
}

func postingQuality(p *domain.Posting) domain.Quality {
	return p.Template().Quality
}

// add inserts the posting and folds it into the aggregates.
func (b *Bucket) add(p *domain.Posting) {
	eff := p.EffectivePrice()
	if len(b.postings) == 0 || eff < b.minPrice {
		b.minPrice = eff
	}

	q := postingQuality(p)
	b.qualityCounts[q]++
	b.qualityMask |= 1 << uint(q)

	for _, it := range p.Items {
		if it.AppearanceID != 0 {
			b.mergeAppearance(it.AppearanceID, it.Count)
		}
	}

	if b.IsCompanion() {
		// Incremental merge over this posting's items only; the full
		// rescan is reserved for removal, where the new extremes
		// cannot be derived locally.
		for _, it := range p.Items {
			if len(b.postings) == 0 && b.minCompanionLevel == 0 && b.maxCompanionLevel == 0 {
				b.minCompanionLevel, b.maxCompanionLevel = it.CompanionLevel, it.CompanionLevel
				continue
			}
			if it.CompanionLevel < b.minCompanionLevel || b.minCompanionLevel == 0 {
				b.minCompanionLevel = it.CompanionLevel
			}
			if it.CompanionLevel > b.maxCompanionLevel {
				b.maxCompanionLevel = it.CompanionLevel
			}
		}
	}

	b.insert(p)
}

func (b *Bucket) insert(p *domain.Posting) {
	i := sort.Search(len(b.postings), func(i int) bool { return comparePostings(b.postings[i], p) > 0 })
	b.postings = append(b.postings, nil)
	copy(b.postings[i+1:], b.postings[i:])
	b.postings[i] = p
}

// remove detaches the posting and rebuilds the aggregates that cannot
// be decremented locally. Removing an id twice is a caller bug.
func (b *Bucket) remove(p *domain.Posting) {
	idx := -1
	for i, q := range b.postings {
		if q.ID == p.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Sprintf("bucket %v: posting %d removed twice", b.Key, p.ID))
	}
	b.postings = append(b.postings[:idx], b.postings[idx+1:]...)

	q := postingQuality(p)
	b.qualityCounts[q]--
	if b.qualityCounts[q] == 0 {
		b.qualityMask &^= 1 << uint(q)
	}

	for _, it := range p.Items {
		if it.AppearanceID != 0 {
			b.dropAppearance(it.AppearanceID, it.Count)
		}
	}

	if len(b.postings) == 0 {
		return
	}

	if p.EffectivePrice() <= b.minPrice {
		// The departing posting may have held the cached minimum; the
		// new one cannot be derived from it, so rescan.
		b.rescanMinPrice()
	}

	if b.IsCompanion() {
		b.rescanCompanionLevels()
	}
}

// reprice repositions a posting after a mutation that changes its
// effective price (a new bid), keeping the sequence sorted and the
// cached minimum honest.
func (b *Bucket) reprice(p *domain.Posting, mutate func()) {
	idx := -1
	for i, q := range b.postings {
		if q.ID == p.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Sprintf("bucket %v: reprice of unknown posting %d", b.Key, p.ID))
	}
	b.postings = append(b.postings[:idx], b.postings[idx+1:]...)
	mutate()
	b.insert(p)
	b.rescanMinPrice()
}

func (b *Bucket) rescanMinPrice() {
	b.minPrice = b.postings[0].EffectivePrice()
	for _, q := range b.postings[1:] {
		if e := q.EffectivePrice(); e < b.minPrice {
			b.minPrice = e
		}
	}
}

func (b *Bucket) rescanCompanionLevels() {
	b.minCompanionLevel, b.maxCompanionLevel = 0, 0
	first := true
	for _, q := range b.postings {
		for _, it := range q.Items {
			if first {
				b.minCompanionLevel, b.maxCompanionLevel = it.CompanionLevel, it.CompanionLevel
				first = false
				continue
			}
			if it.CompanionLevel < b.minCompanionLevel {
				b.minCompanionLevel = it.CompanionLevel
			}
			if it.CompanionLevel > b.maxCompanionLevel {
				b.maxCompanionLevel = it.CompanionLevel
			}
		}
	}
}

func (b *Bucket) mergeAppearance(id, count uint32) {
	free := -1
	for i := range b.appearances {
		if b.appearances[i].ID == id && b.appearances[i].Count > 0 {
			b.appearances[i].Count += count
			return
		}
		if free < 0 && b.appearances[i].Count == 0 {
			free = i
		}
	}
	if free >= 0 {
		b.appearances[free] = appearanceCount{ID: id, Count: count}
	}
	// all slots taken: dropped, see maxBucketAppearances
}

func (b *Bucket) dropAppearance(id, count uint32) {
	for i := range b.appearances {
		if b.appearances[i].ID == id && b.appearances[i].Count > 0 {
			if b.appearances[i].Count <= count {
				b.appearances[i] = appearanceCount{}
			} else {
				b.appearances[i].Count -= count
			}
			return
		}
	}
}
