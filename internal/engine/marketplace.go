package engine

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"auction_go/internal/domain"
	"auction_go/internal/event"
)

// Marketplace is one faction-scoped auction house: the posting and
// bucket indices plus the per-account bookkeeping hung off them.
//
// It is single-writer: every mutating call runs on one logical thread
// of control (the service layer serializes callers). Validation always
// precedes mutation; a rejected request leaves no trace.
type Marketplace struct {
	house  domain.HouseID
	params Params

	postings *ordMap[uint32, *domain.Posting]
	buckets  *ordMap[domain.BucketKey, *Bucket]
	byOwner  map[domain.CharacterID]map[uint32]struct{}
	byBidder map[domain.CharacterID]map[uint32]struct{}

	quotes      map[domain.AccountID]*Quote
	replCursors map[domain.AccountID]*replicationCursor

	nextID uint32

	notifier   domain.Notifier
	bank       domain.Bank
	collection domain.Collection

	// onChange is set by the registry to advance the replication epoch
	// whenever the table changes.
	onChange func()
	// onRemove lets the registry unhook removed postings from the
	// global item-ownership map.
	onRemove func(*domain.Posting)
	// onEvent publishes pooled auction events to the live stream; nil
	// disables publishing.
	onEvent func(*event.AuctionEvent)
	// newItemGuid mints guids for stacks split off by commodity sales.
	newItemGuid func() uint64
}

// NewMarketplace wires one house. Collaborator ports must be non-nil.
func NewMarketplace(house domain.HouseID, params Params, notifier domain.Notifier, bank domain.Bank, collection domain.Collection) *Marketplace {
	return &Marketplace{
		house:       house,
		params:      params,
		postings:    newOrdMap[uint32, *domain.Posting](compareIDs),
		buckets:     newOrdMap[domain.BucketKey, *Bucket](domain.BucketKey.Cmp),
		byOwner:     make(map[domain.CharacterID]map[uint32]struct{}),
		byBidder:    make(map[domain.CharacterID]map[uint32]struct{}),
		quotes:      make(map[domain.AccountID]*Quote),
		replCursors: make(map[domain.AccountID]*replicationCursor),
		notifier:    notifier,
		bank:        bank,
		collection:  collection,
		onChange:    func() {},
		newItemGuid: func() uint64 { return 0 },
	}
}

func compareIDs(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (m *Marketplace) House() domain.HouseID { return m.house }
func (m *Marketplace) Len() int              { return m.postings.Len() }

// AllocateID mints the next posting id; ids are monotonic per house.
func (m *Marketplace) AllocateID() uint32 {
	m.nextID++
	return m.nextID
}

// Posting resolves a live posting by id.
func (m *Marketplace) Posting(id uint32) (*domain.Posting, bool) {
	return m.postings.Get(id)
}

// AddPosting inserts a fully-formed posting into every index. It never
// fails validation: the caller constructs postings only after its own
// checks pass.
func (m *Marketplace) AddPosting(p *domain.Posting) {
	if p.ID > m.nextID {
		m.nextID = p.ID // keep the generator ahead of loaded rows
	}

	key := p.Key()
	b, ok := m.buckets.Get(key)
	if !ok {
		b = newBucket(key, p.Template())
		m.buckets.Put(key, b)
	}
	b.add(p)

	m.postings.Put(p.ID, p)
	indexAdd(m.byOwner, p.Owner, p.ID)
	if p.Bidder != 0 {
		indexAdd(m.byBidder, p.Bidder, p.ID)
	}

	m.onChange()
	m.publish(event.TypePostingAdded, p, p.EffectivePrice())
}

// RemovePosting detaches a posting from its bucket and both account
// indices. It is the single mutation point for the expired, cancelled
// and fully-sold paths. Calling it twice for one id is a caller bug
// and panics.
func (m *Marketplace) RemovePosting(p *domain.Posting) {
	if _, ok := m.postings.Get(p.ID); !ok {
		panic(fmt.Sprintf("house %d: posting %d removed twice", m.house, p.ID))
	}

	key := p.Key()
	b, ok := m.buckets.Get(key)
	if !ok {
		panic(fmt.Sprintf("house %d: posting %d has no bucket", m.house, p.ID))
	}
	b.remove(p)
	if len(b.postings) == 0 {
		m.buckets.Delete(key)
	}

	m.postings.Delete(p.ID)
	indexDrop(m.byOwner, p.Owner, p.ID)
	if p.Bidder != 0 {
		indexDrop(m.byBidder, p.Bidder, p.ID)
	}
	if m.onRemove != nil {
		m.onRemove(p)
	}

	m.onChange()
	m.publish(event.TypePostingRemoved, p, 0)
}

func indexAdd(idx map[domain.CharacterID]map[uint32]struct{}, who domain.CharacterID, id uint32) {
	set, ok := idx[who]
	if !ok {
		set = make(map[uint32]struct{})
		idx[who] = set
	}
	set[id] = struct{}{}
}

func indexDrop(idx map[domain.CharacterID]map[uint32]struct{}, who domain.CharacterID, id uint32) {
	if set, ok := idx[who]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, who)
		}
	}
}

// localeTag maps a game locale onto a collation language.
func localeTag(loc domain.Locale) language.Tag {
	switch loc {
	case domain.LocaleKoKR:
		return language.Korean
	case domain.LocaleFrFR:
		return language.French
	case domain.LocaleDeDE:
		return language.German
	case domain.LocaleZhCN:
		return language.SimplifiedChinese
	default:
		return language.AmericanEnglish
	}
}

// Search scans every bucket, applies the filter predicates cheapest
// first and feeds survivors through a bounded top-K builder. The page
// starts at offset; hasMore reports whether matches fell off the tail.
func (m *Marketplace) Search(filter *domain.BucketFilter, sortBy domain.Sort, offset, pageSize int) ([]*Bucket, bool) {
	cmp := m.bucketComparator(sortBy, filter.Viewer.Locale)
	builder := newResultBuilder(cmp, offset, pageSize)

	needle := strings.ToLower(filter.Name)
	m.buckets.Ascend(func(_ domain.BucketKey, b *Bucket) bool {
		if m.bucketMatches(b, filter, needle) {
			builder.Add(b)
		}
		return true
	})
	return builder.Page(offset)
}

// bucketMatches evaluates the predicate chain in its fixed order:
// name, level range, quality, class filter, uncollected, usable,
// expansion. Order matters: the collection oracle calls are the
// expensive ones and must stay behind the cheap short circuits.
func (m *Marketplace) bucketMatches(b *Bucket, f *domain.BucketFilter, needle string) bool {
	tmpl := b.tmpl

	if needle != "" {
		name := strings.ToLower(tmpl.Name(f.Viewer.Locale))
		if f.ExactMatch {
			if name != needle {
				return false
			}
		} else if !strings.Contains(name, needle) {
			return false
		}
	}

	if f.MinLevel > 0 && tmpl.RequiredLevel < f.MinLevel {
		return false
	}
	if f.MaxLevel > 0 && tmpl.RequiredLevel > f.MaxLevel {
		return false
	}

	if f.QualityMask != 0 && b.qualityMask&f.QualityMask == 0 {
		return false
	}

	if !f.MatchesClass(tmpl.Class, tmpl.SubClass, tmpl.InventoryType) {
		return false
	}

	if f.UncollectedOnly && !m.bucketUncollected(b, f) {
		return false
	}

	if f.UsableOnly {
		if f.Viewer.Level < tmpl.RequiredLevel {
			return false
		}
		if !m.collection.CanUseItem(f.Viewer, tmpl) {
			return false
		}
		if b.IsCompanion() && f.MaxCompanionLevel > 0 && b.minCompanionLevel > f.MaxCompanionLevel {
			return false
		}
	}

	if f.CurrentExpansionOnly && tmpl.Expansion != f.Expansion {
		return false
	}

	return true
}

func (m *Marketplace) bucketUncollected(b *Bucket, f *domain.BucketFilter) bool {
	if b.IsCompanion() {
		return !f.KnowsSpecies(b.Key.SpeciesID)
	}
	if b.tmpl.IsToy {
		return !m.collection.KnowsToy(f.Viewer.Account, b.tmpl.ID)
	}
	for _, a := range b.Appearances() {
		if !m.collection.KnowsAppearance(f.Viewer.Account, a.ID) {
			return true
		}
	}
	return false
}

func (m *Marketplace) bucketComparator(sortBy domain.Sort, loc domain.Locale) func(a, b *Bucket) int {
	var primary func(a, b *Bucket) int
	switch sortBy {
	case domain.SortName:
		col := collate.New(localeTag(loc), collate.IgnoreCase)
		primary = func(a, b *Bucket) int {
			return col.CompareString(a.tmpl.Name(loc), b.tmpl.Name(loc))
		}
	case domain.SortLevel:
		primary = func(a, b *Bucket) int {
			return compareUint32(a.levelStat(), b.levelStat())
		}
	default: // SortPrice
		primary = func(a, b *Bucket) int {
			return compareUint64(a.minPrice, b.minPrice)
		}
	}
	return func(a, b *Bucket) int {
		if c := primary(a, b); c != 0 {
			return c
		}
		// stable tertiary key: identical queries return identical pages
		return a.Key.Cmp(b.Key)
	}
}

// levelStat is what the Level sort compares: companion level for
// companion buckets, the class-dependent sort level otherwise.
func (b *Bucket) levelStat() uint32 {
	if b.IsCompanion() {
		return uint32(b.minCompanionLevel)
	}
	return b.sortLevel
}

func compareUint32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ListItems pages over one bucket's postings in canonical order.
func (m *Marketplace) ListItems(key domain.BucketKey, offset, pageSize int) ([]*domain.Posting, bool) {
	b, ok := m.buckets.Get(key)
	if !ok {
		return nil, false
	}
	builder := newResultBuilder(comparePostings, offset, pageSize)
	for _, p := range b.postings {
		builder.Add(p)
	}
	return builder.Page(offset)
}

// BucketFor exposes a bucket by key, for per-item listing and quotes.
func (m *Marketplace) BucketFor(key domain.BucketKey) (*Bucket, bool) {
	return m.buckets.Get(key)
}

// PriceLevel is one bucket's cheapest offer, for price summaries.
type PriceLevel struct {
	Key      domain.BucketKey
	MinPrice uint64
	Quantity uint64
}

// PriceSummary reports the cheapest offer of every bucket selling one
// item id, in key order.
func (m *Marketplace) PriceSummary(item domain.ItemID) []PriceLevel {
	var out []PriceLevel
	m.buckets.AscendAtLeast(domain.BucketKey{ItemID: item}, func(key domain.BucketKey, b *Bucket) bool {
		if key.ItemID != item {
			return false
		}
		out = append(out, PriceLevel{Key: key, MinPrice: b.MinPrice(), Quantity: b.Quantity()})
		return true
	})
	return out
}

// ListOwned returns every live posting of one seller, unpaginated and
// in canonical order. Practical per-account listing limits bound this.
func (m *Marketplace) ListOwned(owner domain.CharacterID) []*domain.Posting {
	return m.collectIndexed(m.byOwner[owner])
}

// ListBidded returns every posting the character currently leads or
// ever led a bid on while still live.
func (m *Marketplace) ListBidded(bidder domain.CharacterID) []*domain.Posting {
	return m.collectIndexed(m.byBidder[bidder])
}

func (m *Marketplace) collectIndexed(ids map[uint32]struct{}) []*domain.Posting {
	builder := newResultBuilder(comparePostings, 0, len(ids))
	for id := range ids {
		if p, ok := m.postings.Get(id); ok {
			builder.Add(p)
		}
	}
	out, _ := builder.Page(0)
	return out
}

// Update is the expiry/settlement tick. Postings past their end time
// are removed first and mailed after, so online-status lookups made by
// the notifier never observe a half-removed posting. The same tick
// lazily reclaims dead quotes and replication cursors.
func (m *Marketplace) Update(now time.Time, batch domain.Batch) {
	var due []*domain.Posting
	m.postings.Ascend(func(_ uint32, p *domain.Posting) bool {
		if !p.EndTime.After(now) {
			due = append(due, p)
		}
		return true
	})

	for _, p := range due {
		items := p.Items
		tmpl := p.Template()
		count := p.TotalCount()

		if p.Bidder == 0 {
			m.RemovePosting(p)
			batch.DeletePosting(m.house, p.ID)
			if !m.bank.Exists(p.OwnerAccount) {
				// orphaned owner: deleting beats leaking mail forever
				m.notifier.DiscardItems(items)
				continue
			}
			m.notifier.NotifyExpired(m.house, p.Owner, domain.ExpiredPayload(tmpl.ID, count), items)
			continue
		}

		cut := m.params.houseCut(p.BidAmount)
		proceeds := p.BidAmount - cut + p.Deposit
		m.RemovePosting(p)
		batch.DeletePosting(m.house, p.ID)

		if m.bank.Exists(p.BidderAccount) {
			m.notifier.NotifyWon(m.house, p.Bidder,
				domain.WonPayload(tmpl.ID, count, p.BidAmount, p.BuyoutOrUnitPrice), items)
		} else {
			m.notifier.DiscardItems(items)
		}
		if m.bank.Exists(p.OwnerAccount) {
			m.notifier.NotifySold(m.house, p.Owner,
				domain.SoldPayload(tmpl.ID, count, p.BidAmount, cut, p.Deposit), proceeds)
		}
		m.publish(event.TypePostingSold, p, p.BidAmount)
	}

	for account, q := range m.quotes {
		if now.After(q.ValidUntil) {
			delete(m.quotes, account)
		}
	}
	for account, rc := range m.replCursors {
		if now.After(rc.staleAfter) {
			delete(m.replCursors, account)
		}
	}
}

func (m *Marketplace) publish(t event.Type, p *domain.Posting, amount uint64) {
	if m.onEvent == nil {
		return
	}
	ev := event.AcquireAuctionEvent()
	ev.Type = t
	ev.House = m.house
	ev.PostingID = p.ID
	ev.Item = p.Template().ID
	ev.Quantity = p.TotalCount()
	ev.Amount = amount
	m.onEvent(ev)
}
