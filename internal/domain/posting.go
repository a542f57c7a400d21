package domain

import "time"

// ServerFlags carry per-posting server bookkeeping bits.
type ServerFlags uint8

const (
	// FlagLogTrade marks a posting whose sale must be written to the
	// trade log.
	FlagLogTrade ServerFlags = 1 << 0
)

// Posting is one auction listing: a single item or a homogeneous
// commodity stack.
//
// Invariants: Items is non-empty; for commodities every item shares the
// same bucket key; EndTime >= StartTime. Validation happens before a
// Posting is constructed, never inside the engine.
type Posting struct {
	ID            uint32
	HouseID       HouseID
	Owner         CharacterID
	OwnerAccount  AccountID
	Bidder        CharacterID // 0 while unbid
	BidderAccount AccountID
	Items         []*Item

	MinBid            uint64
	BuyoutOrUnitPrice uint64 // per-unit for commodities, flat buyout otherwise
	Deposit           uint64
	BidAmount         uint64

	StartTime time.Time
	EndTime   time.Time
	Flags     ServerFlags

	// BidderHistory records every account that ever bid, in bid order,
	// for mail-cancellation bookkeeping. Duplicates from re-bids are
	// kept on purpose; downstream consumers may depend on them.
	BidderHistory []AccountID
}

// IsCommodity reports whether the posting sells interchangeable units
// at a per-unit price: more than one stack, or a stackable item.
func (p *Posting) IsCommodity() bool {
	if len(p.Items) > 1 {
		return true
	}
	return p.Items[0].Template.MaxStackSize > 1
}

// TotalCount is the number of units across all stacks.
func (p *Posting) TotalCount() uint64 {
	var n uint64
	for _, it := range p.Items {
		n += uint64(it.Count)
	}
	return n
}

// EffectivePrice is the price a posting sorts and aggregates by:
// buyout if set, else the current bid, else the minimum bid.
func (p *Posting) EffectivePrice() uint64 {
	if p.BuyoutOrUnitPrice > 0 {
		return p.BuyoutOrUnitPrice
	}
	if p.BidAmount > 0 {
		return p.BidAmount
	}
	return p.MinBid
}

// Template is the shared template of the posting's items.
func (p *Posting) Template() *ItemTemplate {
	return p.Items[0].Template
}

// Key is the bucket key the posting indexes under.
func (p *Posting) Key() BucketKey {
	return KeyFor(p.Items[0])
}
