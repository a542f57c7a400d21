package event

import "auction_go/internal/domain"

// Type discriminates live auction events.
type Type uint8

const (
	TypePostingAdded Type = iota
	TypePostingRemoved
	TypeBidPlaced
	TypePostingSold
	TypeCommodityBought
)

func (t Type) String() string {
	switch t {
	case TypePostingAdded:
		return "posting_added"
	case TypePostingRemoved:
		return "posting_removed"
	case TypeBidPlaced:
		return "bid_placed"
	case TypePostingSold:
		return "posting_sold"
	case TypeCommodityBought:
		return "commodity_bought"
	default:
		return "unknown"
	}
}

// AuctionEvent is one market change published to the live stream.
// Events are pooled; the subscriber that consumes one releases it.
type AuctionEvent struct {
	Type      Type
	House     domain.HouseID
	PostingID uint32
	Item      domain.ItemID
	Quantity  uint64
	Amount    uint64
}
