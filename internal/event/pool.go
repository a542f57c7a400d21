package event

import (
	"sync"
)

// auctionEventPool provides sync.Pool for event allocation on the
// engine hotpath.
//
// Usage:
//
//	ev := AcquireAuctionEvent()
//	ev.Type = TypePostingAdded
//	// ... publish event ...
//	ReleaseAuctionEvent(ev)  // subscriber returns it after fan-out
var auctionEventPool = sync.Pool{
	New: func() interface{} {
		return &AuctionEvent{}
	},
}

// AcquireAuctionEvent gets an AuctionEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireAuctionEvent() *AuctionEvent {
	return auctionEventPool.Get().(*AuctionEvent)
}

// ReleaseAuctionEvent returns an AuctionEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleaseAuctionEvent(ev *AuctionEvent) {
	if ev == nil {
		return
	}
	ev.Type = 0
	ev.House = 0
	ev.PostingID = 0
	ev.Item = 0
	ev.Quantity = 0
	ev.Amount = 0

	auctionEventPool.Put(ev)
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	evs := make([]*AuctionEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquireAuctionEvent())
	}
	for _, ev := range evs {
		ReleaseAuctionEvent(ev)
	}
}
