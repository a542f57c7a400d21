package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/engine"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrInvalidPrice    = errors.New("price must be greater than 0")
	ErrInvalidDuration = errors.New("duration must be 12, 24 or 48 hours")
	ErrNoItems         = errors.New("a listing needs at least one item")
	ErrMixedItems      = errors.New("all items in a listing must share one item identity")
)

var validDurations = map[time.Duration]bool{
	12 * time.Hour: true,
	24 * time.Hour: true,
	48 * time.Hour: true,
}

// AuctionService is the only write entry point into the engine. It
// serializes every mutating call behind one mutex so the single-writer
// model survives a concurrent transport front end, applies the
// per-account throttle before touching any index, and commits one
// persistence batch per completed mutation.
type AuctionService struct {
	mu     sync.Mutex
	reg    *engine.Registry
	store  domain.Store
	params engine.Params

	// now is injectable for tests.
	now func() time.Time
}

func NewAuctionService(reg *engine.Registry, store domain.Store, params engine.Params) *AuctionService {
	return &AuctionService{
		reg:    reg,
		store:  store,
		params: params,
		now:    time.Now,
	}
}

// Load rebuilds every house from the store. Malformed rows are dropped
// and logged; loading continues.
func (s *AuctionService) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.reg.Houses() {
		var loaded, dropped int
		err := s.store.LoadPostings(ctx, h,
			func(p *domain.Posting) {
				if err := s.reg.AddPosting(p, nil); err != nil {
					dropped++
					return
				}
				loaded++
			},
			func(bad *domain.MalformedRowError) {
				dropped++
				slog.Warn("dropping malformed auction row",
					slog.Uint64("house", uint64(h)),
					slog.Any("error", bad))
			})
		if err != nil {
			return fmt.Errorf("load house %d: %w", h, err)
		}
		slog.Info("auction house loaded",
			slog.Uint64("house", uint64(h)),
			slog.Int("postings", loaded),
			slog.Int("dropped", dropped))
	}
	return nil
}

// RunTicker drives the expiry/settlement tick until ctx is cancelled.
func (s *AuctionService) RunTicker(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := s.Tick(ctx, now); err != nil {
				slog.Error("tick failed", slog.Any("error", err))
			}
		}
	}
}

// Tick runs one expiry/settlement pass inside a persistence batch.
func (s *AuctionService) Tick(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	s.reg.Update(now, batch)
	return batch.Commit()
}

// ---- search / listing ----

// BucketSummary is the redacted per-bucket search row.
type BucketSummary struct {
	Key          domain.BucketKey
	Name         string
	QualityMask  uint32
	MinPrice     uint64
	Quantity     uint64
	SortLevel    uint32
	PostingCount int
}

// BucketPage is one page of search results.
type BucketPage struct {
	Buckets []BucketSummary
	HasMore bool
}

type ListBucketsRequest struct {
	House    domain.HouseID
	Filter   domain.BucketFilter
	Sort     domain.Sort
	Offset   int
	PageSize int
}

// ListBuckets is the throttled, paginated bucket search.
func (s *AuctionService) ListBuckets(req *ListBucketsRequest) (*BucketPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.reg.Throttle(req.Filter.Viewer.Account, "search", s.now()); err != nil {
		return nil, err
	}
	m, err := s.reg.House(req.House)
	if err != nil {
		return nil, err
	}
	if req.Filter.Expansion == 0 {
		req.Filter.Expansion = s.params.Expansion
	}

	buckets, hasMore := m.Search(&req.Filter, req.Sort, req.Offset, req.PageSize)
	page := &BucketPage{HasMore: hasMore, Buckets: make([]BucketSummary, 0, len(buckets))}
	for _, b := range buckets {
		page.Buckets = append(page.Buckets, summarize(b, req.Filter.Viewer.Locale))
	}
	return page, nil
}

func summarize(b *engine.Bucket, loc domain.Locale) BucketSummary {
	return BucketSummary{
		Key:          b.Key,
		Name:         b.Template().Name(loc),
		QualityMask:  b.QualityMask(),
		MinPrice:     b.MinPrice(),
		Quantity:     b.Quantity(),
		SortLevel:    b.SortLevel(),
		PostingCount: len(b.Postings()),
	}
}

// PostingView is one posting redacted per viewer: seller identity and
// bid detail only appear for the owner.
type PostingView struct {
	ID      uint32
	Item    domain.ItemID
	Count   uint64
	MinBid  uint64
	Buyout  uint64
	EndTime time.Time

	// owner-only fields, zero for other viewers
	Owner     domain.CharacterID
	BidAmount uint64
	Bidder    domain.CharacterID
	Deposit   uint64
}

// PostingPage is one page of postings.
type PostingPage struct {
	Postings []PostingView
	HasMore  bool
}

type ListItemsRequest struct {
	House    domain.HouseID
	Key      domain.BucketKey
	Viewer   domain.Viewer
	Offset   int
	PageSize int
}

// ListItems pages the postings of one bucket, cheapest first.
func (s *AuctionService) ListItems(req *ListItemsRequest) (*PostingPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.reg.Throttle(req.Viewer.Account, "list", s.now()); err != nil {
		return nil, err
	}
	m, err := s.reg.House(req.House)
	if err != nil {
		return nil, err
	}

	postings, hasMore := m.ListItems(req.Key, req.Offset, req.PageSize)
	return postingPage(postings, hasMore, req.Viewer), nil
}

// ListOwnerItems returns every live posting of the viewer, unbounded
// by pagination; per-account listing limits keep it small.
func (s *AuctionService) ListOwnerItems(house domain.HouseID, viewer domain.Viewer) (*PostingPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.reg.House(house)
	if err != nil {
		return nil, err
	}
	return postingPage(m.ListOwned(viewer.Character), false, viewer), nil
}

// ListBidderItems returns every live posting the viewer leads a bid on.
func (s *AuctionService) ListBidderItems(house domain.HouseID, viewer domain.Viewer) (*PostingPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.reg.House(house)
	if err != nil {
		return nil, err
	}
	return postingPage(m.ListBidded(viewer.Character), false, viewer), nil
}

func postingPage(postings []*domain.Posting, hasMore bool, viewer domain.Viewer) *PostingPage {
	page := &PostingPage{HasMore: hasMore, Postings: make([]PostingView, 0, len(postings))}
	for _, p := range postings {
		v := PostingView{
			ID:      p.ID,
			Item:    p.Template().ID,
			Count:   p.TotalCount(),
			MinBid:  p.MinBid,
			Buyout:  p.BuyoutOrUnitPrice,
			EndTime: p.EndTime,
		}
		if p.OwnerAccount == viewer.Account || p.BidderAccount == viewer.Account {
			v.Owner = p.Owner
			v.BidAmount = p.BidAmount
			v.Bidder = p.Bidder
			v.Deposit = p.Deposit
		}
		page.Postings = append(page.Postings, v)
	}
	return page
}

// ---- mutations ----

type SellRequest struct {
	House    domain.HouseID
	Viewer   domain.Viewer
	Items    []*domain.Item
	MinBid   uint64
	Buyout   uint64 // per-unit for commodities
	Duration time.Duration
	Flags    domain.ServerFlags
}

type SellResult struct {
	PostingID uint32
	Deposit   uint64
}

// Sell validates the listing, queues its deposit and puts the posting
// live. The deposit is committed by a later tick; see the registry's
// pending-deposit debounce.
func (s *AuctionService) Sell(ctx context.Context, req *SellRequest) (*SellResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	for _, it := range req.Items {
		if it.Count == 0 {
			return nil, ErrInvalidQuantity
		}
	}
	// Every stack must share one bucket key: the posting indexes under
	// Items[0] and foreign stacks would corrupt that bucket's aggregates.
	key := domain.KeyFor(req.Items[0])
	for _, it := range req.Items[1:] {
		if domain.KeyFor(it) != key {
			return nil, ErrMixedItems
		}
	}
	if req.Buyout == 0 && req.MinBid == 0 {
		return nil, ErrInvalidPrice
	}
	if !validDurations[req.Duration] {
		return nil, ErrInvalidDuration
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var count uint64
	for _, it := range req.Items {
		count += uint64(it.Count)
	}
	unit := req.Buyout
	if unit == 0 {
		unit = req.MinBid
	}
	deposit := s.params.CalculateDeposit(unit, count, req.Duration)

	p := &domain.Posting{
		HouseID:           req.House,
		Owner:             req.Viewer.Character,
		OwnerAccount:      req.Viewer.Account,
		Items:             req.Items,
		MinBid:            req.MinBid,
		BuyoutOrUnitPrice: req.Buyout,
		Deposit:           deposit,
		StartTime:         now,
		EndTime:           now.Add(req.Duration),
		Flags:             req.Flags,
	}

	batch, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.reg.Sell(p, batch); err != nil {
		_ = batch.Rollback()
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	return &SellResult{PostingID: p.ID, Deposit: deposit}, nil
}

// PlaceBid bids on (or buys out, when the amount reaches the buyout
// price) a non-commodity posting.
func (s *AuctionService) PlaceBid(ctx context.Context, house domain.HouseID, viewer domain.Viewer, postingID uint32, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(ctx, func(batch domain.Batch) error {
		return s.reg.PlaceBid(house, viewer, postingID, amount, batch)
	})
}

// Buyout purchases a non-commodity posting at its buyout price.
func (s *AuctionService) Buyout(ctx context.Context, house domain.HouseID, viewer domain.Viewer, postingID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(ctx, func(batch domain.Batch) error {
		return s.reg.Buyout(house, viewer, postingID, batch)
	})
}

// Cancel withdraws the viewer's own posting.
func (s *AuctionService) Cancel(ctx context.Context, house domain.HouseID, viewer domain.Viewer, postingID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(ctx, func(batch domain.Batch) error {
		return s.reg.Cancel(house, viewer, postingID, batch)
	})
}

// CreateQuote reserves a commodity price for the quote TTL. A nil
// quote with nil error means insufficient supply: a legitimate empty
// result, not a failure.
func (s *AuctionService) CreateQuote(house domain.HouseID, account domain.AccountID, item domain.ItemID, quantity uint64) (*engine.Quote, error) {
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.reg.House(house)
	if err != nil {
		return nil, err
	}
	return m.CreateQuote(account, item, quantity, s.now())
}

// BuyCommodity settles a previously quoted purchase.
func (s *AuctionService) BuyCommodity(ctx context.Context, house domain.HouseID, viewer domain.Viewer, item domain.ItemID, quantity uint64) error {
	if quantity == 0 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.reg.House(house)
	if err != nil {
		return err
	}
	return s.mutate(ctx, func(batch domain.Batch) error {
		return m.BuyCommodity(viewer.Account, viewer.Character, item, quantity, s.now(), batch)
	})
}

// PriceSummary reports the cheapest offer per bucket of one item id,
// cheapest bucket first in key order.
func (s *AuctionService) PriceSummary(house domain.HouseID, account domain.AccountID, item domain.ItemID) ([]engine.PriceLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.reg.Throttle(account, "summary", s.now()); err != nil {
		return nil, err
	}
	m, err := s.reg.House(house)
	if err != nil {
		return nil, err
	}
	return m.PriceSummary(item), nil
}

// Replicate serves one incremental page of the posting table.
func (s *AuctionService) Replicate(house domain.HouseID, account domain.AccountID, epoch, cursor, tombstone uint32, count int) (*engine.ReplicationPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.reg.House(house)
	if err != nil {
		return nil, err
	}
	return m.Replicate(account, epoch, cursor, tombstone, count, s.reg.Epoch(), s.now())
}

// CheckThrottle spends one unit of the account's request budget and
// returns the processing delay, or a ThrottledError with retry-after.
func (s *AuctionService) CheckThrottle(account domain.AccountID, command string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Throttle(account, command, s.now())
}

// mutate wraps one engine mutation in a persistence batch. Callers
// hold s.mu.
func (s *AuctionService) mutate(ctx context.Context, fn func(domain.Batch) error) error {
	batch, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(batch); err != nil {
		_ = batch.Rollback()
		return err
	}
	return batch.Commit()
}
