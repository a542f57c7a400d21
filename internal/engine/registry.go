package engine

import (
	"log/slog"
	"sort"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/event"
)

// PendingDeposit is one queued listing deposit awaiting commitment.
// Deposits are withdrawn on a later tick instead of at listing time so
// a burst of sell requests settles as one debit, and so a disconnect
// mid-listing cannot strand money.
type PendingDeposit struct {
	PostingID uint32
	House     domain.HouseID
	Amount    uint64
}

// Registry owns the set of marketplaces and everything that crosses
// house boundaries: request routing, the pending-deposit queue, the
// global item-ownership map, the replication epoch and the search
// throttle. One Registry instance is built at bootstrap and passed
// into every request handler; there is no ambient global.
type Registry struct {
	params Params

	houses     map[domain.HouseID]*Marketplace
	houseOrder []domain.HouseID

	itemOwner map[uint64]postingRef

	pending     map[domain.AccountID][]PendingDeposit
	pendingSeen map[domain.AccountID]int

	throttles *Throttles

	epoch        uint32
	nextItemGuid uint64

	notifier domain.Notifier
	bank     domain.Bank
}

type postingRef struct {
	house domain.HouseID
	id    uint32
}

// NewRegistry builds the registry and one marketplace per house id.
func NewRegistry(params Params, houses []domain.HouseID, notifier domain.Notifier, bank domain.Bank, collection domain.Collection) *Registry {
	r := &Registry{
		params:      params,
		houses:      make(map[domain.HouseID]*Marketplace, len(houses)),
		itemOwner:   make(map[uint64]postingRef),
		pending:     make(map[domain.AccountID][]PendingDeposit),
		pendingSeen: make(map[domain.AccountID]int),
		throttles:   NewThrottles(params),
		notifier:    notifier,
		bank:        bank,
	}
	sorted := append([]domain.HouseID(nil), houses...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, h := range sorted {
		m := NewMarketplace(h, params, notifier, bank, collection)
		m.onChange = r.bumpEpoch
		m.onRemove = r.dropItemRefs
		m.newItemGuid = r.allocItemGuid
		r.houses[h] = m
		r.houseOrder = append(r.houseOrder, h)
	}
	return r
}

// SetEventSink routes pooled auction events from every house into one
// publisher. The sink owns releasing the events.
func (r *Registry) SetEventSink(sink func(*event.AuctionEvent)) {
	for _, m := range r.houses {
		m.onEvent = sink
	}
}

// House resolves a marketplace by id.
func (r *Registry) House(id domain.HouseID) (*Marketplace, error) {
	m, ok := r.houses[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

// Houses returns house ids in deterministic order.
func (r *Registry) Houses() []domain.HouseID { return r.houseOrder }

// Epoch is the current replication epoch; it advances on every table
// change.
func (r *Registry) Epoch() uint32 { return r.epoch }

func (r *Registry) bumpEpoch() { r.epoch++ }

func (r *Registry) allocItemGuid() uint64 {
	r.nextItemGuid++
	return r.nextItemGuid
}

// Throttle spends one unit of the account's request budget.
func (r *Registry) Throttle(account domain.AccountID, command string, now time.Time) (time.Duration, error) {
	return r.throttles.Check(account, command, now)
}

// SeedItemGuid keeps the guid generator ahead of persisted item guids.
func (r *Registry) SeedItemGuid(guid uint64) {
	if guid > r.nextItemGuid {
		r.nextItemGuid = guid
	}
}

// AddPosting routes a fully-formed posting into its house, assigns its
// id when unset, and registers its items in the ownership map.
func (r *Registry) AddPosting(p *domain.Posting, batch domain.Batch) error {
	m, err := r.House(p.HouseID)
	if err != nil {
		return err
	}
	if p.ID == 0 {
		p.ID = m.AllocateID()
	}
	m.AddPosting(p)
	for _, it := range p.Items {
		r.itemOwner[it.Guid] = postingRef{house: p.HouseID, id: p.ID}
		r.SeedItemGuid(it.Guid)
	}
	if batch != nil {
		batch.SavePosting(p)
	}
	return nil
}

// PostingByItem resolves the posting currently holding an item guid.
func (r *Registry) PostingByItem(guid uint64) (*domain.Posting, bool) {
	ref, ok := r.itemOwner[guid]
	if !ok {
		return nil, false
	}
	m, err := r.House(ref.house)
	if err != nil {
		return nil, false
	}
	return m.Posting(ref.id)
}

func (r *Registry) dropItemRefs(p *domain.Posting) {
	for _, it := range p.Items {
		delete(r.itemOwner, it.Guid)
	}
}

// Sell lists items: the posting is built by the caller from validated
// inventory, the deposit is queued rather than withdrawn, and the
// posting goes live immediately.
func (r *Registry) Sell(p *domain.Posting, batch domain.Batch) error {
	if err := r.AddPosting(p, batch); err != nil {
		return err
	}
	r.pending[p.OwnerAccount] = append(r.pending[p.OwnerAccount], PendingDeposit{
		PostingID: p.ID,
		House:     p.HouseID,
		Amount:    p.Deposit,
	})
	return nil
}

// PlaceBid applies a bid to a non-commodity posting. The previous
// bidder is refunded and notified by mail; the posting repositions in
// its bucket because its effective price moved.
func (r *Registry) PlaceBid(house domain.HouseID, viewer domain.Viewer, postingID uint32, amount uint64, batch domain.Batch) error {
	m, err := r.House(house)
	if err != nil {
		return err
	}
	p, ok := m.Posting(postingID)
	if !ok {
		return domain.ErrNotFound
	}
	if p.IsCommodity() {
		return domain.ErrNotFound // commodities trade through quotes only
	}
	if p.OwnerAccount == viewer.Account {
		return domain.ErrSelfBid
	}

	if p.BuyoutOrUnitPrice > 0 && amount >= p.BuyoutOrUnitPrice {
		return r.buyout(m, viewer, p, batch)
	}

	required := p.MinBid
	if p.BidAmount > 0 {
		required = p.BidAmount + r.params.minIncrement(p.BidAmount)
	}
	if amount < required {
		return domain.ErrBidTooLow
	}
	if err := r.bank.Withdraw(viewer.Account, amount); err != nil {
		return err
	}

	prevBidder := p.Bidder
	prevAmount := p.BidAmount
	tmpl := p.Template()

	b, _ := m.BucketFor(p.Key())
	b.reprice(p, func() {
		if prevBidder != 0 {
			indexDrop(m.byBidder, prevBidder, p.ID)
		}
		p.Bidder = viewer.Character
		p.BidderAccount = viewer.Account
		p.BidAmount = amount
		// history keeps duplicates for repeated re-bids; downstream
		// mail cancellation may rely on the repetition
		p.BidderHistory = append(p.BidderHistory, viewer.Account)
		indexAdd(m.byBidder, viewer.Character, p.ID)
	})

	if prevBidder != 0 {
		m.notifier.NotifyOutbid(house, prevBidder,
			domain.OutbidPayload(tmpl.ID, prevAmount, amount), prevAmount)
	}

	if p.Flags&domain.FlagLogTrade != 0 {
		slog.Info("trade log: bid",
			slog.String("trade_id", domain.NewTradeID()),
			slog.Uint64("house", uint64(house)),
			slog.Uint64("posting", uint64(p.ID)),
			slog.Uint64("amount", amount))
	}

	r.bumpEpoch()
	if batch != nil {
		batch.SavePosting(p)
	}
	m.publish(event.TypeBidPlaced, p, amount)
	return nil
}

// Buyout purchases a non-commodity posting outright.
func (r *Registry) Buyout(house domain.HouseID, viewer domain.Viewer, postingID uint32, batch domain.Batch) error {
	m, err := r.House(house)
	if err != nil {
		return err
	}
	p, ok := m.Posting(postingID)
	if !ok {
		return domain.ErrNotFound
	}
	if p.IsCommodity() {
		return domain.ErrNotFound
	}
	if p.OwnerAccount == viewer.Account {
		return domain.ErrSelfBid
	}
	return r.buyout(m, viewer, p, batch)
}

func (r *Registry) buyout(m *Marketplace, viewer domain.Viewer, p *domain.Posting, batch domain.Batch) error {
	price := p.BuyoutOrUnitPrice
	if err := r.bank.Withdraw(viewer.Account, price); err != nil {
		return err
	}

	tmpl := p.Template()
	count := p.TotalCount()
	items := p.Items
	prevBidder := p.Bidder
	prevAmount := p.BidAmount
	cut := r.params.houseCut(price)

	m.RemovePosting(p)
	if batch != nil {
		batch.DeletePosting(m.house, p.ID)
	}

	// The standing bid is always refunded, even when the buyer held it
	// themselves: the full buyout price was just withdrawn on top of it.
	if prevBidder != 0 {
		m.notifier.NotifyOutbid(m.house, prevBidder,
			domain.OutbidPayload(tmpl.ID, prevAmount, price), prevAmount)
	}
	m.notifier.NotifyWon(m.house, viewer.Character,
		domain.WonPayload(tmpl.ID, count, price, price), items)
	if r.bank.Exists(p.OwnerAccount) {
		m.notifier.NotifySold(m.house, p.Owner,
			domain.SoldPayload(tmpl.ID, count, price, cut, p.Deposit), price-cut+p.Deposit)
	}

	if p.Flags&domain.FlagLogTrade != 0 {
		slog.Info("trade log: buyout",
			slog.String("trade_id", domain.NewTradeID()),
			slog.Uint64("house", uint64(m.house)),
			slog.Uint64("posting", uint64(p.ID)),
			slog.Uint64("amount", price))
	}

	m.publish(event.TypePostingSold, p, price)
	return nil
}

// Cancel withdraws an owner's posting. The current bid is refunded by
// mail; the deposit stays with the house.
func (r *Registry) Cancel(house domain.HouseID, viewer domain.Viewer, postingID uint32, batch domain.Batch) error {
	m, err := r.House(house)
	if err != nil {
		return err
	}
	p, ok := m.Posting(postingID)
	if !ok {
		return domain.ErrNotFound
	}
	if p.OwnerAccount != viewer.Account {
		return domain.ErrNotFound // redacted: non-owners cannot enumerate ids
	}

	tmpl := p.Template()
	count := p.TotalCount()
	items := p.Items
	prevBidder := p.Bidder
	prevAmount := p.BidAmount

	m.RemovePosting(p)
	if batch != nil {
		batch.DeletePosting(house, p.ID)
	}

	if prevBidder != 0 {
		m.notifier.NotifyOutbid(house, prevBidder,
			domain.OutbidPayload(tmpl.ID, prevAmount, 0), prevAmount)
	}
	m.notifier.NotifyCancelled(house, p.Owner,
		domain.CancelledPayload(tmpl.ID, count), items)
	return nil
}

// Update drives one engine tick: per-house expiry/settlement, then the
// pending-deposit queue, then the throttle sweep.
func (r *Registry) Update(now time.Time, batch domain.Batch) {
	for _, h := range r.houseOrder {
		r.houses[h].Update(now, batch)
	}
	r.UpdatePendingDeposits(now, batch)
	r.throttles.Sweep(now)
}

// UpdatePendingDeposits commits queued deposits, debounced: a queue is
// only withdrawn once it stopped growing since the previous tick, so a
// batch of listings settles together. Entries the account can no
// longer afford force-expire their posting immediately instead of
// listing it for free.
func (r *Registry) UpdatePendingDeposits(now time.Time, batch domain.Batch) {
	for account, queue := range r.pending {
		if len(queue) == 0 {
			delete(r.pending, account)
			delete(r.pendingSeen, account)
			continue
		}
		if r.pendingSeen[account] != len(queue) {
			r.pendingSeen[account] = len(queue)
			continue
		}

		for _, dep := range queue {
			if err := r.bank.Withdraw(account, dep.Amount); err == nil {
				continue
			}
			m, herr := r.House(dep.House)
			if herr != nil {
				continue
			}
			p, ok := m.Posting(dep.PostingID)
			if !ok {
				continue // already sold or expired; nothing to claw back
			}
			tmpl := p.Template()
			count := p.TotalCount()
			items := p.Items
			m.RemovePosting(p)
			if batch != nil {
				batch.DeletePosting(dep.House, p.ID)
			}
			m.notifier.NotifyCancelled(dep.House, p.Owner,
				domain.RemovedPayload(tmpl.ID, count, domain.RemoveReasonDepositUnpaid), items)
			slog.Warn("pending deposit unaffordable, posting force-expired",
				slog.Uint64("account", uint64(account)),
				slog.Uint64("posting", uint64(dep.PostingID)),
				slog.Uint64("deposit", dep.Amount))
		}
		delete(r.pending, account)
		delete(r.pendingSeen, account)
	}
}

// PendingDeposits exposes the queue for one account (diagnostics and
// reconnect handling).
func (r *Registry) PendingDeposits(account domain.AccountID) []PendingDeposit {
	return r.pending[account]
}
