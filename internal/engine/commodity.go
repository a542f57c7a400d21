package engine

import (
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/event"
)

// Quote is a short-lived price reservation for a bulk commodity
// purchase. It pins the worst-case total the buyer agreed to; supply
// and price may still move underneath it and are re-validated at buy
// time.
type Quote struct {
	ID         string
	Item       domain.ItemID
	Quantity   uint64
	TotalPrice uint64
	ValidUntil time.Time
}

// allocation is one seller posting's contribution to a purchase.
type allocation struct {
	posting *domain.Posting
	units   uint64
}

// commodityBucket finds the bucket selling an item as a commodity.
// Commodity keys carry the template item level and no suffix/species,
// so the ascending key scan lands on it directly.
func (m *Marketplace) commodityBucket(item domain.ItemID) (*Bucket, bool) {
	var found *Bucket
	m.buckets.AscendAtLeast(domain.BucketKey{ItemID: item}, func(k domain.BucketKey, b *Bucket) bool {
		if k.ItemID == item {
			found = b
		}
		return false
	})
	return found, found != nil
}

// walkSupply accumulates ascending-price supply for quantity units,
// skipping the buyer's own postings (and account-mates: same account,
// any character). Returns nil when supply is short.
func walkSupply(b *Bucket, buyer domain.AccountID, quantity uint64) ([]allocation, uint64) {
	var (
		allocs []allocation
		total  uint64
		left   = quantity
	)
	for _, p := range b.postings {
		if left == 0 {
			break
		}
		if p.OwnerAccount == buyer {
			continue
		}
		take := p.TotalCount()
		if take > left {
			take = left
		}
		allocs = append(allocs, allocation{posting: p, units: take})
		total += take * p.BuyoutOrUnitPrice
		left -= take
	}
	if left > 0 {
		return nil, 0
	}
	return allocs, total
}

// CreateQuote prices quantity units of a commodity at the current
// market depth. Insufficient supply is a legitimate empty result, not
// an error. A successful quote displaces any previous quote held by
// the account.
func (m *Marketplace) CreateQuote(account domain.AccountID, item domain.ItemID, quantity uint64, now time.Time) (*Quote, error) {
	b, ok := m.commodityBucket(item)
	if !ok {
		return nil, nil
	}
	allocs, total := walkSupply(b, account, quantity)
	if allocs == nil {
		return nil, nil
	}
	if m.bank.Balance(account) < total {
		return nil, domain.ErrInsufficientFunds
	}

	q := &Quote{
		ID:         domain.NewTradeID(),
		Item:       item,
		Quantity:   quantity,
		TotalPrice: total,
		ValidUntil: now.Add(m.params.QuoteTTL),
	}
	m.quotes[account] = q
	return q, nil
}

// BuyCommodity settles a quoted purchase. The quote is consumed
// regardless of outcome. The walk is repeated because supply may have
// changed since quoting: a shortfall or a total above the quote fails
// the purchase; a cheaper total passes (seller-favorable drift is
// fine, the quote only caps what the buyer pays).
func (m *Marketplace) BuyCommodity(account domain.AccountID, buyer domain.CharacterID, item domain.ItemID, quantity uint64, now time.Time, batch domain.Batch) error {
	q := m.quotes[account]
	delete(m.quotes, account)
	if q == nil || now.After(q.ValidUntil) || q.Item != item || q.Quantity != quantity {
		return domain.ErrStaleQuote
	}

	b, ok := m.commodityBucket(item)
	if !ok {
		return domain.ErrInsufficientSupply
	}
	allocs, total := walkSupply(b, account, quantity)
	if allocs == nil {
		return domain.ErrInsufficientSupply
	}
	if total > q.TotalPrice {
		return domain.ErrPriceDrift
	}
	if err := m.bank.Withdraw(account, total); err != nil {
		return err
	}

	tradeID := domain.NewTradeID()
	var bought []*domain.Item

	for _, a := range allocs {
		p := a.posting
		gross := a.units * p.BuyoutOrUnitPrice
		cut := m.params.houseCut(gross)

		bought = append(bought, m.splitUnits(b, p, a.units)...)

		sale := domain.CommoditySale{
			TradeID:  tradeID,
			Seller:   p.Owner,
			Item:     item,
			Units:    a.units,
			Gross:    gross,
			HouseCut: cut,
		}

		if p.TotalCount() == 0 {
			sale.Deposit = p.Deposit
			m.RemovePosting(p)
			batch.DeletePosting(m.house, p.ID)
		} else {
			batch.SavePosting(p)
		}

		if m.bank.Exists(p.OwnerAccount) {
			m.notifier.NotifyInvoice(m.house, sale)
		}
	}

	for start := 0; start < len(bought); start += m.params.MailBatchSize {
		end := start + m.params.MailBatchSize
		if end > len(bought) {
			end = len(bought)
		}
		chunk := bought[start:end]
		var units uint64
		for _, it := range chunk {
			units += uint64(it.Count)
		}
		payload := domain.WonPayload(item, units, total, 0)
		if err := m.notifier.DeliverItems(m.house, buyer, payload, chunk); err != nil {
			m.notifier.DiscardItems(chunk)
		}
	}

	if m.onEvent != nil {
		ev := event.AcquireAuctionEvent()
		ev.Type = event.TypeCommodityBought
		ev.House = m.house
		ev.Item = item
		ev.Quantity = quantity
		ev.Amount = total
		m.onEvent(ev)
	}
	return nil
}

// splitUnits moves units off a posting: source stacks shrink, the
// buyer receives fresh cloned stacks. Counts only ever go down.
// The bucket's appearance counts track stack counts, so every unit
// taken here must come off the bucket before the stack shrinks.
func (m *Marketplace) splitUnits(b *Bucket, p *domain.Posting, units uint64) []*domain.Item {
	var out []*domain.Item
	left := units
	first := p.Items[0]
	kept := p.Items[:0]
	for _, it := range p.Items {
		if left == 0 {
			kept = append(kept, it)
			continue
		}
		take := uint64(it.Count)
		if take > left {
			take = left
		}
		out = append(out, it.Clone(m.newItemGuid(), uint32(take)))
		if it.AppearanceID != 0 {
			b.dropAppearance(it.AppearanceID, uint32(take))
		}
		it.Count -= uint32(take)
		left -= take
		if it.Count > 0 {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		// keep one emptied handle so the posting retains its item
		// identity until RemovePosting detaches it
		kept = append(kept, first)
	}
	p.Items = kept
	return out
}
