package engine

import (
	"errors"
	"testing"
	"time"

	"auction_go/internal/domain"
)

func TestRegistry_SellQueuesDepositAndIndexesItems(t *testing.T) {
	r, _, b := newTestRegistry()

	p := listing(0, 10, 1, tmplSword, 1, 100, 500)
	batch := &fakeBatch{}
	if err := r.Sell(p, batch); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("Sell should assign a posting id")
	}
	if len(batch.saved) != 1 {
		t.Errorf("expected one save, got %v", batch.saved)
	}

	// The deposit is queued, not withdrawn.
	if got := b.Balance(1); got != 1_000_000 {
		t.Errorf("seller balance = %d, want untouched", got)
	}
	deps := r.PendingDeposits(1)
	if len(deps) != 1 || deps[0].Amount != p.Deposit || deps[0].PostingID != p.ID {
		t.Fatalf("pending deposits = %+v", deps)
	}

	got, ok := r.PostingByItem(p.Items[0].Guid)
	if !ok || got != p {
		t.Error("item guid should resolve to the posting")
	}
}

func TestRegistry_SellUnknownHouse(t *testing.T) {
	r, _, _ := newTestRegistry()

	p := listing(0, 10, 1, tmplSword, 1, 100, 500)
	p.HouseID = 99
	if err := r.Sell(p, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// A 100 copper opening bid raises the floor to 105: the 5% increment
// on the standing bid, and the first bidder is refunded by mail.
func TestRegistry_BidRaisesAndRefundsPrevious(t *testing.T) {
	r, n, b := newTestRegistry()

	p := listing(0, 10, 1, tmplSword, 1, 100, 0)
	if err := r.Sell(p, nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}

	if err := r.PlaceBid(1, viewer(2), p.ID, 99, nil); !errors.Is(err, domain.ErrBidTooLow) {
		t.Fatalf("below min bid must fail, got %v", err)
	}
	if err := r.PlaceBid(1, viewer(2), p.ID, 100, nil); err != nil {
		t.Fatalf("opening bid failed: %v", err)
	}
	if got := b.Balance(2); got != 1_000_000-100 {
		t.Errorf("first bidder balance = %d", got)
	}

	if err := r.PlaceBid(1, viewer(3), p.ID, 104, nil); !errors.Is(err, domain.ErrBidTooLow) {
		t.Fatalf("raise below increment must fail, got %v", err)
	}
	if err := r.PlaceBid(1, viewer(3), p.ID, 105, nil); err != nil {
		t.Fatalf("raise failed: %v", err)
	}

	outbid := n.byKind("outbid")
	if len(outbid) != 1 {
		t.Fatalf("expected one outbid mail, got %d", len(outbid))
	}
	if outbid[0].To != viewer(2).Character || outbid[0].Money != 100 {
		t.Errorf("outbid mail = %+v, want refund 100 to first bidder", outbid[0])
	}

	if p.Bidder != viewer(3).Character || p.BidAmount != 105 {
		t.Errorf("posting bid state = %d/%d", p.Bidder, p.BidAmount)
	}
	if len(p.BidderHistory) != 2 {
		t.Errorf("bidder history = %v", p.BidderHistory)
	}
}

func TestRegistry_BidAtBuyoutBuysOut(t *testing.T) {
	r, n, b := newTestRegistry()

	p := listing(0, 10, 1, tmplSword, 1, 100, 500)
	if err := r.Sell(p, nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}

	batch := &fakeBatch{}
	if err := r.PlaceBid(1, viewer(2), p.ID, 500, batch); err != nil {
		t.Fatalf("buyout via bid failed: %v", err)
	}

	m, _ := r.House(1)
	if _, ok := m.Posting(p.ID); ok {
		t.Error("bought posting should be gone")
	}
	if len(batch.deleted) != 1 || batch.deleted[0] != p.ID {
		t.Errorf("expected row delete, got %v", batch.deleted)
	}
	if got := b.Balance(2); got != 1_000_000-500 {
		t.Errorf("buyer balance = %d", got)
	}

	won := n.byKind("won")
	if len(won) != 1 || won[0].To != viewer(2).Character {
		t.Fatalf("won mail = %+v", won)
	}
	sold := n.byKind("sold")
	// 500 sale, 25 cut, 10 deposit back.
	if len(sold) != 1 || sold[0].Money != 500-25+10 {
		t.Fatalf("sold mail = %+v, want proceeds 485", sold)
	}

	if _, ok := r.PostingByItem(won[0].Items[0].Guid); ok {
		t.Error("sold item guids should leave the ownership map")
	}
}

func TestRegistry_BuyoutRefundsStandingBid(t *testing.T) {
	r, n, _ := newTestRegistry()

	p := listing(0, 10, 1, tmplSword, 1, 100, 500)
	if err := r.Sell(p, nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if err := r.PlaceBid(1, viewer(2), p.ID, 100, nil); err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	if err := r.Buyout(1, viewer(3), p.ID, nil); err != nil {
		t.Fatalf("Buyout failed: %v", err)
	}

	outbid := n.byKind("outbid")
	if len(outbid) != 1 || outbid[0].To != viewer(2).Character || outbid[0].Money != 100 {
		t.Fatalf("expected standing bid refunded, got %+v", outbid)
	}
}

// A buyer who already holds the top bid pays the full buyout price and
// gets the standing bid back by mail, like any other outbid bidder.
func TestRegistry_BuyoutBySittingBidderRefundsOwnBid(t *testing.T) {
	r, n, b := newTestRegistry()

	p := listing(0, 10, 1, tmplSword, 1, 100, 500)
	if err := r.Sell(p, nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if err := r.PlaceBid(1, viewer(2), p.ID, 100, nil); err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	if err := r.Buyout(1, viewer(2), p.ID, nil); err != nil {
		t.Fatalf("Buyout failed: %v", err)
	}

	if got := b.Balance(2); got != 1_000_000-600 {
		t.Errorf("buyer balance = %d, want bid and buyout withdrawn", got)
	}
	outbid := n.byKind("outbid")
	if len(outbid) != 1 || outbid[0].To != viewer(2).Character || outbid[0].Money != 100 {
		t.Fatalf("expected the buyer's own bid refunded, got %+v", outbid)
	}
	won := n.byKind("won")
	if len(won) != 1 || won[0].To != viewer(2).Character {
		t.Fatalf("won mail = %+v", won)
	}
}

func TestRegistry_BidRejections(t *testing.T) {
	r, _, _ := newTestRegistry()

	p := listing(0, 10, 1, tmplSword, 1, 100, 500)
	if err := r.Sell(p, nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}

	if err := r.PlaceBid(1, viewer(1), p.ID, 100, nil); !errors.Is(err, domain.ErrSelfBid) {
		t.Errorf("own posting: got %v", err)
	}
	if err := r.PlaceBid(1, viewer(2), 9999, 100, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown posting: got %v", err)
	}
	if err := r.PlaceBid(99, viewer(2), p.ID, 100, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown house: got %v", err)
	}

	ore := listing(0, 11, 2, tmplOre, 50, 0, 4)
	if err := r.Sell(ore, nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if err := r.PlaceBid(1, viewer(3), ore.ID, 200, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("commodity bid: got %v", err)
	}
}

func TestRegistry_CancelRedactsForeignPostings(t *testing.T) {
	r, n, _ := newTestRegistry()

	p := listing(0, 10, 1, tmplSword, 1, 100, 500)
	if err := r.Sell(p, nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if err := r.PlaceBid(1, viewer(2), p.ID, 100, nil); err != nil {
		t.Fatalf("bid failed: %v", err)
	}

	// Non-owners get the same answer as for an id that never existed.
	if err := r.Cancel(1, viewer(3), p.ID, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("foreign cancel: got %v", err)
	}

	batch := &fakeBatch{}
	if err := r.Cancel(1, viewer(1), p.ID, batch); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	m, _ := r.House(1)
	if _, ok := m.Posting(p.ID); ok {
		t.Error("cancelled posting should be gone")
	}
	if len(batch.deleted) != 1 {
		t.Errorf("expected row delete, got %v", batch.deleted)
	}

	outbid := n.byKind("outbid")
	if len(outbid) != 1 || outbid[0].Money != 100 {
		t.Fatalf("bidder refund = %+v", outbid)
	}
	cancelled := n.byKind("cancelled")
	if len(cancelled) != 1 || cancelled[0].To != 10 || len(cancelled[0].Items) != 1 {
		t.Fatalf("cancelled mail = %+v", cancelled)
	}
}

// A deposit queue is only withdrawn once it stopped growing between
// ticks, so a burst of listings settles as one debit.
func TestRegistry_PendingDepositsDebounce(t *testing.T) {
	r, _, b := newTestRegistry()

	if err := r.Sell(listing(0, 10, 1, tmplSword, 1, 100, 500), nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}

	r.UpdatePendingDeposits(t0, nil)
	if got := b.Balance(1); got != 1_000_000 {
		t.Fatalf("first tick must only observe the queue, balance = %d", got)
	}

	// More listings arrive; the next tick defers again.
	if err := r.Sell(listing(0, 10, 1, tmplCloth, 20, 0, 40), nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	r.UpdatePendingDeposits(t0.Add(time.Second), nil)
	if got := b.Balance(1); got != 1_000_000 {
		t.Fatalf("growing queue must not settle, balance = %d", got)
	}

	r.UpdatePendingDeposits(t0.Add(2*time.Second), nil)
	if got := b.Balance(1); got != 1_000_000-20 {
		t.Errorf("balance = %d, want both deposits debited together", got)
	}
	if deps := r.PendingDeposits(1); deps != nil {
		t.Errorf("queue should be cleared, got %+v", deps)
	}
}

func TestRegistry_UnaffordableDepositForceExpires(t *testing.T) {
	r, n, b := newTestRegistry()
	b.balances[1] = 5

	p := listing(0, 10, 1, tmplSword, 1, 100, 500)
	if err := r.Sell(p, nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}

	batch := &fakeBatch{}
	r.UpdatePendingDeposits(t0, batch)
	r.UpdatePendingDeposits(t0.Add(time.Second), batch)

	m, _ := r.House(1)
	if _, ok := m.Posting(p.ID); ok {
		t.Fatal("unaffordable listing should be force-expired")
	}
	if len(batch.deleted) != 1 || batch.deleted[0] != p.ID {
		t.Errorf("expected row delete, got %v", batch.deleted)
	}

	cancelled := n.byKind("cancelled")
	if len(cancelled) != 1 {
		t.Fatalf("expected removal mail, got %d", len(cancelled))
	}
	pay := cancelled[0].Payload
	if pay.Tag != domain.MailRemoved || pay.Fields[2] != domain.RemoveReasonDepositUnpaid {
		t.Errorf("removal payload = %+v", pay)
	}
	if len(cancelled[0].Items) != 1 {
		t.Error("items should ride back with the removal mail")
	}
}

func TestRegistry_EpochAdvancesOnTableChange(t *testing.T) {
	r, _, _ := newTestRegistry()

	e0 := r.Epoch()
	p := listing(0, 10, 1, tmplSword, 1, 100, 500)
	if err := r.Sell(p, nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	if r.Epoch() == e0 {
		t.Error("listing must advance the epoch")
	}

	e1 := r.Epoch()
	if err := r.PlaceBid(1, viewer(2), p.ID, 100, nil); err != nil {
		t.Fatalf("bid failed: %v", err)
	}
	if r.Epoch() == e1 {
		t.Error("a bid must advance the epoch")
	}
}

func seedReplication(t *testing.T, r *Registry, count int) *Marketplace {
	t.Helper()
	for i := 0; i < count; i++ {
		if err := r.Sell(listing(uint32(i+1), 10, 1, tmplSword, 1, 100, 500), nil); err != nil {
			t.Fatalf("Sell failed: %v", err)
		}
	}
	m, _ := r.House(1)
	return m
}

func TestReplicate_PagesInOrder(t *testing.T) {
	r, _, _ := newTestRegistry()
	m := seedReplication(t, r, 5)

	page, err := m.Replicate(7, 0, 0, 0, 2, r.Epoch(), t0)
	if err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}
	if page.Tombstone != 5 || page.Cursor != 2 || !page.More {
		t.Fatalf("first page = %+v", page)
	}
	if len(page.Postings) != 2 || page.Postings[0].ID != 1 || page.Postings[1].ID != 2 {
		t.Fatalf("first page postings = %+v", page.Postings)
	}

	// The matching triple continues the scan without a cooldown.
	page, err = m.Replicate(7, page.Epoch, page.Cursor, page.Tombstone, 2, r.Epoch(), t0.Add(time.Second))
	if err != nil {
		t.Fatalf("continuation failed: %v", err)
	}
	if len(page.Postings) != 2 || page.Postings[0].ID != 3 || !page.More {
		t.Fatalf("second page = %+v", page)
	}

	page, err = m.Replicate(7, page.Epoch, page.Cursor, page.Tombstone, 2, r.Epoch(), t0.Add(2*time.Second))
	if err != nil {
		t.Fatalf("final page failed: %v", err)
	}
	if len(page.Postings) != 1 || page.Postings[0].ID != 5 || page.More {
		t.Fatalf("final page = %+v", page)
	}
}

func TestReplicate_TombstonePinsMidScanAdditions(t *testing.T) {
	r, _, _ := newTestRegistry()
	m := seedReplication(t, r, 3)

	page, err := m.Replicate(7, 0, 0, 0, 2, r.Epoch(), t0)
	if err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}

	// A posting listed mid-scan sits past the tombstone and waits for
	// the next full pass.
	if err := r.Sell(listing(9, 10, 1, tmplSword, 1, 100, 500), nil); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}

	page, err = m.Replicate(7, page.Epoch, page.Cursor, page.Tombstone, 10, r.Epoch(), t0.Add(time.Second))
	if err != nil {
		t.Fatalf("continuation failed: %v", err)
	}
	if len(page.Postings) != 1 || page.Postings[0].ID != 3 || page.More {
		t.Fatalf("page past tombstone = %+v", page)
	}
}

func TestReplicate_MismatchGatedByCooldown(t *testing.T) {
	r, _, _ := newTestRegistry()
	m := seedReplication(t, r, 3)

	if _, err := m.Replicate(7, 0, 0, 0, 2, r.Epoch(), t0); err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}

	// A stale triple inside the cooldown is refused with a retry hint.
	_, err := m.Replicate(7, 0, 0, 0, 2, r.Epoch(), t0.Add(time.Second))
	var throttled *domain.ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if throttled.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v", throttled.RetryAfter)
	}

	// Past the cooldown the same stale triple restarts the scan.
	page, err := m.Replicate(7, 0, 0, 0, 2, r.Epoch(), t0.Add(6*time.Second))
	if err != nil {
		t.Fatalf("fresh scan after cooldown failed: %v", err)
	}
	if page.Postings[0].ID != 1 {
		t.Errorf("fresh scan should restart from the top, got id %d", page.Postings[0].ID)
	}
}

func TestThrottles_WindowRefill(t *testing.T) {
	th := NewThrottles(testParams())

	for i := 0; i < 100; i++ {
		delay, err := th.Check(5, "search", t0)
		if err != nil {
			t.Fatalf("request %d throttled early: %v", i, err)
		}
		if delay != 300*time.Millisecond {
			t.Fatalf("delay = %v", delay)
		}
	}

	_, err := th.Check(5, "search", t0)
	var throttled *domain.ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if throttled.RetryAfter <= 0 || throttled.RetryAfter > time.Minute {
		t.Errorf("RetryAfter = %v", throttled.RetryAfter)
	}

	// A new window refills the budget.
	if _, err := th.Check(5, "search", t0.Add(61*time.Second)); err != nil {
		t.Fatalf("refilled window rejected: %v", err)
	}
}

func TestThrottles_SweepDropsLapsedWindows(t *testing.T) {
	th := NewThrottles(testParams())

	if _, err := th.Check(5, "search", t0); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	th.Sweep(t0.Add(30 * time.Second))
	if len(th.accounts) != 1 {
		t.Fatal("live window must survive the sweep")
	}
	th.Sweep(t0.Add(2 * time.Minute))
	if len(th.accounts) != 0 {
		t.Fatal("lapsed window should be reclaimed")
	}
}

func TestRegistry_UpdateSweepsStaleReplicationCursors(t *testing.T) {
	r, _, _ := newTestRegistry()
	m := seedReplication(t, r, 2)

	if _, err := m.Replicate(7, 0, 0, 0, 10, r.Epoch(), t0); err != nil {
		t.Fatalf("Replicate failed: %v", err)
	}
	if len(m.replCursors) != 1 {
		t.Fatal("cursor should be stored")
	}

	r.Update(t0.Add(time.Minute), &fakeBatch{})
	if len(m.replCursors) != 1 {
		t.Fatal("young cursor must survive the tick")
	}
	r.Update(t0.Add(10*time.Minute), &fakeBatch{})
	if len(m.replCursors) != 0 {
		t.Fatal("idle cursor should be garbage-collected")
	}
}
