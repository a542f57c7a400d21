package engine

import (
	"sync"
	"time"

	"auction_go/internal/domain"
)

// t0 is the fixed base time all engine tests count from.
var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	tmplSword = &domain.ItemTemplate{
		ID: 100, Class: domain.ClassWeapon, SubClass: 7, InventoryType: 13,
		Quality: domain.QualityRare, ItemLevel: 40, RequiredLevel: 30, MaxStackSize: 1,
		Names: map[domain.Locale]string{domain.LocaleEnUS: "Sword of Testing", domain.LocaleDeDE: "Testschwert"},
	}
	tmplOre = &domain.ItemTemplate{
		ID: 200, Class: domain.ClassTradeGoods, Quality: domain.QualityCommon,
		ItemLevel: 10, MaxStackSize: 200,
		Names: map[domain.Locale]string{domain.LocaleEnUS: "Copper Ore"},
	}
	tmplCloth = &domain.ItemTemplate{
		ID: 210, Class: domain.ClassTradeGoods, Quality: domain.QualityCommon,
		ItemLevel: 5, MaxStackSize: 200,
		Names: map[domain.Locale]string{domain.LocaleEnUS: "Linen Cloth"},
	}
	tmplPet = &domain.ItemTemplate{
		ID: 300, Class: domain.ClassCompanion, Quality: domain.QualityUncommon,
		ItemLevel: 1, MaxStackSize: 1,
		Names: map[domain.Locale]string{domain.LocaleEnUS: "Mechanical Squirrel"},
	}
)

var guidCounter uint64

func nextGuid() uint64 {
	guidCounter++
	return guidCounter
}

func stack(tmpl *domain.ItemTemplate, count uint32) *domain.Item {
	return &domain.Item{Guid: nextGuid(), Template: tmpl, Count: count}
}

// notifierCall records one Notifier invocation for assertions.
type notifierCall struct {
	Kind    string // won, sold, outbid, expired, cancelled, invoice, deliver, discard
	To      domain.CharacterID
	Payload domain.MailPayload
	Money   uint64
	Items   []*domain.Item
	Sale    domain.CommoditySale
}

type fakeNotifier struct {
	calls      []notifierCall
	deliverErr error
}

func (n *fakeNotifier) record(kind string, to domain.CharacterID, payload domain.MailPayload, money uint64, items []*domain.Item) {
	n.calls = append(n.calls, notifierCall{Kind: kind, To: to, Payload: payload, Money: money, Items: items})
}

func (n *fakeNotifier) NotifyWon(_ domain.HouseID, to domain.CharacterID, p domain.MailPayload, items []*domain.Item) {
	n.record("won", to, p, 0, items)
}
func (n *fakeNotifier) NotifySold(_ domain.HouseID, to domain.CharacterID, p domain.MailPayload, proceeds uint64) {
	n.record("sold", to, p, proceeds, nil)
}
func (n *fakeNotifier) NotifyOutbid(_ domain.HouseID, to domain.CharacterID, p domain.MailPayload, refund uint64) {
	n.record("outbid", to, p, refund, nil)
}
func (n *fakeNotifier) NotifyExpired(_ domain.HouseID, to domain.CharacterID, p domain.MailPayload, items []*domain.Item) {
	n.record("expired", to, p, 0, items)
}
func (n *fakeNotifier) NotifyCancelled(_ domain.HouseID, to domain.CharacterID, p domain.MailPayload, items []*domain.Item) {
	n.record("cancelled", to, p, 0, items)
}
func (n *fakeNotifier) NotifyInvoice(_ domain.HouseID, sale domain.CommoditySale) {
	n.calls = append(n.calls, notifierCall{Kind: "invoice", To: sale.Seller, Sale: sale})
}
func (n *fakeNotifier) DeliverItems(_ domain.HouseID, to domain.CharacterID, p domain.MailPayload, items []*domain.Item) error {
	if n.deliverErr != nil {
		return n.deliverErr
	}
	n.record("deliver", to, p, 0, items)
	return nil
}
func (n *fakeNotifier) DiscardItems(items []*domain.Item) {
	n.record("discard", 0, domain.MailPayload{}, 0, items)
}

func (n *fakeNotifier) byKind(kind string) []notifierCall {
	var out []notifierCall
	for _, c := range n.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type fakeBank struct {
	mu       sync.Mutex
	balances map[domain.AccountID]uint64
}

func newFakeBank(balances map[domain.AccountID]uint64) *fakeBank {
	if balances == nil {
		balances = make(map[domain.AccountID]uint64)
	}
	return &fakeBank{balances: balances}
}

func (b *fakeBank) Balance(a domain.AccountID) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[a]
}

func (b *fakeBank) Withdraw(a domain.AccountID, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[a] < amount {
		return domain.ErrInsufficientFunds
	}
	b.balances[a] -= amount
	return nil
}

func (b *fakeBank) Deposit(a domain.AccountID, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[a] += amount
}

func (b *fakeBank) Exists(a domain.AccountID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.balances[a]
	return ok
}

// fakeCollection marks everything uncollected and usable by level.
type fakeCollection struct {
	knownAppearances map[uint32]bool
	knownToys        map[domain.ItemID]bool
}

func (c *fakeCollection) KnowsAppearance(_ domain.AccountID, id uint32) bool {
	return c.knownAppearances[id]
}
func (c *fakeCollection) KnowsToy(_ domain.AccountID, item domain.ItemID) bool {
	return c.knownToys[item]
}
func (c *fakeCollection) CanUseItem(viewer domain.Viewer, tmpl *domain.ItemTemplate) bool {
	return viewer.Level >= tmpl.RequiredLevel
}

// fakeBatch records row effects without a database.
type fakeBatch struct {
	saved   []uint32
	deleted []uint32
}

func (b *fakeBatch) SavePosting(p *domain.Posting)             { b.saved = append(b.saved, p.ID) }
func (b *fakeBatch) DeletePosting(_ domain.HouseID, id uint32) { b.deleted = append(b.deleted, id) }
func (b *fakeBatch) Commit() error                             { return nil }
func (b *fakeBatch) Rollback() error                           { return nil }

func testParams() Params {
	return DefaultParams()
}

func newTestMarketplace() (*Marketplace, *fakeNotifier, *fakeBank) {
	n := &fakeNotifier{}
	b := newFakeBank(map[domain.AccountID]uint64{
		1: 1_000_000, 2: 1_000_000, 3: 1_000_000,
	})
	m := NewMarketplace(1, testParams(), n, b, &fakeCollection{})
	var g uint64 = 900_000
	m.newItemGuid = func() uint64 { g++; return g }
	return m, n, b
}

func newTestRegistry() (*Registry, *fakeNotifier, *fakeBank) {
	n := &fakeNotifier{}
	b := newFakeBank(map[domain.AccountID]uint64{
		1: 1_000_000, 2: 1_000_000, 3: 1_000_000,
	})
	r := NewRegistry(testParams(), []domain.HouseID{1, 2}, n, b, &fakeCollection{})
	return r, n, b
}

// listing builds a single-item posting; callers override fields.
func listing(id uint32, owner domain.CharacterID, account domain.AccountID, tmpl *domain.ItemTemplate, count uint32, minBid, buyout uint64) *domain.Posting {
	return &domain.Posting{
		ID:                id,
		HouseID:           1,
		Owner:             owner,
		OwnerAccount:      account,
		Items:             []*domain.Item{stack(tmpl, count)},
		MinBid:            minBid,
		BuyoutOrUnitPrice: buyout,
		Deposit:           10,
		StartTime:         t0,
		EndTime:           t0.Add(24 * time.Hour),
	}
}
