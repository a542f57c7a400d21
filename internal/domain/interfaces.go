package domain

import "context"

// Store is the persistence port. The engine never issues row writes
// mid-algorithm: a mutation collects its effects into a Batch and the
// caller commits after the in-memory indices are consistent.
type Store interface {
	// LoadPostings streams every persisted posting of a house. Rows
	// that cannot be rebuilt are skipped with a MalformedRowError
	// passed to onBad; loading continues.
	LoadPostings(ctx context.Context, house HouseID, onRow func(*Posting), onBad func(*MalformedRowError)) error

	Begin(ctx context.Context) (Batch, error)
}

// Batch buffers the row effects of one committed engine mutation.
type Batch interface {
	SavePosting(p *Posting)
	DeletePosting(house HouseID, id uint32)
	Commit() error
	Rollback() error
}

// CommoditySale describes one seller's share of a commodity purchase,
// for the invoice mail and the trade log.
type CommoditySale struct {
	TradeID  string
	Seller   CharacterID
	Item     ItemID
	Units    uint64
	Gross    uint64
	HouseCut uint64
	Deposit  uint64
}

// Notifier is the mail-side-effect port. Implementations run after the
// index mutation has committed; the engine's invariants never depend
// on delivery succeeding.
type Notifier interface {
	NotifyWon(house HouseID, to CharacterID, payload MailPayload, items []*Item)
	NotifySold(house HouseID, to CharacterID, payload MailPayload, proceeds uint64)
	NotifyOutbid(house HouseID, to CharacterID, payload MailPayload, refund uint64)
	NotifyExpired(house HouseID, to CharacterID, payload MailPayload, items []*Item)
	NotifyCancelled(house HouseID, to CharacterID, payload MailPayload, items []*Item)
	NotifyInvoice(house HouseID, sale CommoditySale)

	// DeliverItems mails purchased commodity batches to the buyer. It
	// returns ErrAccountMissing when the target is gone; the caller
	// then discards via DiscardItems rather than leaking the stacks.
	DeliverItems(house HouseID, to CharacterID, payload MailPayload, items []*Item) error
	DiscardItems(items []*Item)
}

// Bank is the account-funds oracle. Withdraw returns
// ErrInsufficientFunds without partial effect.
type Bank interface {
	Balance(account AccountID) uint64
	Withdraw(account AccountID, amount uint64) error
	Deposit(account AccountID, amount uint64)
	Exists(account AccountID) bool
}

// Collection answers the uncollected/usable search predicates from
// external collection and character state.
type Collection interface {
	KnowsAppearance(account AccountID, appearance uint32) bool
	KnowsToy(account AccountID, item ItemID) bool
	CanUseItem(viewer Viewer, tmpl *ItemTemplate) bool
}
