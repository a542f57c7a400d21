package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"auction_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TemplateFunc resolves an item template id against the static item
// store. Returning nil marks the referencing row malformed.
type TemplateFunc func(domain.ItemID) *domain.ItemTemplate

// postingRow is the persisted shape of one posting. Items and bidder
// history live in child tables keyed by (house_id, posting_id).
type postingRow struct {
	HouseID       uint32 `gorm:"primaryKey;autoIncrement:false"`
	ID            uint32 `gorm:"primaryKey;autoIncrement:false"`
	Owner         uint64
	OwnerAccount  uint32
	Bidder        uint64
	BidderAccount uint32
	MinBid        uint64
	Buyout        uint64
	Deposit       uint64
	BidAmount     uint64
	StartTime     int64
	EndTime       int64
	Flags         uint8
}

func (postingRow) TableName() string { return "postings" }

type itemRow struct {
	HouseID        uint32 `gorm:"index:idx_item_posting"`
	PostingID      uint32 `gorm:"index:idx_item_posting"`
	Guid           uint64 `gorm:"primaryKey;autoIncrement:false"`
	ItemID         uint32
	Count          uint32
	SuffixID       uint16
	AppearanceID   uint32
	SpeciesID      uint16
	CompanionLevel uint8
}

func (itemRow) TableName() string { return "posting_items" }

type bidderRow struct {
	RowID     uint64 `gorm:"primaryKey;autoIncrement"`
	HouseID   uint32 `gorm:"index:idx_bidder_posting"`
	PostingID uint32 `gorm:"index:idx_bidder_posting"`
	Account   uint32
}

func (bidderRow) TableName() string { return "posting_bidders" }

// SQLiteStore persists postings in an embedded SQLite database. It is
// the default backend for single-node deployments.
type SQLiteStore struct {
	db        *gorm.DB
	templates TemplateFunc
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates the posting tables.
func NewSQLiteStore(path string, templates TemplateFunc) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&postingRow{}, &itemRow{}, &bidderRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db, templates: templates}, nil
}

// LoadPostings streams the persisted postings of one house. Malformed
// rows (unknown template, no items) are reported through onBad and
// skipped; loading continues.
func (s *SQLiteStore) LoadPostings(ctx context.Context, house domain.HouseID, onRow func(*domain.Posting), onBad func(*domain.MalformedRowError)) error {
	var rows []postingRow
	if err := s.db.WithContext(ctx).Where("house_id = ?", uint32(house)).Order("id").Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load postings: %w", err)
	}

	var items []itemRow
	if err := s.db.WithContext(ctx).Where("house_id = ?", uint32(house)).Find(&items).Error; err != nil {
		return fmt.Errorf("failed to load posting items: %w", err)
	}
	itemsByPosting := make(map[uint32][]itemRow)
	for _, it := range items {
		itemsByPosting[it.PostingID] = append(itemsByPosting[it.PostingID], it)
	}

	var bidders []bidderRow
	if err := s.db.WithContext(ctx).Where("house_id = ?", uint32(house)).Order("row_id").Find(&bidders).Error; err != nil {
		return fmt.Errorf("failed to load bidder history: %w", err)
	}
	biddersByPosting := make(map[uint32][]domain.AccountID)
	for _, b := range bidders {
		biddersByPosting[b.PostingID] = append(biddersByPosting[b.PostingID], domain.AccountID(b.Account))
	}

	for i := range rows {
		p, bad := rebuildPosting(s.templates, &rows[i], itemsByPosting[rows[i].ID], biddersByPosting[rows[i].ID])
		if bad != nil {
			onBad(bad)
			continue
		}
		onRow(p)
	}
	return nil
}

// rebuildPosting reconstructs a posting from its rows. Shared by both
// backends so malformed rows are reported identically.
func rebuildPosting(templates TemplateFunc, row *postingRow, items []itemRow, history []domain.AccountID) (*domain.Posting, *domain.MalformedRowError) {
	if len(items) == 0 {
		return nil, &domain.MalformedRowError{PostingID: row.ID, Reason: "no item rows"}
	}

	built := make([]*domain.Item, 0, len(items))
	for _, ir := range items {
		tmpl := templates(domain.ItemID(ir.ItemID))
		if tmpl == nil {
			return nil, &domain.MalformedRowError{
				PostingID: row.ID,
				Reason:    fmt.Sprintf("unknown item template %d", ir.ItemID),
			}
		}
		built = append(built, &domain.Item{
			Guid:           ir.Guid,
			Template:       tmpl,
			Count:          ir.Count,
			SuffixID:       ir.SuffixID,
			AppearanceID:   ir.AppearanceID,
			SpeciesID:      ir.SpeciesID,
			CompanionLevel: ir.CompanionLevel,
		})
	}

	return &domain.Posting{
		ID:                row.ID,
		HouseID:           domain.HouseID(row.HouseID),
		Owner:             domain.CharacterID(row.Owner),
		OwnerAccount:      domain.AccountID(row.OwnerAccount),
		Bidder:            domain.CharacterID(row.Bidder),
		BidderAccount:     domain.AccountID(row.BidderAccount),
		Items:             built,
		MinBid:            row.MinBid,
		BuyoutOrUnitPrice: row.Buyout,
		Deposit:           row.Deposit,
		BidAmount:         row.BidAmount,
		StartTime:         time.Unix(row.StartTime, 0).UTC(),
		EndTime:           time.Unix(row.EndTime, 0).UTC(),
		Flags:             domain.ServerFlags(row.Flags),
		BidderHistory:     history,
	}, nil
}

// Begin opens a buffered batch. Row effects apply atomically on Commit.
func (s *SQLiteStore) Begin(ctx context.Context) (domain.Batch, error) {
	return &sqliteBatch{store: s, ctx: ctx}, nil
}

type batchOp struct {
	save   *domain.Posting
	house  domain.HouseID
	delete uint32
}

type sqliteBatch struct {
	store *SQLiteStore
	ctx   context.Context
	ops   []batchOp
}

func (b *sqliteBatch) SavePosting(p *domain.Posting) {
	b.ops = append(b.ops, batchOp{save: p})
}

func (b *sqliteBatch) DeletePosting(house domain.HouseID, id uint32) {
	b.ops = append(b.ops, batchOp{house: house, delete: id})
}

func (b *sqliteBatch) Commit() error {
	if len(b.ops) == 0 {
		return nil
	}
	return b.store.db.WithContext(b.ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range b.ops {
			if op.save != nil {
				if err := writePosting(tx, op.save); err != nil {
					return err
				}
				continue
			}
			if err := erasePosting(tx, uint32(op.house), op.delete); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *sqliteBatch) Rollback() error {
	b.ops = nil
	return nil
}

// writePosting replaces the full row set of one posting. Child rows are
// rewritten rather than diffed; a posting rarely has more than a few.
func writePosting(tx *gorm.DB, p *domain.Posting) error {
	if err := erasePosting(tx, uint32(p.HouseID), p.ID); err != nil {
		return err
	}

	row := postingRow{
		HouseID:       uint32(p.HouseID),
		ID:            p.ID,
		Owner:         uint64(p.Owner),
		OwnerAccount:  uint32(p.OwnerAccount),
		Bidder:        uint64(p.Bidder),
		BidderAccount: uint32(p.BidderAccount),
		MinBid:        p.MinBid,
		Buyout:        p.BuyoutOrUnitPrice,
		Deposit:       p.Deposit,
		BidAmount:     p.BidAmount,
		StartTime:     p.StartTime.Unix(),
		EndTime:       p.EndTime.Unix(),
		Flags:         uint8(p.Flags),
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save posting %d: %w", p.ID, err)
	}

	for _, it := range p.Items {
		ir := itemRow{
			HouseID:        uint32(p.HouseID),
			PostingID:      p.ID,
			Guid:           it.Guid,
			ItemID:         uint32(it.Template.ID),
			Count:          it.Count,
			SuffixID:       it.SuffixID,
			AppearanceID:   it.AppearanceID,
			SpeciesID:      it.SpeciesID,
			CompanionLevel: it.CompanionLevel,
		}
		if err := tx.Create(&ir).Error; err != nil {
			return fmt.Errorf("failed to save item %d: %w", it.Guid, err)
		}
	}

	for _, acct := range p.BidderHistory {
		br := bidderRow{HouseID: uint32(p.HouseID), PostingID: p.ID, Account: uint32(acct)}
		if err := tx.Create(&br).Error; err != nil {
			return fmt.Errorf("failed to save bidder history for posting %d: %w", p.ID, err)
		}
	}
	return nil
}

func erasePosting(tx *gorm.DB, house, id uint32) error {
	if err := tx.Where("house_id = ? AND id = ?", house, id).Delete(&postingRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete posting %d: %w", id, err)
	}
	if err := tx.Where("house_id = ? AND posting_id = ?", house, id).Delete(&itemRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete items of posting %d: %w", id, err)
	}
	if err := tx.Where("house_id = ? AND posting_id = ?", house, id).Delete(&bidderRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete bidder history of posting %d: %w", id, err)
	}
	return nil
}
