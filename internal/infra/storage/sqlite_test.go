package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"auction_go/internal/domain"
)

var testTemplates = map[domain.ItemID]*domain.ItemTemplate{
	10: {ID: 10, Class: domain.ClassWeapon, Quality: domain.QualityRare, ItemLevel: 40, MaxStackSize: 1,
		Names: map[domain.Locale]string{domain.LocaleEnUS: "Test Sword"}},
	20: {ID: 20, Class: domain.ClassTradeGoods, Quality: domain.QualityCommon, ItemLevel: 1, MaxStackSize: 200,
		Names: map[domain.Locale]string{domain.LocaleEnUS: "Test Ore"}},
}

func lookupTemplate(id domain.ItemID) *domain.ItemTemplate {
	return testTemplates[id]
}

func setupTestStore(t *testing.T) *SQLiteStore {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), lookupTemplate)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	return s
}

func testPosting(id uint32) *domain.Posting {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Posting{
		ID:           id,
		HouseID:      7,
		Owner:        1001,
		OwnerAccount: 55,
		Items: []*domain.Item{
			{Guid: uint64(id)*100 + 1, Template: testTemplates[10], Count: 1, AppearanceID: 9},
		},
		MinBid:            500,
		BuyoutOrUnitPrice: 2000,
		Deposit:           75,
		StartTime:         start,
		EndTime:           start.Add(24 * time.Hour),
	}
}

func commit(t *testing.T, s *SQLiteStore, fn func(domain.Batch)) {
	t.Helper()
	b, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	fn(b)
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func loadAll(t *testing.T, s *SQLiteStore, house domain.HouseID) ([]*domain.Posting, []*domain.MalformedRowError) {
	t.Helper()
	var good []*domain.Posting
	var bad []*domain.MalformedRowError
	err := s.LoadPostings(context.Background(), house,
		func(p *domain.Posting) { good = append(good, p) },
		func(e *domain.MalformedRowError) { bad = append(bad, e) })
	if err != nil {
		t.Fatalf("LoadPostings failed: %v", err)
	}
	return good, bad
}

func TestSaveAndLoadPosting(t *testing.T) {
	s := setupTestStore(t)

	p := testPosting(1)
	p.Bidder = 2002
	p.BidderAccount = 66
	p.BidAmount = 600
	p.BidderHistory = []domain.AccountID{66, 77, 66}

	commit(t, s, func(b domain.Batch) { b.SavePosting(p) })

	loaded, bad := loadAll(t, s, 7)
	if len(bad) != 0 {
		t.Fatalf("expected no malformed rows, got %d", len(bad))
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 posting, got %d", len(loaded))
	}

	got := loaded[0]
	if got.ID != 1 || got.Owner != 1001 || got.Bidder != 2002 {
		t.Errorf("posting identity mismatch: %+v", got)
	}
	if got.BidAmount != 600 || got.BuyoutOrUnitPrice != 2000 || got.Deposit != 75 {
		t.Errorf("posting money mismatch: %+v", got)
	}
	if !got.EndTime.Equal(p.EndTime) {
		t.Errorf("expected end time %v, got %v", p.EndTime, got.EndTime)
	}
	if len(got.Items) != 1 || got.Items[0].Template.ID != 10 || got.Items[0].AppearanceID != 9 {
		t.Errorf("item mismatch: %+v", got.Items)
	}
	if len(got.BidderHistory) != 3 || got.BidderHistory[2] != 66 {
		t.Errorf("expected bidder history [66 77 66], got %v", got.BidderHistory)
	}
}

func TestSavePostingOverwrites(t *testing.T) {
	s := setupTestStore(t)

	p := testPosting(2)
	commit(t, s, func(b domain.Batch) { b.SavePosting(p) })

	p.BidAmount = 999
	p.Items = append(p.Items, &domain.Item{Guid: 777, Template: testTemplates[20], Count: 40})
	commit(t, s, func(b domain.Batch) { b.SavePosting(p) })

	loaded, _ := loadAll(t, s, 7)
	if len(loaded) != 1 {
		t.Fatalf("expected 1 posting after re-save, got %d", len(loaded))
	}
	if loaded[0].BidAmount != 999 {
		t.Errorf("expected bid 999, got %d", loaded[0].BidAmount)
	}
	if len(loaded[0].Items) != 2 {
		t.Errorf("expected 2 item rows, got %d", len(loaded[0].Items))
	}
}

func TestDeletePosting(t *testing.T) {
	s := setupTestStore(t)

	commit(t, s, func(b domain.Batch) {
		b.SavePosting(testPosting(3))
		b.SavePosting(testPosting(4))
	})
	commit(t, s, func(b domain.Batch) { b.DeletePosting(7, 3) })

	loaded, _ := loadAll(t, s, 7)
	if len(loaded) != 1 || loaded[0].ID != 4 {
		t.Fatalf("expected only posting 4 to survive, got %+v", loaded)
	}
}

func TestLoadSkipsMalformedRows(t *testing.T) {
	s := setupTestStore(t)

	good := testPosting(5)
	orphan := testPosting(6)
	commit(t, s, func(b domain.Batch) {
		b.SavePosting(good)
		b.SavePosting(orphan)
	})

	// Strand posting 6 without item rows.
	if err := s.db.Where("posting_id = ?", 6).Delete(&itemRow{}).Error; err != nil {
		t.Fatalf("failed to strand posting: %v", err)
	}

	loaded, bad := loadAll(t, s, 7)
	if len(loaded) != 1 || loaded[0].ID != 5 {
		t.Fatalf("expected only posting 5 to load, got %+v", loaded)
	}
	if len(bad) != 1 || bad[0].PostingID != 6 {
		t.Fatalf("expected malformed report for posting 6, got %+v", bad)
	}
}

func TestLoadIgnoresOtherHouses(t *testing.T) {
	s := setupTestStore(t)

	p := testPosting(8)
	other := testPosting(9)
	other.HouseID = 13
	commit(t, s, func(b domain.Batch) {
		b.SavePosting(p)
		b.SavePosting(other)
	})

	loaded, _ := loadAll(t, s, 7)
	if len(loaded) != 1 || loaded[0].ID != 8 {
		t.Fatalf("expected one posting for house 7, got %+v", loaded)
	}
}

func TestRollbackDiscardsOps(t *testing.T) {
	s := setupTestStore(t)

	b, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	b.SavePosting(testPosting(10))
	if err := b.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if err := b.Commit(); err != nil {
		t.Fatalf("Commit after rollback failed: %v", err)
	}

	loaded, _ := loadAll(t, s, 7)
	if len(loaded) != 0 {
		t.Errorf("expected empty house after rollback, got %d postings", len(loaded))
	}
}
