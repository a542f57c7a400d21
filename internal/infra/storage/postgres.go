package storage

import (
	"context"
	"fmt"

	"auction_go/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS postings (
	house_id       BIGINT NOT NULL,
	id             BIGINT NOT NULL,
	owner          BIGINT NOT NULL,
	owner_account  BIGINT NOT NULL,
	bidder         BIGINT NOT NULL,
	bidder_account BIGINT NOT NULL,
	min_bid        BIGINT NOT NULL,
	buyout         BIGINT NOT NULL,
	deposit        BIGINT NOT NULL,
	bid_amount     BIGINT NOT NULL,
	start_time     BIGINT NOT NULL,
	end_time       BIGINT NOT NULL,
	flags          SMALLINT NOT NULL,
	PRIMARY KEY (house_id, id)
);
CREATE TABLE IF NOT EXISTS posting_items (
	house_id        BIGINT NOT NULL,
	posting_id      BIGINT NOT NULL,
	guid            BIGINT PRIMARY KEY,
	item_id         BIGINT NOT NULL,
	count           BIGINT NOT NULL,
	suffix_id       INT NOT NULL,
	appearance_id   BIGINT NOT NULL,
	species_id      INT NOT NULL,
	companion_level SMALLINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_item_posting ON posting_items (house_id, posting_id);
CREATE TABLE IF NOT EXISTS posting_bidders (
	row_id     BIGSERIAL PRIMARY KEY,
	house_id   BIGINT NOT NULL,
	posting_id BIGINT NOT NULL,
	account    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bidder_posting ON posting_bidders (house_id, posting_id);
`

// PostgresStore persists postings in PostgreSQL, for deployments where
// several services share one database.
type PostgresStore struct {
	pool      *pgxpool.Pool
	templates TemplateFunc
}

// NewPostgresStore connects to dsn, verifies the connection, and
// ensures the posting tables exist.
func NewPostgresStore(ctx context.Context, dsn string, templates TemplateFunc) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStore{pool: pool, templates: templates}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) LoadPostings(ctx context.Context, house domain.HouseID, onRow func(*domain.Posting), onBad func(*domain.MalformedRowError)) error {
	itemsByPosting, err := s.loadItems(ctx, house)
	if err != nil {
		return err
	}
	biddersByPosting, err := s.loadBidders(ctx, house)
	if err != nil {
		return err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, owner_account, bidder, bidder_account,
		       min_bid, buyout, deposit, bid_amount, start_time, end_time, flags
		FROM postings WHERE house_id = $1 ORDER BY id
	`, uint32(house))
	if err != nil {
		return fmt.Errorf("load postings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r     postingRow
			flags int16
		)
		if err := rows.Scan(&r.ID, &r.Owner, &r.OwnerAccount, &r.Bidder, &r.BidderAccount,
			&r.MinBid, &r.Buyout, &r.Deposit, &r.BidAmount, &r.StartTime, &r.EndTime, &flags); err != nil {
			return fmt.Errorf("scan posting: %w", err)
		}
		r.HouseID = uint32(house)
		r.Flags = uint8(flags)

		p, bad := rebuildPosting(s.templates, &r, itemsByPosting[r.ID], biddersByPosting[r.ID])
		if bad != nil {
			onBad(bad)
			continue
		}
		onRow(p)
	}
	return rows.Err()
}

func (s *PostgresStore) loadItems(ctx context.Context, house domain.HouseID) (map[uint32][]itemRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT posting_id, guid, item_id, count, suffix_id, appearance_id, species_id, companion_level
		FROM posting_items WHERE house_id = $1
	`, uint32(house))
	if err != nil {
		return nil, fmt.Errorf("load posting items: %w", err)
	}
	defer rows.Close()

	out := make(map[uint32][]itemRow)
	for rows.Next() {
		var (
			ir    itemRow
			level int16
		)
		if err := rows.Scan(&ir.PostingID, &ir.Guid, &ir.ItemID, &ir.Count,
			&ir.SuffixID, &ir.AppearanceID, &ir.SpeciesID, &level); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		ir.CompanionLevel = uint8(level)
		out[ir.PostingID] = append(out[ir.PostingID], ir)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadBidders(ctx context.Context, house domain.HouseID) (map[uint32][]domain.AccountID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT posting_id, account FROM posting_bidders
		WHERE house_id = $1 ORDER BY row_id
	`, uint32(house))
	if err != nil {
		return nil, fmt.Errorf("load bidder history: %w", err)
	}
	defer rows.Close()

	out := make(map[uint32][]domain.AccountID)
	for rows.Next() {
		var (
			id   uint32
			acct uint32
		)
		if err := rows.Scan(&id, &acct); err != nil {
			return nil, fmt.Errorf("scan bidder: %w", err)
		}
		out[id] = append(out[id], domain.AccountID(acct))
	}
	return out, rows.Err()
}

func (s *PostgresStore) Begin(ctx context.Context) (domain.Batch, error) {
	return &postgresBatch{store: s, ctx: ctx}, nil
}

type postgresBatch struct {
	store *PostgresStore
	ctx   context.Context
	ops   []batchOp
}

func (b *postgresBatch) SavePosting(p *domain.Posting) {
	b.ops = append(b.ops, batchOp{save: p})
}

func (b *postgresBatch) DeletePosting(house domain.HouseID, id uint32) {
	b.ops = append(b.ops, batchOp{house: house, delete: id})
}

func (b *postgresBatch) Commit() error {
	if len(b.ops) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, op := range b.ops {
		if op.save != nil {
			queuePosting(batch, op.save)
			continue
		}
		queueErase(batch, uint32(op.house), op.delete)
	}

	tx, err := b.store.pool.Begin(b.ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	results := tx.SendBatch(b.ctx, batch)
	if err := drain(results, batch.Len()); err != nil {
		_ = tx.Rollback(b.ctx)
		return fmt.Errorf("apply batch: %w", err)
	}
	return tx.Commit(b.ctx)
}

func (b *postgresBatch) Rollback() error {
	b.ops = nil
	return nil
}

func drain(results pgx.BatchResults, n int) error {
	defer results.Close()
	for i := 0; i < n; i++ {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func queuePosting(batch *pgx.Batch, p *domain.Posting) {
	queueErase(batch, uint32(p.HouseID), p.ID)

	batch.Queue(`
		INSERT INTO postings (house_id, id, owner, owner_account, bidder, bidder_account,
			min_bid, buyout, deposit, bid_amount, start_time, end_time, flags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, uint32(p.HouseID), p.ID, uint64(p.Owner), uint32(p.OwnerAccount),
		uint64(p.Bidder), uint32(p.BidderAccount),
		p.MinBid, p.BuyoutOrUnitPrice, p.Deposit, p.BidAmount,
		p.StartTime.Unix(), p.EndTime.Unix(), int16(p.Flags))

	for _, it := range p.Items {
		batch.Queue(`
			INSERT INTO posting_items (house_id, posting_id, guid, item_id, count,
				suffix_id, appearance_id, species_id, companion_level)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, uint32(p.HouseID), p.ID, it.Guid, uint32(it.Template.ID), it.Count,
			it.SuffixID, it.AppearanceID, it.SpeciesID, int16(it.CompanionLevel))
	}

	for _, acct := range p.BidderHistory {
		batch.Queue(`
			INSERT INTO posting_bidders (house_id, posting_id, account) VALUES ($1, $2, $3)
		`, uint32(p.HouseID), p.ID, uint32(acct))
	}
}

func queueErase(batch *pgx.Batch, house, id uint32) {
	batch.Queue(`DELETE FROM postings WHERE house_id = $1 AND id = $2`, house, id)
	batch.Queue(`DELETE FROM posting_items WHERE house_id = $1 AND posting_id = $2`, house, id)
	batch.Queue(`DELETE FROM posting_bidders WHERE house_id = $1 AND posting_id = $2`, house, id)
}
