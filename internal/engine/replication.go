package engine

import (
	"time"

	"auction_go/internal/domain"
)

// replicationCursor is per-account incremental sync state: the triple
// identifying the last delivered page plus the cooldown gate. Entries
// untouched past staleAfter are reclaimed by the tick.
type replicationCursor struct {
	epoch      uint32
	cursor     uint32
	tombstone  uint32
	nextAllow  time.Time
	staleAfter time.Time
}

// replCursorLifetime is how long an idle cursor survives before the
// tick garbage-collects it.
const replCursorLifetime = 5 * time.Minute

// ReplicationPage is one incremental slice of the posting table,
// ordered by id.
type ReplicationPage struct {
	Epoch     uint32
	Cursor    uint32
	Tombstone uint32
	Postings  []*domain.Posting
	More      bool
}

// Replicate serves an incremental pull of the posting table. A request
// continues an existing scan only when its (epoch, cursor, tombstone)
// matches the stored state; anything else starts a fresh scan, gated
// by the per-account cooldown. The tombstone pins the last id that
// existed when the scan started, so postings added mid-scan wait for
// the next full pass.
func (m *Marketplace) Replicate(account domain.AccountID, epoch, cursor, tombstone uint32, count int, currentEpoch uint32, now time.Time) (*ReplicationPage, error) {
	if count <= 0 || count > m.params.ReplicationPageSize {
		count = m.params.ReplicationPageSize
	}

	st := m.replCursors[account]
	matches := st != nil && st.epoch == epoch && st.cursor == cursor && st.tombstone == tombstone

	if !matches {
		if st != nil && now.Before(st.nextAllow) {
			return nil, &domain.ThrottledError{Command: "replicate", RetryAfter: st.nextAllow.Sub(now)}
		}
		// fresh scan over the table as it stands now
		cursor = 0
		tombstone = 0
		if last, ok := m.postings.Last(); ok {
			tombstone = last
		}
		epoch = currentEpoch
	}

	page := &ReplicationPage{Epoch: epoch, Tombstone: tombstone}
	m.postings.AscendGreater(cursor, func(id uint32, p *domain.Posting) bool {
		if id > tombstone {
			return false
		}
		if len(page.Postings) == count {
			page.More = true
			return false
		}
		page.Postings = append(page.Postings, p)
		return true
	})

	page.Cursor = cursor
	if n := len(page.Postings); n > 0 {
		page.Cursor = page.Postings[n-1].ID
	}

	m.replCursors[account] = &replicationCursor{
		epoch:      epoch,
		cursor:     page.Cursor,
		tombstone:  tombstone,
		nextAllow:  now.Add(m.params.ReplicationCooldown),
		staleAfter: now.Add(replCursorLifetime),
	}
	return page, nil
}
