package engine

import (
	"time"

	"auction_go/internal/domain"
)

// searchThrottle is the per-account query limiter: a quota that
// refills once per fixed window. Not a leaky bucket on purpose; the
// original shipped with window-refill semantics and clients expect
// the burst-then-wait shape.
type searchThrottle struct {
	periodEnd time.Time
	remaining int
}

// Throttles tracks per-account request budgets across every house.
type Throttles struct {
	params   Params
	accounts map[domain.AccountID]*searchThrottle
}

func NewThrottles(params Params) *Throttles {
	return &Throttles{params: params, accounts: make(map[domain.AccountID]*searchThrottle)}
}

// Check spends one query from the account's budget. An allowed request
// returns the standard processing delay; an exhausted budget returns a
// ThrottledError carrying the time until the next refill. Nothing is
// mutated on rejection beyond the counter itself.
func (t *Throttles) Check(account domain.AccountID, command string, now time.Time) (time.Duration, error) {
	st, ok := t.accounts[account]
	if !ok {
		st = &searchThrottle{}
		t.accounts[account] = st
	}
	if now.After(st.periodEnd) {
		st.periodEnd = now.Add(t.params.SearchWindow)
		st.remaining = t.params.SearchQuota
	}
	if st.remaining == 0 {
		return 0, &domain.ThrottledError{Command: command, RetryAfter: st.periodEnd.Sub(now)}
	}
	st.remaining--
	return t.params.QueryDelay, nil
}

// Sweep drops windows that have lapsed, keyed off the engine tick.
func (t *Throttles) Sweep(now time.Time) {
	for account, st := range t.accounts {
		if now.After(st.periodEnd) {
			delete(t.accounts, account)
		}
	}
}
