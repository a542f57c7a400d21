package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Params are the marketplace tunables. Rates are decimals so config
// can express them exactly; all money stays integral copper.
type Params struct {
	CutRate       decimal.Decimal // house share of every sale
	DepositRate   decimal.Decimal // listing deposit per 12h of duration
	IncrementRate decimal.Decimal // minimum bid increment

	QuoteTTL            time.Duration
	SearchQuota         int
	SearchWindow        time.Duration
	QueryDelay          time.Duration
	ReplicationCooldown time.Duration
	ReplicationPageSize int
	MailBatchSize       int // item stacks per buyer mail
	Expansion           uint8
}

// DefaultParams mirror the live tuning.
func DefaultParams() Params {
	return Params{
		CutRate:             decimal.NewFromFloat(0.05),
		DepositRate:         decimal.NewFromFloat(0.15),
		IncrementRate:       decimal.NewFromFloat(0.05),
		QuoteTTL:            30 * time.Second,
		SearchQuota:         100,
		SearchWindow:        time.Minute,
		QueryDelay:          300 * time.Millisecond,
		ReplicationCooldown: 5 * time.Second,
		ReplicationPageSize: 100,
		MailBatchSize:       12,
		Expansion:           9,
	}
}

// houseCut applies the cut rate to a sale amount, rounded down.
func (p Params) houseCut(amount uint64) uint64 {
	return uint64(decimal.NewFromUint64(amount).Mul(p.CutRate).Floor().IntPart())
}

// minIncrement is the smallest legal raise over the current bid:
// IncrementRate of the bid, rounded down, never less than one copper.
func (p Params) minIncrement(bid uint64) uint64 {
	inc := uint64(decimal.NewFromUint64(bid).Mul(p.IncrementRate).Floor().IntPart())
	if inc == 0 {
		inc = 1
	}
	return inc
}

// CalculateDeposit prices a listing deposit: DepositRate of the full
// asking value, scaled by duration in 12h steps, at least one copper.
func (p Params) CalculateDeposit(unitPrice, count uint64, duration time.Duration) uint64 {
	steps := int64(duration / (12 * time.Hour))
	if steps < 1 {
		steps = 1
	}
	value := decimal.NewFromUint64(unitPrice * count).Mul(p.DepositRate).Mul(decimal.NewFromInt(steps))
	dep := uint64(value.Floor().IntPart())
	if dep == 0 {
		dep = 1
	}
	return dep
}
