package infra

import (
	"sync"

	"auction_go/internal/domain"
)

// MemoryBank is an in-process account ledger. Production deployments
// replace it with a bridge to the world server's money subsystem; it
// carries standalone runs and tests.
type MemoryBank struct {
	mu       sync.Mutex
	balances map[domain.AccountID]uint64
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[domain.AccountID]uint64)}
}

func (b *MemoryBank) Balance(account domain.AccountID) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[account]
}

// Withdraw debits the account or fails whole; no partial effect.
func (b *MemoryBank) Withdraw(account domain.AccountID, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[account] < amount {
		return domain.ErrInsufficientFunds
	}
	b.balances[account] -= amount
	return nil
}

func (b *MemoryBank) Deposit(account domain.AccountID, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] += amount
}

func (b *MemoryBank) Exists(account domain.AccountID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.balances[account]
	return ok
}
