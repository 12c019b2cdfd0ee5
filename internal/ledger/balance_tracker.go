package ledger

import (
	fpmath "CustodyVault/internal/math"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory per-user, per-asset balances.
// Entries are created on first credit and never deleted.
type BalanceTracker struct {
	mu       sync.RWMutex
	balances map[BalanceKey]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[BalanceKey]*uint256.Int),
	}
}

// CanCredit reports whether crediting amount would overflow the entry.
func (bt *BalanceTracker) CanCredit(user, asset common.Address, amount *uint256.Int) error {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	key := NewBalanceKey(user, asset)
	if _, err := fpmath.AddChecked(bt.current(key), amount); err != nil {
		return fmt.Errorf("credit %s: %w", key.Path(), err)
	}
	return nil
}

// Credit increases the entry and returns the new balance.
func (bt *BalanceTracker) Credit(user, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	key := NewBalanceKey(user, asset)
	next, err := fpmath.AddChecked(bt.current(key), amount)
	if err != nil {
		return nil, fmt.Errorf("credit %s: %w", key.Path(), err)
	}
	bt.balances[key] = next
	return next.Clone(), nil
}

// Debit decreases the entry and returns the new balance. The entry never
// goes below zero; InsufficientBalanceError is returned instead.
func (bt *BalanceTracker) Debit(user, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	key := NewBalanceKey(user, asset)
	available := bt.current(key)
	next, ok := fpmath.SubChecked(available, amount)
	if !ok {
		return nil, &InsufficientBalanceError{
			User:      user,
			Asset:     asset,
			Requested: amount.Clone(),
			Available: available.Clone(),
		}
	}
	bt.balances[key] = next
	return next.Clone(), nil
}

// GetBalance returns a copy of the current balance (zero if absent).
func (bt *BalanceTracker) GetBalance(user, asset common.Address) *uint256.Int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.current(NewBalanceKey(user, asset)).Clone()
}

// Restore sets an entry directly. Used only when loading persisted state.
func (bt *BalanceTracker) Restore(key BalanceKey, amount *uint256.Int) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.balances[key] = amount.Clone()
}

// Len returns the number of entries ever created.
func (bt *BalanceTracker) Len() int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return len(bt.balances)
}

// Snapshot returns a copy of all balances.
func (bt *BalanceTracker) Snapshot() map[BalanceKey]*uint256.Int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	snapshot := make(map[BalanceKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v.Clone()
	}
	return snapshot
}

// SumByAsset totals balances per asset across all users.
func SumByAsset(balances map[BalanceKey]*uint256.Int) map[common.Address]*uint256.Int {
	sums := make(map[common.Address]*uint256.Int)
	for key, amount := range balances {
		sum, ok := sums[key.Asset]
		if !ok {
			sum = new(uint256.Int)
			sums[key.Asset] = sum
		}
		sum.Add(sum, amount)
	}
	return sums
}

// current must be called with mu held.
func (bt *BalanceTracker) current(key BalanceKey) *uint256.Int {
	if v, ok := bt.balances[key]; ok {
		return v
	}
	return new(uint256.Int)
}
