package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Direction of a transfer relative to custody.
type Direction string

const (
	DirectionIn  Direction = "pull_in"
	DirectionOut Direction = "push_out"
)

var ErrInsufficientFunds = errors.New("insufficient external funds")

// Transfer describes one movement between an external wallet and custody.
type Transfer struct {
	Direction    Direction
	Asset        common.Address
	Counterparty common.Address
	Amount       *uint256.Int
}

// Hook runs on every transfer before it settles. A non-nil error fails the
// transfer. Hooks are where tests and dev tooling inject failures or
// re-entrant calls.
type Hook func(ctx context.Context, t Transfer) error

type walletKey struct {
	wallet common.Address
	asset  common.Address
}

// Memory is an in-process custodian: it holds external wallet balances and
// the custody pool, and moves funds between them.
type Memory struct {
	mu      sync.Mutex
	wallets map[walletKey]*uint256.Int
	custody map[common.Address]*uint256.Int
	hook    Hook
}

func NewMemory() *Memory {
	return &Memory{
		wallets: make(map[walletKey]*uint256.Int),
		custody: make(map[common.Address]*uint256.Int),
	}
}

// SetHook installs h, replacing any previous hook. nil removes it.
func (m *Memory) SetHook(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

// Fund credits an external wallet (faucet for dev mode and tests).
func (m *Memory) Fund(wallet, asset common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := walletKey{wallet, asset}
	m.wallets[key] = new(uint256.Int).Add(m.walletLocked(key), amount)
}

// RestoreCustody sets the pooled amount for asset, used when the ledger is
// reloaded from storage.
func (m *Memory) RestoreCustody(asset common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.custody[asset] = amount.Clone()
}

// Faucet returns a hook that tops up a depositor's wallet so every pull
// succeeds. Dev mode only.
func (m *Memory) Faucet() Hook {
	return func(_ context.Context, t Transfer) error {
		if t.Direction != DirectionIn {
			return nil
		}
		if have := m.WalletBalance(t.Counterparty, t.Asset); have.Lt(t.Amount) {
			m.Fund(t.Counterparty, t.Asset, new(uint256.Int).Sub(t.Amount, have))
		}
		return nil
	}
}

// WalletBalance returns an external wallet's balance.
func (m *Memory) WalletBalance(wallet, asset common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.walletLocked(walletKey{wallet, asset}).Clone()
}

// Custody returns the pooled amount held for asset.
func (m *Memory) Custody(asset common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.custody[asset]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// PullIn moves amount from the caller's wallet into custody.
func (m *Memory) PullIn(ctx context.Context, asset, from common.Address, amount *uint256.Int) error {
	if err := m.runHook(ctx, Transfer{DirectionIn, asset, from, amount.Clone()}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := walletKey{from, asset}
	have := m.walletLocked(key)
	if have.Lt(amount) {
		return fmt.Errorf("pull %s of %s from %s: %w (have %s)", amount.Dec(), asset.Hex(), from.Hex(), ErrInsufficientFunds, have.Dec())
	}
	m.wallets[key] = new(uint256.Int).Sub(have, amount)
	m.custody[asset] = new(uint256.Int).Add(m.custodyLocked(asset), amount)
	return nil
}

// PushOut moves amount from custody to the recipient's wallet.
func (m *Memory) PushOut(ctx context.Context, asset, to common.Address, amount *uint256.Int) error {
	if err := m.runHook(ctx, Transfer{DirectionOut, asset, to, amount.Clone()}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pool := m.custodyLocked(asset)
	if pool.Lt(amount) {
		return fmt.Errorf("push %s of %s to %s: custody holds %s: %w", amount.Dec(), asset.Hex(), to.Hex(), pool.Dec(), ErrInsufficientFunds)
	}
	m.custody[asset] = new(uint256.Int).Sub(pool, amount)
	key := walletKey{to, asset}
	m.wallets[key] = new(uint256.Int).Add(m.walletLocked(key), amount)
	return nil
}

// runHook calls the hook without holding mu so it may re-enter.
func (m *Memory) runHook(ctx context.Context, t Transfer) error {
	m.mu.Lock()
	h := m.hook
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	return h(ctx, t)
}

func (m *Memory) walletLocked(key walletKey) *uint256.Int {
	if v, ok := m.wallets[key]; ok {
		return v
	}
	return new(uint256.Int)
}

func (m *Memory) custodyLocked(asset common.Address) *uint256.Int {
	if v, ok := m.custody[asset]; ok {
		return v
	}
	return new(uint256.Int)
}
