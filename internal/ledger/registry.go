package ledger

import (
	fpmath "CustodyVault/internal/math"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AssetRegistry holds asset configuration. Reads are safe from any
// goroutine; writes come only from the orchestrator while it holds the latch
// (or from the start-up loader before the service accepts requests).
type AssetRegistry struct {
	mu                sync.RWMutex
	assets            map[common.Address]Asset
	nativePriceSource string
}

func NewAssetRegistry(nativePriceSource string) *AssetRegistry {
	return &AssetRegistry{
		assets:            make(map[common.Address]Asset),
		nativePriceSource: nativePriceSource,
	}
}

// Register adds a new asset. Assets are registered once; afterwards only the
// price source and the supported flag can change.
func (r *AssetRegistry) Register(a Asset) error {
	if a.Decimals == 0 || a.Decimals > fpmath.MaxDecimals {
		return fmt.Errorf("register %s (decimals=%d): %w", a.Address.Hex(), a.Decimals, ErrInvalidDecimals)
	}
	if err := r.checkPriceSource(a.Address, a.PriceSource); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[a.Address]; exists {
		return fmt.Errorf("register %s: %w", a.Address.Hex(), ErrAssetExists)
	}
	r.assets[a.Address] = a
	return nil
}

// SetPriceSource re-points a registered asset's oracle reference.
func (r *AssetRegistry) SetPriceSource(addr common.Address, source string) (Asset, error) {
	if err := r.checkPriceSource(addr, source); err != nil {
		return Asset{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[addr]
	if !ok {
		return Asset{}, &AssetNotConfiguredError{Asset: addr, Reason: "not registered"}
	}
	a.PriceSource = source
	r.assets[addr] = a
	return a, nil
}

// SetSupported toggles whether operations against the asset are accepted.
func (r *AssetRegistry) SetSupported(addr common.Address, supported bool) (Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assets[addr]
	if !ok {
		return Asset{}, &AssetNotConfiguredError{Asset: addr, Reason: "not registered"}
	}
	a.Supported = supported
	r.assets[addr] = a
	return a, nil
}

// Get returns the raw registry entry.
func (r *AssetRegistry) Get(addr common.Address) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[addr]
	return a, ok
}

// Resolve returns the asset only if operations against it may proceed.
func (r *AssetRegistry) Resolve(addr common.Address) (Asset, error) {
	a, ok := r.Get(addr)
	switch {
	case !ok:
		return Asset{}, &AssetNotConfiguredError{Asset: addr, Reason: "not registered"}
	case a.Decimals == 0:
		return Asset{}, &AssetNotConfiguredError{Asset: addr, Reason: "zero decimals"}
	case !a.Supported:
		return Asset{}, &AssetNotConfiguredError{Asset: addr, Reason: "not supported"}
	}
	return a, nil
}

// PriceSourceOf returns the oracle reference used to value the asset.
func (r *AssetRegistry) PriceSourceOf(a Asset) string {
	if a.IsNative() {
		return r.nativePriceSource
	}
	return a.PriceSource
}

// All returns every registered asset ordered by address.
func (r *AssetRegistry) All() []Asset {
	r.mu.RLock()
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Address.Hex(), out[j].Address.Hex()) < 0
	})
	return out
}

func (r *AssetRegistry) checkPriceSource(addr common.Address, source string) error {
	if addr == NativeAsset {
		if source != "" {
			return fmt.Errorf("native asset uses the configured source %q: %w", r.nativePriceSource, ErrInvalidPriceSource)
		}
		return nil
	}
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("asset %s: empty reference: %w", addr.Hex(), ErrInvalidPriceSource)
	}
	return nil
}
