package valuation

import (
	"CustodyVault/internal/ledger"
	fpmath "CustodyVault/internal/math"
	"CustodyVault/internal/oracle"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Quoter is the price oracle adapter as seen by the engine.
type Quoter interface {
	Quote(ctx context.Context, ref string) (oracle.Quote, error)
}

// AssetResolver is the read side of the asset registry.
type AssetResolver interface {
	Resolve(addr common.Address) (ledger.Asset, error)
	PriceSourceOf(a ledger.Asset) string
}

// Valuation is the unit-of-account value of an amount, together with the
// quote it was computed from.
type Valuation struct {
	Asset ledger.Asset
	Value *uint256.Int
	Quote oracle.Quote
}

// Engine composes the oracle adapter and the decimal normalizer. It has no
// side effects and propagates AssetNotConfiguredError and
// OracleUnavailableError unchanged.
type Engine struct {
	assets AssetResolver
	quoter Quoter
}

func NewEngine(assets AssetResolver, quoter Quoter) *Engine {
	return &Engine{assets: assets, quoter: quoter}
}

// ValueOf returns the 8-decimal unit-of-account value of amount native
// units of asset.
func (e *Engine) ValueOf(ctx context.Context, asset common.Address, amount *uint256.Int) (Valuation, error) {
	a, q, err := e.quote(ctx, asset)
	if err != nil {
		return Valuation{}, err
	}

	value, err := fpmath.NormalizeToUnit(amount, q.Price, a.Decimals)
	if err != nil {
		return Valuation{}, fmt.Errorf("value %s of %s: %w", amount.Dec(), asset.Hex(), err)
	}

	return Valuation{Asset: a, Value: value, Quote: q}, nil
}

// PriceOf returns the validated quote for asset.
func (e *Engine) PriceOf(ctx context.Context, asset common.Address) (oracle.Quote, error) {
	_, q, err := e.quote(ctx, asset)
	return q, err
}

func (e *Engine) quote(ctx context.Context, asset common.Address) (ledger.Asset, oracle.Quote, error) {
	a, err := e.assets.Resolve(asset)
	if err != nil {
		return ledger.Asset{}, oracle.Quote{}, err
	}

	q, err := e.quoter.Quote(ctx, e.assets.PriceSourceOf(a))
	if err != nil {
		return ledger.Asset{}, oracle.Quote{}, err
	}
	return a, q, nil
}
