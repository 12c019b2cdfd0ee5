package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrAssetExists        = errors.New("asset already registered")
	ErrInvalidDecimals    = errors.New("asset decimals must be in 1..77")
	ErrInvalidPriceSource = errors.New("invalid price source")
)

// AssetNotConfiguredError is returned for assets that are unknown, have no
// precision, or are not currently supported.
type AssetNotConfiguredError struct {
	Asset  common.Address
	Reason string
}

func (e *AssetNotConfiguredError) Error() string {
	return fmt.Sprintf("asset %s not configured: %s", e.Asset.Hex(), e.Reason)
}

// InsufficientBalanceError is returned by Debit when the requested amount
// exceeds the entry. Amounts are in the asset's native unit.
type InsufficientBalanceError struct {
	User      common.Address
	Asset     common.Address
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: requested=%s, available=%s",
		NewBalanceKey(e.User, e.Asset).Path(), e.Requested.Dec(), e.Available.Dec())
}
