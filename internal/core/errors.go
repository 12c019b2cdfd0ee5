package core

import (
	"CustodyVault/internal/ledger"
	fpmath "CustodyVault/internal/math"
	"CustodyVault/internal/oracle"
	"CustodyVault/internal/risk"
	"CustodyVault/internal/transport"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrReentrancy is returned when a mutating entry point is called while
	// another one is still running.
	ErrReentrancy = errors.New("reentrancy guard: vault operation already in progress")

	ErrZeroAmount = errors.New("amount must be greater than zero")
)

// TransferFailedError wraps an asset transport failure.
type TransferFailedError struct {
	Direction    transport.Direction
	Asset        common.Address
	Counterparty common.Address
	Amount       *uint256.Int
	Err          error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer failed (%s %s of %s, counterparty %s): %v",
		e.Direction, e.Amount.Dec(), e.Asset.Hex(), e.Counterparty.Hex(), e.Err)
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}

// InsolventError reports an asset whose custody pool is smaller than the
// sum of ledger balances.
type InsolventError struct {
	Asset common.Address
	Owed  *uint256.Int
	Held  *uint256.Int
}

func (e *InsolventError) Error() string {
	return fmt.Sprintf("custody of %s below ledger: owed=%s, held=%s", e.Asset.Hex(), e.Owed.Dec(), e.Held.Dec())
}

// Category groups errors the way callers react to them.
type Category string

const (
	CategoryNone        Category = ""
	CategoryInput       Category = "input"
	CategoryBalance     Category = "balance"
	CategoryRiskLimit   Category = "risk_limit"
	CategoryOracle      Category = "oracle"
	CategoryTransport   Category = "transport"
	CategoryConcurrency Category = "concurrency"
	CategoryArithmetic  Category = "arithmetic"
	CategoryInternal    Category = "internal"
)

// Classify returns the error's category and a short reason usable as a
// metric label.
func Classify(err error) (Category, string) {
	if err == nil {
		return CategoryNone, "ok"
	}

	var (
		notConfigured *ledger.AssetNotConfiguredError
		insufficient  *ledger.InsufficientBalanceError
		capExceeded   *risk.CapExceededError
		limitExceeded *risk.WithdrawalLimitExceededError
		heldExceeded  *risk.TotalValueExceededError
		unavailable   *oracle.OracleUnavailableError
		transferErr   *TransferFailedError
		insolvent     *InsolventError
	)

	switch {
	case errors.Is(err, ErrReentrancy):
		return CategoryConcurrency, "reentrancy"
	case errors.Is(err, ErrZeroAmount):
		return CategoryInput, "zero_amount"
	case errors.As(err, &notConfigured):
		return CategoryInput, "asset_not_configured"
	case errors.Is(err, ledger.ErrAssetExists):
		return CategoryInput, "asset_exists"
	case errors.Is(err, ledger.ErrInvalidDecimals), errors.Is(err, ledger.ErrInvalidPriceSource):
		return CategoryInput, "invalid_asset"
	case errors.As(err, &insufficient):
		return CategoryBalance, "insufficient_balance"
	case errors.As(err, &capExceeded):
		return CategoryRiskLimit, "cap_exceeded"
	case errors.As(err, &limitExceeded):
		return CategoryRiskLimit, "withdrawal_limit_exceeded"
	case errors.As(err, &heldExceeded):
		return CategoryRiskLimit, "total_value_exceeded"
	case errors.As(err, &unavailable):
		return CategoryOracle, "oracle_unavailable"
	case errors.As(err, &transferErr):
		return CategoryTransport, "transfer_failed"
	case errors.Is(err, fpmath.ErrOverflow), errors.Is(err, fpmath.ErrDecimalsOutOfRange):
		return CategoryArithmetic, "overflow"
	case errors.As(err, &insolvent):
		return CategoryInternal, "insolvent"
	}
	return CategoryInternal, "error"
}
