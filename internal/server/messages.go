package server

import (
	"CustodyVault/internal/ledger"
	fpmath "CustodyVault/internal/math"
	"CustodyVault/internal/oracle"
	"time"
)

// Amounts and values on the wire are decimal strings: integers in native
// units (amount) or in unit-of-account units with 8 decimals (value, price).
// The *_formatted fields are the same numbers with the decimal point placed.

// TransferRequest is the body of Deposit and Withdraw. The user is the
// caller identity, not part of the body. Exactly one of Amount (native
// units) and Units (decimal token amount, e.g. "1.5") is set.
type TransferRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount,omitempty"`
	Units  string `json:"units,omitempty"`
}

type TransferResponse struct {
	Sequence       int64     `json:"sequence"`
	JournalID      string    `json:"journal_id"`
	User           string    `json:"user"`
	Asset          string    `json:"asset"`
	Amount         string    `json:"amount"`
	Value          string    `json:"value"`
	Balance        string    `json:"balance"`
	TotalValueHeld string    `json:"total_value_held"`
	Timestamp      time.Time `json:"timestamp"`
}

func newTransferResponse(j ledger.Journal) *TransferResponse {
	return &TransferResponse{
		Sequence:       j.Sequence,
		JournalID:      j.JournalID.String(),
		User:           j.User.Hex(),
		Asset:          j.Asset.Hex(),
		Amount:         j.Amount.Dec(),
		Value:          j.Value.Dec(),
		Balance:        j.BalanceAfter.Dec(),
		TotalValueHeld: j.TotalAfter.Dec(),
		Timestamp:      time.UnixMicro(j.Timestamp).UTC(),
	}
}

type RegisterAssetRequest struct {
	Asset       string `json:"asset"`
	Decimals    uint8  `json:"decimals"`
	PriceSource string `json:"price_source"`
	Supported   *bool  `json:"supported,omitempty"` // defaults to true
}

type SetPriceSourceRequest struct {
	Asset       string `json:"asset"`
	PriceSource string `json:"price_source"`
}

type SetAssetSupportedRequest struct {
	Asset     string `json:"asset"`
	Supported bool   `json:"supported"`
}

type AssetView struct {
	Asset       string `json:"asset"`
	Native      bool   `json:"native"`
	Decimals    uint8  `json:"decimals"`
	Supported   bool   `json:"supported"`
	PriceSource string `json:"price_source"`
}

func newAssetView(a ledger.Asset) AssetView {
	return AssetView{
		Asset:       a.Address.Hex(),
		Native:      a.IsNative(),
		Decimals:    a.Decimals,
		Supported:   a.Supported,
		PriceSource: a.PriceSource,
	}
}

type AssetResponse struct {
	Sequence int64     `json:"sequence"`
	Asset    AssetView `json:"asset"`
}

type ListAssetsRequest struct{}

type ListAssetsResponse struct {
	Assets []AssetView `json:"assets"`
}

type GetBalanceRequest struct {
	User  string `json:"user"`
	Asset string `json:"asset"`
}

type BalanceResponse struct {
	User      string `json:"user"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Formatted string `json:"formatted,omitempty"`
}

type GetPriceRequest struct {
	Asset string `json:"asset"`
}

type PriceResponse struct {
	Asset       string    `json:"asset"`
	Price       string    `json:"price"`
	Formatted   string    `json:"formatted"`
	LastUpdated time.Time `json:"last_updated"`
	Source      string    `json:"source"`
}

func newPriceResponse(asset string, q oracle.Quote) *PriceResponse {
	return &PriceResponse{
		Asset:       asset,
		Price:       q.Price.Dec(),
		Formatted:   fpmath.FormatUnits(q.Price, fpmath.PricePrecision),
		LastUpdated: q.LastUpdated.UTC(),
		Source:      q.Source,
	}
}

type GetTotalValueRequest struct{}

type TotalValueResponse struct {
	TotalValueHeld  string `json:"total_value_held"`
	GlobalCap       string `json:"global_cap"`
	Available       string `json:"available"`
	WithdrawalLimit string `json:"withdrawal_limit"`
	Formatted       string `json:"formatted"`
}

type ListJournalsRequest struct {
	User           string `json:"user"`
	PageSize       int    `json:"page_size,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type VerifyIntegrityRequest struct{}
