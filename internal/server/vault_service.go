package server

import (
	"CustodyVault/internal/ingestion"
	"CustodyVault/internal/ledger"
	fpmath "CustodyVault/internal/math"
	"CustodyVault/internal/oracle"
	"CustodyVault/internal/query"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Reader is the read side of the vault. Reads never take the vault latch.
type Reader interface {
	GetBalance(user, asset common.Address) *uint256.Int
	GetPrice(ctx context.Context, asset common.Address) (oracle.Quote, error)
	TotalValueHeld() *uint256.Int
	Available() *uint256.Int
	Limits() (globalCap, withdrawalLimit *uint256.Int)
	Asset(addr common.Address) (ledger.Asset, bool)
	Assets() []ledger.Asset
}

// History serves persisted journal queries.
type History interface {
	ListJournals(ctx context.Context, user common.Address, limit int, beforeSequence int64) (*query.JournalPage, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

type vaultServiceImpl struct {
	mutator ingestion.Mutator
	reader  Reader
	history History
}

// NewVaultService builds the VaultService implementation. history may be
// nil, in which case journal queries return Unavailable.
func NewVaultService(mutator ingestion.Mutator, reader Reader, history History) VaultServiceServer {
	return &vaultServiceImpl{mutator: mutator, reader: reader, history: history}
}

// ============================================================================
// Admin
// ============================================================================

func (s *vaultServiceImpl) RegisterAsset(ctx context.Context, req *RegisterAssetRequest) (*AssetResponse, error) {
	addr, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	supported := true
	if req.Supported != nil {
		supported = *req.Supported
	}

	j, err := s.mutator.RegisterAsset(ctx, ledger.Asset{
		Address:     addr,
		Decimals:    req.Decimals,
		Supported:   supported,
		PriceSource: strings.TrimSpace(req.PriceSource),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return assetResponse(j), nil
}

func (s *vaultServiceImpl) SetPriceSource(ctx context.Context, req *SetPriceSourceRequest) (*AssetResponse, error) {
	addr, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	j, err := s.mutator.SetPriceSource(ctx, addr, strings.TrimSpace(req.PriceSource))
	if err != nil {
		return nil, toStatus(err)
	}
	return assetResponse(j), nil
}

func (s *vaultServiceImpl) SetAssetSupported(ctx context.Context, req *SetAssetSupportedRequest) (*AssetResponse, error) {
	addr, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	j, err := s.mutator.SetAssetSupported(ctx, addr, req.Supported)
	if err != nil {
		return nil, toStatus(err)
	}
	return assetResponse(j), nil
}

func (s *vaultServiceImpl) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "journal store not configured")
	}
	report, err := s.history.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

func assetResponse(j ledger.Journal) *AssetResponse {
	return &AssetResponse{
		Sequence: j.Sequence,
		Asset: newAssetView(ledger.Asset{
			Address:     j.Asset,
			Decimals:    j.Decimals,
			Supported:   j.Supported,
			PriceSource: j.PriceSource,
		}),
	}
}

// ============================================================================
// Transfers
// ============================================================================

func (s *vaultServiceImpl) Deposit(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	user, asset, amount, err := s.transferArgs(ctx, req)
	if err != nil {
		return nil, err
	}
	j, err := s.mutator.Deposit(ctx, user, asset, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return newTransferResponse(j), nil
}

func (s *vaultServiceImpl) Withdraw(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	user, asset, amount, err := s.transferArgs(ctx, req)
	if err != nil {
		return nil, err
	}
	j, err := s.mutator.Withdraw(ctx, user, asset, amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return newTransferResponse(j), nil
}

func (s *vaultServiceImpl) transferArgs(ctx context.Context, req *TransferRequest) (user, asset common.Address, amount *uint256.Int, err error) {
	user, ok := CallerFromContext(ctx)
	if !ok {
		return user, asset, nil, status.Error(codes.Unauthenticated, "caller identity is required")
	}
	if asset, err = parseAddress("asset", req.Asset); err != nil {
		return user, asset, nil, err
	}

	switch {
	case req.Amount != "" && req.Units != "":
		return user, asset, nil, status.Error(codes.InvalidArgument, "set either amount or units, not both")
	case req.Amount != "":
		amount, err = uint256.FromDecimal(req.Amount)
		if err != nil {
			return user, asset, nil, status.Errorf(codes.InvalidArgument, "invalid amount %q: %v", req.Amount, err)
		}
	case req.Units != "":
		// Decimal amounts need the asset's precision; unknown assets fall
		// through to the vault, which reports them as not configured.
		a, known := s.reader.Asset(asset)
		if !known {
			return user, asset, nil, toStatus(&ledger.AssetNotConfiguredError{Asset: asset, Reason: "not registered"})
		}
		amount, err = fpmath.ParseUnits(req.Units, a.Decimals)
		if err != nil {
			return user, asset, nil, status.Errorf(codes.InvalidArgument, "invalid units %q: %v", req.Units, err)
		}
	default:
		return user, asset, nil, status.Error(codes.InvalidArgument, "amount is required")
	}
	return user, asset, amount, nil
}

// ============================================================================
// Reads
// ============================================================================

func (s *vaultServiceImpl) GetBalance(_ context.Context, req *GetBalanceRequest) (*BalanceResponse, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}

	bal := s.reader.GetBalance(user, asset)
	resp := &BalanceResponse{User: user.Hex(), Asset: asset.Hex(), Amount: bal.Dec()}
	if a, ok := s.reader.Asset(asset); ok {
		resp.Formatted = fpmath.FormatUnits(bal, a.Decimals)
	}
	return resp, nil
}

func (s *vaultServiceImpl) GetPrice(ctx context.Context, req *GetPriceRequest) (*PriceResponse, error) {
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return nil, err
	}
	q, err := s.reader.GetPrice(ctx, asset)
	if err != nil {
		return nil, toStatus(err)
	}
	return newPriceResponse(asset.Hex(), q), nil
}

func (s *vaultServiceImpl) GetTotalValue(_ context.Context, _ *GetTotalValueRequest) (*TotalValueResponse, error) {
	total := s.reader.TotalValueHeld()
	globalCap, limit := s.reader.Limits()

	return &TotalValueResponse{
		TotalValueHeld:  total.Dec(),
		GlobalCap:       globalCap.Dec(),
		Available:       s.reader.Available().Dec(),
		WithdrawalLimit: limit.Dec(),
		Formatted:       fpmath.FormatUnits(total, fpmath.UnitPrecision),
	}, nil
}

func (s *vaultServiceImpl) ListAssets(_ context.Context, _ *ListAssetsRequest) (*ListAssetsResponse, error) {
	assets := s.reader.Assets()
	resp := &ListAssetsResponse{Assets: make([]AssetView, 0, len(assets))}
	for _, a := range assets {
		resp.Assets = append(resp.Assets, newAssetView(a))
	}
	return resp, nil
}

func (s *vaultServiceImpl) ListJournals(ctx context.Context, req *ListJournalsRequest) (*query.JournalPage, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "journal store not configured")
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	if req.PageSize < 0 || req.BeforeSequence < 0 {
		return nil, status.Error(codes.InvalidArgument, "page_size and before_sequence must not be negative")
	}

	page, err := s.history.ListJournals(ctx, user, req.PageSize, req.BeforeSequence)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list journals: %v", err)
	}
	return page, nil
}

// ============================================================================
// Helpers
// ============================================================================

// parseAddress accepts a 0x-prefixed hex address, or "native" for the zero
// address.
func parseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "native") {
		return ledger.NativeAsset, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Error(codes.InvalidArgument, fmt.Sprintf("invalid %s address %q", field, s))
	}
	return common.HexToAddress(s), nil
}
