package core_test

import (
	"CustodyVault/internal/core"
	"CustodyVault/internal/ledger"
	fpmath "CustodyVault/internal/math"
	"CustodyVault/internal/observability"
	"CustodyVault/internal/oracle"
	"CustodyVault/internal/risk"
	"CustodyVault/internal/transport"
	"CustodyVault/internal/valuation"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	vault     *core.Vault
	custodian *transport.Memory
	feeds     *oracle.FeedStore
	clock     *testClock
	persisted chan ledger.Journal
}

func units(s string, decimals uint8) *uint256.Int {
	return fpmath.MustParseUnits(s, decimals)
}

func usd(s string) *uint256.Int {
	return units(s, fpmath.UnitPrecision)
}

// newHarness builds a vault with cap 10,000 USD and withdrawal limit 100 USD.
// WETH (18 decimals) is priced at 2,000 and USDC (6 decimals) at 1.
func newHarness(t *testing.T) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	feeds := oracle.NewFeedStore(24 * time.Hour)
	directory := oracle.NewDirectory(nil, feeds, clock.Now)
	adapter := oracle.NewAdapter(directory, oracle.DefaultStalenessWindow, clock.Now)

	registry := ledger.NewAssetRegistry("feed:ETH-USD")
	persisted := make(chan ledger.Journal, 1024)
	custodian := transport.NewMemory()

	vault := core.NewVault(core.Config{
		Registry:    registry,
		Balances:    ledger.NewBalanceTracker(),
		Enforcer:    risk.NewEnforcer(usd("10000"), usd("100")),
		Valuer:      valuation.NewEngine(registry, adapter),
		Transport:   custodian,
		Journals:    ledger.NewJournalGenerator(0, ledger.GenesisHash(), clock.Now),
		Sources:     directory,
		PersistChan: persisted,
		Metrics:     observability.NewMetrics(prometheus.NewRegistry()),
		Logger:      zerolog.Nop(),
	})

	h := &harness{vault: vault, custodian: custodian, feeds: feeds, clock: clock, persisted: persisted}
	h.setPrice("ETH-USD", "2000")
	h.setPrice("USDC-USD", "1")

	ctx := context.Background()
	if _, err := vault.RegisterAsset(ctx, ledger.Asset{Address: weth, Decimals: 18, Supported: true, PriceSource: "feed:ETH-USD"}); err != nil {
		t.Fatalf("register WETH: %v", err)
	}
	if _, err := vault.RegisterAsset(ctx, ledger.Asset{Address: usdc, Decimals: 6, Supported: true, PriceSource: "feed:USDC-USD"}); err != nil {
		t.Fatalf("register USDC: %v", err)
	}

	custodian.Fund(alice, weth, units("100", 18))
	custodian.Fund(alice, usdc, units("1000000", 6))
	return h
}

// setPrice pushes a new quote one second after the previous one.
func (h *harness) setPrice(feed, price string) {
	h.clock.Advance(time.Second)
	h.feeds.Put(feed, usd(price).ToBig(), 8, h.clock.Now())
}

func (h *harness) drain() []ledger.Journal {
	var out []ledger.Journal
	for {
		select {
		case j := <-h.persisted:
			out = append(out, j)
		default:
			return out
		}
	}
}

func (h *harness) requireState(t *testing.T, user, asset common.Address, balance, total *uint256.Int) {
	t.Helper()
	if got := h.vault.GetBalance(user, asset); !got.Eq(balance) {
		t.Errorf("balance: got %s, want %s", got.Dec(), balance.Dec())
	}
	if got := h.vault.TotalValueHeld(); !got.Eq(total) {
		t.Errorf("total: got %s, want %s", got.Dec(), total.Dec())
	}
}

// ============================================================================
// Test: Boundary scenarios
// ============================================================================

func TestDeposit_ExactlyAtGlobalCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j, err := h.vault.Deposit(ctx, alice, weth, units("5", 18))
	if err != nil {
		t.Fatalf("deposit at cap: %v", err)
	}
	if !j.Value.Eq(usd("10000")) {
		t.Errorf("value: got %s, want 10000", fpmath.FormatUnits(j.Value, 8))
	}
	h.requireState(t, alice, weth, units("5", 18), usd("10000"))

	// The smallest increment that moves the value by one unit of account
	// step (5e6 wei at 2,000) is rejected.
	_, err = h.vault.Deposit(ctx, bob, weth, uint256.NewInt(5_000_000))
	var capErr *risk.CapExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapExceededError, got %v", err)
	}
	if !capErr.Available.IsZero() || capErr.Attempted.Uint64() != 1 {
		t.Errorf("error values: available=%s attempted=%s", capErr.Available.Dec(), capErr.Attempted.Dec())
	}
}

func TestDeposit_OverCapInOneStep(t *testing.T) {
	h := newHarness(t)

	_, err := h.vault.Deposit(context.Background(), alice, weth, new(uint256.Int).Add(units("5", 18), uint256.NewInt(5_000_000)))
	var capErr *risk.CapExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapExceededError, got %v", err)
	}
	h.requireState(t, alice, weth, new(uint256.Int), new(uint256.Int))
}

func TestWithdraw_LimitBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.vault.Deposit(ctx, alice, usdc, units("500", 6)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// 100 smallest units = 0.0001 USDC, far below the limit
	if _, err := h.vault.Withdraw(ctx, alice, usdc, uint256.NewInt(100)); err != nil {
		t.Fatalf("dust withdrawal: %v", err)
	}

	// 100 USDC = exactly 100.00000000
	j, err := h.vault.Withdraw(ctx, alice, usdc, units("100", 6))
	if err != nil {
		t.Fatalf("withdrawal at limit: %v", err)
	}
	if !j.Value.Eq(usd("100")) {
		t.Errorf("value: got %s", j.Value.Dec())
	}

	// One smallest unit more
	_, err = h.vault.Withdraw(ctx, alice, usdc, new(uint256.Int).AddUint64(units("100", 6), 1))
	var limitErr *risk.WithdrawalLimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected WithdrawalLimitExceededError, got %v", err)
	}
	if !limitErr.Limit.Eq(usd("100")) || !limitErr.Requested.Eq(usd("100.000001")) {
		t.Errorf("error values: requested=%s limit=%s", limitErr.Requested.Dec(), limitErr.Limit.Dec())
	}
}

func TestStalePrice_RejectsBothOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.vault.Deposit(ctx, alice, usdc, units("50", 6)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.clock.Advance(oracle.DefaultStalenessWindow + time.Second)

	var unavailable *oracle.OracleUnavailableError

	_, err := h.vault.Deposit(ctx, alice, usdc, units("1", 6))
	if !errors.As(err, &unavailable) || unavailable.Reason != oracle.ReasonStale {
		t.Errorf("deposit: expected stale OracleUnavailableError, got %v", err)
	}

	_, err = h.vault.Withdraw(ctx, alice, usdc, units("1", 6))
	if !errors.As(err, &unavailable) || unavailable.Reason != oracle.ReasonStale {
		t.Errorf("withdraw: expected stale OracleUnavailableError, got %v", err)
	}

	h.requireState(t, alice, usdc, units("50", 6), usd("50"))
}

// ============================================================================
// Test: Properties
// ============================================================================

func TestRoundTrip_RestoresState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	walletBefore := h.custodian.WalletBalance(alice, usdc)

	if _, err := h.vault.Deposit(ctx, alice, usdc, units("75.5", 6)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := h.vault.Withdraw(ctx, alice, usdc, units("75.5", 6)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	h.requireState(t, alice, usdc, new(uint256.Int), new(uint256.Int))
	if !h.custodian.WalletBalance(alice, usdc).Eq(walletBefore) {
		t.Error("wallet should be restored after the round trip")
	}
}

func TestRoundTrip_OverLimitFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.vault.Deposit(ctx, alice, usdc, units("150", 6))
	_, err := h.vault.Withdraw(ctx, alice, usdc, units("150", 6))
	var limitErr *risk.WithdrawalLimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected WithdrawalLimitExceededError, got %v", err)
	}
	h.requireState(t, alice, usdc, units("150", 6), usd("150"))
}

func TestCapRejection_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vault.Deposit(ctx, alice, weth, units("4", 18))
	h.drain()

	for i := 0; i < 3; i++ {
		_, err := h.vault.Deposit(ctx, alice, weth, units("1.5", 18))
		var capErr *risk.CapExceededError
		if !errors.As(err, &capErr) {
			t.Fatalf("attempt %d: expected CapExceededError, got %v", i, err)
		}
		h.requireState(t, alice, weth, units("4", 18), usd("8000"))
	}
	if n := len(h.drain()); n != 0 {
		t.Errorf("rejected deposits emitted %d journals", n)
	}

	// Once the cap condition changes the deposit goes through
	h.vault.Withdraw(ctx, alice, weth, units("0.05", 18))
	h.vault.Withdraw(ctx, alice, weth, units("0.05", 18))
	h.setPrice("ETH-USD", "1000")
	if _, err := h.vault.Deposit(ctx, alice, weth, units("1.5", 18)); err != nil {
		t.Errorf("deposit after the cap condition changed: %v", err)
	}
}

func TestTotalInvariant_MatchesJournals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.drain()

	steps := []struct {
		deposit bool
		asset   common.Address
		amount  *uint256.Int
		price   string
	}{
		{true, usdc, units("300", 6), ""},
		{true, weth, units("1", 18), ""},
		{false, usdc, units("90", 6), ""},
		{true, weth, units("0.5", 18), "2500"},
		{false, weth, units("0.01", 18), "1800"},
		{false, usdc, units("0.000001", 6), ""},
	}

	for i, s := range steps {
		if s.price != "" {
			h.setPrice("ETH-USD", s.price)
		}
		var err error
		if s.deposit {
			_, err = h.vault.Deposit(ctx, alice, s.asset, s.amount)
		} else {
			_, err = h.vault.Withdraw(ctx, alice, s.asset, s.amount)
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	expected := new(uint256.Int)
	for _, j := range h.drain() {
		switch j.Kind {
		case ledger.JournalKindDeposit:
			expected.Add(expected, j.Value)
		case ledger.JournalKindWithdrawal:
			expected.Sub(expected, j.Value)
		}
		if !j.TotalAfter.Eq(expected) {
			t.Errorf("journal %d: total_after=%s, running sum=%s", j.Sequence, j.TotalAfter.Dec(), expected.Dec())
		}
	}
	if !h.vault.TotalValueHeld().Eq(expected) {
		t.Errorf("total: got %s, want %s", h.vault.TotalValueHeld().Dec(), expected.Dec())
	}
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.custodian.Fund(bob, usdc, units("50", 6))
	h.vault.Deposit(ctx, alice, usdc, units("10", 6))
	h.vault.Deposit(ctx, bob, usdc, units("50", 6))

	_, err := h.vault.Withdraw(ctx, alice, usdc, units("10.000001", 6))
	var insufficient *ledger.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if !insufficient.Available.Eq(units("10", 6)) || !insufficient.Requested.Eq(units("10.000001", 6)) {
		t.Errorf("error values: requested=%s available=%s", insufficient.Requested.Dec(), insufficient.Available.Dec())
	}
	h.requireState(t, alice, usdc, units("10", 6), usd("60"))
}

func TestWithdraw_AfterPriceRiseBeyondTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.setPrice("ETH-USD", "1000")
	h.vault.Deposit(ctx, alice, weth, units("0.05", 18)) // 50 USD recorded
	h.setPrice("ETH-USD", "1500")

	_, err := h.vault.Withdraw(ctx, alice, weth, units("0.05", 18)) // 75 USD now
	var heldErr *risk.TotalValueExceededError
	if !errors.As(err, &heldErr) {
		t.Fatalf("expected TotalValueExceededError, got %v", err)
	}
	h.requireState(t, alice, weth, units("0.05", 18), usd("50"))
}

// ============================================================================
// Test: Input validation
// ============================================================================

func TestZeroAmount_FailsBeforeValuation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clock.Advance(2 * oracle.DefaultStalenessWindow) // oracle would fail

	if _, err := h.vault.Deposit(ctx, alice, usdc, new(uint256.Int)); !errors.Is(err, core.ErrZeroAmount) {
		t.Errorf("deposit: expected ErrZeroAmount, got %v", err)
	}
	if _, err := h.vault.Withdraw(ctx, alice, usdc, nil); !errors.Is(err, core.ErrZeroAmount) {
		t.Errorf("withdraw: expected ErrZeroAmount, got %v", err)
	}
}

func TestUnsupportedAsset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vault.Deposit(ctx, alice, usdc, units("10", 6))

	if _, err := h.vault.SetAssetSupported(ctx, usdc, false); err != nil {
		t.Fatalf("set supported: %v", err)
	}

	var notConfigured *ledger.AssetNotConfiguredError
	if _, err := h.vault.Deposit(ctx, alice, usdc, units("1", 6)); !errors.As(err, &notConfigured) {
		t.Errorf("deposit: expected AssetNotConfiguredError, got %v", err)
	}
	if _, err := h.vault.Withdraw(ctx, alice, usdc, units("1", 6)); !errors.As(err, &notConfigured) {
		t.Errorf("withdraw: expected AssetNotConfiguredError, got %v", err)
	}
	if _, err := h.vault.Deposit(ctx, alice, common.HexToAddress("0xbeef"), units("1", 6)); !errors.As(err, &notConfigured) {
		t.Errorf("unknown asset: expected AssetNotConfiguredError, got %v", err)
	}

	// Balance kept while unsupported
	if !h.vault.GetBalance(alice, usdc).Eq(units("10", 6)) {
		t.Error("disabling an asset must not touch balances")
	}
}

// ============================================================================
// Test: Reentrancy
// ============================================================================

func TestReentrancy_FromPullIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var reentryErr error
	var balanceSeen *uint256.Int
	h.custodian.SetHook(func(ctx context.Context, tr transport.Transfer) error {
		if tr.Direction == transport.DirectionIn && reentryErr == nil {
			_, reentryErr = h.vault.Deposit(ctx, alice, usdc, units("1", 6))
			balanceSeen = h.vault.GetBalance(alice, usdc) // reads are allowed
		}
		return nil
	})

	if _, err := h.vault.Deposit(ctx, alice, usdc, units("10", 6)); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if !errors.Is(reentryErr, core.ErrReentrancy) {
		t.Errorf("re-entrant deposit: expected ErrReentrancy, got %v", reentryErr)
	}
	if balanceSeen == nil || !balanceSeen.IsZero() {
		t.Errorf("balance observed during pull should be 0 (credit happens after pull), got %v", balanceSeen)
	}
	h.requireState(t, alice, usdc, units("10", 6), usd("10"))
}

func TestReentrancy_FromPushOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vault.Deposit(ctx, alice, usdc, units("50", 6))

	var reentryErr error
	var balanceSeen *uint256.Int
	h.custodian.SetHook(func(ctx context.Context, tr transport.Transfer) error {
		if tr.Direction == transport.DirectionOut && reentryErr == nil {
			_, reentryErr = h.vault.Withdraw(ctx, alice, usdc, units("20", 6))
			balanceSeen = h.vault.GetBalance(alice, usdc)
		}
		return nil
	})

	if _, err := h.vault.Withdraw(ctx, alice, usdc, units("20", 6)); err != nil {
		t.Fatalf("outer withdraw: %v", err)
	}
	if !errors.Is(reentryErr, core.ErrReentrancy) {
		t.Errorf("re-entrant withdraw: expected ErrReentrancy, got %v", reentryErr)
	}
	// Debit is already applied when the push runs
	if balanceSeen == nil || !balanceSeen.Eq(units("30", 6)) {
		t.Errorf("balance observed during push: got %v, want 30 USDC", balanceSeen)
	}
	h.requireState(t, alice, usdc, units("30", 6), usd("30"))
}

func TestReentrancy_AdminBlockedDuringTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var reentryErr error
	h.custodian.SetHook(func(ctx context.Context, tr transport.Transfer) error {
		_, reentryErr = h.vault.SetPriceSource(ctx, usdc, "par:")
		return nil
	})
	h.vault.Deposit(ctx, alice, usdc, units("1", 6))

	if !errors.Is(reentryErr, core.ErrReentrancy) {
		t.Errorf("expected ErrReentrancy, got %v", reentryErr)
	}
	a, _ := h.vault.Asset(usdc)
	if a.PriceSource != "feed:USDC-USD" {
		t.Error("re-entrant admin call must not change the registry")
	}
}

func TestLatch_ReleasedAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.vault.Withdraw(ctx, alice, usdc, units("1", 6)); err == nil {
		t.Fatal("withdraw without balance should fail")
	}
	if _, err := h.vault.Deposit(ctx, alice, usdc, units("1", 6)); err != nil {
		t.Errorf("latch should be released after a failed call: %v", err)
	}
}

func TestLatch_ReleasedAfterPanic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.custodian.SetHook(func(context.Context, transport.Transfer) error {
		panic("custodian crashed")
	})
	func() {
		defer func() { recover() }()
		h.vault.Deposit(ctx, alice, usdc, units("1", 6))
	}()

	h.custodian.SetHook(nil)
	if _, err := h.vault.Deposit(ctx, alice, usdc, units("1", 6)); err != nil {
		t.Errorf("latch should be released after a panic: %v", err)
	}
}

// ============================================================================
// Test: Transport failures
// ============================================================================

func TestWithdraw_PushFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vault.Deposit(ctx, alice, usdc, units("80", 6))
	h.drain()
	walletBefore := h.custodian.WalletBalance(alice, usdc)

	h.custodian.SetHook(func(_ context.Context, tr transport.Transfer) error {
		if tr.Direction == transport.DirectionOut {
			return errors.New("bridge offline")
		}
		return nil
	})

	_, err := h.vault.Withdraw(ctx, alice, usdc, units("60", 6))
	var transferErr *core.TransferFailedError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferFailedError, got %v", err)
	}
	if transferErr.Direction != transport.DirectionOut || transferErr.Counterparty != alice || !transferErr.Amount.Eq(units("60", 6)) {
		t.Errorf("unexpected error fields %+v", transferErr)
	}

	h.requireState(t, alice, usdc, units("80", 6), usd("80"))
	if !h.custodian.WalletBalance(alice, usdc).Eq(walletBefore) {
		t.Error("wallet must not change on a failed push")
	}
	if n := len(h.drain()); n != 0 {
		t.Errorf("failed withdrawal emitted %d journals", n)
	}

	// The next successful withdrawal takes the next sequence without a gap
	h.custodian.SetHook(nil)
	j, err := h.vault.Withdraw(ctx, alice, usdc, units("60", 6))
	if err != nil {
		t.Fatalf("withdraw after recovery: %v", err)
	}
	if j.Sequence != 4 { // 2 registrations + 1 deposit
		t.Errorf("sequence: got %d, want 4", j.Sequence)
	}
}

func TestDeposit_PullFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.vault.Deposit(ctx, bob, usdc, units("5", 6)) // bob's wallet is empty
	var transferErr *core.TransferFailedError
	if !errors.As(err, &transferErr) {
		t.Fatalf("expected TransferFailedError, got %v", err)
	}
	if !errors.Is(err, transport.ErrInsufficientFunds) {
		t.Error("transport cause should be preserved")
	}
	h.requireState(t, bob, usdc, new(uint256.Int), new(uint256.Int))
}

// ============================================================================
// Test: Administration
// ============================================================================

func TestRegisterAsset_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dai := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	tests := []struct {
		name  string
		asset ledger.Asset
		want  error
	}{
		{"duplicate", ledger.Asset{Address: usdc, Decimals: 6, Supported: true, PriceSource: "par:"}, ledger.ErrAssetExists},
		{"zero decimals", ledger.Asset{Address: dai, Decimals: 0, Supported: true, PriceSource: "par:"}, ledger.ErrInvalidDecimals},
		{"unknown scheme", ledger.Asset{Address: dai, Decimals: 18, Supported: true, PriceSource: "pyth:abc"}, ledger.ErrInvalidPriceSource},
		{"chainlink without rpc", ledger.Asset{Address: dai, Decimals: 18, Supported: true, PriceSource: "chainlink:0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"}, ledger.ErrInvalidPriceSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.vault.RegisterAsset(ctx, tt.asset); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	j, err := h.vault.RegisterAsset(ctx, ledger.Asset{Address: dai, Decimals: 18, Supported: true, PriceSource: "par:"})
	if err != nil {
		t.Fatalf("register DAI: %v", err)
	}
	if j.Kind != ledger.JournalKindAssetRegistered || j.Asset != dai || j.Decimals != 18 {
		t.Errorf("unexpected journal %+v", j)
	}
}

func TestSetPriceSource_RepointsValuation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.setPrice("USDC-ALT", "0.5")
	if _, err := h.vault.SetPriceSource(ctx, usdc, "feed:USDC-ALT"); err != nil {
		t.Fatalf("set price source: %v", err)
	}

	q, err := h.vault.GetPrice(ctx, usdc)
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if !q.Price.Eq(usd("0.5")) {
		t.Errorf("price: got %s", q.Price.Dec())
	}

	j, _ := h.vault.Deposit(ctx, alice, usdc, units("10", 6))
	if !j.Value.Eq(usd("5")) {
		t.Errorf("value at new source: got %s", j.Value.Dec())
	}
}

func TestNativeAsset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.vault.RegisterAsset(ctx, ledger.Asset{Address: ledger.NativeAsset, Decimals: 18, Supported: true}); err != nil {
		t.Fatalf("register native: %v", err)
	}
	h.custodian.Fund(alice, ledger.NativeAsset, units("1", 18))

	j, err := h.vault.Deposit(ctx, alice, ledger.NativeAsset, units("0.01", 18))
	if err != nil {
		t.Fatalf("native deposit: %v", err)
	}
	if !j.Value.Eq(usd("20")) {
		t.Errorf("native valued via configured source: got %s", j.Value.Dec())
	}
}

// ============================================================================
// Test: Journals
// ============================================================================

func TestJournals_FormVerifiableChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.vault.Deposit(ctx, alice, usdc, units("40", 6))
	h.vault.Withdraw(ctx, alice, usdc, units("15", 6))
	h.vault.SetAssetSupported(ctx, weth, false)

	journals := h.drain()
	if len(journals) != 5 {
		t.Fatalf("expected 5 journals, got %d", len(journals))
	}

	v := ledger.NewChainValidator()
	for i := range journals {
		if err := v.Verify(&journals[i]); err != nil {
			t.Fatalf("chain broken: %v", err)
		}
	}

	kinds := []ledger.JournalKind{
		ledger.JournalKindAssetRegistered,
		ledger.JournalKindAssetRegistered,
		ledger.JournalKindDeposit,
		ledger.JournalKindWithdrawal,
		ledger.JournalKindAssetSupportChanged,
	}
	for i, k := range kinds {
		if journals[i].Kind != k {
			t.Errorf("journal %d: kind %s, want %s", i, journals[i].Kind, k)
		}
	}
	if !journals[3].BalanceAfter.Eq(units("25", 6)) || !journals[3].TotalAfter.Eq(usd("25")) {
		t.Errorf("withdrawal post-state: balance=%s total=%s", journals[3].BalanceAfter.Dec(), journals[3].TotalAfter.Dec())
	}
}

// ============================================================================
// Test: Classify
// ============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		category core.Category
	}{
		{nil, core.CategoryNone},
		{core.ErrZeroAmount, core.CategoryInput},
		{core.ErrReentrancy, core.CategoryConcurrency},
		{&ledger.AssetNotConfiguredError{}, core.CategoryInput},
		{&ledger.InsufficientBalanceError{Requested: uint256.NewInt(1), Available: uint256.NewInt(0)}, core.CategoryBalance},
		{&risk.CapExceededError{Available: uint256.NewInt(0), Attempted: uint256.NewInt(1)}, core.CategoryRiskLimit},
		{&oracle.OracleUnavailableError{Reason: oracle.ReasonStale}, core.CategoryOracle},
		{&core.TransferFailedError{Amount: uint256.NewInt(1), Err: errors.New("x")}, core.CategoryTransport},
		{fpmath.ErrOverflow, core.CategoryArithmetic},
		{errors.New("boom"), core.CategoryInternal},
	}
	for _, tt := range tests {
		if got, _ := core.Classify(tt.err); got != tt.category {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.category)
		}
	}
}

// Quotes pushed with a non-8 precision are rescaled before valuation.
func TestDeposit_FeedWithEighteenDecimals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	price := new(big.Int).Mul(big.NewInt(3000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	h.feeds.Put("ETH-USD", price, 18, h.clock.Now().Add(time.Second))
	h.clock.Advance(time.Second)

	j, err := h.vault.Deposit(ctx, alice, weth, units("1", 18))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !j.Value.Eq(usd("3000")) {
		t.Errorf("value: got %s", j.Value.Dec())
	}
}

func TestWithdraw_PushPanicRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vault.Deposit(ctx, alice, usdc, units("50", 6))
	h.drain()
	walletBefore := h.custodian.WalletBalance(alice, usdc)

	h.custodian.SetHook(func(_ context.Context, tr transport.Transfer) error {
		if tr.Direction == transport.DirectionOut {
			panic("custodian crashed mid-transfer")
		}
		return nil
	})
	func() {
		defer func() {
			if recover() == nil {
				t.Error("transport panic should reach the caller")
			}
		}()
		h.vault.Withdraw(ctx, alice, usdc, units("20", 6))
	}()

	h.requireState(t, alice, usdc, units("50", 6), usd("50"))
	if !h.custodian.WalletBalance(alice, usdc).Eq(walletBefore) {
		t.Error("wallet must not change on a panicked push")
	}
	if n := len(h.drain()); n != 0 {
		t.Errorf("panicked withdrawal emitted %d journals", n)
	}

	h.custodian.SetHook(nil)
	j, err := h.vault.Withdraw(ctx, alice, usdc, units("20", 6))
	if err != nil {
		t.Fatalf("withdraw after recovery: %v", err)
	}
	if j.Sequence != 4 {
		t.Errorf("sequence: got %d, want 4", j.Sequence)
	}
	h.requireState(t, alice, usdc, units("30", 6), usd("30"))
}

// Dust deposits value at zero each; their sum does not, so it must be
// withdrawn in parts.
func TestWithdraw_DustDepositsWithdrawnInParts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		j, err := h.vault.Deposit(ctx, alice, weth, uint256.NewInt(3_000_000))
		if err != nil {
			t.Fatalf("dust deposit: %v", err)
		}
		if !j.Value.IsZero() {
			t.Fatalf("dust value: got %s, want 0", j.Value.Dec())
		}
	}

	var heldErr *risk.TotalValueExceededError
	if _, err := h.vault.Withdraw(ctx, alice, weth, uint256.NewInt(6_000_000)); !errors.As(err, &heldErr) {
		t.Fatalf("expected TotalValueExceededError, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.vault.Withdraw(ctx, alice, weth, uint256.NewInt(3_000_000)); err != nil {
			t.Fatalf("part %d: %v", i, err)
		}
	}
	h.requireState(t, alice, weth, new(uint256.Int), new(uint256.Int))
}

// ============================================================================
// Test: Solvency
// ============================================================================

func TestCheckSolvency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.vault.Deposit(ctx, alice, usdc, units("40", 6))
	h.vault.Deposit(ctx, alice, weth, units("1", 18))

	if err := h.vault.CheckSolvency(h.custodian); err != nil {
		t.Fatalf("funded custody: %v", err)
	}
	if !h.vault.Available().Eq(usd("7960")) {
		t.Errorf("available: got %s", h.vault.Available().Dec())
	}

	// Custody drained behind the ledger's back.
	h.custodian.RestoreCustody(usdc, units("39", 6))

	err := h.vault.CheckSolvency(h.custodian)
	var insolvent *core.InsolventError
	if !errors.As(err, &insolvent) {
		t.Fatalf("expected InsolventError, got %v", err)
	}
	if insolvent.Asset != usdc || !insolvent.Owed.Eq(units("40", 6)) || !insolvent.Held.Eq(units("39", 6)) {
		t.Errorf("unexpected error fields %+v", insolvent)
	}
	if c, _ := core.Classify(err); c != core.CategoryInternal {
		t.Errorf("category: %s", c)
	}
}
