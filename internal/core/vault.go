package core

import (
	"CustodyVault/internal/ledger"
	fpmath "CustodyVault/internal/math"
	"CustodyVault/internal/observability"
	"CustodyVault/internal/oracle"
	"CustodyVault/internal/risk"
	"CustodyVault/internal/transport"
	"CustodyVault/internal/valuation"
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Transport moves assets between external wallets and custody.
type Transport interface {
	PullIn(ctx context.Context, asset, from common.Address, amount *uint256.Int) error
	PushOut(ctx context.Context, asset, to common.Address, amount *uint256.Int) error
}

// Valuer prices amounts in the unit of account.
type Valuer interface {
	ValueOf(ctx context.Context, asset common.Address, amount *uint256.Int) (valuation.Valuation, error)
	PriceOf(ctx context.Context, asset common.Address) (oracle.Quote, error)
}

// SourceValidator checks oracle references before they are stored.
type SourceValidator interface {
	Validate(ref string) error
}

// Config wires a Vault. Registry, Balances, Enforcer, Valuer, Transport and
// Journals are required; the rest may be left zero.
type Config struct {
	Registry  *ledger.AssetRegistry
	Balances  *ledger.BalanceTracker
	Enforcer  *risk.Enforcer
	Valuer    Valuer
	Transport Transport
	Journals  *ledger.JournalGenerator
	Sources   SourceValidator

	// PersistChan receives every sealed journal with a blocking send.
	PersistChan chan<- ledger.Journal
	// PublishChan receives every sealed journal with a non-blocking send.
	PublishChan chan<- ledger.Journal

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Vault is the operation orchestrator. Every mutating entry point runs under
// a single process-wide latch and in checks-effects-interactions order:
// funds are pulled before the ledger is credited, and the ledger is debited
// before funds are pushed out. Reads never take the latch.
type Vault struct {
	latch atomic.Bool

	registry  *ledger.AssetRegistry
	balances  *ledger.BalanceTracker
	enforcer  *risk.Enforcer
	valuer    Valuer
	transport Transport
	journals  *ledger.JournalGenerator
	sources   SourceValidator

	persistChan chan<- ledger.Journal
	publishChan chan<- ledger.Journal

	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewVault(cfg Config) *Vault {
	v := &Vault{
		registry:    cfg.Registry,
		balances:    cfg.Balances,
		enforcer:    cfg.Enforcer,
		valuer:      cfg.Valuer,
		transport:   cfg.Transport,
		journals:    cfg.Journals,
		sources:     cfg.Sources,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
		metrics:     cfg.Metrics,
		log:         cfg.Logger,
	}
	v.updateGauges()
	return v
}

// ============================================================================
// Deposit / Withdraw
// ============================================================================

// Deposit pulls amount of asset from user into custody and credits the
// user's balance with it.
func (v *Vault) Deposit(ctx context.Context, user, asset common.Address, amount *uint256.Int) (j ledger.Journal, err error) {
	const op = "deposit"
	if !v.latch.CompareAndSwap(false, true) {
		return ledger.Journal{}, v.reject(op, ErrReentrancy)
	}
	defer v.latch.Store(false)
	defer v.observe(op, time.Now(), &err)

	// Validated
	if amount == nil || amount.IsZero() {
		return ledger.Journal{}, ErrZeroAmount
	}
	if _, err := v.registry.Resolve(asset); err != nil {
		return ledger.Journal{}, err
	}

	// Valued
	val, err := v.valuer.ValueOf(ctx, asset, amount)
	if err != nil {
		return ledger.Journal{}, err
	}

	// Capped
	if err := v.enforcer.AdmitDeposit(val.Value); err != nil {
		return ledger.Journal{}, err
	}
	if err := v.balances.CanCredit(user, asset, amount); err != nil {
		return ledger.Journal{}, err
	}

	// Transferred in. Nothing has been mutated yet, so a failed pull needs
	// no rollback.
	if err := v.transport.PullIn(ctx, asset, user, amount); err != nil {
		return ledger.Journal{}, v.transferFailed(transport.DirectionIn, asset, user, amount, err)
	}

	// Mutated
	balanceAfter, err := v.balances.Credit(user, asset, amount)
	if err != nil {
		panic(fmt.Sprintf("VAULT_CREDIT_AFTER_PULL: %s: %v", ledger.NewBalanceKey(user, asset).Path(), err))
	}
	totalAfter := v.enforcer.Record(val.Value)

	j = v.journals.Deposit(user, asset, amount, val.Value, balanceAfter, totalAfter)
	v.commit(&j)

	v.log.Info().
		Str("user", user.Hex()).
		Str("asset", asset.Hex()).
		Str("amount", amount.Dec()).
		Str("value", fpmath.FormatUnits(val.Value, fpmath.UnitPrecision)).
		Str("total", fpmath.FormatUnits(totalAfter, fpmath.UnitPrecision)).
		Int64("sequence", j.Sequence).
		Msg("deposit committed")

	return j, nil
}

// Withdraw debits the user's balance and pushes amount of asset out of
// custody. If the push fails or panics the debit is reversed before the
// latch is released, so the operation is all-or-nothing.
func (v *Vault) Withdraw(ctx context.Context, user, asset common.Address, amount *uint256.Int) (j ledger.Journal, err error) {
	const op = "withdraw"
	if !v.latch.CompareAndSwap(false, true) {
		return ledger.Journal{}, v.reject(op, ErrReentrancy)
	}
	defer v.latch.Store(false)
	defer v.observe(op, time.Now(), &err)

	// Validated
	if amount == nil || amount.IsZero() {
		return ledger.Journal{}, ErrZeroAmount
	}
	if _, err := v.registry.Resolve(asset); err != nil {
		return ledger.Journal{}, err
	}

	// Valued
	val, err := v.valuer.ValueOf(ctx, asset, amount)
	if err != nil {
		return ledger.Journal{}, err
	}

	// Capped
	if err := v.enforcer.AdmitWithdrawal(val.Value); err != nil {
		return ledger.Journal{}, err
	}

	// Mutated
	balanceAfter, err := v.balances.Debit(user, asset, amount)
	if err != nil {
		return ledger.Journal{}, err
	}
	totalAfter := v.enforcer.Release(val.Value)

	staged := v.journals.Withdrawal(user, asset, amount, val.Value, balanceAfter, totalAfter)

	// Transferred out
	if err := v.pushOut(ctx, user, asset, amount, val.Value); err != nil {
		return ledger.Journal{}, v.transferFailed(transport.DirectionOut, asset, user, amount, err)
	}

	j = staged
	v.commit(&j)

	v.log.Info().
		Str("user", user.Hex()).
		Str("asset", asset.Hex()).
		Str("amount", amount.Dec()).
		Str("value", fpmath.FormatUnits(val.Value, fpmath.UnitPrecision)).
		Str("total", fpmath.FormatUnits(totalAfter, fpmath.UnitPrecision)).
		Int64("sequence", j.Sequence).
		Msg("withdrawal committed")

	return j, nil
}

// pushOut sends a debited withdrawal out of custody. Unless the transport
// settles, the debit and the released value are reversed before returning,
// including when the transport panics; the panic is then re-raised.
func (v *Vault) pushOut(ctx context.Context, user, asset common.Address, amount, value *uint256.Int) (err error) {
	settled := false
	defer func() {
		if settled {
			return
		}
		r := recover()
		v.rollbackWithdrawal(user, asset, amount, value)
		if r != nil {
			panic(r)
		}
	}()

	err = v.transport.PushOut(ctx, asset, user, amount)
	settled = err == nil
	return err
}

// rollbackWithdrawal restores the debit and the released value. Both were
// applied moments earlier under the same latch, so neither can fail.
func (v *Vault) rollbackWithdrawal(user, asset common.Address, amount, value *uint256.Int) {
	if _, err := v.balances.Credit(user, asset, amount); err != nil {
		panic(fmt.Sprintf("VAULT_ROLLBACK_CREDIT: %s: %v", ledger.NewBalanceKey(user, asset).Path(), err))
	}
	v.enforcer.Record(value)

	v.log.Warn().
		Str("user", user.Hex()).
		Str("asset", asset.Hex()).
		Str("amount", amount.Dec()).
		Msg("withdrawal rolled back after transport failure")
}

// ============================================================================
// Administration
// ============================================================================

// RegisterAsset adds an asset. The caller is trusted to have passed the
// administrative gate.
func (v *Vault) RegisterAsset(ctx context.Context, a ledger.Asset) (j ledger.Journal, err error) {
	const op = "register_asset"
	if !v.latch.CompareAndSwap(false, true) {
		return ledger.Journal{}, v.reject(op, ErrReentrancy)
	}
	defer v.latch.Store(false)
	defer v.observe(op, time.Now(), &err)

	if !a.IsNative() {
		if err := v.validateSource(a.PriceSource); err != nil {
			return ledger.Journal{}, err
		}
	}
	if err := v.registry.Register(a); err != nil {
		return ledger.Journal{}, err
	}

	j = v.journals.AssetRegistered(a)
	v.commit(&j)

	v.log.Info().
		Str("asset", a.Address.Hex()).
		Uint8("decimals", a.Decimals).
		Bool("supported", a.Supported).
		Str("price_source", v.registry.PriceSourceOf(a)).
		Msg("asset registered")

	return j, nil
}

// SetPriceSource re-points a registered asset's oracle reference.
func (v *Vault) SetPriceSource(ctx context.Context, asset common.Address, ref string) (j ledger.Journal, err error) {
	const op = "set_price_source"
	if !v.latch.CompareAndSwap(false, true) {
		return ledger.Journal{}, v.reject(op, ErrReentrancy)
	}
	defer v.latch.Store(false)
	defer v.observe(op, time.Now(), &err)

	if asset != ledger.NativeAsset {
		if err := v.validateSource(ref); err != nil {
			return ledger.Journal{}, err
		}
	}
	a, err := v.registry.SetPriceSource(asset, ref)
	if err != nil {
		return ledger.Journal{}, err
	}

	j = v.journals.PriceSourceUpdated(a)
	v.commit(&j)

	v.log.Info().Str("asset", asset.Hex()).Str("price_source", ref).Msg("price source updated")
	return j, nil
}

// SetAssetSupported enables or disables operations against an asset.
// Existing balances are kept either way.
func (v *Vault) SetAssetSupported(ctx context.Context, asset common.Address, supported bool) (j ledger.Journal, err error) {
	const op = "set_asset_supported"
	if !v.latch.CompareAndSwap(false, true) {
		return ledger.Journal{}, v.reject(op, ErrReentrancy)
	}
	defer v.latch.Store(false)
	defer v.observe(op, time.Now(), &err)

	a, err := v.registry.SetSupported(asset, supported)
	if err != nil {
		return ledger.Journal{}, err
	}

	j = v.journals.AssetSupportChanged(a)
	v.commit(&j)

	v.log.Info().Str("asset", asset.Hex()).Bool("supported", supported).Msg("asset support changed")
	return j, nil
}

// ============================================================================
// Reads (never take the latch)
// ============================================================================

// GetBalance returns the user's balance of asset in native units.
func (v *Vault) GetBalance(user, asset common.Address) *uint256.Int {
	return v.balances.GetBalance(user, asset)
}

// GetPrice returns the current validated quote for asset.
func (v *Vault) GetPrice(ctx context.Context, asset common.Address) (oracle.Quote, error) {
	q, err := v.valuer.PriceOf(ctx, asset)
	if err != nil {
		v.countOracleFailure(err)
	}
	return q, err
}

// TotalValueHeld returns the running ledger total in unit of account.
func (v *Vault) TotalValueHeld() *uint256.Int {
	return v.enforcer.TotalValueHeld()
}

// Available returns the headroom left under the global cap.
func (v *Vault) Available() *uint256.Int {
	return v.enforcer.Available()
}

// Limits returns the configured global cap and per-withdrawal limit.
func (v *Vault) Limits() (globalCap, withdrawalLimit *uint256.Int) {
	return v.enforcer.GlobalCap(), v.enforcer.WithdrawalLimit()
}

// Asset returns the registry entry for addr.
func (v *Vault) Asset(addr common.Address) (ledger.Asset, bool) {
	return v.registry.Get(addr)
}

// Assets returns every registered asset.
func (v *Vault) Assets() []ledger.Asset {
	return v.registry.All()
}

// Custodian reports what the asset transport actually holds in custody.
type Custodian interface {
	Custody(asset common.Address) *uint256.Int
}

// CheckSolvency verifies that the custodian holds at least the ledger's
// summed balance of every asset. Pull-before-credit and debit-before-push
// keep custody >= ledger at every instant, so it is safe to call while
// operations run.
func (v *Vault) CheckSolvency(c Custodian) error {
	owed := ledger.SumByAsset(v.balances.Snapshot())

	assets := make([]common.Address, 0, len(owed))
	for asset := range owed {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool { return bytes.Compare(assets[i][:], assets[j][:]) < 0 })

	for _, asset := range assets {
		if held := c.Custody(asset); held.Lt(owed[asset]) {
			return &InsolventError{Asset: asset, Owed: owed[asset], Held: held}
		}
	}
	return nil
}

// ============================================================================
// Internals
// ============================================================================

func (v *Vault) validateSource(ref string) error {
	if v.sources == nil {
		return nil
	}
	if err := v.sources.Validate(ref); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidPriceSource, err)
	}
	return nil
}

// commit seals j into the chain and hands it to persistence and
// publication. Persistence uses a blocking send so no journal is lost;
// publication drops when its channel is full.
func (v *Vault) commit(j *ledger.Journal) {
	if err := v.journals.Seal(j); err != nil {
		panic(fmt.Sprintf("VAULT_JOURNAL_SEAL: %v", err))
	}

	if v.persistChan != nil {
		v.persistChan <- *j
	}
	if v.publishChan != nil {
		select {
		case v.publishChan <- *j:
		default:
			if v.metrics != nil {
				v.metrics.PublishDrops.Inc()
			}
		}
	}

	v.updateGauges()
}

func (v *Vault) transferFailed(dir transport.Direction, asset, counterparty common.Address, amount *uint256.Int, err error) error {
	if v.metrics != nil {
		v.metrics.TransferFailures.WithLabelValues(string(dir)).Inc()
	}
	return &TransferFailedError{
		Direction:    dir,
		Asset:        asset,
		Counterparty: counterparty,
		Amount:       amount.Clone(),
		Err:          err,
	}
}

func (v *Vault) reject(op string, err error) error {
	if errors.Is(err, ErrReentrancy) && v.metrics != nil {
		v.metrics.ReentrancyRejections.Inc()
	}
	v.observe(op, time.Now(), &err)
	return err
}

// observe records the outcome of an operation. It is deferred with a
// pointer to the named error result.
func (v *Vault) observe(op string, start time.Time, errp *error) {
	err := *errp
	category, reason := Classify(err)

	if err != nil {
		v.countOracleFailure(err)
		v.log.Debug().
			Str("operation", op).
			Str("category", string(category)).
			Str("reason", reason).
			Err(err).
			Msg("operation rejected")
	}

	if v.metrics != nil {
		v.metrics.Operations.WithLabelValues(op, reason).Inc()
		v.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (v *Vault) countOracleFailure(err error) {
	var unavailable *oracle.OracleUnavailableError
	if v.metrics != nil && errors.As(err, &unavailable) {
		v.metrics.OracleFailures.WithLabelValues(unavailable.Reason).Inc()
	}
}

func (v *Vault) updateGauges() {
	if v.metrics == nil {
		return
	}
	total, _ := strconv.ParseFloat(fpmath.FormatUnits(v.enforcer.TotalValueHeld(), fpmath.UnitPrecision), 64)
	v.metrics.TotalValueHeld.Set(total)
	v.metrics.JournalSequence.Set(float64(v.journals.Sequence()))
}
