package risk

import (
	fpmath "CustodyVault/internal/math"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// CapExceededError is returned when a deposit would push the ledger total
// past the global cap. Values are unit of account, 8 decimals.
type CapExceededError struct {
	Available *uint256.Int
	Attempted *uint256.Int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("global cap exceeded: available=%s, attempted=%s",
		fpmath.FormatUnits(e.Available, fpmath.UnitPrecision), fpmath.FormatUnits(e.Attempted, fpmath.UnitPrecision))
}

// WithdrawalLimitExceededError is returned when a single withdrawal is
// worth more than the per-transaction limit.
type WithdrawalLimitExceededError struct {
	Requested *uint256.Int
	Limit     *uint256.Int
}

func (e *WithdrawalLimitExceededError) Error() string {
	return fmt.Sprintf("withdrawal limit exceeded: requested=%s, limit=%s",
		fpmath.FormatUnits(e.Requested, fpmath.UnitPrecision), fpmath.FormatUnits(e.Limit, fpmath.UnitPrecision))
}

// TotalValueExceededError is returned when a withdrawal is worth more than
// the whole recorded total. That happens when the asset's price rose since
// it was deposited, or when deposits were small enough to value at zero
// after truncation while their sum does not. Splitting the withdrawal into
// parts each worth no more than Held succeeds.
type TotalValueExceededError struct {
	Requested *uint256.Int
	Held      *uint256.Int
}

func (e *TotalValueExceededError) Error() string {
	return fmt.Sprintf("withdrawal value exceeds total value held: requested=%s, held=%s; withdraw in smaller parts",
		fpmath.FormatUnits(e.Requested, fpmath.UnitPrecision), fpmath.FormatUnits(e.Held, fpmath.UnitPrecision))
}

// Enforcer owns totalValueHeld. Record and Release are the only mutators;
// they take the value already computed for the admission check.
type Enforcer struct {
	mu              sync.RWMutex
	globalCap       *uint256.Int
	withdrawalLimit *uint256.Int
	total           *uint256.Int
}

func NewEnforcer(globalCap, withdrawalLimit *uint256.Int) *Enforcer {
	return &Enforcer{
		globalCap:       globalCap.Clone(),
		withdrawalLimit: withdrawalLimit.Clone(),
		total:           new(uint256.Int),
	}
}

// AdmitDeposit accepts value if total + value <= cap.
func (e *Enforcer) AdmitDeposit(value *uint256.Int) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	available := e.availableLocked()
	if value.Gt(available) {
		return &CapExceededError{Available: available, Attempted: value.Clone()}
	}
	return nil
}

// AdmitWithdrawal accepts value if value <= limit and value <= total, so
// the Release that follows cannot underflow.
func (e *Enforcer) AdmitWithdrawal(value *uint256.Int) error {
	if value.Gt(e.withdrawalLimit) {
		return &WithdrawalLimitExceededError{Requested: value.Clone(), Limit: e.withdrawalLimit.Clone()}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if value.Gt(e.total) {
		return &TotalValueExceededError{Requested: value.Clone(), Held: e.total.Clone()}
	}
	return nil
}

// Record adds an admitted deposit value and returns the new total.
func (e *Enforcer) Record(value *uint256.Int) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, overflow := new(uint256.Int).AddOverflow(e.total, value)
	if overflow {
		panic(fmt.Sprintf("RISK_TOTAL_OVERFLOW: total=%s value=%s", e.total.Dec(), value.Dec()))
	}
	e.total = next
	return next.Clone()
}

// Release subtracts a withdrawn value and returns the new total. Going below
// zero means the bookkeeping is broken.
func (e *Enforcer) Release(value *uint256.Int) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, underflow := new(uint256.Int).SubOverflow(e.total, value)
	if underflow {
		panic(fmt.Sprintf("RISK_TOTAL_UNDERFLOW: total=%s value=%s", e.total.Dec(), value.Dec()))
	}
	e.total = next
	return next.Clone()
}

// TotalValueHeld returns a copy of the running total.
func (e *Enforcer) TotalValueHeld() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.total.Clone()
}

// Available returns cap - total, floored at zero.
func (e *Enforcer) Available() *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.availableLocked()
}

func (e *Enforcer) GlobalCap() *uint256.Int       { return e.globalCap.Clone() }
func (e *Enforcer) WithdrawalLimit() *uint256.Int { return e.withdrawalLimit.Clone() }

// Restore sets the total from persisted state. Only valid before the
// service starts accepting requests.
func (e *Enforcer) Restore(total *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total = total.Clone()
}

func (e *Enforcer) availableLocked() *uint256.Int {
	available, ok := fpmath.SubChecked(e.globalCap, e.total)
	if !ok {
		// Cap lowered below the current total by configuration.
		return new(uint256.Int)
	}
	return available
}
