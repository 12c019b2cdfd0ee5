package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator builds journal entries and seals them into the hash chain.
// Built entries are staged: they take no sequence until Seal, so a staged
// entry can be discarded without leaving a gap.
type JournalGenerator struct {
	sequence int64 // last sealed sequence
	hasher   *StateHasher
	now      func() time.Time
}

func NewJournalGenerator(lastSequence int64, tip [32]byte, now func() time.Time) *JournalGenerator {
	if now == nil {
		now = time.Now
	}
	return &JournalGenerator{
		sequence: lastSequence,
		hasher:   NewStateHasherAt(tip),
		now:      now,
	}
}

func (jg *JournalGenerator) Deposit(user, asset common.Address, amount, value, balanceAfter, totalAfter *uint256.Int) Journal {
	return jg.transfer(JournalKindDeposit, user, asset, amount, value, balanceAfter, totalAfter)
}

func (jg *JournalGenerator) Withdrawal(user, asset common.Address, amount, value, balanceAfter, totalAfter *uint256.Int) Journal {
	return jg.transfer(JournalKindWithdrawal, user, asset, amount, value, balanceAfter, totalAfter)
}

func (jg *JournalGenerator) AssetRegistered(a Asset) Journal {
	return jg.admin(JournalKindAssetRegistered, a)
}

func (jg *JournalGenerator) PriceSourceUpdated(a Asset) Journal {
	return jg.admin(JournalKindPriceSourceUpdated, a)
}

func (jg *JournalGenerator) AssetSupportChanged(a Asset) Journal {
	return jg.admin(JournalKindAssetSupportChanged, a)
}

// Seal validates a staged entry, assigns the next sequence and timestamp,
// and links it into the state hash chain.
func (jg *JournalGenerator) Seal(j *Journal) error {
	if err := j.Validate(); err != nil {
		return err
	}

	j.Sequence = jg.sequence + 1
	j.Timestamp = jg.now().UnixMicro()
	j.PrevHash = jg.hasher.Tip()
	j.StateHash = jg.hasher.ComputeHash(j.Sequence, j.Digest())
	jg.sequence = j.Sequence
	return nil
}

// Sequence returns the last sealed sequence.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// Tip returns the hash of the last sealed entry.
func (jg *JournalGenerator) Tip() [32]byte {
	return jg.hasher.Tip()
}

func (jg *JournalGenerator) transfer(kind JournalKind, user, asset common.Address, amount, value, balanceAfter, totalAfter *uint256.Int) Journal {
	return Journal{
		JournalID:    uuid.New(),
		Kind:         kind,
		User:         user,
		Asset:        asset,
		Amount:       amount.Clone(),
		Value:        value.Clone(),
		BalanceAfter: balanceAfter.Clone(),
		TotalAfter:   totalAfter.Clone(),
	}
}

func (jg *JournalGenerator) admin(kind JournalKind, a Asset) Journal {
	return Journal{
		JournalID:   uuid.New(),
		Kind:        kind,
		Asset:       a.Address,
		Decimals:    a.Decimals,
		Supported:   a.Supported,
		PriceSource: a.PriceSource,
	}
}
