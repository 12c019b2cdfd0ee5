package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalKind represents the mutation a journal entry records
type JournalKind string

const (
	JournalKindDeposit             JournalKind = "deposit"
	JournalKindWithdrawal          JournalKind = "withdrawal"
	JournalKindAssetRegistered     JournalKind = "asset_registered"
	JournalKindPriceSourceUpdated  JournalKind = "price_source_updated"
	JournalKindAssetSupportChanged JournalKind = "asset_support_changed"
)

// IsTransfer reports whether the kind moves funds.
func (k JournalKind) IsTransfer() bool {
	return k == JournalKindDeposit || k == JournalKindWithdrawal
}

// Journal is an immutable record of one committed mutation. Transfer kinds
// carry the amount moved, its unit-of-account value and the resulting
// balance and ledger total; admin kinds carry the asset configuration after
// the change.
type Journal struct {
	JournalID uuid.UUID
	Sequence  int64 // Global journal sequence, starts at 1
	Kind      JournalKind
	User      common.Address
	Asset     common.Address

	Amount       *uint256.Int // native units
	Value        *uint256.Int // unit of account, 8 decimals
	BalanceAfter *uint256.Int
	TotalAfter   *uint256.Int

	Decimals    uint8
	Supported   bool
	PriceSource string

	Timestamp int64 // epoch microseconds
	PrevHash  [32]byte
	StateHash [32]byte
}

// Validate ensures the entry is well-formed before it is sealed.
func (j *Journal) Validate() error {
	switch j.Kind {
	case JournalKindDeposit, JournalKindWithdrawal:
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s (%s) has non-positive amount", j.JournalID, j.Kind)
		}
		if j.Value == nil || j.BalanceAfter == nil || j.TotalAfter == nil {
			return fmt.Errorf("journal %s (%s) is missing value or post-state", j.JournalID, j.Kind)
		}
	case JournalKindAssetRegistered, JournalKindPriceSourceUpdated, JournalKindAssetSupportChanged:
		if j.Decimals == 0 {
			return fmt.Errorf("journal %s (%s) has zero decimals", j.JournalID, j.Kind)
		}
	default:
		return fmt.Errorf("journal %s has unknown kind %q", j.JournalID, j.Kind)
	}
	return nil
}

// Digest returns the canonical byte encoding hashed into the state chain.
func (j *Journal) Digest() []byte {
	buf := make([]byte, 0, 16+len(j.Kind)+20+20+4*32+1+1+len(j.PriceSource)+8)

	buf = append(buf, j.JournalID[:]...)
	buf = append(buf, j.Kind...)
	buf = append(buf, j.User.Bytes()...)
	buf = append(buf, j.Asset.Bytes()...)
	for _, v := range []*uint256.Int{j.Amount, j.Value, j.BalanceAfter, j.TotalAfter} {
		word := [32]byte{}
		if v != nil {
			word = v.Bytes32()
		}
		buf = append(buf, word[:]...)
	}
	buf = append(buf, j.Decimals)
	if j.Supported {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, j.PriceSource...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(j.Timestamp))

	return buf
}
