package query

import (
	"CustodyVault/internal/ledger"
	"encoding/hex"
	"time"

	"github.com/holiman/uint256"
)

// JournalEntry is a transfer journal as returned by history queries.
// 256-bit amounts are decimal strings.
type JournalEntry struct {
	JournalID    string    `json:"journal_id"`
	Sequence     int64     `json:"sequence"`
	Kind         string    `json:"kind"`
	User         string    `json:"user"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount"`
	Value        string    `json:"value"`         // unit of account, 8 decimals
	BalanceAfter string    `json:"balance_after"` // user's balance after the entry
	TotalAfter   string    `json:"total_after"`
	Timestamp    time.Time `json:"timestamp"`
	StateHash    string    `json:"state_hash"`
}

func newJournalEntry(j ledger.Journal) JournalEntry {
	return JournalEntry{
		JournalID:    j.JournalID.String(),
		Sequence:     j.Sequence,
		Kind:         string(j.Kind),
		User:         j.User.Hex(),
		Asset:        j.Asset.Hex(),
		Amount:       decString(j.Amount),
		Value:        decString(j.Value),
		BalanceAfter: decString(j.BalanceAfter),
		TotalAfter:   decString(j.TotalAfter),
		Timestamp:    time.UnixMicro(j.Timestamp).UTC(),
		StateHash:    hex.EncodeToString(j.StateHash[:]),
	}
}

// JournalPage is one page of history, newest first. NextBefore is the
// cursor for the following page, zero when there is none.
type JournalPage struct {
	Entries      []JournalEntry `json:"entries"`
	NextBefore   int64          `json:"next_before,omitempty"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool              `json:"is_healthy"`
	HashChainBreaks []int64           `json:"hash_chain_breaks,omitempty"`
	BalanceMismatch []BalanceMismatch `json:"balance_mismatch,omitempty"`
	TotalMismatch   bool              `json:"total_mismatch,omitempty"`
	AsOfSequence    int64             `json:"as_of_sequence"`
}

// BalanceMismatch is a stored balance that differs from the balance its
// last journal entry recorded.
type BalanceMismatch struct {
	User     string `json:"user"`
	Asset    string `json:"asset"`
	Stored   string `json:"stored"`
	Journal  string `json:"journal"`
	Sequence int64  `json:"sequence"`
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
