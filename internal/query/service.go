package query

import (
	"CustodyVault/internal/persistence"
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// QueryService provides read-only access to the persisted journal. Live
// balances and prices are served from memory by the vault; this service
// answers history and audit questions. Responses carry as_of_sequence, the
// last journal sequence persisted when the query ran.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// ListJournals returns a user's deposits and withdrawals, newest first.
// beforeSequence, when positive, restricts the page to older entries.
func (qs *QueryService) ListJournals(
	ctx context.Context,
	user common.Address,
	limit int,
	beforeSequence int64,
) (*JournalPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT ` + persistence.JournalColumns + `
		FROM custody.journal
		WHERE user_address = $1 AND kind IN ('deposit', 'withdrawal')
	`
	args := []interface{}{user.Bytes()}
	argIdx := 2

	if beforeSequence > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit+1)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &JournalPage{Entries: []JournalEntry{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		j, err := persistence.ScanJournal(rows)
		if err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, newJournalEntry(j))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The extra row only tells us another page exists.
	if len(page.Entries) > limit {
		page.Entries = page.Entries[:limit]
		page.NextBefore = page.Entries[limit-1].Sequence
	}
	return page, nil
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and that the state tables
// agree with the journal.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	// Each entry's prev_hash must equal its predecessor's state_hash, and
	// sequences must be gapless.
	rows, err := qs.db.QueryContext(ctx, `
		SELECT j1.sequence
		FROM custody.journal j1
		LEFT JOIN custody.journal j2 ON j2.sequence = j1.sequence - 1
		WHERE j1.sequence > 1 AND (j2.sequence IS NULL OR j1.prev_hash != j2.state_hash)
		ORDER BY j1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT b.user_address, b.asset, b.amount::text, j.balance_after::text, j.sequence
		FROM custody.balances b
		JOIN LATERAL (
			SELECT balance_after, sequence FROM custody.journal
			WHERE user_address = b.user_address AND asset = b.asset
			  AND kind IN ('deposit', 'withdrawal')
			ORDER BY sequence DESC LIMIT 1
		) j ON TRUE
		WHERE b.amount != j.balance_after
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var user, asset []byte
		var m BalanceMismatch
		if err := balanceRows.Scan(&user, &asset, &m.Stored, &m.Journal, &m.Sequence); err != nil {
			return nil, err
		}
		m.User = common.BytesToAddress(user).Hex()
		m.Asset = common.BytesToAddress(asset).Hex()
		report.BalanceMismatch = append(report.BalanceMismatch, m)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(
			(SELECT t.total_value != j.total_after
			 FROM custody.ledger_total t,
			      (SELECT total_after FROM custody.journal
			       WHERE kind IN ('deposit', 'withdrawal')
			       ORDER BY sequence DESC LIMIT 1) j
			 WHERE t.id = 1),
			FALSE)
	`).Scan(&report.TotalMismatch)
	if err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.BalanceMismatch) == 0 && !report.TotalMismatch
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT sequence FROM custody.ledger_total WHERE id = 1
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
