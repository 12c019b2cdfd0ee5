package persistence

import (
	"CustodyVault/internal/ledger"
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceRow is the post-batch balance of one (user, asset) pair.
type BalanceRow struct {
	Key      ledger.BalanceKey
	Amount   *uint256.Int
	Sequence int64
}

// AssetRow is the post-batch configuration of one asset.
type AssetRow struct {
	Asset    ledger.Asset
	Sequence int64
}

// Batch is a run of sealed journals plus the custody state they leave
// behind. Only the last write per balance key and per asset is kept.
type Batch struct {
	Journals []ledger.Journal
	Balances []BalanceRow
	Assets   []AssetRow
	Total    *uint256.Int // nil when the batch has no transfers
	Sequence int64
}

// NewBatch folds journals, in sequence order, into the rows to write.
func NewBatch(journals []ledger.Journal) Batch {
	b := Batch{Journals: journals}

	balanceIdx := make(map[ledger.BalanceKey]int)
	assetIdx := make(map[common.Address]int)

	for _, j := range journals {
		b.Sequence = j.Sequence

		if j.Kind.IsTransfer() {
			key := ledger.NewBalanceKey(j.User, j.Asset)
			row := BalanceRow{Key: key, Amount: j.BalanceAfter, Sequence: j.Sequence}
			if i, ok := balanceIdx[key]; ok {
				b.Balances[i] = row
			} else {
				balanceIdx[key] = len(b.Balances)
				b.Balances = append(b.Balances, row)
			}
			b.Total = j.TotalAfter
			continue
		}

		row := AssetRow{
			Asset: ledger.Asset{
				Address:     j.Asset,
				Decimals:    j.Decimals,
				Supported:   j.Supported,
				PriceSource: j.PriceSource,
			},
			Sequence: j.Sequence,
		}
		if i, ok := assetIdx[j.Asset]; ok {
			b.Assets[i] = row
		} else {
			assetIdx[j.Asset] = len(b.Assets)
			b.Assets = append(b.Assets, row)
		}
	}
	return b
}

// StateWriter writes journal batches and the custody state tables using
// multi-row statements inside the caller's transaction. Every statement is
// idempotent, so a retried batch converges to the same rows.
type StateWriter struct {
	db *sql.DB
}

func NewStateWriter(db *sql.DB) *StateWriter {
	return &StateWriter{db: db}
}

// Write persists b in a single transaction.
func (w *StateWriter) Write(ctx context.Context, b Batch) (stage string, err error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return "tx_begin", err
	}
	defer tx.Rollback()

	if err := w.WriteJournals(ctx, tx, b.Journals); err != nil {
		return "write_journals", err
	}
	if err := w.UpsertBalances(ctx, tx, b.Balances); err != nil {
		return "write_balances", err
	}
	if err := w.UpsertAssets(ctx, tx, b.Assets); err != nil {
		return "write_assets", err
	}
	if err := w.UpdateTotal(ctx, tx, b.Total, b.Sequence); err != nil {
		return "write_total", err
	}

	if err := tx.Commit(); err != nil {
		return "tx_commit", err
	}
	return "", nil
}

// WriteJournals appends journal rows. Rows already present are skipped.
func (w *StateWriter) WriteJournals(ctx context.Context, tx *sql.Tx, journals []ledger.Journal) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 15
	query := `INSERT INTO custody.journal
		(sequence, journal_id, kind, user_address, asset, amount, value, balance_after, total_after,
		 decimals, supported, price_source, timestamp_us, prev_hash, state_hash)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.Sequence, j.JournalID, string(j.Kind), j.User.Bytes(), j.Asset.Bytes(),
			numeric(j.Amount), numeric(j.Value), numeric(j.BalanceAfter), numeric(j.TotalAfter),
			int16(j.Decimals), j.Supported, j.PriceSource, j.Timestamp,
			j.PrevHash[:], j.StateHash[:],
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertBalances stores post-batch balances. An older sequence never
// overwrites a newer one.
func (w *StateWriter) UpsertBalances(ctx context.Context, tx *sql.Tx, rows []BalanceRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 4
	query := `INSERT INTO custody.balances (user_address, asset, amount, sequence) VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)

	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, r.Key.User.Bytes(), r.Key.Asset.Bytes(), numeric(r.Amount), r.Sequence)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (user_address, asset) DO UPDATE
		SET amount = EXCLUDED.amount, sequence = EXCLUDED.sequence, updated_at = NOW()
		WHERE custody.balances.sequence < EXCLUDED.sequence`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertAssets stores post-batch asset configuration.
func (w *StateWriter) UpsertAssets(ctx context.Context, tx *sql.Tx, rows []AssetRow) error {
	if len(rows) == 0 {
		return nil
	}

	const cols = 5
	query := `INSERT INTO custody.assets (asset, decimals, supported, price_source, sequence) VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*cols)

	for i, r := range rows {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, r.Asset.Address.Bytes(), int16(r.Asset.Decimals), r.Asset.Supported, r.Asset.PriceSource, r.Sequence)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (asset) DO UPDATE
		SET decimals = EXCLUDED.decimals, supported = EXCLUDED.supported,
		    price_source = EXCLUDED.price_source, sequence = EXCLUDED.sequence, updated_at = NOW()
		WHERE custody.assets.sequence < EXCLUDED.sequence`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpdateTotal advances the ledger_total watermark to sequence, replacing the
// stored total when one is given.
func (w *StateWriter) UpdateTotal(ctx context.Context, tx *sql.Tx, total *uint256.Int, sequence int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE custody.ledger_total
		SET total_value = COALESCE($1::numeric, total_value),
		    sequence    = $2,
		    updated_at  = NOW()
		WHERE id = 1 AND sequence < $2`,
		numeric(total), sequence,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either a retried batch or a missing row; only the latter is fatal.
		var stored int64
		if err := tx.QueryRowContext(ctx, `SELECT sequence FROM custody.ledger_total WHERE id = 1`).Scan(&stored); err != nil {
			return fmt.Errorf("ledger_total: %w", err)
		}
	}
	return nil
}

func placeholders(base, n int) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", base+k)
	}
	sb.WriteByte(')')
	return sb.String()
}

// numeric renders a 256-bit value for a NUMERIC(78,0) column.
func numeric(v *uint256.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.Dec()
}
