package persistence

import (
	"CustodyVault/internal/ledger"
	"CustodyVault/internal/risk"
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Snapshot is the custody state restored from Postgres at start-up.
type Snapshot struct {
	Assets   []ledger.Asset
	Balances map[ledger.BalanceKey]*uint256.Int
	Total    *uint256.Int
	Sequence int64    // last journal sequence
	Tip      [32]byte // state hash of that journal (genesis when empty)
}

// SnapshotLoader reads the state tables and verifies the journal hash chain
// they were derived from.
type SnapshotLoader struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewSnapshotLoader(db *sql.DB, log zerolog.Logger) *SnapshotLoader {
	return &SnapshotLoader{db: db, log: log}
}

// Load restores a Snapshot. It fails if the journal chain is broken or if
// the state tables do not reflect the last journal.
func (sl *SnapshotLoader) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Balances: make(map[ledger.BalanceKey]*uint256.Int)}

	var err error
	if snap.Assets, err = sl.loadAssets(ctx); err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	if err := sl.loadBalances(ctx, snap.Balances); err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}

	var totalSeq int64
	if snap.Total, totalSeq, err = sl.loadTotal(ctx); err != nil {
		return nil, fmt.Errorf("load total: %w", err)
	}

	snap.Sequence, snap.Tip, err = sl.verifyChain(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify journal chain: %w", err)
	}
	if totalSeq != snap.Sequence {
		return nil, fmt.Errorf("ledger_total at sequence %d but journal at %d", totalSeq, snap.Sequence)
	}

	sl.log.Info().
		Int("assets", len(snap.Assets)).
		Int("balances", len(snap.Balances)).
		Str("total", snap.Total.Dec()).
		Int64("sequence", snap.Sequence).
		Msg("custody state loaded")
	return snap, nil
}

// Apply installs the snapshot into empty in-memory components.
func (s *Snapshot) Apply(registry *ledger.AssetRegistry, balances *ledger.BalanceTracker, enforcer *risk.Enforcer) error {
	for _, a := range s.Assets {
		if err := registry.Register(a); err != nil {
			return fmt.Errorf("restore asset %s: %w", a.Address.Hex(), err)
		}
	}
	for key, amount := range s.Balances {
		balances.Restore(key, amount)
	}
	enforcer.Restore(s.Total)
	return nil
}

func (sl *SnapshotLoader) loadAssets(ctx context.Context) ([]ledger.Asset, error) {
	rows, err := sl.db.QueryContext(ctx,
		`SELECT asset, decimals, supported, price_source FROM custody.assets ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []ledger.Asset
	for rows.Next() {
		var (
			addr     []byte
			decimals int16
			a        ledger.Asset
		)
		if err := rows.Scan(&addr, &decimals, &a.Supported, &a.PriceSource); err != nil {
			return nil, err
		}
		a.Address = common.BytesToAddress(addr)
		a.Decimals = uint8(decimals)
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (sl *SnapshotLoader) loadBalances(ctx context.Context, into map[ledger.BalanceKey]*uint256.Int) error {
	rows, err := sl.db.QueryContext(ctx,
		`SELECT user_address, asset, amount::text FROM custody.balances`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var user, asset []byte
		var amount string
		if err := rows.Scan(&user, &asset, &amount); err != nil {
			return err
		}
		v, err := uint256.FromDecimal(amount)
		if err != nil {
			return fmt.Errorf("balance %x/%x: %w", user, asset, err)
		}
		into[ledger.NewBalanceKey(common.BytesToAddress(user), common.BytesToAddress(asset))] = v
	}
	return rows.Err()
}

func (sl *SnapshotLoader) loadTotal(ctx context.Context) (*uint256.Int, int64, error) {
	var total string
	var seq int64
	err := sl.db.QueryRowContext(ctx,
		`SELECT total_value::text, sequence FROM custody.ledger_total WHERE id = 1`,
	).Scan(&total, &seq)
	if err != nil {
		return nil, 0, err
	}
	v, err := uint256.FromDecimal(total)
	if err != nil {
		return nil, 0, err
	}
	return v, seq, nil
}

// verifyChain streams every journal in sequence order through a
// ChainValidator and returns the final sequence and tip.
func (sl *SnapshotLoader) verifyChain(ctx context.Context) (int64, [32]byte, error) {
	rows, err := sl.db.QueryContext(ctx,
		`SELECT `+JournalColumns+` FROM custody.journal ORDER BY sequence ASC`)
	if err != nil {
		return 0, [32]byte{}, err
	}
	defer rows.Close()

	v := ledger.NewChainValidator()
	for rows.Next() {
		j, err := ScanJournal(rows)
		if err != nil {
			return 0, [32]byte{}, err
		}
		if err := v.Verify(&j); err != nil {
			return 0, [32]byte{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return 0, [32]byte{}, err
	}
	return v.Sequence(), v.Tip(), nil
}

// JournalColumns is the column list ScanJournal expects, in order.
const JournalColumns = `sequence, journal_id, kind, user_address, asset,
	amount::text, value::text, balance_after::text, total_after::text,
	decimals, supported, price_source, timestamp_us, prev_hash, state_hash`

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...interface{}) error
}

// ScanJournal reads one journal row selected with JournalColumns.
func ScanJournal(s Scanner) (ledger.Journal, error) {
	var (
		j                                 ledger.Journal
		id                                uuid.UUID
		kind                              string
		user, asset, prevHash, stateHash  []byte
		amount, value, balAfter, totAfter sql.NullString
		decimals                          int16
	)
	if err := s.Scan(
		&j.Sequence, &id, &kind, &user, &asset,
		&amount, &value, &balAfter, &totAfter,
		&decimals, &j.Supported, &j.PriceSource, &j.Timestamp, &prevHash, &stateHash,
	); err != nil {
		return ledger.Journal{}, err
	}

	j.JournalID = id
	j.Kind = ledger.JournalKind(kind)
	j.User = common.BytesToAddress(user)
	j.Asset = common.BytesToAddress(asset)
	j.Decimals = uint8(decimals)
	copy(j.PrevHash[:], prevHash)
	copy(j.StateHash[:], stateHash)

	for _, f := range []struct {
		src sql.NullString
		dst **uint256.Int
	}{
		{amount, &j.Amount},
		{value, &j.Value},
		{balAfter, &j.BalanceAfter},
		{totAfter, &j.TotalAfter},
	} {
		if !f.src.Valid {
			continue
		}
		v, err := uint256.FromDecimal(f.src.String)
		if err != nil {
			return ledger.Journal{}, fmt.Errorf("journal %d: %w", j.Sequence, err)
		}
		*f.dst = v
	}
	return j, nil
}
