package query_test

import (
	"CustodyVault/internal/ledger"
	"CustodyVault/internal/persistence"
	"CustodyVault/internal/query"
	"CustodyVault/internal/testutil"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	alice = common.HexToAddress("0xA11CE")
	usdc  = common.HexToAddress("0xC0")
)

func migrate(ctx context.Context, db *sql.DB) error {
	return persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx)
}

// seed persists one asset registration followed by n deposits of 1 unit.
func seed(t *testing.T, db *sql.DB, n int) {
	t.Helper()
	gen := ledger.NewJournalGenerator(0, ledger.GenesisHash(), time.Now)

	journals := []ledger.Journal{gen.AssetRegistered(ledger.Asset{
		Address: usdc, Decimals: 6, Supported: true, PriceSource: "feed:USDC-USD",
	})}
	for i := 1; i <= n; i++ {
		bal := uint256.NewInt(uint64(i))
		journals = append(journals, gen.Deposit(alice, usdc, uint256.NewInt(1), uint256.NewInt(100), bal, uint256.NewInt(uint64(i*100))))
	}
	for i := range journals {
		if err := gen.Seal(&journals[i]); err != nil {
			t.Fatalf("seal: %v", err)
		}
	}
	if stage, err := persistence.NewStateWriter(db).Write(context.Background(), persistence.NewBatch(journals)); err != nil {
		t.Fatalf("write (%s): %v", stage, err)
	}
}

func TestListJournalsPagination(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()
	seed(t, db, 5)

	qs := query.NewQueryService(db)

	page, err := qs.ListJournals(context.Background(), alice, 3, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Entries) != 3 || page.Entries[0].Sequence != 6 || page.NextBefore != 4 {
		t.Fatalf("first page: %+v", page)
	}
	if page.AsOfSequence != 6 {
		t.Errorf("as_of_sequence: got %d", page.AsOfSequence)
	}

	page, err = qs.ListJournals(context.Background(), alice, 3, page.NextBefore)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Sequence 1 is the asset registration and is not user history.
	if len(page.Entries) != 2 || page.NextBefore != 0 {
		t.Fatalf("second page: %+v", page)
	}
	if page.Entries[1].Sequence != 2 || page.Entries[1].BalanceAfter != "1" {
		t.Errorf("oldest entry: %+v", page.Entries[1])
	}
}

func TestListJournalsUnknownUser(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()
	seed(t, db, 1)

	page, err := query.NewQueryService(db).ListJournals(context.Background(), common.HexToAddress("0xB0B"), 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Entries) != 0 {
		t.Errorf("expected no entries, got %d", len(page.Entries))
	}
}

func TestVerifyIntegrity(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t, migrate)
	defer cleanup()
	seed(t, db, 3)

	qs := query.NewQueryService(db)
	report, err := qs.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.IsHealthy {
		t.Fatalf("expected healthy report: %+v", report)
	}

	if _, err := db.Exec(`UPDATE custody.balances SET amount = amount + 1`); err != nil {
		t.Fatal(err)
	}
	report, err = qs.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.IsHealthy || len(report.BalanceMismatch) != 1 {
		t.Errorf("expected balance mismatch: %+v", report)
	}
}
