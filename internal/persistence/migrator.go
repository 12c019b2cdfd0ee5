package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/rs/zerolog"
)

// migrationLockID keys the Postgres advisory lock held while migrating, so
// two vault instances starting together do not apply the same file twice.
const migrationLockID = 0x637573746f6479 // "custody"

var migrationName = regexp.MustCompile(`^(\d{6})_([a-z0-9_]+)\.(up|down)\.sql$`)

var ErrMigrationDrift = errors.New("applied migration differs from file on disk")

// Migration is one versioned schema step with its paired rollback.
type Migration struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// LoadMigrations reads dir and pairs NNNNNN_name.up.sql with its .down.sql.
// A file that does not follow the naming scheme, or an up without a down,
// is an error.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		m := migrationName.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("migration %s: name must be NNNNNN_name.(up|down).sql", e.Name())
		}
		version, name, kind := m[1], m[2], m[3]

		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version, Name: name}
			byVersion[version] = mig
		}
		if mig.Name != name {
			return nil, fmt.Errorf("migration %s: version %s already used by %q", e.Name(), version, mig.Name)
		}
		path := filepath.Join(dir, e.Name())
		if kind == "up" {
			mig.UpPath = path
		} else {
			mig.DownPath = path
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.UpPath == "" || mig.DownPath == "" {
			return nil, fmt.Errorf("migration %s_%s: needs both up and down files", mig.Version, mig.Name)
		}
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// Migrator applies the custody schema under an advisory lock. Each applied
// version is recorded with the checksum of its up file; a later edit to an
// applied file stops start-up with ErrMigrationDrift.
type Migrator struct {
	db  *sql.DB
	dir string
	log zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: migrationsDir, log: log}
}

// Up applies every pending migration in version order, one transaction each.
func (m *Migrator) Up(ctx context.Context) error {
	migrations, err := LoadMigrations(m.dir)
	if err != nil {
		return err
	}

	return m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		pending := 0
		for _, mig := range migrations {
			body, sum, err := readMigration(mig.UpPath)
			if err != nil {
				return err
			}
			if prev, ok := applied[mig.Version]; ok {
				if prev != sum {
					return fmt.Errorf("%w: %s_%s", ErrMigrationDrift, mig.Version, mig.Name)
				}
				continue
			}

			err = inTx(ctx, conn, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, body); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO public.custody_schema_migrations (version, name, checksum) VALUES ($1, $2, $3)`,
					mig.Version, mig.Name, sum)
				return err
			})
			if err != nil {
				return fmt.Errorf("apply %s_%s: %w", mig.Version, mig.Name, err)
			}
			pending++
			m.log.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("applied migration")
		}

		m.log.Info().Int("applied", pending).Int("known", len(migrations)).Msg("schema up to date")
		return nil
	})
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	migrations, err := LoadMigrations(m.dir)
	if err != nil {
		return err
	}

	return m.locked(ctx, func(conn *sql.Conn) error {
		var version string
		err := conn.QueryRowContext(ctx,
			`SELECT version FROM public.custody_schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			m.log.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		var target *Migration
		for i := range migrations {
			if migrations[i].Version == version {
				target = &migrations[i]
			}
		}
		if target == nil {
			return fmt.Errorf("applied version %s has no file in %s", version, m.dir)
		}

		body, _, err := readMigration(target.DownPath)
		if err != nil {
			return err
		}
		err = inTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, body); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM public.custody_schema_migrations WHERE version = $1`, version)
			return err
		})
		if err != nil {
			return fmt.Errorf("roll back %s_%s: %w", target.Version, target.Name, err)
		}

		m.log.Info().Str("version", target.Version).Str("name", target.Name).Msg("rolled back migration")
		return nil
	})
}

// locked runs fn on a dedicated connection holding the migration lock.
// Session-level advisory locks belong to a connection, not the pool.
func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.custody_schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM public.custody_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, err
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

func readMigration(path string) (body, checksum string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read migration: %w", err)
	}
	sum := sha256.Sum256(data)
	return string(data), hex.EncodeToString(sum[:]), nil
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
