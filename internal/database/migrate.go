package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Advisory lock key shared by every process that runs migrations.
const migrationLockID int64 = 8412306

type migration struct {
	version  string
	checksum string
	sql      string
}

// ApplyMigrations runs every pending *.up.sql file in dir, in lexical order,
// each inside its own transaction. Files are checksummed so an already-applied
// migration that was edited afterwards fails loudly instead of silently
// diverging.
func ApplyMigrations(ctx context.Context, db *pgxpool.Pool, dir string) error {
	if dir == "" {
		return errors.New("migrations directory is required")
	}

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	if _, err := db.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = db.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID)
	}()

	pending, err := loadMigrations(dir)
	if err != nil {
		return err
	}

	for _, m := range pending {
		applied, err := appliedChecksum(ctx, db, m.version)
		if err != nil {
			return err
		}
		if applied != "" {
			if applied != m.checksum {
				return fmt.Errorf("migration %s was modified after being applied", m.version)
			}
			continue
		}
		if err := applyOne(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(ctx context.Context, db *pgxpool.Pool, m migration) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("apply %s: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, checksum) VALUES ($1, $2)`,
		m.version, m.checksum); err != nil {
		return fmt.Errorf("record %s: %w", m.version, err)
	}
	return tx.Commit(ctx)
}

func loadMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		sum := sha256.Sum256(raw)

		out = append(out, migration{
			version:  strings.TrimSuffix(name, ".up.sql"),
			checksum: hex.EncodeToString(sum[:]),
			sql:      string(raw),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func appliedChecksum(ctx context.Context, db *pgxpool.Pool, version string) (string, error) {
	var checksum string
	err := db.QueryRow(ctx,
		`SELECT checksum FROM schema_migrations WHERE version = $1`, version,
	).Scan(&checksum)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read migration state %s: %w", version, err)
	}
	return checksum, nil
}
