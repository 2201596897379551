// Package migrator applies the generated schema of an application model to
// PostgreSQL and tracks what was applied.
//
// The migrator is idempotent and safe to run on every application startup.
// Each successful run records the model checksum in the trellis_migrations
// table; subsequent runs with an unchanged model and DDL version are skipped.
//
// # Usage
//
// Use the convenience functions for most cases:
//
//	applied, err := migrator.MigrateFile(ctx, db, "app.yaml")
//
// Use the Migrator directly for fine-grained control (dry-run, force):
//
//	m := migrator.NewMigrator(db)
//	applied, err := m.Migrate(ctx, app, content, migrator.Options{Force: true})
package migrator

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/lib/pq"

	"github.com/trellisdb/trellis/pkg/ddl"
	"github.com/trellisdb/trellis/pkg/model"
)

// DDLVersion is incremented when schema generation changes. A version bump
// forces re-application even when the model checksum is unchanged.
const DDLVersion = "1"

const migrationsDDL = `CREATE TABLE IF NOT EXISTS trellis_migrations (
    id SERIAL PRIMARY KEY,
    model_checksum TEXT NOT NULL,
    ddl_version TEXT NOT NULL,
    tables TEXT[] NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Options controls migration behavior.
type Options struct {
	// DryRun writes the migration SQL to the writer instead of applying it.
	DryRun io.Writer

	// Force re-applies the schema even when model and DDL version are
	// unchanged.
	Force bool
}

// MigrationRecord is a row of the trellis_migrations tracking table.
type MigrationRecord struct {
	ModelChecksum string
	DDLVersion    string
	Tables        []string
}

// Execer is the slice of database/sql the migrator needs: statement
// execution plus the two query forms used to inspect the tracking table.
// *sql.DB, *sql.Tx and *sql.Conn all satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Migrator applies application models to PostgreSQL.
type Migrator struct {
	db Execer
}

// NewMigrator creates a migrator over the given connection. The Execer is
// typically *sql.DB but can be *sql.Tx for testing.
func NewMigrator(db Execer) *Migrator {
	return &Migrator{db: db}
}

// ComputeModelChecksum returns the SHA-256 hash of the model source, used to
// detect model changes between runs.
func ComputeModelChecksum(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// tableNames returns every table the model materializes, sorted.
func tableNames(app *model.Application) []string {
	var names []string
	for i := range app.Entities {
		names = append(names, app.Entities[i].Table)
	}
	for _, r := range app.Relations {
		if r.Kind == model.ManyToMany {
			names = append(names, r.Join.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Migrate validates the model, generates its schema and applies it
// atomically, recording the run in trellis_migrations. content is the raw
// model source used for change detection; when empty the skip-if-unchanged
// optimization is disabled. The returned bool reports whether anything was
// applied.
func (m *Migrator) Migrate(ctx context.Context, app *model.Application, content string, opts Options) (bool, error) {
	if err := app.Validate(); err != nil {
		return false, err
	}

	var checksum string
	if content != "" {
		checksum = ComputeModelChecksum(content)
	}

	if !opts.Force && opts.DryRun == nil && checksum != "" {
		last, err := m.GetLastMigration(ctx)
		if err != nil {
			return false, fmt.Errorf("checking last migration: %w", err)
		}
		if last != nil && last.ModelChecksum == checksum && last.DDLVersion == DDLVersion {
			return false, nil
		}
	}

	stmts := ddl.CreateTables(app)
	tables := tableNames(app)

	if opts.DryRun != nil {
		m.writeDryRun(opts.DryRun, checksum, stmts, tables)
		return false, nil
	}

	apply := func(db Execer) error {
		if _, err := db.ExecContext(ctx, migrationsDDL); err != nil {
			return fmt.Errorf("creating migrations table: %w", err)
		}
		for i, s := range stmts {
			if _, err := db.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("applying statement %d: %w", i, err)
			}
		}
		if checksum != "" {
			_, err := db.ExecContext(ctx, `
				INSERT INTO trellis_migrations (model_checksum, ddl_version, tables)
				VALUES ($1, $2, $3)`,
				checksum, DDLVersion, pq.Array(tables))
			if err != nil {
				return fmt.Errorf("recording migration: %w", err)
			}
		}
		return nil
	}

	if txer, ok := m.db.(interface {
		BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	}); ok {
		tx, err := txer.BeginTx(ctx, nil)
		if err != nil {
			return false, fmt.Errorf("starting transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := apply(tx); err != nil {
			return false, err
		}
		return true, tx.Commit()
	}
	return true, apply(m.db)
}

// GetLastMigration returns the most recent migration record, or nil when no
// migration has been recorded.
func (m *Migrator) GetLastMigration(ctx context.Context) (*MigrationRecord, error) {
	var tableExists bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relname = 'trellis_migrations'
			AND n.nspname = current_schema()
		)
	`).Scan(&tableExists)
	if err != nil {
		return nil, fmt.Errorf("checking trellis_migrations table: %w", err)
	}
	if !tableExists {
		return nil, nil
	}

	var rec MigrationRecord
	err = m.db.QueryRowContext(ctx, `
		SELECT model_checksum, ddl_version, tables
		FROM trellis_migrations
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&rec.ModelChecksum, &rec.DDLVersion, pq.Array(&rec.Tables))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last migration: %w", err)
	}
	return &rec, nil
}

// writeDryRun writes the migration SQL without applying it.
func (m *Migrator) writeDryRun(w io.Writer, checksum string, stmts, tables []string) {
	_, _ = fmt.Fprintf(w, "-- Trellis migration (dry-run)\n")
	if checksum != "" {
		_, _ = fmt.Fprintf(w, "-- Model checksum: %s\n", checksum)
	}
	_, _ = fmt.Fprintf(w, "-- DDL version: %s\n\n", DDLVersion)

	_, _ = fmt.Fprintf(w, "%s;\n\n", migrationsDDL)
	for _, s := range stmts {
		_, _ = fmt.Fprintf(w, "%s;\n\n", s)
	}

	if checksum != "" {
		quoted := make([]string, len(tables))
		for i, t := range tables {
			quoted[i] = pq.QuoteLiteral(t)
		}
		_, _ = fmt.Fprintf(w, "INSERT INTO trellis_migrations (model_checksum, ddl_version, tables)\n")
		_, _ = fmt.Fprintf(w, "VALUES ('%s', '%s', ARRAY[%s]);\n", checksum, DDLVersion, joinComma(quoted))
	}
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
