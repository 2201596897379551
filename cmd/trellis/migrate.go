package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/trellisdb/trellis/internal/cli"
	"github.com/trellisdb/trellis/pkg/migrator"
	"github.com/trellisdb/trellis/pkg/model"
)

var (
	migrateDB     string
	migrateModel  string
	migrateDryRun bool
	migrateForce  bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply model to database",
	Long: `Materialize the application model into PostgreSQL tables, relation columns
and join tables. Each run is recorded in the trellis_migrations table; runs
with an unchanged model are skipped.`,
	Example: `  # Apply model to database
  trellis migrate --db postgres://localhost/mydb

  # Preview migration without applying
  trellis migrate --db postgres://localhost/mydb --dry-run

  # Re-apply even when the model is unchanged
  trellis migrate --db postgres://localhost/mydb --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath := resolveString(migrateModel, cfg.Model)
		dryRun := resolveBool(migrateDryRun, cfg.Migrate.DryRun)

		content, err := os.ReadFile(modelPath)
		if err != nil {
			return cli.ModelParseError("reading model", err)
		}
		app, err := model.LoadApplication(content)
		if err != nil {
			return cli.ModelParseError("parsing model", err)
		}

		if dryRun {
			m := migrator.NewMigrator(nil)
			_, err := m.Migrate(context.Background(), app, string(content),
				migrator.Options{DryRun: os.Stdout})
			return err
		}

		dsn, err := resolveDSN(migrateDB)
		if err != nil {
			return err
		}
		db, err := openDB(dsn)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		m := migrator.NewMigrator(db)
		applied, err := m.Migrate(context.Background(), app, string(content),
			migrator.Options{Force: migrateForce})
		if err != nil {
			return cli.GeneralError("applying model", err)
		}

		if quiet {
			return nil
		}
		if applied {
			fmt.Println("Model applied successfully.")
		} else {
			fmt.Println("Model unchanged, nothing to do.")
		}
		return nil
	},
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&migrateDB, "db", "", "database URL")
	f.StringVar(&migrateModel, "model", "", "path to the application model file")
	f.BoolVar(&migrateDryRun, "dry-run", false, "output migration SQL without applying")
	f.BoolVar(&migrateForce, "force", false, "re-apply even when the model is unchanged")
}

// resolveDSN gets the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

// openDB opens and pings a PostgreSQL connection.
func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, cli.DBConnectError("connecting to database", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, cli.DBConnectError("connecting to database", err)
	}
	return db, nil
}

func runStatements(dsn string, stmts []string, done string) error {
	db, err := openDB(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	for _, s := range stmts {
		if verbose > 0 {
			fmt.Fprintln(os.Stderr, s+";")
		}
		if _, err := db.ExecContext(ctx, s); err != nil {
			return cli.GeneralError("applying statement", err)
		}
	}

	if !quiet {
		fmt.Println(done)
	}
	return nil
}
