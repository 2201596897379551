package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellisdb/trellis/internal/cli"
	"github.com/trellisdb/trellis/pkg/ddl"
	"github.com/trellisdb/trellis/pkg/model"
)

var (
	dropDB     string
	dropModel  string
	dropDryRun bool
	dropForce  bool
)

var dropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Remove model tables from database",
	Long:  `Drop every table migrate created for the application model, join tables first. Destructive; requires --force.`,
	Example: `  # Preview drop SQL
  trellis drop --db postgres://localhost/mydb --dry-run

  # Drop all model tables
  trellis drop --db postgres://localhost/mydb --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath := resolveString(dropModel, cfg.Model)

		app, err := model.LoadApplicationFile(modelPath)
		if err != nil {
			return cli.ModelParseError("parsing model", err)
		}

		stmts := ddl.DropTables(app)

		if dropDryRun {
			for _, s := range stmts {
				fmt.Println(s + ";")
			}
			return nil
		}
		if !dropForce {
			return cli.GeneralError("drop is destructive; re-run with --force", nil)
		}

		dsn, err := resolveDSN(dropDB)
		if err != nil {
			return err
		}
		return runStatements(dsn, stmts, "Model tables dropped.")
	},
}

func init() {
	f := dropCmd.Flags()
	f.StringVar(&dropDB, "db", "", "database URL")
	f.StringVar(&dropModel, "model", "", "path to the application model file")
	f.BoolVar(&dropDryRun, "dry-run", false, "output drop SQL without applying")
	f.BoolVar(&dropForce, "force", false, "confirm the destructive drop")
}
