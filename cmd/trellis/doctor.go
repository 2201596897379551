package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/trellisdb/trellis/internal/cli"
	"github.com/trellisdb/trellis/internal/doctor"
)

var (
	doctorDB    string
	doctorModel string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check model, migration state and database health",
	Long: `Run health checks against a trellis deployment: the model file parses and
validates, the recorded migration matches the current model, every table and
column the model materializes exists, and the data looks sane.`,
	Example: `  # Check the configured database
  trellis doctor

  # Check a specific database with verbose details
  trellis doctor --db postgres://localhost/mydb -v`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modelPath := resolveString(doctorModel, cfg.Model)

		dsn, err := resolveDSN(doctorDB)
		if err != nil {
			return err
		}
		db, err := openDB(dsn)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		report, err := doctor.New(db, modelPath).Run(context.Background())
		if err != nil {
			return cli.GeneralError("running checks", err)
		}

		report.Print(os.Stdout, verbose > 0)
		if report.HasErrors() {
			return cli.GeneralError("health checks failed", nil)
		}
		return nil
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.StringVar(&doctorModel, "model", "", "path to the application model file")
}
