// Package doctor provides health checks for a trellis deployment.
//
// The doctor command validates that the model file, the migration state and
// the materialized database schema agree with each other.
//
// Example usage:
//
//	d := doctor.New(db, "app.yaml")
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lib/pq"

	"github.com/trellisdb/trellis/pkg/migrator"
	"github.com/trellisdb/trellis/pkg/model"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Model File", "Tables").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Doctor performs health checks on a trellis deployment.
type Doctor struct {
	db        *sql.DB
	modelPath string

	// Cached data from checks (populated during Run)
	app          *model.Application
	modelContent string
}

// New creates a new Doctor instance.
func New(db *sql.DB, modelPath string) *Doctor {
	return &Doctor{db: db, modelPath: modelPath}
}

// Run executes all health checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	d.checkModelFile(report)
	if err := d.checkMigrationState(ctx, report); err != nil {
		return nil, fmt.Errorf("checking migration state: %w", err)
	}
	if err := d.checkTables(ctx, report); err != nil {
		return nil, fmt.Errorf("checking tables: %w", err)
	}
	if err := d.checkDataHealth(ctx, report); err != nil {
		return nil, fmt.Errorf("checking data health: %w", err)
	}

	return report, nil
}

// checkModelFile validates the model file exists and is valid.
func (d *Doctor) checkModelFile(report *Report) {
	content, err := os.ReadFile(d.modelPath)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Model File",
			Name:     "exists",
			Status:   StatusFail,
			Message:  fmt.Sprintf("Model file not found at %s", d.modelPath),
			FixHint:  "Point --model or the config file at your application model",
		})
		return
	}
	d.modelContent = string(content)

	report.AddCheck(CheckResult{
		Category: "Model File",
		Name:     "exists",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Model file exists at %s", d.modelPath),
	})

	app, err := model.LoadApplication(content)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Model File",
			Name:     "valid",
			Status:   StatusFail,
			Message:  "Model has errors",
			Details:  err.Error(),
			FixHint:  "Run 'trellis validate' to see detailed errors",
		})
		return
	}
	d.app = app

	report.AddCheck(CheckResult{
		Category: "Model File",
		Name:     "valid",
		Status:   StatusPass,
		Message: fmt.Sprintf("Model is valid (%d entities, %d relations)",
			len(app.Entities), len(app.Relations)),
	})
}

// checkMigrationState validates the migration tracking table and state.
func (d *Doctor) checkMigrationState(ctx context.Context, report *Report) error {
	m := migrator.NewMigrator(d.db)

	last, err := m.GetLastMigration(ctx)
	if err != nil {
		return err
	}

	if last == nil {
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "migrated",
			Status:   StatusWarn,
			Message:  "No migration records found",
			FixHint:  "Run 'trellis migrate' to apply the model",
		})
		return nil
	}

	report.AddCheck(CheckResult{
		Category: "Migration State",
		Name:     "migrated",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Model migrated (%d tables tracked)", len(last.Tables)),
	})

	if d.modelContent == "" {
		return nil
	}
	currentChecksum := migrator.ComputeModelChecksum(d.modelContent)

	switch {
	case currentChecksum != last.ModelChecksum:
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "model_sync",
			Status:   StatusWarn,
			Message:  "Model file has changed since last migration",
			Details: fmt.Sprintf("File checksum: %s...\nDB checksum:   %s...",
				currentChecksum[:16], last.ModelChecksum[:16]),
			FixHint: "Run 'trellis migrate' to apply changes",
		})
	case last.DDLVersion != migrator.DDLVersion:
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "model_sync",
			Status:   StatusWarn,
			Message:  "DDL version has changed",
			Details:  fmt.Sprintf("Current: %s, DB: %s", migrator.DDLVersion, last.DDLVersion),
			FixHint:  "Run 'trellis migrate' to regenerate the schema",
		})
	default:
		report.AddCheck(CheckResult{
			Category: "Migration State",
			Name:     "model_sync",
			Status:   StatusPass,
			Message:  "Model is in sync with database",
		})
	}

	return nil
}

// checkTables validates that every table and column the model materializes
// exists in the database.
func (d *Doctor) checkTables(ctx context.Context, report *Report) error {
	if d.app == nil {
		return nil // already reported in the model check
	}

	for i := range d.app.Entities {
		e := &d.app.Entities[i]
		cols, err := d.tableColumns(ctx, e.Table)
		if err != nil {
			return err
		}
		if cols == nil {
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     e.Table,
				Status:   StatusFail,
				Message:  fmt.Sprintf("Table %s (entity %s) does not exist", e.Table, e.Name),
				FixHint:  "Run 'trellis migrate' to create it",
			})
			continue
		}

		var missing []string
		seen := make(map[string]bool)
		for _, c := range e.Columns() {
			if !cols[c.Name] && !seen[c.Name] {
				seen[c.Name] = true
				missing = append(missing, c.Name)
			}
		}
		for _, r := range d.app.RelationsOf(e.Name) {
			if r.Kind == model.ManyToMany {
				continue
			}
			owner := r.Source.Entity
			if !r.OwnedBySource() {
				owner = r.Target.Entity
			}
			if owner == e.Name && !cols[r.ForeignKeyColumn] && !seen[r.ForeignKeyColumn] {
				seen[r.ForeignKeyColumn] = true
				missing = append(missing, r.ForeignKeyColumn)
			}
		}

		if len(missing) > 0 {
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     e.Table,
				Status:   StatusFail,
				Message:  fmt.Sprintf("Table %s is missing columns: %s", e.Table, strings.Join(missing, ", ")),
				FixHint:  "Run 'trellis migrate' to add them",
			})
		} else {
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     e.Table,
				Status:   StatusPass,
				Message:  fmt.Sprintf("Table %s matches entity %s", e.Table, e.Name),
			})
		}
	}

	for _, r := range d.app.Relations {
		if r.Kind != model.ManyToMany {
			continue
		}
		cols, err := d.tableColumns(ctx, r.Join.Name)
		if err != nil {
			return err
		}
		switch {
		case cols == nil:
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     r.Join.Name,
				Status:   StatusFail,
				Message:  fmt.Sprintf("Join table %s (%s) does not exist", r.Join.Name, r.String()),
				FixHint:  "Run 'trellis migrate' to create it",
			})
		case !cols[r.Join.SourceColumn] || !cols[r.Join.TargetColumn]:
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     r.Join.Name,
				Status:   StatusFail,
				Message:  fmt.Sprintf("Join table %s is missing its key columns", r.Join.Name),
				FixHint:  "Run 'trellis migrate' to recreate it",
			})
		default:
			report.AddCheck(CheckResult{
				Category: "Tables",
				Name:     r.Join.Name,
				Status:   StatusPass,
				Message:  fmt.Sprintf("Join table %s matches relation %s", r.Join.Name, r.String()),
			})
		}
	}

	return nil
}

// checkDataHealth reports row counts per entity table.
func (d *Doctor) checkDataHealth(ctx context.Context, report *Report) error {
	if d.app == nil {
		return nil
	}

	total := int64(0)
	var lines []string
	for i := range d.app.Entities {
		e := &d.app.Entities[i]
		var count int64
		err := d.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+pq.QuoteIdentifier(e.Table)).Scan(&count)
		if err != nil {
			// Table missing: already reported by the tables check.
			continue
		}
		total += count
		lines = append(lines, fmt.Sprintf("%s: %d", e.Table, count))
	}

	if total == 0 {
		report.AddCheck(CheckResult{
			Category: "Data Health",
			Name:     "data",
			Status:   StatusWarn,
			Message:  "All entity tables are empty",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Data Health",
			Name:     "data",
			Status:   StatusPass,
			Message:  fmt.Sprintf("Entity tables contain %d rows", total),
			Details:  strings.Join(lines, "\n"),
		})
	}

	return nil
}

// tableColumns returns the column names of a table, or nil when the table
// does not exist.
func (d *Doctor) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relname = $1
			AND n.nspname = current_schema()
			AND c.relkind = 'r'
		)
	`, table).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT a.attname
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		JOIN pg_namespace n ON c.relnamespace = n.oid
		WHERE c.relname = $1
		AND n.nspname = current_schema()
		AND a.attnum > 0
		AND NOT a.attisdropped
	`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols := make(map[string]bool)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		cols[col] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cols, nil
}
