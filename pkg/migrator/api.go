package migrator

import (
	"context"
	"fmt"
	"os"

	"github.com/trellisdb/trellis/pkg/model"
)

// MigrateFile loads an application model file and applies it to the database
// in one operation. This is the recommended API for application startup:
//
//	if _, err := migrator.MigrateFile(ctx, db, "app.yaml"); err != nil {
//	    log.Fatalf("migration failed: %v", err)
//	}
//
// The returned bool reports whether the schema was applied; false means the
// model was unchanged since the last recorded migration.
func MigrateFile(ctx context.Context, db Execer, path string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("reading model: %w", err)
	}
	return MigrateFromString(ctx, db, string(content))
}

// MigrateFromString parses model content and applies it to the database.
// Useful for testing or when the model is embedded in the application binary:
//
//	//go:embed app.yaml
//	var embeddedModel string
//
//	applied, err := migrator.MigrateFromString(ctx, db, embeddedModel)
func MigrateFromString(ctx context.Context, db Execer, content string) (bool, error) {
	app, err := model.LoadApplication([]byte(content))
	if err != nil {
		return false, fmt.Errorf("parsing model: %w", err)
	}
	m := NewMigrator(db)
	return m.Migrate(ctx, app, content, Options{})
}
