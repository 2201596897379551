// Package ddl generates the PostgreSQL schema backing an application model.
//
// The statements are idempotent (IF NOT EXISTS / IF EXISTS) and applied by
// the CLI migrate/drop commands and the test harness. The engine itself
// assumes the tables already exist; storage-level failures such as
// identifier-length collisions propagate unmodified.
package ddl

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/trellisdb/trellis/pkg/model"
)

// columnType maps a scalar type to its PostgreSQL column type.
func columnType(t model.Type) string {
	switch t {
	case model.Text:
		return "TEXT"
	case model.Long:
		return "BIGINT"
	case model.Double:
		return "DOUBLE PRECISION"
	case model.Boolean:
		return "BOOLEAN"
	case model.Datetime:
		return "TIMESTAMPTZ"
	case model.UUID:
		return "UUID"
	default:
		panic(fmt.Sprintf("ddl: unknown scalar type %q", t))
	}
}

// CreateTables returns the statements creating all entity tables, relation
// foreign-key columns and join tables, in dependency-safe order: entity
// tables first, then relation columns as ALTER TABLE so declaration order
// between entities does not matter.
func CreateTables(app *model.Application) []string {
	var stmts []string

	for i := range app.Entities {
		e := &app.Entities[i]
		var defs []string
		for _, col := range e.Columns() {
			def := pq.QuoteIdentifier(col.Name) + " " + columnType(col.Type)
			if col.Name == e.KeyColumn() {
				def += " PRIMARY KEY"
			} else {
				if col.Required {
					def += " NOT NULL"
				}
				if col.Unique {
					def += " UNIQUE"
				}
			}
			defs = append(defs, def)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
			pq.QuoteIdentifier(e.Table), strings.Join(defs, ",\n    ")))
	}

	for _, r := range app.Relations {
		stmts = append(stmts, relationStatements(app, r)...)
	}
	return stmts
}

func relationStatements(app *model.Application, r model.Relation) []string {
	src, _ := app.Entity(r.Source.Entity)
	tgt, _ := app.Entity(r.Target.Entity)

	switch r.Kind {
	case model.ManyToMany:
		return []string{fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (\n"+
				"    %s TEXT NOT NULL REFERENCES %s (%s) ON DELETE CASCADE,\n"+
				"    %s TEXT NOT NULL REFERENCES %s (%s) ON DELETE CASCADE,\n"+
				"    PRIMARY KEY (%s, %s)\n)",
			pq.QuoteIdentifier(r.Join.Name),
			pq.QuoteIdentifier(r.Join.SourceColumn), pq.QuoteIdentifier(src.Table), pq.QuoteIdentifier(src.KeyColumn()),
			pq.QuoteIdentifier(r.Join.TargetColumn), pq.QuoteIdentifier(tgt.Table), pq.QuoteIdentifier(tgt.KeyColumn()),
			pq.QuoteIdentifier(r.Join.SourceColumn), pq.QuoteIdentifier(r.Join.TargetColumn),
		)}

	default:
		// fk column lives on the owning side; one-to-one variants get a
		// UNIQUE constraint so the inverse is single-valued too.
		owner, other := src, tgt
		if !r.OwnedBySource() {
			owner, other = tgt, src
		}
		unique := ""
		if r.Kind == model.SourceOneToOne || r.Kind == model.TargetOneToOne {
			unique = " UNIQUE"
		}
		return []string{fmt.Sprintf(
			"ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT%s REFERENCES %s (%s) ON DELETE SET NULL",
			pq.QuoteIdentifier(owner.Table),
			pq.QuoteIdentifier(r.ForeignKeyColumn),
			unique,
			pq.QuoteIdentifier(other.Table),
			pq.QuoteIdentifier(other.KeyColumn()),
		)}
	}
}

// DropTables returns the statements dropping everything CreateTables
// creates, join tables first.
func DropTables(app *model.Application) []string {
	var stmts []string
	for _, r := range app.Relations {
		if r.Kind == model.ManyToMany {
			stmts = append(stmts, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(r.Join.Name))
		}
	}
	for i := range app.Entities {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(app.Entities[i].Table)+" CASCADE")
	}
	return stmts
}
