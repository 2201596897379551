// Package sqlgen lowers expression trees to SQL conditions. Relation-path
// terms become correlated EXISTS subqueries assembled by the Collector.
package sqlgen

import (
	"fmt"

	"github.com/trellisdb/trellis/pkg/model"
)

// frame is one pending join hop: a table under a fresh alias plus the
// condition correlating it to the enclosing scope.
type frame struct {
	table string
	alias string
	corr  string
}

// Collector turns an ordered chain of relations starting at a root table
// into a single nested EXISTS condition.
//
// Aliases are the table's first letter plus a counter that increases
// monotonically for the lifetime of the Collector and is never reused, even
// across ResetCurrentTable calls. Two independent relation chains appended
// to the same Collector therefore never collide, which is what allows
// multiple filter terms to be combined into one overall condition.
//
// A Collector instance is scoped to one lowering pass; it is not safe for
// concurrent use.
type Collector struct {
	app *model.Application

	rootTable string
	rootAlias string

	currentTable string
	currentAlias string

	counter int
	frames  []frame
}

// NewCollector creates a Collector rooted at the given table. The root alias
// consumes counter value 0.
func NewCollector(app *model.Application, rootTable string) *Collector {
	c := &Collector{app: app, rootTable: rootTable}
	c.rootAlias = c.nextAlias(rootTable)
	c.currentTable = rootTable
	c.currentAlias = c.rootAlias
	return c
}

// RootTable returns the table the collector was created with.
func (c *Collector) RootTable() string { return c.rootTable }

// RootAlias returns the alias of the root table (first letter + 0).
func (c *Collector) RootAlias() string { return c.rootAlias }

// CurrentTable returns the table the cursor points at.
func (c *Collector) CurrentTable() string { return c.currentTable }

// CurrentAlias returns the alias the cursor points at.
func (c *Collector) CurrentAlias() string { return c.currentAlias }

func (c *Collector) nextAlias(table string) string {
	alias := fmt.Sprintf("%c%d", table[0], c.counter)
	c.counter++
	return alias
}

// AddRelation appends one hop to the pending join chain and advances the
// cursor to the relation's target table.
//
// The relation must be viewed from the cursor's side: its source entity has
// to be backed by CurrentTable. Violating this is a programmer error (a
// non-contiguous path), so AddRelation panics rather than returning an error.
func (c *Collector) AddRelation(rel model.Relation) {
	src, ok := c.app.Entity(rel.Source.Entity)
	if !ok {
		panic(fmt.Sprintf("sqlgen: relation %s references undeclared entity %q", rel, rel.Source.Entity))
	}
	if src.Table != c.currentTable {
		panic(fmt.Sprintf("sqlgen: relation %s does not start at current table %q", rel, c.currentTable))
	}
	tgt, ok := c.app.Entity(rel.Target.Entity)
	if !ok {
		panic(fmt.Sprintf("sqlgen: relation %s references undeclared entity %q", rel, rel.Target.Entity))
	}

	switch rel.Kind {
	case model.SourceOneToOne, model.ManyToOne:
		// fk on the current (source) table: target row is the one the fk
		// points at.
		alias := c.nextAlias(tgt.Table)
		c.frames = append(c.frames, frame{
			table: tgt.Table,
			alias: alias,
			corr:  fmt.Sprintf("%s.%s = %s.%s", alias, tgt.KeyColumn(), c.currentAlias, rel.ForeignKeyColumn),
		})
		c.currentTable, c.currentAlias = tgt.Table, alias

	case model.TargetOneToOne, model.OneToMany:
		// fk on the target table: target rows are the ones pointing back.
		alias := c.nextAlias(tgt.Table)
		c.frames = append(c.frames, frame{
			table: tgt.Table,
			alias: alias,
			corr:  fmt.Sprintf("%s.%s = %s.%s", alias, rel.ForeignKeyColumn, c.currentAlias, src.KeyColumn()),
		})
		c.currentTable, c.currentAlias = tgt.Table, alias

	case model.ManyToMany:
		// Two-step hop through the join table.
		jAlias := c.nextAlias(rel.Join.Name)
		c.frames = append(c.frames, frame{
			table: rel.Join.Name,
			alias: jAlias,
			corr:  fmt.Sprintf("%s.%s = %s.%s", jAlias, rel.Join.SourceColumn, c.currentAlias, src.KeyColumn()),
		})
		tAlias := c.nextAlias(tgt.Table)
		c.frames = append(c.frames, frame{
			table: tgt.Table,
			alias: tAlias,
			corr:  fmt.Sprintf("%s.%s = %s.%s", tAlias, tgt.KeyColumn(), jAlias, rel.Join.TargetColumn),
		})
		c.currentTable, c.currentAlias = tgt.Table, tAlias

	default:
		panic(fmt.Sprintf("sqlgen: unknown relation kind %q", rel.Kind))
	}
}

// ResetCurrentTable returns the cursor to the root without discarding the
// accumulated join structure, so an independent relation path can be
// appended next.
func (c *Collector) ResetCurrentTable() {
	c.currentTable = c.rootTable
	c.currentAlias = c.rootAlias
}

// Collect wraps the condition inside all accumulated joins, innermost being
// the last-added hop, and returns the fully nested EXISTS expression. The
// pending joins are consumed and the cursor returns to the root: calling
// Collect again without adding relations returns the condition unchanged.
func (c *Collector) Collect(condition string) string {
	wrapped := condition
	for i := len(c.frames) - 1; i >= 0; i-- {
		f := c.frames[i]
		where := f.corr
		if wrapped != "" {
			where += " AND " + wrapped
		}
		wrapped = fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS %s WHERE %s)", f.table, f.alias, where)
	}
	c.frames = c.frames[:0]
	c.ResetCurrentTable()
	return wrapped
}
