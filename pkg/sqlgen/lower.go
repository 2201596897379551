package sqlgen

import (
	"fmt"
	"strings"

	"github.com/trellisdb/trellis/pkg/model"
	"github.com/trellisdb/trellis/pkg/xpr"
)

// Lowerer turns an expression tree into a SQL condition with positional
// parameters. One Lowerer (and thus one Collector) covers one statement, so
// aliases stay unique across all terms, including the caller's authorization
// predicate.
type Lowerer struct {
	app    *model.Application
	entity *model.Entity
	c      *Collector
	args   []any
}

// NewLowerer creates a Lowerer rooted at the entity's table.
func NewLowerer(app *model.Application, entity *model.Entity) *Lowerer {
	return &Lowerer{
		app:    app,
		entity: entity,
		c:      NewCollector(app, entity.Table),
	}
}

// RootAlias returns the alias the root table must carry in the FROM clause.
func (l *Lowerer) RootAlias() string { return l.c.RootAlias() }

// Args returns the accumulated positional arguments, in placeholder order.
func (l *Lowerer) Args() []any { return l.args }

// Bind registers a value as the next positional argument and returns its
// placeholder. Exposed so callers can attach their own conditions (primary
// key lookups, pagination) to the same statement.
func (l *Lowerer) Bind(v any) string {
	l.args = append(l.args, v)
	return fmt.Sprintf("$%d", len(l.args))
}

// Lower renders the expression as a SQL boolean condition. Scalar values are
// always bound as parameters, never inlined.
func (l *Lowerer) Lower(e xpr.Expr) (string, error) {
	switch n := e.(type) {
	case xpr.Literal:
		if bool(n) {
			return "TRUE", nil
		}
		return "FALSE", nil

	case xpr.Comparison:
		return l.lowerComparison(n)

	case xpr.AndExpr:
		return l.lowerTerms(n.Terms, " AND ")

	case xpr.OrExpr:
		return l.lowerTerms(n.Terms, " OR ")

	case xpr.NotExpr:
		inner, err := l.Lower(n.Term)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil

	default:
		return "", fmt.Errorf("sqlgen: expression %T cannot stand alone as a condition", e)
	}
}

func (l *Lowerer) lowerTerms(terms []xpr.Expr, sep string) (string, error) {
	parts := make([]string, len(terms))
	for i, t := range terms {
		s, err := l.Lower(t)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (l *Lowerer) lowerComparison(cmp xpr.Comparison) (string, error) {
	ref, ok := cmp.Left.(xpr.SymbolicReference)
	if !ok {
		return "", fmt.Errorf("sqlgen: comparison left term must be a symbolic reference, got %T", cmp.Left)
	}
	scalar, ok := cmp.Right.(xpr.Scalar)
	if !ok {
		return "", fmt.Errorf("sqlgen: comparison right term must be a scalar, got %T", cmp.Right)
	}
	if ref.Var != xpr.EntityVar {
		return "", fmt.Errorf("sqlgen: unknown path variable %q", ref.Var)
	}

	column, err := l.lowerPath(ref.Segments)
	if err != nil {
		return "", err
	}

	var cond string
	if cmp.Op == xpr.HasPrefix {
		cond = fmt.Sprintf("lower(%s) LIKE lower(%s) || '%%'", column, l.Bind(scalar.Value))
	} else {
		cond = fmt.Sprintf("%s %s %s", column, cmp.Op, l.Bind(scalar.Value))
	}

	// Collect consumes exactly the joins this path contributed and resets
	// the cursor, leaving the collector ready for the next term.
	return l.c.Collect(cond), nil
}

// lowerPath walks a symbolic path: relation segments become collector hops,
// existential segments mark the to-many hops already handled by the
// collector, and the trailing attribute segments resolve to a column on the
// cursor's table.
func (l *Lowerer) lowerPath(segments []string) (string, error) {
	cur := l.entity
	if l.c.CurrentTable() != l.entity.Table {
		byTable, ok := l.app.EntityByTable(l.c.CurrentTable())
		if !ok {
			return "", fmt.Errorf("sqlgen: no entity backed by table %q", l.c.CurrentTable())
		}
		cur = byTable
	}
	i := 0
	for i < len(segments) {
		seg := segments[i]
		if seg == xpr.Existential {
			i++
			continue
		}
		rel, ok := l.app.Relation(cur.Name, seg)
		if !ok {
			break
		}
		l.c.AddRelation(rel)
		next, ok := l.app.Entity(rel.Target.Entity)
		if !ok {
			return "", fmt.Errorf("sqlgen: relation %s targets undeclared entity %q", rel, rel.Target.Entity)
		}
		cur = next
		i++
	}
	if i == len(segments) {
		return "", fmt.Errorf("sqlgen: path %q ends on a relation", strings.Join(segments, "."))
	}
	attrPath := segments[i:]
	if _, column, ok := cur.AttributeAt(attrPath); ok {
		return l.c.CurrentAlias() + "." + column, nil
	}
	if len(attrPath) == 1 && attrPath[0] == cur.PrimaryKey {
		return l.c.CurrentAlias() + "." + cur.KeyColumn(), nil
	}
	return "", fmt.Errorf("sqlgen: %q is not an attribute of entity %q", strings.Join(attrPath, "."), cur.Name)
}
