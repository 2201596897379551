// Package filter compiles flat query-parameter maps into boolean expression
// trees over symbolic attribute paths.
//
// Compilation is pure syntax-to-expression translation: it never touches
// storage. The resulting expression is AND-combined with the caller's
// authorization predicate and lowered to SQL by pkg/sqlgen.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trellisdb/trellis/pkg/model"
	"github.com/trellisdb/trellis/pkg/xpr"
)

// InvalidParameterError reports a filter value that cannot be parsed as the
// attribute's declared scalar type. It carries enough context for a precise
// user-facing message.
type InvalidParameterError struct {
	Attribute string
	Type      model.Type
	Value     string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("filter: parameter %q: %q is not a valid %s value", e.Attribute, e.Value, e.Type)
}

// IsInvalidParameterErr returns true if err is or wraps an InvalidParameterError.
func IsInvalidParameterErr(err error) bool {
	var ipe *InvalidParameterError
	return errors.As(err, &ipe)
}

// suffix convention for ordered comparisons on exact filters.
// ~after/~before are the conventional aliases for datetime ranges,
// ~from/~to the inclusive pair.
var orderedSuffixes = []struct {
	suffix string
	op     xpr.Operator
}{
	{"gt", xpr.GreaterThan},
	{"gte", xpr.GreaterOrEqual},
	{"lt", xpr.LessThan},
	{"lte", xpr.LessOrEqual},
	{"after", xpr.GreaterThan},
	{"before", xpr.LessThan},
	{"from", xpr.GreaterOrEqual},
	{"to", xpr.LessOrEqual},
}

// Compile maps a multi-valued query-parameter map to a single boolean
// expression for the given entity.
//
// Unknown parameter names produce no term. Multiple values for one filter
// name combine with OR, distinct filter names combine with AND, and no
// matching parameter at all yields the literal true (unconstrained).
//
// Each value is parsed into the target attribute's declared scalar type;
// a parse failure aborts compilation with an InvalidParameterError.
func Compile(app *model.Application, entity *model.Entity, params map[string][]string) (xpr.Expr, error) {
	var terms []xpr.Expr

	// Iterate declared filters rather than the parameter map so the term
	// order (and therefore the generated SQL) is deterministic.
	for _, f := range entity.Filters {
		op := xpr.Equals
		if f.Kind == model.Prefix {
			op = xpr.HasPrefix
		}
		term, err := compileOne(app, entity, f, op, params[f.Name])
		if err != nil {
			return nil, err
		}
		if term != nil {
			terms = append(terms, term)
		}

		if f.Kind != model.Exact {
			continue
		}
		for _, s := range orderedSuffixes {
			values := params[f.Name+"~"+s.suffix]
			if len(values) == 0 {
				continue
			}
			attr, _, err := resolve(app, entity, f)
			if err != nil {
				return nil, err
			}
			if !attr.Type.Orderable() {
				continue // not an error: unknown filter names produce no term
			}
			term, err := compileOne(app, entity, f, s.op, values)
			if err != nil {
				return nil, err
			}
			if term != nil {
				terms = append(terms, term)
			}
		}
	}

	return xpr.And(terms...), nil
}

// compileOne builds the OR-group for one filter name. A nil result means the
// parameter was absent.
func compileOne(app *model.Application, entity *model.Entity, f model.SearchFilter, op xpr.Operator, values []string) (xpr.Expr, error) {
	if len(values) == 0 {
		return nil, nil
	}
	attr, segments, err := resolve(app, entity, f)
	if err != nil {
		return nil, err
	}
	var alternatives []xpr.Expr
	for _, raw := range values {
		v, err := ParseValue(attr, raw)
		if err != nil {
			return nil, err
		}
		alternatives = append(alternatives, xpr.Compare(xpr.Ref(segments...), op, xpr.Scalar{Value: v}))
	}
	return xpr.Or(alternatives...), nil
}

// resolve walks the filter's property path, hopping relations and inserting
// an existential segment after every to-many hop, and returns the leaf
// attribute plus the symbolic path segments.
func resolve(app *model.Application, entity *model.Entity, f model.SearchFilter) (model.Attribute, []string, error) {
	cur := entity
	var segments []string
	i := 0
	for i < len(f.Path) {
		rel, ok := app.Relation(cur.Name, f.Path[i])
		if !ok {
			break
		}
		segments = append(segments, rel.Source.Name)
		if rel.ToMany() {
			segments = append(segments, xpr.Existential)
		}
		next, ok := app.Entity(rel.Target.Entity)
		if !ok {
			return model.Attribute{}, nil, fmt.Errorf("filter: %q crosses unresolved relation %q", f.Name, f.Path[i])
		}
		cur = next
		i++
	}
	attr, _, ok := cur.AttributeAt([]string(f.Path[i:]))
	if !ok {
		return model.Attribute{}, nil, fmt.Errorf("filter: %q does not resolve to an attribute", f.Name)
	}
	segments = append(segments, f.Path[i:]...)
	return attr, segments, nil
}

// ParseValue parses a raw query-parameter string into the attribute's
// declared scalar type. TEXT passes through unchanged: the empty string is a
// valid text value.
func ParseValue(attr model.Attribute, raw string) (any, error) {
	switch attr.Type {
	case model.Text:
		return raw, nil
	case model.Long:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, &InvalidParameterError{Attribute: attr.Name, Type: attr.Type, Value: raw}
		}
		return v, nil
	case model.Double:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, &InvalidParameterError{Attribute: attr.Name, Type: attr.Type, Value: raw}
		}
		return v, nil
	case model.Boolean:
		switch raw {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, &InvalidParameterError{Attribute: attr.Name, Type: attr.Type, Value: raw}
	case model.Datetime:
		v, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, &InvalidParameterError{Attribute: attr.Name, Type: attr.Type, Value: raw}
		}
		return v, nil
	case model.UUID:
		v, err := uuid.Parse(raw)
		if err != nil {
			return nil, &InvalidParameterError{Attribute: attr.Name, Type: attr.Type, Value: raw}
		}
		return v, nil
	}
	return nil, &InvalidParameterError{Attribute: attr.Name, Type: attr.Type, Value: raw}
}
