package model

import (
	"errors"
	"fmt"
)

// ErrInvalidModel is wrapped by every validation failure so callers can
// detect model problems with errors.Is regardless of the specific message.
var ErrInvalidModel = errors.New("model: invalid application model")

// IsInvalidModelErr returns true if err is or wraps ErrInvalidModel.
func IsInvalidModelErr(err error) bool {
	return errors.Is(err, ErrInvalidModel)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidModel, fmt.Sprintf(format, args...))
}

// Validate checks the structural invariants of the application model:
//
//   - entity names and backing tables are unique
//   - attribute names are unique within an entity (recursively)
//   - the primary key does not collide with an attribute name
//   - every relation endpoint resolves to a declared entity
//   - relation names are unique per (entity, path segment)
//   - many-to-many relations carry a join table, all others a fk column
//   - search-filter paths resolve to an attribute, possibly across relations
//   - sortable fields resolve to simple attributes
//
// Validate is called by LoadApplication; call it directly when building an
// Application in code.
func (app *Application) Validate() error {
	entNames := make(map[string]bool)
	tables := make(map[string]string)
	for i := range app.Entities {
		e := &app.Entities[i]
		if e.Name == "" || e.Table == "" || e.PrimaryKey == "" {
			return invalidf("entity %q: name, table and primary key are mandatory", e.Name)
		}
		if entNames[e.Name] {
			return invalidf("duplicate entity %q", e.Name)
		}
		entNames[e.Name] = true
		if owner, dup := tables[e.Table]; dup {
			return invalidf("entities %q and %q share table %q", owner, e.Name, e.Table)
		}
		tables[e.Table] = e.Name

		if err := validateAttributes(e.Name, e.Attributes, map[string]bool{e.PrimaryKey: true}); err != nil {
			return err
		}
		for _, s := range e.Sortable {
			if a, _, ok := e.AttributeAt([]string{s}); !ok || a.Kind != KindSimple {
				return invalidf("entity %q: sortable field %q is not a simple attribute", e.Name, s)
			}
		}
	}

	seenRel := make(map[string]bool)
	for _, r := range app.Relations {
		if err := app.validateRelation(r); err != nil {
			return err
		}
		for _, ep := range []Endpoint{r.Source, r.Target} {
			key := ep.Entity + "/" + ep.Path
			if seenRel[key] {
				return invalidf("relation %s: duplicate path %q on entity %q", r, ep.Path, ep.Entity)
			}
			seenRel[key] = true
		}
	}

	for i := range app.Entities {
		e := &app.Entities[i]
		for _, f := range e.Filters {
			if err := app.validateFilterPath(e, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateAttributes(entity string, attrs []Attribute, seen map[string]bool) error {
	for _, a := range attrs {
		if a.Name == "" {
			return invalidf("entity %q: attribute with empty name", entity)
		}
		if seen[a.Name] {
			return invalidf("entity %q: duplicate attribute %q", entity, a.Name)
		}
		seen[a.Name] = true
		switch a.Kind {
		case KindSimple:
			switch a.Type {
			case Text, Long, Double, Boolean, Datetime, UUID:
			default:
				return invalidf("entity %q: attribute %q has unknown type %q", entity, a.Name, a.Type)
			}
		case KindComposite:
			if len(a.Attributes) == 0 {
				return invalidf("entity %q: composite attribute %q has no sub-attributes", entity, a.Name)
			}
			if err := validateAttributes(entity, a.Attributes, map[string]bool{}); err != nil {
				return err
			}
		case KindContent:
		case KindUser:
			switch a.Role {
			case Creator, Modifier, CreatedDate, ModifiedDate:
			default:
				return invalidf("entity %q: user attribute %q has unknown role %q", entity, a.Name, a.Role)
			}
		default:
			return invalidf("entity %q: attribute %q has unknown kind", entity, a.Name)
		}
	}
	return nil
}

func (app *Application) validateRelation(r Relation) error {
	switch r.Kind {
	case SourceOneToOne, TargetOneToOne, ManyToOne, OneToMany:
		if r.ForeignKeyColumn == "" {
			return invalidf("relation %s: foreign key column is mandatory for %s", r, r.Kind)
		}
	case ManyToMany:
		if r.Join == nil || r.Join.Name == "" || r.Join.SourceColumn == "" || r.Join.TargetColumn == "" {
			return invalidf("relation %s: join table is mandatory for many-to-many", r)
		}
	default:
		return invalidf("relation %s: unknown kind %q", r, r.Kind)
	}
	for _, ep := range []Endpoint{r.Source, r.Target} {
		if ep.Name == "" || ep.Path == "" {
			return invalidf("relation %s: endpoint name and path are mandatory", r)
		}
		if _, ok := app.Entity(ep.Entity); !ok {
			return invalidf("relation %s: endpoint references undeclared entity %q", r, ep.Entity)
		}
	}
	return nil
}

// validateFilterPath walks a filter's property path: relation segments hop
// to the related entity, the trailing segments must resolve to a simple
// attribute nested through composites.
func (app *Application) validateFilterPath(e *Entity, f SearchFilter) error {
	if len(f.Path) == 0 {
		return invalidf("entity %q: filter %q has an empty path", e.Name, f.Name)
	}
	cur := e
	i := 0
	for i < len(f.Path) {
		if rel, ok := app.Relation(cur.Name, f.Path[i]); ok {
			next, ok := app.Entity(rel.Target.Entity)
			if !ok {
				return invalidf("entity %q: filter %q crosses unresolved relation %q", e.Name, f.Name, f.Path[i])
			}
			cur = next
			i++
			continue
		}
		break
	}
	if i == len(f.Path) {
		return invalidf("entity %q: filter %q path ends on a relation", e.Name, f.Name)
	}
	attr, _, ok := cur.AttributeAt(f.Path[i:])
	if !ok || attr.Kind != KindSimple {
		return invalidf("entity %q: filter %q does not resolve to a simple attribute", e.Name, f.Name)
	}
	if f.Kind == Prefix && attr.Type != Text {
		return invalidf("entity %q: prefix filter %q requires a TEXT attribute", e.Name, f.Name)
	}
	return nil
}
