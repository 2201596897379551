// Package model defines the declarative application model: entities with
// typed attributes, relations between entities, and search filters.
//
// The model is loaded once (typically from a YAML file, see LoadApplication)
// and is immutable afterwards. A single *Application value is safely shared
// by all concurrent callers of the engine.
package model

// Type is the scalar type of a simple attribute.
type Type string

// Scalar attribute types.
const (
	Text     Type = "TEXT"
	Long     Type = "LONG"
	Double   Type = "DOUBLE"
	Boolean  Type = "BOOLEAN"
	Datetime Type = "DATETIME"
	UUID     Type = "UUID"
)

// Orderable reports whether values of this type have a meaningful ordering
// for range filters (~gt, ~gte, ~lt, ~lte and their aliases).
func (t Type) Orderable() bool {
	switch t {
	case Long, Double, Datetime, Text:
		return true
	default:
		return false
	}
}

// AttributeKind discriminates the closed set of attribute variants.
type AttributeKind int

// Attribute variants.
const (
	KindSimple AttributeKind = iota
	KindComposite
	KindContent
	KindUser
)

// AuditRole describes how a user/audit attribute is populated.
type AuditRole string

// Audit roles. Creator and Modifier store an actor reference across three
// columns (id, namespace, name); CreatedDate and ModifiedDate store a single
// timestamp column. All are populated by the engine and never client-writable.
const (
	Creator      AuditRole = "creator"
	Modifier     AuditRole = "modifier"
	CreatedDate  AuditRole = "created-date"
	ModifiedDate AuditRole = "modified-date"
)

// Attribute describes one attribute of an entity. It is a tagged variant:
// exactly the fields relevant to Kind are meaningful.
//
//   - KindSimple: Type, Required, Unique, AllowedValues
//   - KindComposite: Attributes (nested, flattened to parent__child columns)
//   - KindContent: externally stored blob reference (id, filename, mimetype,
//     length sub-columns; id and length are never client-writable)
//   - KindUser: Role
type Attribute struct {
	Kind AttributeKind
	Name string

	// Simple attribute fields.
	Type          Type
	Required      bool
	Unique        bool
	AllowedValues []string

	// Composite attribute fields.
	Attributes []Attribute

	// User/audit attribute fields.
	Role AuditRole
}

// Simple constructs a simple scalar attribute.
func Simple(name string, typ Type) Attribute {
	return Attribute{Kind: KindSimple, Name: name, Type: typ}
}

// RequiredSimple constructs a required simple scalar attribute.
func RequiredSimple(name string, typ Type) Attribute {
	return Attribute{Kind: KindSimple, Name: name, Type: typ, Required: true}
}

// UniqueSimple constructs a unique simple scalar attribute.
func UniqueSimple(name string, typ Type) Attribute {
	return Attribute{Kind: KindSimple, Name: name, Type: typ, Unique: true}
}

// Composite constructs a composite attribute nesting the given attributes
// under one logical name.
func Composite(name string, attrs ...Attribute) Attribute {
	return Attribute{Kind: KindComposite, Name: name, Attributes: attrs}
}

// Content constructs a content attribute referencing an externally stored blob.
func Content(name string) Attribute {
	return Attribute{Kind: KindContent, Name: name}
}

// User constructs a user/audit attribute with the given role.
func User(name string, role AuditRole) Attribute {
	return Attribute{Kind: KindUser, Name: name, Role: role}
}

// ClientWritable reports whether the attribute accepts values from a caller.
// Audit attributes are engine-populated; content id/length sub-values are
// filtered at the sub-attribute level during serialization.
func (a Attribute) ClientWritable() bool {
	return a.Kind != KindUser
}

// FilterKind discriminates how a search filter compares values.
type FilterKind int

// Filter kinds. Ordered comparisons are derived from Exact filters through
// the ~gt/~gte/~lt/~lte suffix convention at compile time.
const (
	Exact FilterKind = iota
	Prefix
)

// PropertyPath is an ordered sequence of path segments rooted at an entity.
// Each segment is either an attribute name (possibly nested through
// composites) or a relation name crossing to another entity.
type PropertyPath []string

// SearchFilter binds a query-parameter name to an attribute path.
type SearchFilter struct {
	Name string
	Path PropertyPath
	Kind FilterKind
}

// Entity describes one entity and its backing table.
type Entity struct {
	Name       string
	Table      string
	PrimaryKey string
	Attributes []Attribute
	Filters    []SearchFilter
	Sortable   []string
}

// Attribute returns the top-level attribute with the given name.
func (e *Entity) Attribute(name string) (Attribute, bool) {
	for _, a := range e.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Filter returns the declared search filter with the given name.
func (e *Entity) Filter(name string) (SearchFilter, bool) {
	for _, f := range e.Filters {
		if f.Name == name {
			return f, true
		}
	}
	return SearchFilter{}, false
}

// SortableField reports whether the given field may be used for ordering.
func (e *Entity) SortableField(name string) bool {
	for _, s := range e.Sortable {
		if s == name {
			return true
		}
	}
	return false
}

// KeyColumn returns the column storing the primary key.
func (e *Entity) KeyColumn() string {
	return e.PrimaryKey
}

// Application is a named set of entities plus a named set of relations.
// Relations reference entities by name; Validate checks that every endpoint
// resolves.
type Application struct {
	Name      string
	Entities  []Entity
	Relations []Relation
}

// Entity returns the entity with the given name.
func (app *Application) Entity(name string) (*Entity, bool) {
	for i := range app.Entities {
		if app.Entities[i].Name == name {
			return &app.Entities[i], true
		}
	}
	return nil, false
}

// EntityByTable returns the entity backed by the given table.
func (app *Application) EntityByTable(table string) (*Entity, bool) {
	for i := range app.Entities {
		if app.Entities[i].Table == table {
			return &app.Entities[i], true
		}
	}
	return nil, false
}

// Relation resolves a relation as viewed from the given entity. If the
// relation is declared with the entity as its target, the inverse view is
// returned, so the result always has Source.Entity == entity.
func (app *Application) Relation(entity, name string) (Relation, bool) {
	for _, r := range app.Relations {
		if r.Source.Entity == entity && r.Source.Name == name {
			return r, true
		}
		inv := r.Inverse()
		if inv.Source.Entity == entity && inv.Source.Name == name {
			return inv, true
		}
	}
	return Relation{}, false
}

// RelationsOf returns all relations viewed from the given entity, inverting
// declarations where the entity is the target.
func (app *Application) RelationsOf(entity string) []Relation {
	var out []Relation
	for _, r := range app.Relations {
		if r.Source.Entity == entity {
			out = append(out, r)
		}
		if inv := r.Inverse(); inv.Source.Entity == entity {
			out = append(out, inv)
		}
	}
	return out
}
