package model

import "fmt"

// RelationKind discriminates the closed set of relation variants.
// The join collector and the mutation protocol switch exhaustively over this
// set, so a new variant cannot be silently mishandled.
type RelationKind string

// Relation variants. The names encode where the foreign key lives:
//
//   - SourceOneToOne: one-to-one, fk column on the source table
//   - TargetOneToOne: one-to-one, fk column on the target table
//   - ManyToOne: fk column on the source table (many sources per target)
//   - OneToMany: fk column on the target table (many targets per source);
//     the inverse view of ManyToOne
//   - ManyToMany: join table with one row per link
const (
	SourceOneToOne RelationKind = "source-one-to-one"
	TargetOneToOne RelationKind = "target-one-to-one"
	ManyToOne      RelationKind = "many-to-one"
	OneToMany      RelationKind = "one-to-many"
	ManyToMany     RelationKind = "many-to-many"
)

// Endpoint is one side of a relation, bound to an entity by name.
type Endpoint struct {
	Entity   string
	Name     string
	Path     string
	Required bool
}

// JoinTable describes the backing table of a many-to-many relation.
// SourceColumn and TargetColumn hold foreign keys to the respective
// entity tables.
type JoinTable struct {
	Name         string
	SourceColumn string
	TargetColumn string
}

// Relation connects two entities. The relation is always stored exactly once:
// the owning side's table (or the join table) physically encodes the link,
// and the other side is computed by reading it.
type Relation struct {
	Kind   RelationKind
	Source Endpoint
	Target Endpoint

	// ForeignKeyColumn is the fk column for all variants except ManyToMany.
	// It lives on the owning side's table (see OwnedBySource).
	ForeignKeyColumn string

	// Join is set for ManyToMany only.
	Join *JoinTable
}

// Inverse returns the symmetric relation viewed from the other entity.
// Inverse is an involution: r.Inverse().Inverse() is equivalent to r.
func (r Relation) Inverse() Relation {
	inv := Relation{
		Source:           r.Target,
		Target:           r.Source,
		ForeignKeyColumn: r.ForeignKeyColumn,
	}
	switch r.Kind {
	case SourceOneToOne:
		inv.Kind = TargetOneToOne
	case TargetOneToOne:
		inv.Kind = SourceOneToOne
	case ManyToOne:
		inv.Kind = OneToMany
	case OneToMany:
		inv.Kind = ManyToOne
	case ManyToMany:
		inv.Kind = ManyToMany
		inv.Join = &JoinTable{
			Name:         r.Join.Name,
			SourceColumn: r.Join.TargetColumn,
			TargetColumn: r.Join.SourceColumn,
		}
	default:
		panic(fmt.Sprintf("model: unknown relation kind %q", r.Kind))
	}
	return inv
}

// OwnedBySource reports whether the source side's table stores the link.
// For ManyToMany the join table is declared from the source's perspective,
// so the source counts as the owning side.
func (r Relation) OwnedBySource() bool {
	switch r.Kind {
	case SourceOneToOne, ManyToOne, ManyToMany:
		return true
	case TargetOneToOne, OneToMany:
		return false
	default:
		panic(fmt.Sprintf("model: unknown relation kind %q", r.Kind))
	}
}

// OwningSide returns the endpoint whose table (or join-table declaration)
// physically stores the link. Always unambiguous given the kind.
func (r Relation) OwningSide() Endpoint {
	if r.OwnedBySource() {
		return r.Source
	}
	return r.Target
}

// ToMany reports whether traversing from source to target can reach more
// than one row. Filter compilation inserts an existential path variable
// after every to-many hop.
func (r Relation) ToMany() bool {
	return r.Kind == OneToMany || r.Kind == ManyToMany
}

// String returns "source.name -> target" for diagnostics.
func (r Relation) String() string {
	return fmt.Sprintf("%s.%s -> %s", r.Source.Entity, r.Source.Name, r.Target.Entity)
}
