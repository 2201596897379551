// Package xpr defines the boolean expression algebra shared by the filter
// compiler, the authorization collaborator and the SQL lowering stage.
//
// Expressions reference attributes through symbolic paths rooted at the
// "entity" variable. A path may cross relations; wherever it crosses a
// to-many relation an anonymous existential segment (Existential, rendered
// "_") follows the relation segment, denoting "some linked row". The SQL
// stage turns such hops into correlated EXISTS subqueries.
//
// The Expr set is closed: only types in this package implement it, so
// consumers can switch exhaustively.
package xpr

import (
	"fmt"
	"strings"
)

// Expr is a node of a boolean or value expression tree.
type Expr interface {
	isExpr()
	String() string
}

// Operator is a comparison operator of a Comparison node.
type Operator string

// Comparison operators. HasPrefix is the normalized-prefix comparison used
// by prefix search filters; it has no single-token SQL equivalent and is
// lowered specially.
const (
	Equals         Operator = "="
	NotEquals      Operator = "<>"
	GreaterThan    Operator = ">"
	GreaterOrEqual Operator = ">="
	LessThan       Operator = "<"
	LessOrEqual    Operator = "<="
	HasPrefix      Operator = "prefix"
)

// Existential is the anonymous path variable inserted after to-many
// relation segments.
const Existential = "_"

// EntityVar is the fixed root variable all attribute paths start from.
const EntityVar = "entity"

// Literal is a boolean constant. And() of zero terms is True; Or() of zero
// terms is False.
type Literal bool

// Boolean literals.
const (
	True  Literal = true
	False Literal = false
)

func (Literal) isExpr() {}

func (l Literal) String() string {
	if l {
		return "true"
	}
	return "false"
}

// Scalar wraps a parsed attribute value used as a comparison term.
// Value holds one of string, int64, float64, bool, time.Time or uuid.UUID.
type Scalar struct {
	Value any
}

func (Scalar) isExpr() {}

func (s Scalar) String() string { return fmt.Sprintf("%v", s.Value) }

// SymbolicReference is an attribute or relation path rooted at a variable.
// Segments are attribute names (nested through composites), relation names,
// or Existential.
type SymbolicReference struct {
	Var      string
	Segments []string
}

func (SymbolicReference) isExpr() {}

func (r SymbolicReference) String() string {
	return r.Var + "." + strings.Join(r.Segments, ".")
}

// Ref builds a SymbolicReference rooted at the entity variable.
func Ref(segments ...string) SymbolicReference {
	return SymbolicReference{Var: EntityVar, Segments: segments}
}

// Comparison applies an operator to two terms. Left is typically a
// SymbolicReference, Right a Scalar; the algebra does not restrict this.
type Comparison struct {
	Left  Expr
	Op    Operator
	Right Expr
}

func (Comparison) isExpr() {}

func (c Comparison) String() string {
	return fmt.Sprintf("(%s %s %s)", c.Left, c.Op, c.Right)
}

// Compare builds a Comparison node.
func Compare(left Expr, op Operator, right Expr) Comparison {
	return Comparison{Left: left, Op: op, Right: right}
}

// AndExpr is a conjunction of terms.
type AndExpr struct {
	Terms []Expr
}

func (AndExpr) isExpr() {}

func (a AndExpr) String() string { return joinTerms("and", a.Terms) }

// And builds a conjunction. Nil terms are dropped; zero terms yield True;
// a single term is returned unwrapped.
func And(terms ...Expr) Expr {
	filtered := filterNil(terms)
	switch len(filtered) {
	case 0:
		return True
	case 1:
		return filtered[0]
	}
	return AndExpr{Terms: filtered}
}

// OrExpr is a disjunction of terms.
type OrExpr struct {
	Terms []Expr
}

func (OrExpr) isExpr() {}

func (o OrExpr) String() string { return joinTerms("or", o.Terms) }

// Or builds a disjunction. Nil terms are dropped; zero terms yield False;
// a single term is returned unwrapped.
func Or(terms ...Expr) Expr {
	filtered := filterNil(terms)
	switch len(filtered) {
	case 0:
		return False
	case 1:
		return filtered[0]
	}
	return OrExpr{Terms: filtered}
}

// NotExpr negates a term.
type NotExpr struct {
	Term Expr
}

func (NotExpr) isExpr() {}

func (n NotExpr) String() string { return "(not " + n.Term.String() + ")" }

// Not builds a negation.
func Not(term Expr) NotExpr {
	return NotExpr{Term: term}
}

func filterNil(terms []Expr) []Expr {
	filtered := make([]Expr, 0, len(terms))
	for _, t := range terms {
		if t != nil {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func joinTerms(op string, terms []Expr) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

// Walk calls fn for every node of the tree in depth-first order. It stops
// early when fn returns false.
func Walk(e Expr, fn func(Expr) bool) bool {
	if e == nil || !fn(e) {
		return false
	}
	switch n := e.(type) {
	case AndExpr:
		for _, t := range n.Terms {
			if !Walk(t, fn) {
				return false
			}
		}
	case OrExpr:
		for _, t := range n.Terms {
			if !Walk(t, fn) {
				return false
			}
		}
	case NotExpr:
		return Walk(n.Term, fn)
	case Comparison:
		return Walk(n.Left, fn) && Walk(n.Right, fn)
	}
	return true
}
