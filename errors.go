package trellis

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for invalid request shapes. These are raised before any
// transaction is opened and never leave partial state behind. Use the
// Is*Err helpers (or errors.Is) to classify them; the wrapped message names
// the offending entity, attribute or relation.
var (
	// ErrUnknownEntity is returned when a call names an entity the
	// application model does not declare.
	ErrUnknownEntity = errors.New("trellis: unknown entity")

	// ErrUnknownAttribute is returned when a call names an attribute the
	// entity does not declare, or uses one in an unsupported position
	// (e.g. sorting by a non-sortable field).
	ErrUnknownAttribute = errors.New("trellis: unknown attribute")

	// ErrUnknownRelation is returned when a call names a relation that is
	// not declared for the entity, in either direction.
	ErrUnknownRelation = errors.New("trellis: unknown relation")

	// ErrNotFound is returned when a referenced entity id or relation
	// target does not exist.
	ErrNotFound = errors.New("trellis: not found")
)

// IsUnknownEntityErr returns true if err is or wraps ErrUnknownEntity.
func IsUnknownEntityErr(err error) bool { return errors.Is(err, ErrUnknownEntity) }

// IsUnknownAttributeErr returns true if err is or wraps ErrUnknownAttribute.
func IsUnknownAttributeErr(err error) bool { return errors.Is(err, ErrUnknownAttribute) }

// IsUnknownRelationErr returns true if err is or wraps ErrUnknownRelation.
func IsUnknownRelationErr(err error) bool { return errors.Is(err, ErrUnknownRelation) }

// IsNotFoundErr returns true if err is or wraps ErrNotFound.
func IsNotFoundErr(err error) bool { return errors.Is(err, ErrNotFound) }

// FieldViolation is one invalid-value or constraint problem in a payload.
type FieldViolation struct {
	Attribute string
	Message   string
	Value     any
}

func (v FieldViolation) String() string {
	if v.Attribute == "" {
		return v.Message
	}
	return v.Attribute + ": " + v.Message
}

// ValidationError collects every invalid-value and constraint violation of
// one payload so a client can fix all fields in a single round trip.
// Violations keep payload order.
type ValidationError struct {
	Entity     string
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("trellis: invalid %s payload: %s", e.Entity, strings.Join(parts, "; "))
}

// IsValidationErr returns true if err is or wraps a ValidationError.
func IsValidationErr(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CardinalityError reports a relation payload whose shape does not match the
// declared cardinality: a singular operation on a to-many relation or a
// plural operation on a to-one relation.
type CardinalityError struct {
	Relation string
	Message  string
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("trellis: relation %s: %s", e.Relation, e.Message)
}

// IsCardinalityErr returns true if err is or wraps a CardinalityError.
func IsCardinalityErr(err error) bool {
	var ce *CardinalityError
	return errors.As(err, &ce)
}

// OverwriteViolation describes one link that a write would have silently
// destroyed: the record whose link would change without its side ever having
// seen the write, and the value that would have been lost.
type OverwriteViolation struct {
	Entity   string
	Relation string
	ID       string
	Previous string
}

func (v OverwriteViolation) String() string {
	return fmt.Sprintf("%s %q relation %q currently linked to %q", v.Entity, v.ID, v.Relation, v.Previous)
}

// BlindOverwriteError aborts a relation mutation that would overwrite a link
// only visible from the other entity's side. For batch operations every
// violating target is evaluated; the first violation is the primary one and
// the rest ride along so callers can report all conflicting targets. The
// whole operation is rolled back: no partial linking occurs.
type BlindOverwriteError struct {
	Violations []OverwriteViolation
}

func (e *BlindOverwriteError) Error() string {
	if len(e.Violations) == 1 {
		return "trellis: blind relation overwrite: " + e.Violations[0].String()
	}
	return fmt.Sprintf("trellis: blind relation overwrite: %s (and %d more)",
		e.Violations[0].String(), len(e.Violations)-1)
}

// Primary returns the first violation.
func (e *BlindOverwriteError) Primary() OverwriteViolation {
	return e.Violations[0]
}

// IsBlindOverwriteErr returns true if err is or wraps a BlindOverwriteError.
func IsBlindOverwriteErr(err error) bool {
	var boe *BlindOverwriteError
	return errors.As(err, &boe)
}

// UnsatisfiedVersionError reports a version precondition that the entity's
// current version does not satisfy. The write was aborted before any side
// effect, including contact with the content store.
type UnsatisfiedVersionError struct {
	Entity     string
	ID         string
	Constraint VersionConstraint
	Current    Version
}

func (e *UnsatisfiedVersionError) Error() string {
	return fmt.Sprintf("trellis: %s %q: version precondition %s not satisfied by %s",
		e.Entity, e.ID, e.Constraint, e.Current)
}

// IsUnsatisfiedVersionErr returns true if err is or wraps an UnsatisfiedVersionError.
func IsUnsatisfiedVersionErr(err error) bool {
	var uve *UnsatisfiedVersionError
	return errors.As(err, &uve)
}
