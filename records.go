package trellis

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trellisdb/trellis/pkg/model"
)

// Record is the typed attribute data of one entity instance. Composite,
// content and actor-valued attributes appear as nested maps; scalar values
// are string, int64, float64, bool, time.Time or uuid.UUID. Absent values
// are nil: a content attribute with no content decodes to a nested map whose
// sub-attributes are all nil.
type Record map[string]any

// ContentData is the stored reference to an externally kept blob. The
// engine never inspects content bytes; it only exchanges this reference
// with the content-store collaborator.
type ContentData struct {
	ID       string
	Filename string
	Mimetype string
	Length   int64
}

// encodeRecord flattens a payload into column values, collecting every
// invalid-value and constraint violation instead of failing on the first.
// In partial mode absent attributes are left untouched; in full mode they
// are written as null (or flagged when required).
func encodeRecord(entity *model.Entity, rec Record, partial bool) (map[string]any, []FieldViolation) {
	cols := make(map[string]any)
	var violations []FieldViolation

	if _, ok := rec[entity.PrimaryKey]; ok {
		violations = append(violations, FieldViolation{
			Attribute: entity.PrimaryKey,
			Message:   "primary key is not writable",
		})
	}

	encodeAttributes(entity.Attributes, map[string]any(rec), nil, partial, cols, &violations)

	known := map[string]bool{entity.PrimaryKey: true}
	for _, a := range entity.Attributes {
		known[a.Name] = true
	}
	for name, v := range rec {
		if !known[name] {
			violations = append(violations, FieldViolation{
				Attribute: name,
				Message:   "unknown attribute",
				Value:     v,
			})
		}
	}
	return cols, violations
}

func encodeAttributes(attrs []model.Attribute, rec map[string]any, prefix []string, partial bool, cols map[string]any, violations *[]FieldViolation) {
	for _, a := range attrs {
		path := append(append([]string{}, prefix...), a.Name)
		label := strings.Join(path, ".")
		v, present := rec[a.Name]

		switch a.Kind {
		case model.KindUser:
			if present {
				*violations = append(*violations, FieldViolation{
					Attribute: label,
					Message:   "audit attribute is not writable",
					Value:     v,
				})
			}

		case model.KindContent:
			if !present {
				continue
			}
			sub, ok := v.(map[string]any)
			if !ok {
				*violations = append(*violations, FieldViolation{
					Attribute: label,
					Message:   "expected an object with filename and mimetype",
					Value:     v,
				})
				continue
			}
			for key, sv := range sub {
				switch key {
				case model.ContentFilename, model.ContentMimetype:
					if sv == nil {
						cols[model.ColumnName(append(path, key)...)] = nil
						continue
					}
					s, ok := sv.(string)
					if !ok {
						*violations = append(*violations, FieldViolation{
							Attribute: label + "." + key,
							Message:   "expected TEXT value",
							Value:     sv,
						})
						continue
					}
					cols[model.ColumnName(append(path, key)...)] = s
				case model.ContentID, model.ContentLength:
					*violations = append(*violations, FieldViolation{
						Attribute: label + "." + key,
						Message:   "content " + key + " is not writable",
						Value:     sv,
					})
				default:
					*violations = append(*violations, FieldViolation{
						Attribute: label + "." + key,
						Message:   "unknown attribute",
						Value:     sv,
					})
				}
			}

		case model.KindComposite:
			if !present {
				if partial {
					continue
				}
				// Full write: absent composite clears all sub-columns;
				// required leaves below it are flagged by the recursion.
				encodeAttributes(a.Attributes, map[string]any{}, path, false, cols, violations)
				continue
			}
			if v == nil {
				encodeAttributes(a.Attributes, map[string]any{}, path, false, cols, violations)
				continue
			}
			sub, ok := v.(map[string]any)
			if !ok {
				*violations = append(*violations, FieldViolation{
					Attribute: label,
					Message:   "expected a nested object",
					Value:     v,
				})
				continue
			}
			encodeAttributes(a.Attributes, sub, path, partial, cols, violations)
			for name, sv := range sub {
				if !hasAttribute(a.Attributes, name) {
					*violations = append(*violations, FieldViolation{
						Attribute: label + "." + name,
						Message:   "unknown attribute",
						Value:     sv,
					})
				}
			}

		case model.KindSimple:
			column := model.ColumnName(path...)
			if !present {
				if partial {
					continue
				}
				if a.Required {
					*violations = append(*violations, FieldViolation{
						Attribute: label,
						Message:   "required value missing",
					})
					continue
				}
				cols[column] = nil
				continue
			}
			if v == nil {
				if a.Required {
					*violations = append(*violations, FieldViolation{
						Attribute: label,
						Message:   "required value must not be null",
					})
					continue
				}
				cols[column] = nil
				continue
			}
			coerced, msg := coerceSimple(a, v)
			if msg != "" {
				*violations = append(*violations, FieldViolation{
					Attribute: label,
					Message:   msg,
					Value:     v,
				})
				continue
			}
			cols[column] = coerced
		}
	}
}

func hasAttribute(attrs []model.Attribute, name string) bool {
	for _, a := range attrs {
		if a.Name == name {
			return true
		}
	}
	return false
}

// coerceSimple converts a payload value to the attribute's scalar type.
// A non-empty message means the value is incompatible.
func coerceSimple(a model.Attribute, v any) (any, string) {
	switch a.Type {
	case model.Text:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Sprintf("expected TEXT value, got %T", v)
		}
		if len(a.AllowedValues) > 0 {
			allowed := false
			for _, av := range a.AllowedValues {
				if av == s {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, fmt.Sprintf("value %q is not one of the allowed values", s)
			}
		}
		return s, ""
	case model.Long:
		switch n := v.(type) {
		case int:
			return int64(n), ""
		case int64:
			return n, ""
		case float64:
			if n == float64(int64(n)) {
				return int64(n), ""
			}
			return nil, fmt.Sprintf("expected LONG value, got fractional number %v", n)
		}
		return nil, fmt.Sprintf("expected LONG value, got %T", v)
	case model.Double:
		switch n := v.(type) {
		case float64:
			return n, ""
		case int:
			return float64(n), ""
		case int64:
			return float64(n), ""
		}
		return nil, fmt.Sprintf("expected DOUBLE value, got %T", v)
	case model.Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Sprintf("expected BOOLEAN value, got %T", v)
		}
		return b, ""
	case model.Datetime:
		switch t := v.(type) {
		case time.Time:
			return t, ""
		case string:
			parsed, err := time.Parse(time.RFC3339, t)
			if err != nil {
				return nil, fmt.Sprintf("expected ISO-8601 DATETIME value, got %q", t)
			}
			return parsed, ""
		}
		return nil, fmt.Sprintf("expected DATETIME value, got %T", v)
	case model.UUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u, ""
		case string:
			parsed, err := uuid.Parse(u)
			if err != nil {
				return nil, fmt.Sprintf("expected UUID value, got %q", u)
			}
			return parsed, ""
		}
		return nil, fmt.Sprintf("expected UUID value, got %T", v)
	}
	return nil, fmt.Sprintf("unknown scalar type %q", a.Type)
}

// auditColumns returns the engine-populated audit column values for a
// create or modify operation.
func (e *Engine) auditColumns(entity *model.Entity, actor Actor, creating bool) map[string]any {
	cols := make(map[string]any)
	now := e.now().UTC()
	for _, a := range entity.Attributes {
		if a.Kind != model.KindUser {
			continue
		}
		switch a.Role {
		case model.Creator:
			if creating {
				cols[model.ColumnName(a.Name, model.UserID)] = nullable(actor.ID)
				cols[model.ColumnName(a.Name, model.UserNamespace)] = nullable(actor.Namespace)
				cols[model.ColumnName(a.Name, model.UserName)] = nullable(actor.Name)
			}
		case model.Modifier:
			cols[model.ColumnName(a.Name, model.UserID)] = nullable(actor.ID)
			cols[model.ColumnName(a.Name, model.UserNamespace)] = nullable(actor.Namespace)
			cols[model.ColumnName(a.Name, model.UserName)] = nullable(actor.Name)
		case model.CreatedDate:
			if creating {
				cols[a.Name] = now
			}
		case model.ModifiedDate:
			cols[a.Name] = now
		}
	}
	return cols
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scanTargets allocates scan destinations matching the column types.
func scanTargets(cols []model.Column) []any {
	targets := make([]any, len(cols))
	for i, c := range cols {
		switch c.Type {
		case model.Long:
			targets[i] = new(sql.NullInt64)
		case model.Double:
			targets[i] = new(sql.NullFloat64)
		case model.Boolean:
			targets[i] = new(sql.NullBool)
		case model.Datetime:
			targets[i] = new(sql.NullTime)
		default: // TEXT and UUID scan as text
			targets[i] = new(sql.NullString)
		}
	}
	return targets
}

// decodeRow reassembles a scanned row into a nested Record. Flattened
// parent__child columns become nested maps; absent values decode to nil.
func decodeRow(cols []model.Column, targets []any) Record {
	rec := make(Record)
	for i, c := range cols {
		var v any
		switch t := targets[i].(type) {
		case *sql.NullInt64:
			if t.Valid {
				v = t.Int64
			}
		case *sql.NullFloat64:
			if t.Valid {
				v = t.Float64
			}
		case *sql.NullBool:
			if t.Valid {
				v = t.Bool
			}
		case *sql.NullTime:
			if t.Valid {
				v = t.Time
			}
		case *sql.NullString:
			if t.Valid {
				if c.Type == model.UUID {
					if u, err := uuid.Parse(t.String); err == nil {
						v = u
					} else {
						v = t.String
					}
				} else {
					v = t.String
				}
			}
		}
		nest(rec, strings.Split(c.Name, "__"), v)
	}
	return rec
}

func nest(rec map[string]any, segments []string, v any) {
	if len(segments) == 1 {
		rec[segments[0]] = v
		return
	}
	sub, ok := rec[segments[0]].(map[string]any)
	if !ok {
		sub = make(map[string]any)
		rec[segments[0]] = sub
	}
	nest(sub, segments[1:], v)
}
