package model

// Column is one physical column produced by flattening an attribute tree.
type Column struct {
	Name     string
	Type     Type
	Required bool
	Unique   bool
}

// Sub-column names of content attributes.
const (
	ContentID       = "id"
	ContentFilename = "filename"
	ContentMimetype = "mimetype"
	ContentLength   = "length"
)

// Sub-column names of actor-valued user attributes.
const (
	UserID        = "id"
	UserNamespace = "namespace"
	UserName      = "name"
)

// colSep joins nesting levels in flattened column names (parent__child).
const colSep = "__"

// ColumnName returns the flattened column name for a nested attribute.
func ColumnName(segments ...string) string {
	name := ""
	for i, s := range segments {
		if i > 0 {
			name += colSep
		}
		name += s
	}
	return name
}

// Columns flattens the attribute into its physical columns, prefixed with
// the given parent path. Composite attributes recurse; content attributes
// expand to id/filename/mimetype/length; actor-valued user attributes expand
// to id/namespace/name; date-valued user attributes map to one timestamp
// column.
func (a Attribute) Columns(prefix ...string) []Column {
	path := append(append([]string{}, prefix...), a.Name)
	switch a.Kind {
	case KindSimple:
		return []Column{{
			Name:     ColumnName(path...),
			Type:     a.Type,
			Required: a.Required,
			Unique:   a.Unique,
		}}
	case KindComposite:
		var cols []Column
		for _, sub := range a.Attributes {
			cols = append(cols, sub.Columns(path...)...)
		}
		return cols
	case KindContent:
		return []Column{
			{Name: ColumnName(append(path, ContentID)...), Type: Text},
			{Name: ColumnName(append(path, ContentFilename)...), Type: Text},
			{Name: ColumnName(append(path, ContentMimetype)...), Type: Text},
			{Name: ColumnName(append(path, ContentLength)...), Type: Long},
		}
	case KindUser:
		if a.Role == CreatedDate || a.Role == ModifiedDate {
			return []Column{{Name: ColumnName(path...), Type: Datetime}}
		}
		return []Column{
			{Name: ColumnName(append(path, UserID)...), Type: Text},
			{Name: ColumnName(append(path, UserNamespace)...), Type: Text},
			{Name: ColumnName(append(path, UserName)...), Type: Text},
		}
	}
	return nil
}

// Columns returns all physical columns of the entity, the primary key first.
func (e *Entity) Columns() []Column {
	cols := []Column{{Name: e.KeyColumn(), Type: Text, Required: true, Unique: true}}
	for _, a := range e.Attributes {
		cols = append(cols, a.Columns()...)
	}
	return cols
}

// AttributeAt resolves a dotted attribute path (nested through composites)
// and returns the leaf attribute together with its flattened column name.
// The path must consist of attribute names only; relation segments are the
// caller's concern.
func (e *Entity) AttributeAt(path []string) (Attribute, string, bool) {
	if len(path) == 0 {
		return Attribute{}, "", false
	}
	attrs := e.Attributes
	var attr Attribute
	for i, seg := range path {
		found := false
		for _, a := range attrs {
			if a.Name == seg {
				attr, found = a, true
				break
			}
		}
		if !found {
			return Attribute{}, "", false
		}
		if i < len(path)-1 {
			if attr.Kind != KindComposite {
				return Attribute{}, "", false
			}
			attrs = attr.Attributes
		}
	}
	return attr, ColumnName(path...), true
}
