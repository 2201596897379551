package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidModel(t *testing.T) {
	testApp(t) // testApp calls Validate
}

func TestValidate_DuplicateEntity(t *testing.T) {
	app := &Application{Entities: []Entity{
		{Name: "a", Table: "as", PrimaryKey: "id"},
		{Name: "a", Table: "others", PrimaryKey: "id"},
	}}
	err := app.Validate()
	require.Error(t, err)
	assert.True(t, IsInvalidModelErr(err))
	assert.Contains(t, err.Error(), "duplicate entity")
}

func TestValidate_SharedTable(t *testing.T) {
	app := &Application{Entities: []Entity{
		{Name: "a", Table: "shared", PrimaryKey: "id"},
		{Name: "b", Table: "shared", PrimaryKey: "id"},
	}}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share table")
}

func TestValidate_MissingMandatoryFields(t *testing.T) {
	app := &Application{Entities: []Entity{{Name: "a", Table: "as"}}}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mandatory")
}

func TestValidate_DuplicateAttribute(t *testing.T) {
	app := &Application{Entities: []Entity{{
		Name: "a", Table: "as", PrimaryKey: "id",
		Attributes: []Attribute{Simple("x", Text), Simple("x", Long)},
	}}}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate attribute")
}

func TestValidate_AttributeCollidesWithPrimaryKey(t *testing.T) {
	app := &Application{Entities: []Entity{{
		Name: "a", Table: "as", PrimaryKey: "id",
		Attributes: []Attribute{Simple("id", Text)},
	}}}
	err := app.Validate()
	require.Error(t, err)
}

func TestValidate_UnknownScalarType(t *testing.T) {
	app := &Application{Entities: []Entity{{
		Name: "a", Table: "as", PrimaryKey: "id",
		Attributes: []Attribute{Simple("x", Type("DECIMAL"))},
	}}}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestValidate_EmptyComposite(t *testing.T) {
	app := &Application{Entities: []Entity{{
		Name: "a", Table: "as", PrimaryKey: "id",
		Attributes: []Attribute{Composite("nested")},
	}}}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sub-attributes")
}

func TestValidate_UnknownAuditRole(t *testing.T) {
	app := &Application{Entities: []Entity{{
		Name: "a", Table: "as", PrimaryKey: "id",
		Attributes: []Attribute{User("who", AuditRole("owner"))},
	}}}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestValidate_RelationMissingForeignKey(t *testing.T) {
	app := &Application{
		Entities: []Entity{
			{Name: "a", Table: "as", PrimaryKey: "id"},
			{Name: "b", Table: "bs", PrimaryKey: "id"},
		},
		Relations: []Relation{{
			Kind:   ManyToOne,
			Source: Endpoint{Entity: "a", Name: "b", Path: "b"},
			Target: Endpoint{Entity: "b", Name: "as", Path: "as"},
		}},
	}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foreign key column is mandatory")
}

func TestValidate_ManyToManyMissingJoinTable(t *testing.T) {
	app := &Application{
		Entities: []Entity{
			{Name: "a", Table: "as", PrimaryKey: "id"},
			{Name: "b", Table: "bs", PrimaryKey: "id"},
		},
		Relations: []Relation{{
			Kind:   ManyToMany,
			Source: Endpoint{Entity: "a", Name: "bs", Path: "bs"},
			Target: Endpoint{Entity: "b", Name: "as", Path: "as"},
		}},
	}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "join table is mandatory")
}

func TestValidate_RelationUndeclaredEntity(t *testing.T) {
	app := &Application{
		Entities: []Entity{{Name: "a", Table: "as", PrimaryKey: "id"}},
		Relations: []Relation{{
			Kind:             ManyToOne,
			Source:           Endpoint{Entity: "a", Name: "ghost", Path: "ghost"},
			Target:           Endpoint{Entity: "ghost", Name: "as", Path: "as"},
			ForeignKeyColumn: "ghost_ref",
		}},
	}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared entity")
}

func TestValidate_DuplicateRelationPath(t *testing.T) {
	app := &Application{
		Entities: []Entity{
			{Name: "a", Table: "as", PrimaryKey: "id"},
			{Name: "b", Table: "bs", PrimaryKey: "id"},
		},
		Relations: []Relation{
			{
				Kind:             ManyToOne,
				Source:           Endpoint{Entity: "a", Name: "b", Path: "b"},
				Target:           Endpoint{Entity: "b", Name: "as", Path: "as"},
				ForeignKeyColumn: "b_ref",
			},
			{
				Kind:             SourceOneToOne,
				Source:           Endpoint{Entity: "a", Name: "b2", Path: "b"},
				Target:           Endpoint{Entity: "b", Name: "a2", Path: "a2"},
				ForeignKeyColumn: "b2_ref",
			},
		},
	}
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate path")
}

func TestValidate_FilterAcrossRelation(t *testing.T) {
	app := testApp(t)
	e, _ := app.Entity("customer")
	e.Filters = append(e.Filters, SearchFilter{
		Name: "invoiceNumber",
		Path: PropertyPath{"invoices", "number"},
	})
	require.NoError(t, app.Validate())
}

func TestValidate_FilterEndsOnRelation(t *testing.T) {
	app := testApp(t)
	e, _ := app.Entity("customer")
	e.Filters = append(e.Filters, SearchFilter{
		Name: "broken",
		Path: PropertyPath{"invoices"},
	})
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ends on a relation")
}

func TestValidate_FilterUnresolvedPath(t *testing.T) {
	app := testApp(t)
	e, _ := app.Entity("customer")
	e.Filters = append(e.Filters, SearchFilter{
		Name: "broken",
		Path: PropertyPath{"nonexistent"},
	})
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not resolve")
}

func TestValidate_PrefixFilterRequiresText(t *testing.T) {
	app := testApp(t)
	e, _ := app.Entity("invoice")
	e.Filters = append(e.Filters, SearchFilter{
		Name: "totalPrefix",
		Path: PropertyPath{"total"},
		Kind: Prefix,
	})
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a TEXT attribute")
}

func TestValidate_SortableMustBeSimple(t *testing.T) {
	app := testApp(t)
	e, _ := app.Entity("customer")
	e.Sortable = append(e.Sortable, "address")
	err := app.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a simple attribute")
}
