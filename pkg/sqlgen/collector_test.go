package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdb/trellis/pkg/model"
)

func testApp(t *testing.T) *model.Application {
	t.Helper()
	app := &model.Application{
		Name: "crm",
		Entities: []model.Entity{
			{
				Name:       "customer",
				Table:      "customers",
				PrimaryKey: "customer_id",
				Attributes: []model.Attribute{
					model.RequiredSimple("name", model.Text),
					model.Composite("address", model.Simple("city", model.Text)),
				},
			},
			{
				Name:       "invoice",
				Table:      "invoices",
				PrimaryKey: "invoice_id",
				Attributes: []model.Attribute{
					model.RequiredSimple("number", model.Text),
					model.Simple("total", model.Double),
				},
			},
			{
				Name:       "tag",
				Table:      "tags",
				PrimaryKey: "tag_id",
				Attributes: []model.Attribute{
					model.RequiredSimple("label", model.Text),
				},
			},
			{
				Name:       "profile",
				Table:      "profiles",
				PrimaryKey: "profile_id",
				Attributes: []model.Attribute{
					model.Simple("bio", model.Text),
				},
			},
		},
		Relations: []model.Relation{
			{
				Kind:             model.ManyToOne,
				Source:           model.Endpoint{Entity: "invoice", Name: "customer", Path: "customer"},
				Target:           model.Endpoint{Entity: "customer", Name: "invoices", Path: "invoices"},
				ForeignKeyColumn: "customer_ref",
			},
			{
				Kind:   model.ManyToMany,
				Source: model.Endpoint{Entity: "invoice", Name: "tags", Path: "tags"},
				Target: model.Endpoint{Entity: "tag", Name: "invoices", Path: "invoices"},
				Join: &model.JoinTable{
					Name:         "invoice_tags",
					SourceColumn: "invoice_ref",
					TargetColumn: "tag_ref",
				},
			},
			{
				Kind:             model.SourceOneToOne,
				Source:           model.Endpoint{Entity: "customer", Name: "profile", Path: "profile"},
				Target:           model.Endpoint{Entity: "profile", Name: "owner", Path: "owner"},
				ForeignKeyColumn: "profile_ref",
			},
		},
	}
	require.NoError(t, app.Validate())
	return app
}

func relation(t *testing.T, app *model.Application, entity, name string) model.Relation {
	t.Helper()
	rel, ok := app.Relation(entity, name)
	require.True(t, ok)
	return rel
}

func TestCollector_RootAlias(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "customers")
	assert.Equal(t, "c0", c.RootAlias())
	assert.Equal(t, "customers", c.RootTable())
	assert.Equal(t, "customers", c.CurrentTable())
	assert.Equal(t, "c0", c.CurrentAlias())
}

func TestCollector_CollectWithoutJoins(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "customers")
	assert.Equal(t, "c0.name = $1", c.Collect("c0.name = $1"))
}

func TestCollector_ManyToOne(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "invoices")
	c.AddRelation(relation(t, app, "invoice", "customer"))

	assert.Equal(t, "customers", c.CurrentTable())
	assert.Equal(t, "c1", c.CurrentAlias())

	got := c.Collect("c1.name = $1")
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM customers AS c1 WHERE c1.customer_id = i0.customer_ref AND c1.name = $1)",
		got)
}

func TestCollector_OneToMany(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "customers")
	c.AddRelation(relation(t, app, "customer", "invoices"))

	got := c.Collect("i1.number = $1")
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM invoices AS i1 WHERE i1.customer_ref = c0.customer_id AND i1.number = $1)",
		got)
}

func TestCollector_SourceOneToOne(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "customers")
	c.AddRelation(relation(t, app, "customer", "profile"))

	got := c.Collect("p1.bio = $1")
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM profiles AS p1 WHERE p1.profile_id = c0.profile_ref AND p1.bio = $1)",
		got)
}

func TestCollector_TargetOneToOne(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "profiles")
	c.AddRelation(relation(t, app, "profile", "owner"))

	// Inverse of source-one-to-one: the fk lives on the customers table.
	got := c.Collect("c1.name = $1")
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM customers AS c1 WHERE c1.profile_ref = p0.profile_id AND c1.name = $1)",
		got)
}

func TestCollector_ManyToManyAddsTwoFrames(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "invoices")
	c.AddRelation(relation(t, app, "invoice", "tags"))

	assert.Equal(t, "tags", c.CurrentTable())
	assert.Equal(t, "t2", c.CurrentAlias())

	got := c.Collect("t2.label = $1")
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM invoice_tags AS i1 WHERE i1.invoice_ref = i0.invoice_id AND "+
			"EXISTS (SELECT 1 FROM tags AS t2 WHERE t2.tag_id = i1.tag_ref AND t2.label = $1))",
		got)
}

func TestCollector_ChainedRelations(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "customers")
	c.AddRelation(relation(t, app, "customer", "invoices"))
	c.AddRelation(relation(t, app, "invoice", "tags"))

	got := c.Collect("t3.label = $1")
	assert.Equal(t,
		"EXISTS (SELECT 1 FROM invoices AS i1 WHERE i1.customer_ref = c0.customer_id AND "+
			"EXISTS (SELECT 1 FROM invoice_tags AS i2 WHERE i2.invoice_ref = i1.invoice_id AND "+
			"EXISTS (SELECT 1 FROM tags AS t3 WHERE t3.tag_id = i2.tag_ref AND t3.label = $1)))",
		got)
}

func TestCollector_CollectConsumesFrames(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "customers")
	c.AddRelation(relation(t, app, "customer", "invoices"))

	first := c.Collect("i1.number = $1")
	assert.Contains(t, first, "EXISTS")

	// Frames were consumed and the cursor is back at the root.
	second := c.Collect("c0.name = $2")
	assert.Equal(t, "c0.name = $2", second)
	assert.Equal(t, "customers", c.CurrentTable())
}

func TestCollector_AliasesNeverReused(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "customers")

	c.AddRelation(relation(t, app, "customer", "invoices"))
	first := c.Collect("i1.number = $1")
	assert.Contains(t, first, "invoices AS i1")

	// Second independent chain continues the counter instead of restarting.
	c.AddRelation(relation(t, app, "customer", "invoices"))
	second := c.Collect("i2.number = $2")
	assert.Contains(t, second, "invoices AS i2")
}

func TestCollector_ResetCurrentTableKeepsFrames(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "customers")
	c.AddRelation(relation(t, app, "customer", "invoices"))
	c.ResetCurrentTable()

	assert.Equal(t, "customers", c.CurrentTable())
	assert.Equal(t, "c0", c.CurrentAlias())

	// The pending join survives the reset and still wraps the condition.
	got := c.Collect("c0.name = $1")
	assert.Contains(t, got, "EXISTS (SELECT 1 FROM invoices AS i1")
}

func TestCollector_PanicsOnNonContiguousPath(t *testing.T) {
	app := testApp(t)
	c := NewCollector(app, "customers")
	// invoice.tags does not start at the customers table.
	assert.Panics(t, func() {
		c.AddRelation(relation(t, app, "invoice", "tags"))
	})
}
