package ddl

import (
	"strings"
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
					model.UniqueSimple("email", model.Text),
					model.Simple("score", model.Long),
					model.Simple("rating", model.Double),
					model.Simple("active", model.Boolean),
					model.Simple("since", model.Datetime),
					model.Simple("externalRef", model.UUID),
					model.Composite("address", model.Simple("city", model.Text)),
					model.Content("contract"),
				},
			},
			{
				Name:       "invoice",
				Table:      "invoices",
				PrimaryKey: "invoice_id",
				Attributes: []model.Attribute{
					model.RequiredSimple("number", model.Text),
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
				Kind:             model.SourceOneToOne,
				Source:           model.Endpoint{Entity: "customer", Name: "profile", Path: "profile"},
				Target:           model.Endpoint{Entity: "profile", Name: "owner", Path: "owner"},
				ForeignKeyColumn: "profile_ref",
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
		},
	}
	require.NoError(t, app.Validate())
	return app
}

func TestCreateTables_EntityTables(t *testing.T) {
	app := testApp(t)
	stmts := CreateTables(app)
	require.NotEmpty(t, stmts)

	joined := strings.Join(stmts, ";\n")

	// One CREATE TABLE per entity plus one per many-to-many join table.
	assert.Equal(t, len(app.Entities)+1, strings.Count(joined, "CREATE TABLE IF NOT EXISTS"))

	customers := stmts[0]
	assert.Contains(t, customers, `CREATE TABLE IF NOT EXISTS "customers"`)
	assert.Contains(t, customers, `"customer_id" TEXT PRIMARY KEY`)
	assert.Contains(t, customers, `"name" TEXT NOT NULL`)
	assert.Contains(t, customers, `"email" TEXT UNIQUE`)
	assert.Contains(t, customers, `"score" BIGINT`)
	assert.Contains(t, customers, `"rating" DOUBLE PRECISION`)
	assert.Contains(t, customers, `"active" BOOLEAN`)
	assert.Contains(t, customers, `"since" TIMESTAMPTZ`)
	assert.Contains(t, customers, `"externalRef" UUID`)
	assert.Contains(t, customers, `"address__city" TEXT`)
	assert.Contains(t, customers, `"contract__id" TEXT`)
	assert.Contains(t, customers, `"contract__length" BIGINT`)
}

func TestCreateTables_ForeignKeyColumns(t *testing.T) {
	app := testApp(t)
	joined := strings.Join(CreateTables(app), ";\n")

	// many-to-one: plain fk on the source table
	assert.Contains(t, joined,
		`ALTER TABLE "invoices" ADD COLUMN IF NOT EXISTS "customer_ref" TEXT REFERENCES "customers" ("customer_id") ON DELETE SET NULL`)

	// one-to-one: fk carries UNIQUE so the inverse stays single-valued
	assert.Contains(t, joined,
		`ALTER TABLE "customers" ADD COLUMN IF NOT EXISTS "profile_ref" TEXT UNIQUE REFERENCES "profiles" ("profile_id") ON DELETE SET NULL`)
}

func TestCreateTables_JoinTable(t *testing.T) {
	app := testApp(t)
	joined := strings.Join(CreateTables(app), ";\n")

	assert.Contains(t, joined, `CREATE TABLE IF NOT EXISTS "invoice_tags"`)
	assert.Contains(t, joined, `"invoice_ref" TEXT NOT NULL REFERENCES "invoices" ("invoice_id") ON DELETE CASCADE`)
	assert.Contains(t, joined, `"tag_ref" TEXT NOT NULL REFERENCES "tags" ("tag_id") ON DELETE CASCADE`)
	assert.Contains(t, joined, `PRIMARY KEY ("invoice_ref", "tag_ref")`)
}

func TestCreateTables_EntityTablesBeforeRelations(t *testing.T) {
	app := testApp(t)
	stmts := CreateTables(app)

	lastCreate := -1
	firstAlter := len(stmts)
	for i, s := range stmts {
		if strings.HasPrefix(s, "CREATE TABLE") && !strings.Contains(s, "invoice_tags") {
			lastCreate = i
		}
		if strings.HasPrefix(s, "ALTER TABLE") && i < firstAlter {
			firstAlter = i
		}
	}
	assert.Less(t, lastCreate, firstAlter, "entity tables must exist before fk columns reference them")
}

func TestDropTables_JoinTablesFirst(t *testing.T) {
	app := testApp(t)
	stmts := DropTables(app)
	require.NotEmpty(t, stmts)

	assert.Equal(t, `DROP TABLE IF EXISTS "invoice_tags"`, stmts[0])
	for _, s := range stmts[1:] {
		assert.Contains(t, s, "CASCADE")
	}
}
