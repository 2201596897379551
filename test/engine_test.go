package test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdb/trellis"
	"github.com/trellisdb/trellis/test/testutil"
)

var testActor = trellis.Actor{ID: "u-1", Namespace: "staff", Name: "Alex"}

func actorCtx() context.Context {
	return trellis.WithActor(context.Background(), testActor)
}

func TestCreateAndFindByID(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()

	id, err := engine.Create(ctx, "customer", trellis.Record{
		"name":  "ACME",
		"email": "hello@acme.example",
		"tier":  "premium",
		"address": map[string]any{
			"street": "Main St 1",
			"city":   "Berlin",
			"zip":    "10115",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := engine.FindByID(ctx, "customer", id)
	require.NoError(t, err)

	assert.Equal(t, id, rec["customer_id"])
	assert.Equal(t, "ACME", rec["name"])
	assert.Equal(t, "premium", rec["tier"])

	address, ok := rec["address"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Berlin", address["city"])

	// Audit attributes are populated from the context actor.
	createdBy, ok := rec["createdBy"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u-1", createdBy["id"])
	assert.Equal(t, "staff", createdBy["namespace"])
	assert.Equal(t, "Alex", createdBy["name"])
	assert.NotNil(t, rec["createdAt"])
	assert.NotNil(t, rec["modifiedAt"])

	// Content starts absent: nested map with nil sub-values.
	contract, ok := rec["contract"].(map[string]any)
	require.True(t, ok)
	assert.Nil(t, contract["id"])
}

func TestCreate_UnknownEntity(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	_, err := engine.Create(actorCtx(), "ghost", trellis.Record{})
	require.Error(t, err)
	assert.True(t, trellis.IsUnknownEntityErr(err))
}

func TestCreate_ValidationBatched(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)

	_, err := engine.Create(actorCtx(), "customer", trellis.Record{
		"tier":    "gold",
		"unknown": true,
	})
	require.Error(t, err)
	require.True(t, trellis.IsValidationErr(err))

	var ve *trellis.ValidationError
	require.ErrorAs(t, err, &ve)
	// missing name, disallowed tier value, unknown attribute
	assert.Len(t, ve.Violations, 3)
}

func TestCreate_UniqueViolation(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()

	_, err := engine.Create(ctx, "customer", trellis.Record{
		"name": "A", "email": "dup@acme.example",
	})
	require.NoError(t, err)

	_, err = engine.Create(ctx, "customer", trellis.Record{
		"name": "B", "email": "dup@acme.example",
	})
	require.Error(t, err)
	require.True(t, trellis.IsValidationErr(err))

	var ve *trellis.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "email", ve.Violations[0].Attribute)
}

func TestUpdate_FullWriteClearsAbsent(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()

	id, err := engine.Create(ctx, "customer", trellis.Record{
		"name": "ACME", "tier": "basic",
	})
	require.NoError(t, err)

	require.NoError(t, engine.Update(ctx, "customer", id, trellis.Record{
		"name": "ACME GmbH",
	}))

	rec, err := engine.FindByID(ctx, "customer", id)
	require.NoError(t, err)
	assert.Equal(t, "ACME GmbH", rec["name"])
	assert.Nil(t, rec["tier"], "absent attribute in full write is cleared")
}

func TestPatch_PartialKeepsAbsent(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()

	id, err := engine.Create(ctx, "customer", trellis.Record{
		"name": "ACME", "tier": "basic",
		"address": map[string]any{"city": "Berlin"},
	})
	require.NoError(t, err)

	require.NoError(t, engine.Patch(ctx, "customer", id, trellis.Record{
		"tier": "premium",
	}))

	rec, err := engine.FindByID(ctx, "customer", id)
	require.NoError(t, err)
	assert.Equal(t, "ACME", rec["name"], "untouched field survives")
	assert.Equal(t, "premium", rec["tier"])
	address, _ := rec["address"].(map[string]any)
	assert.Equal(t, "Berlin", address["city"])
}

func TestUpdate_NotFound(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	err := engine.Update(actorCtx(), "customer", "nope", trellis.Record{"name": "X"})
	require.Error(t, err)
	assert.True(t, trellis.IsNotFoundErr(err))
}

func TestUpdate_ValidationFailureRollsBack(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()

	id1, err := engine.Create(ctx, "customer", trellis.Record{
		"name": "A", "email": "a@acme.example",
	})
	require.NoError(t, err)
	id2, err := engine.Create(ctx, "customer", trellis.Record{
		"name": "B", "email": "b@acme.example",
	})
	require.NoError(t, err)

	// Stealing a taken email aborts the whole update.
	err = engine.Update(ctx, "customer", id2, trellis.Record{
		"name": "B2", "email": "a@acme.example",
	})
	require.Error(t, err)
	assert.True(t, trellis.IsValidationErr(err))

	rec, err := engine.FindByID(ctx, "customer", id2)
	require.NoError(t, err)
	assert.Equal(t, "B", rec["name"], "failed update must leave the row unchanged")

	_ = id1
}

func TestDelete(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()

	id, err := engine.Create(ctx, "customer", trellis.Record{"name": "gone"})
	require.NoError(t, err)

	require.NoError(t, engine.Delete(ctx, "customer", id))

	_, err = engine.FindByID(ctx, "customer", id)
	assert.True(t, trellis.IsNotFoundErr(err))

	err = engine.Delete(ctx, "customer", id)
	assert.True(t, trellis.IsNotFoundErr(err))
}

func TestDelete_ClearsIncomingLinks(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("holder", nil)
	invoice := f.CreateInvoice("INV-1", customer, nil)

	require.NoError(t, engine.Delete(ctx, "customer", customer))

	// The invoice survives with its link cleared by the schema.
	linked, err := engine.HasLinkTarget(ctx, "invoice", invoice, "customer")
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	f.CreateCustomers("bulk", 3)

	n, err := engine.DeleteAll(ctx, "customer")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestModifiedAuditOnUpdate(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)

	creator := trellis.Actor{ID: "u-1", Namespace: "staff", Name: "Alex"}
	editor := trellis.Actor{ID: "u-2", Namespace: "staff", Name: "Sam"}

	id, err := engine.Create(trellis.WithActor(context.Background(), creator),
		"customer", trellis.Record{"name": "ACME"})
	require.NoError(t, err)

	require.NoError(t, engine.Patch(trellis.WithActor(context.Background(), editor),
		"customer", id, trellis.Record{"tier": "basic"}))

	rec, err := engine.FindByID(context.Background(), "customer", id)
	require.NoError(t, err)

	createdBy, _ := rec["createdBy"].(map[string]any)
	modifiedBy, _ := rec["modifiedBy"].(map[string]any)
	assert.Equal(t, "u-1", createdBy["id"], "creator never changes")
	assert.Equal(t, "u-2", modifiedBy["id"], "modifier follows the last writer")

	created, ok := rec["createdAt"].(time.Time)
	require.True(t, ok)
	modified, ok := rec["modifiedAt"].(time.Time)
	require.True(t, ok)
	assert.False(t, modified.Before(created))
}
