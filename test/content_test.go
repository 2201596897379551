package test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisdb/trellis"
	"github.com/trellisdb/trellis/test/testutil"
)

var contractPDF = trellis.ContentData{
	ID:       "blob-1",
	Filename: "contract.pdf",
	Mimetype: "application/pdf",
	Length:   2048,
}

func TestPutContent(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("acme", nil)

	v, err := engine.ContentVersion(ctx, "customer", customer, "contract")
	require.NoError(t, err)
	assert.False(t, v.Exists())

	require.NoError(t, engine.PutContent(ctx, "customer", customer, "contract", contractPDF, trellis.AnyVersion()))

	v, err = engine.ContentVersion(ctx, "customer", customer, "contract")
	require.NoError(t, err)
	assert.Equal(t, trellis.ComputeVersion("blob-1", "application/pdf"), v)

	rec, err := engine.FindByID(ctx, "customer", customer)
	require.NoError(t, err)
	contract, ok := rec["contract"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "blob-1", contract["id"])
	assert.Equal(t, "contract.pdf", contract["filename"])
	assert.Equal(t, "application/pdf", contract["mimetype"])
	assert.EqualValues(t, 2048, contract["length"])
}

func TestPutContent_IfMatch(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("acme", nil)
	require.NoError(t, engine.PutContent(ctx, "customer", customer, "contract", contractPDF, trellis.AnyVersion()))
	current, err := engine.ContentVersion(ctx, "customer", customer, "contract")
	require.NoError(t, err)

	replacement := trellis.ContentData{ID: "blob-2", Mimetype: "application/pdf", Length: 99}

	// Wrong token leaves the stored reference untouched.
	err = engine.PutContent(ctx, "customer", customer, "contract", replacement, trellis.IfMatch("stale"))
	require.Error(t, err)
	require.True(t, trellis.IsUnsatisfiedVersionErr(err))

	var uve *trellis.UnsatisfiedVersionError
	require.ErrorAs(t, err, &uve)
	assert.Equal(t, current, uve.Current)

	v, err := engine.ContentVersion(ctx, "customer", customer, "contract")
	require.NoError(t, err)
	assert.Equal(t, current, v)

	// The current token succeeds.
	require.NoError(t, engine.PutContent(ctx, "customer", customer, "contract",
		replacement, trellis.IfMatch(current.Token())))

	v, err = engine.ContentVersion(ctx, "customer", customer, "contract")
	require.NoError(t, err)
	assert.Equal(t, trellis.ComputeVersion("blob-2", "application/pdf"), v)
}

func TestPutContent_IfMatchStar(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("acme", nil)

	// "*" requires existing content.
	err := engine.PutContent(ctx, "customer", customer, "contract", contractPDF, trellis.IfMatch("*"))
	require.Error(t, err)
	assert.True(t, trellis.IsUnsatisfiedVersionErr(err))

	require.NoError(t, engine.PutContent(ctx, "customer", customer, "contract", contractPDF, trellis.AnyVersion()))
	require.NoError(t, engine.PutContent(ctx, "customer", customer, "contract", contractPDF, trellis.IfMatch("*")))
}

func TestPutContent_IfNoneMatchStar(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("acme", nil)

	// Create-only semantics: the first put succeeds, the second does not.
	require.NoError(t, engine.PutContent(ctx, "customer", customer, "contract",
		contractPDF, trellis.IfNoneMatch("*")))

	err := engine.PutContent(ctx, "customer", customer, "contract",
		trellis.ContentData{ID: "blob-2"}, trellis.IfNoneMatch("*"))
	require.Error(t, err)
	assert.True(t, trellis.IsUnsatisfiedVersionErr(err))
}

func TestPutContent_EmptyID(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("acme", nil)

	err := engine.PutContent(ctx, "customer", customer, "contract",
		trellis.ContentData{}, trellis.AnyVersion())
	require.Error(t, err)
	assert.True(t, trellis.IsValidationErr(err))
}

func TestPutContent_NotAContentAttribute(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("acme", nil)

	err := engine.PutContent(ctx, "customer", customer, "name", contractPDF, trellis.AnyVersion())
	require.Error(t, err)
	assert.True(t, trellis.IsUnknownAttributeErr(err))
}

func TestPutContent_InstanceNotFound(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)

	err := engine.PutContent(actorCtx(), "customer", "missing", "contract", contractPDF, trellis.AnyVersion())
	require.Error(t, err)
	assert.True(t, trellis.IsNotFoundErr(err))
}

func TestDeleteContent(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("acme", nil)
	require.NoError(t, engine.PutContent(ctx, "customer", customer, "contract", contractPDF, trellis.AnyVersion()))

	require.NoError(t, engine.DeleteContent(ctx, "customer", customer, "contract", trellis.AnyVersion()))

	v, err := engine.ContentVersion(ctx, "customer", customer, "contract")
	require.NoError(t, err)
	assert.False(t, v.Exists())

	rec, err := engine.FindByID(ctx, "customer", customer)
	require.NoError(t, err)
	contract, _ := rec["contract"].(map[string]any)
	assert.Nil(t, contract["id"])
	assert.Nil(t, contract["filename"])
}

func TestDeleteContent_IfMatchGatesDeletion(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("acme", nil)
	require.NoError(t, engine.PutContent(ctx, "customer", customer, "contract", contractPDF, trellis.AnyVersion()))

	err := engine.DeleteContent(ctx, "customer", customer, "contract", trellis.IfMatch("stale"))
	require.Error(t, err)
	assert.True(t, trellis.IsUnsatisfiedVersionErr(err))

	// The content survived the failed delete.
	v, err := engine.ContentVersion(ctx, "customer", customer, "contract")
	require.NoError(t, err)
	assert.True(t, v.Exists())

	require.NoError(t, engine.DeleteContent(ctx, "customer", customer, "contract",
		trellis.IfMatch(v.Token())))
}

func TestDeleteContent_AbsentContent(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	ctx := actorCtx()
	f := testutil.NewFixtures(t, ctx, engine)

	customer := f.CreateCustomer("acme", nil)

	// AnyVersion on absent content is a harmless no-op.
	require.NoError(t, engine.DeleteContent(ctx, "customer", customer, "contract", trellis.AnyVersion()))

	// IfMatch cannot be satisfied when no version exists.
	err := engine.DeleteContent(ctx, "customer", customer, "contract", trellis.IfMatch("*"))
	require.Error(t, err)
	assert.True(t, trellis.IsUnsatisfiedVersionErr(err))
}

func TestPutContent_UpdatesModificationAudit(t *testing.T) {
	t.Parallel()
	engine, _ := testutil.Engine(t)
	f := testutil.NewFixtures(t, actorCtx(), engine)

	customer := f.CreateCustomer("acme", nil)

	editor := trellis.Actor{ID: "u-9", Namespace: "staff", Name: "Kim"}
	editorCtx := trellis.WithActor(actorCtx(), editor)
	require.NoError(t, engine.PutContent(editorCtx, "customer", customer, "contract",
		contractPDF, trellis.AnyVersion()))

	rec, err := engine.FindByID(actorCtx(), "customer", customer)
	require.NoError(t, err)
	modifiedBy, _ := rec["modifiedBy"].(map[string]any)
	assert.Equal(t, "u-9", modifiedBy["id"])
	createdBy, _ := rec["createdBy"].(map[string]any)
	assert.Equal(t, "u-1", createdBy["id"])
}
