package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trellisdb/trellis"
)

// Fixtures provides factory functions for creating test data through the
// engine, so fixture rows go through the same validation and audit paths as
// production writes.
type Fixtures struct {
	tb     testing.TB
	ctx    context.Context
	engine *trellis.Engine
}

// NewFixtures creates a new Fixtures instance over the given engine.
func NewFixtures(tb testing.TB, ctx context.Context, engine *trellis.Engine) *Fixtures {
	return &Fixtures{tb: tb, ctx: ctx, engine: engine}
}

// CreateCustomer creates one customer and returns its ID.
func (f *Fixtures) CreateCustomer(name string, extra trellis.Record) string {
	f.tb.Helper()
	rec := trellis.Record{"name": name}
	for k, v := range extra {
		rec[k] = v
	}
	id, err := f.engine.Create(f.ctx, "customer", rec)
	require.NoError(f.tb, err, "create customer %q", name)
	return id
}

// CreateInvoice creates one invoice linked to the given customer and returns
// its ID.
func (f *Fixtures) CreateInvoice(number, customerID string, extra trellis.Record) string {
	f.tb.Helper()
	rec := trellis.Record{"number": number}
	for k, v := range extra {
		rec[k] = v
	}
	id, err := f.engine.Create(f.ctx, "invoice", rec)
	require.NoError(f.tb, err, "create invoice %q", number)
	if customerID != "" {
		err = f.engine.SetLink(f.ctx, "invoice", id, "customer", customerID)
		require.NoError(f.tb, err, "link invoice %q to customer", number)
	}
	return id
}

// CreateTag creates one tag and returns its ID.
func (f *Fixtures) CreateTag(label string) string {
	f.tb.Helper()
	id, err := f.engine.Create(f.ctx, "tag", trellis.Record{"label": label})
	require.NoError(f.tb, err, "create tag %q", label)
	return id
}

// CreateCustomers creates n customers named with the given prefix and
// returns their IDs in creation order.
func (f *Fixtures) CreateCustomers(prefix string, n int) []string {
	f.tb.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, f.CreateCustomer(fmt.Sprintf("%s-%03d", prefix, i), nil))
	}
	return ids
}
