package archive

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
	"github.com/xenking/crypto-bridge/internal/domain/order"
	"github.com/xenking/crypto-bridge/internal/storage/memory"
)

func seed(t *testing.T, repo invoice.Repository, orderID, name, status string, keys ...string) {
	t.Helper()
	shop := "demo.myshopify.com"
	for _, k := range keys {
		_, err := repo.Save(context.Background(), k, invoice.Record{
			OrderID:        orderID,
			OrderName:      name,
			InvoiceURL:     "https://pay.example/" + name,
			ExpectedAmount: decimal.RequireFromString("25.50"),
			Currency:       "USD",
			Shop:           &shop,
			LastStatus:     status,
		})
		require.NoError(t, err)
	}
}

func TestExportRestore(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	seed(t, src, "gid://shopify/Order/1", "#1001", "waiting", "gid://shopify/Order/1", "#1001", "1")
	seed(t, src, "unknown", "unknown", "", "unknown")

	var buf bytes.Buffer
	n, err := Export(ctx, src, &buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	dst := memory.New()
	n, err = Restore(ctx, dst, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := dst.Get(ctx, "#1001")
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/Order/1", got.OrderID)
	assert.Equal(t, "https://pay.example/#1001", got.InvoiceURL)
	assert.True(t, decimal.RequireFromString("25.5").Equal(got.ExpectedAmount))
	require.NotNil(t, got.Shop)
	assert.Equal(t, "demo.myshopify.com", *got.Shop)
	assert.Equal(t, "waiting", got.LastStatus)

	got, err = dst.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, "unknown", got.OrderID)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	_, err := Restore(context.Background(), memory.New(), bytes.NewReader([]byte("not gzip")))
	require.Error(t, err)
}

type fakeCatalog struct {
	snaps map[string]*order.Snapshot
	err   error
}

func (f *fakeCatalog) ResolveByID(_ context.Context, ref, _ string) (*order.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.snaps[ref]
	if !ok {
		return nil, order.ErrNotFound
	}
	return s, nil
}

func (f *fakeCatalog) ResolveByName(context.Context, string, string) (*order.Snapshot, error) {
	return nil, order.ErrNotFound
}

func (f *fakeCatalog) CompleteOrMarkPaid(context.Context, string, string) (*order.Completion, error) {
	return nil, errors.New("not implemented")
}

func TestPurgeSettled(t *testing.T) {
	ctx := context.Background()
	newStore := func(t *testing.T) *memory.Store {
		repo := memory.New()
		seed(t, repo, "gid://shopify/Order/1", "#1001", "finished", "gid://shopify/Order/1", "#1001")
		seed(t, repo, "gid://shopify/Order/2", "#1002", "", "gid://shopify/Order/2", "#1002")
		seed(t, repo, "gid://shopify/Order/3", "#1003", "", "gid://shopify/Order/3")
		seed(t, repo, "unknown", "unknown", "", "unknown")
		return repo
	}
	catalog := &fakeCatalog{snaps: map[string]*order.Snapshot{
		"gid://shopify/Order/1": {ID: "gid://shopify/Order/1", Name: "#1001", DisplayFinancialStatus: "PAID"},
		"gid://shopify/Order/2": {ID: "gid://shopify/Order/2", Name: "#1002", DisplayFinancialStatus: "PENDING"},
	}}

	t.Run("Deletes", func(t *testing.T) {
		repo := newStore(t)
		report, err := PurgeSettled(ctx, repo, catalog, PurgeOptions{Concurrency: 2})
		require.NoError(t, err)
		assert.Equal(t, PurgeReport{Orders: 3, Settled: 1, Missing: 1, Skipped: 1, DeletedKeys: 2}, report)

		_, err = repo.Get(ctx, "#1001")
		assert.ErrorIs(t, err, invoice.ErrNotFound)
		_, err = repo.Get(ctx, "#1002")
		assert.NoError(t, err)
		_, err = repo.Get(ctx, "gid://shopify/Order/3")
		assert.NoError(t, err)
	})
	t.Run("DryRun", func(t *testing.T) {
		repo := newStore(t)
		report, err := PurgeSettled(ctx, repo, catalog, PurgeOptions{DryRun: true})
		require.NoError(t, err)
		assert.Equal(t, 2, report.DeletedKeys)

		_, err = repo.Get(ctx, "#1001")
		assert.NoError(t, err)
	})
	t.Run("CatalogError", func(t *testing.T) {
		_, err := PurgeSettled(ctx, newStore(t), &fakeCatalog{err: errors.New("unavailable")}, PurgeOptions{})
		require.Error(t, err)
	})
}
