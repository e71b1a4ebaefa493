//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bridge",
				"POSTGRES_PASSWORD": "bridge",
				"POSTGRES_DB":       "bridge",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://bridge:bridge@%s:%s/bridge?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, RunMigrations(ctx, pool))
	// Applying the schema twice is harmless.
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func TestInvoiceRepository(t *testing.T) {
	pool := startPostgres(t)
	repo := NewInvoiceRepository(pool)
	ctx := context.Background()

	t0 := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return t0 }

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, "#404")
		require.ErrorIs(t, err, invoice.ErrNotFound)
	})

	t.Run("save and merge", func(t *testing.T) {
		shop := "a.myshopify.com"
		_, err := repo.Save(ctx, "#1001", invoice.Record{
			OrderID:        "gid://shopify/Order/55",
			OrderName:      "#1001",
			InvoiceURL:     "https://pay.example/1",
			ExpectedAmount: decimal.RequireFromString("25.10"),
			Currency:       "USD",
			Shop:           &shop,
		})
		require.NoError(t, err)

		repo.now = func() time.Time { return t0.Add(time.Hour) }
		_, err = repo.Save(ctx, "#1001", invoice.Record{
			OrderID:        "gid://shopify/Order/55",
			ExpectedAmount: decimal.NewFromInt(3),
			LastStatus:     "finished",
			LastPaidAmount: decimal.RequireFromString("25.10"),
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, "#1001")
		require.NoError(t, err)
		assert.Equal(t, "https://pay.example/1", got.InvoiceURL)
		assert.True(t, got.ExpectedAmount.Equal(decimal.RequireFromString("25.1")))
		assert.Equal(t, "USD", got.Currency)
		require.NotNil(t, got.Shop)
		assert.Equal(t, shop, *got.Shop)
		assert.Equal(t, "finished", got.LastStatus)
		assert.Equal(t, "USD", got.LastPaidCurrency)
		assert.True(t, got.CreatedAt.Equal(t0))
		assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))
	})

	t.Run("keys with slashes", func(t *testing.T) {
		key := "gid://shopify/DraftOrder/9"
		_, err := repo.Save(ctx, key, invoice.Record{OrderID: key, LastStatus: "waiting"})
		require.NoError(t, err)

		got, err := repo.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, got.OrderID)
		assert.Nil(t, got.Shop)
		assert.False(t, got.HasInvoice())
	})

	t.Run("list and delete", func(t *testing.T) {
		list, err := repo.List(ctx)
		require.NoError(t, err)
		keys := make([]string, 0, len(list))
		for _, e := range list {
			keys = append(keys, e.Key)
		}
		assert.Contains(t, keys, "#1001")
		assert.Contains(t, keys, "gid://shopify/DraftOrder/9")

		require.NoError(t, repo.Delete(ctx, "#1001"))
		require.NoError(t, repo.Delete(ctx, "#1001"))
		_, err = repo.Get(ctx, "#1001")
		require.ErrorIs(t, err, invoice.ErrNotFound)
	})

	t.Run("concurrent first writes", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Save(ctx, "race", invoice.Record{
					OrderID:    "race",
					InvoiceURL: fmt.Sprintf("https://pay.example/%d", i),
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.Get(ctx, "race")
		require.NoError(t, err)
		assert.True(t, got.HasInvoice())
		assert.True(t, got.CreatedAt.Equal(t0.Add(time.Hour)))
	})

	require.NoError(t, repo.Ping(ctx))
}
