package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
)

const mappingColumns = `mapping_key, order_id, order_name, invoice_url, expected_amount, currency, shop,
	last_status, last_paid_amount, last_paid_currency, created_at, updated_at`

const selectMapping = `SELECT ` + mappingColumns + ` FROM invoice_mappings WHERE doc_id = $1`

const upsertMapping = `INSERT INTO invoice_mappings (doc_id, ` + mappingColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (doc_id) DO UPDATE SET
	order_id = EXCLUDED.order_id,
	order_name = EXCLUDED.order_name,
	invoice_url = EXCLUDED.invoice_url,
	expected_amount = EXCLUDED.expected_amount,
	currency = EXCLUDED.currency,
	shop = EXCLUDED.shop,
	last_status = EXCLUDED.last_status,
	last_paid_amount = EXCLUDED.last_paid_amount,
	last_paid_currency = EXCLUDED.last_paid_currency,
	updated_at = EXCLUDED.updated_at`

var _ invoice.Repository = (*InvoiceRepository)(nil)

// InvoiceRepository implements invoice.Repository backed by PostgreSQL.
// Rows are keyed by invoice.DocumentID of the mapping key.
type InvoiceRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool, now: time.Now}
}

// Save merges rec into the row under key. Writers to the same key are
// serialized with a transaction-scoped advisory lock, so the merge is
// atomic per key even when the row does not exist yet.
func (r *InvoiceRepository) Save(ctx context.Context, key string, rec invoice.Record) (*invoice.Record, error) {
	id := invoice.DocumentID(key)
	var out invoice.Record
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, id); err != nil {
			return errors.Wrap(err, "lock mapping")
		}

		stored, err := scanRecord(tx.QueryRow(ctx, selectMapping, id))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			stored = nil
		case err != nil:
			return errors.Wrap(err, "read mapping")
		}

		out = invoice.Merge(stored, rec, r.now().UTC())
		if _, err := tx.Exec(ctx, upsertMapping,
			id, key,
			out.OrderID, out.OrderName, out.InvoiceURL, out.ExpectedAmount, out.Currency, out.Shop,
			out.LastStatus, out.LastPaidAmount, out.LastPaidCurrency,
			out.CreatedAt, out.UpdatedAt,
		); err != nil {
			return errors.Wrap(err, "upsert mapping")
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "save mapping %q", key)
	}
	return &out, nil
}

// Get returns invoice.ErrNotFound when no row exists for key.
func (r *InvoiceRepository) Get(ctx context.Context, key string) (*invoice.Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, selectMapping, invoice.DocumentID(key)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invoice.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get mapping %q", key)
	}
	return rec, nil
}

// Delete removes the row for key.
func (r *InvoiceRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM invoice_mappings WHERE doc_id = $1`, invoice.DocumentID(key)); err != nil {
		return errors.Wrapf(err, "delete mapping %q", key)
	}
	return nil
}

// List returns every row ordered by key.
func (r *InvoiceRepository) List(ctx context.Context) ([]invoice.Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+mappingColumns+` FROM invoice_mappings ORDER BY mapping_key`)
	if err != nil {
		return nil, errors.Wrap(err, "list mappings")
	}
	defer rows.Close()

	var out []invoice.Entry
	for rows.Next() {
		var e invoice.Entry
		if err := rows.Scan(recordDest(&e.Key, &e.Record)...); err != nil {
			return nil, errors.Wrap(err, "scan mapping")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate mappings")
	}
	return out, nil
}

// Ping checks database connectivity.
func (r *InvoiceRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (*invoice.Record, error) {
	var (
		key string
		rec invoice.Record
	)
	if err := row.Scan(recordDest(&key, &rec)...); err != nil {
		return nil, err
	}
	return &rec, nil
}

func recordDest(key *string, rec *invoice.Record) []any {
	return []any{
		key,
		&rec.OrderID, &rec.OrderName, &rec.InvoiceURL, &rec.ExpectedAmount, &rec.Currency, &rec.Shop,
		&rec.LastStatus, &rec.LastPaidAmount, &rec.LastPaidCurrency,
		&rec.CreatedAt, &rec.UpdatedAt,
	}
}
