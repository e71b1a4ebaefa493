// Package archive exports, restores and prunes mapping store contents.
//
// Archives are gzip-compressed NDJSON, one stored key per line.
package archive

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
)

const progressEvery = 10_000

// Export writes every stored mapping to w and returns the number of lines.
func Export(ctx context.Context, repo invoice.Repository, w io.Writer) (int, error) {
	entries, err := repo.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list mappings")
	}

	gz := pgzip.NewWriter(w)
	bw := bufio.NewWriter(gz)
	e := &jx.Encoder{}
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		e.Reset()
		encodeEntry(e, entry)
		if _, err := bw.Write(e.Bytes()); err != nil {
			return i, errors.Wrap(err, "write entry")
		}
		if err := bw.WriteByte('\n'); err != nil {
			return i, errors.Wrap(err, "write entry")
		}
		if (i+1)%progressEvery == 0 {
			slog.Info("export progress", slog.Int("written", i+1), slog.Int("total", len(entries)))
		}
	}
	if err := bw.Flush(); err != nil {
		return len(entries), errors.Wrap(err, "flush")
	}
	if err := gz.Close(); err != nil {
		return len(entries), errors.Wrap(err, "close gzip")
	}
	return len(entries), nil
}

// Restore saves every line of an archive produced by Export. Records go
// through the store merge rules, so timestamps reflect the restore.
func Restore(ctx context.Context, repo invoice.Repository, r io.Reader) (int, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return 0, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	var n int
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		entry, err := decodeEntry(line)
		if err != nil {
			return n, errors.Wrapf(err, "line %d", n+1)
		}
		if _, err := repo.Save(ctx, entry.Key, entry.Record); err != nil {
			return n, errors.Wrapf(err, "save %q", entry.Key)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, "scan")
	}
	return n, nil
}

func encodeEntry(e *jx.Encoder, entry invoice.Entry) {
	rec := entry.Record
	e.Obj(func(e *jx.Encoder) {
		e.Field("key", func(e *jx.Encoder) { e.Str(entry.Key) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(rec.OrderID) })
		e.Field("orderName", func(e *jx.Encoder) { e.Str(rec.OrderName) })
		e.Field("invoiceUrl", func(e *jx.Encoder) { e.Str(rec.InvoiceURL) })
		e.Field("expectedAmount", func(e *jx.Encoder) { e.Str(rec.ExpectedAmount.String()) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(rec.Currency) })
		e.Field("shop", func(e *jx.Encoder) {
			if rec.Shop == nil {
				e.Null()
				return
			}
			e.Str(*rec.Shop)
		})
		e.Field("lastStatus", func(e *jx.Encoder) { e.Str(rec.LastStatus) })
		e.Field("lastPaidAmount", func(e *jx.Encoder) { e.Str(rec.LastPaidAmount.String()) })
		e.Field("lastPaidCurrency", func(e *jx.Encoder) { e.Str(rec.LastPaidCurrency) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(rec.CreatedAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("updatedAt", func(e *jx.Encoder) { e.Str(rec.UpdatedAt.UTC().Format(time.RFC3339Nano)) })
	})
}

func decodeEntry(line []byte) (invoice.Entry, error) {
	var (
		entry invoice.Entry
		rec   = &entry.Record
	)
	err := jx.DecodeBytes(line).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "key":
			entry.Key, err = d.Str()
		case "orderId":
			rec.OrderID, err = d.Str()
		case "orderName":
			rec.OrderName, err = d.Str()
		case "invoiceUrl":
			rec.InvoiceURL, err = d.Str()
		case "expectedAmount":
			rec.ExpectedAmount, err = decodeDecimal(d)
		case "currency":
			rec.Currency, err = d.Str()
		case "shop":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var s string
			s, err = d.Str()
			rec.Shop = &s
		case "lastStatus":
			rec.LastStatus, err = d.Str()
		case "lastPaidAmount":
			rec.LastPaidAmount, err = decodeDecimal(d)
		case "lastPaidCurrency":
			rec.LastPaidCurrency, err = d.Str()
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return entry, errors.Wrap(err, "decode entry")
	}
	if entry.Key == "" {
		return entry, errors.New("entry without key")
	}
	return entry, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
