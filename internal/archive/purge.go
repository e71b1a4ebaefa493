package archive

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
	"github.com/xenking/crypto-bridge/internal/domain/order"
)

// PurgeOptions configures PurgeSettled.
type PurgeOptions struct {
	// Concurrency bounds parallel catalog lookups. Defaults to 8.
	Concurrency int
	// DryRun reports what would be deleted without deleting.
	DryRun bool
}

// PurgeReport summarizes a PurgeSettled run.
type PurgeReport struct {
	Orders      int
	Settled     int
	Missing     int
	Skipped     int
	DeletedKeys int
}

// PurgeSettled looks up every mapped order in the catalog and deletes all
// keys of orders that are settled. Orders the catalog cannot find are kept.
func PurgeSettled(ctx context.Context, repo invoice.Repository, catalog order.Catalog, opts PurgeOptions) (PurgeReport, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	entries, err := repo.List(ctx)
	if err != nil {
		return PurgeReport{}, errors.Wrap(err, "list mappings")
	}

	type target struct {
		shop string
		keys []string
	}
	var (
		report  PurgeReport
		targets = make(map[string]*target)
		ids     []string
	)
	for _, e := range entries {
		id := e.Record.OrderID
		switch order.KindOf(id) {
		case order.KindOrder, order.KindDraftOrder:
		default:
			report.Skipped++
			continue
		}
		t, ok := targets[id]
		if !ok {
			t = &target{}
			targets[id] = t
			ids = append(ids, id)
		}
		if e.Record.Shop != nil {
			t.shop = *e.Record.Shop
		}
		t.keys = append(t.keys, e.Key)
	}
	report.Orders = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, id := range ids {
		t := targets[id]
		g.Go(func() error {
			snap, err := catalog.ResolveByID(gctx, order.Normalize(id), t.shop)
			if errors.Is(err, order.ErrNotFound) {
				mu.Lock()
				report.Missing++
				mu.Unlock()
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "resolve %s", id)
			}
			if order.ClassifyStatus(snap) != order.StatusSettled {
				return nil
			}

			slog.Info("order settled",
				slog.String("order_id", id),
				slog.String("status", snap.NormalizedStatus()),
				slog.Int("keys", len(t.keys)),
				slog.Bool("dry_run", opts.DryRun),
			)
			if !opts.DryRun {
				for _, k := range t.keys {
					if err := repo.Delete(gctx, k); err != nil {
						return errors.Wrapf(err, "delete %q", k)
					}
				}
			}
			mu.Lock()
			report.Settled++
			report.DeletedKeys += len(t.keys)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}
