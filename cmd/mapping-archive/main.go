// Command mapping-archive exports, restores and prunes the durable mapping
// store.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/crypto-bridge/internal/archive"
	"github.com/xenking/crypto-bridge/internal/shopify"
	"github.com/xenking/crypto-bridge/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	out          string
	in           string
	purgeSettled bool
	dryRun       bool
	concurrency  int

	shop        string
	accessToken string
	apiVersion  string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.out, "out", "", "export every mapping to this .ndjson.gz file")
	flag.StringVar(&opts.in, "in", "", "restore mappings from this .ndjson.gz file")
	flag.BoolVar(&opts.purgeSettled, "purge-settled", false, "delete mappings of orders the storefront reports as settled")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "with -purge-settled, only report what would be deleted")
	flag.IntVar(&opts.concurrency, "concurrency", 8, "parallel storefront lookups for -purge-settled")
	flag.StringVar(&opts.shop, "shop", "", "storefront *.myshopify.com domain (or SHOP env)")
	flag.StringVar(&opts.accessToken, "access-token", "", "storefront Admin API token (or BRIDGE_SHOPIFY_ACCESS_TOKEN env)")
	flag.StringVar(&opts.apiVersion, "api-version", "2024-10", "storefront Admin API version")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.shop == "" {
		opts.shop = os.Getenv("SHOP")
	}
	if opts.accessToken == "" {
		opts.accessToken = os.Getenv("BRIDGE_SHOPIFY_ACCESS_TOKEN")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(2)
	}
	if opts.out == "" && opts.in == "" && !opts.purgeSettled {
		slog.Error("nothing to do: pass -out, -in or -purge-settled")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("mapping archive failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	repo := postgres.NewInvoiceRepository(pool)

	if opts.in != "" {
		f, err := os.Open(opts.in)
		if err != nil {
			return errors.Wrap(err, "open archive")
		}
		n, err := archive.Restore(ctx, repo, f)
		_ = f.Close()
		if err != nil {
			return errors.Wrapf(err, "restore after %d entries", n)
		}
		slog.Info("restore completed", slog.String("file", opts.in), slog.Int("entries", n))
	}

	// Export before purging so the archive holds everything that is deleted.
	if opts.out != "" {
		if err := export(ctx, opts.out, repo); err != nil {
			return err
		}
	}

	if opts.purgeSettled {
		client, err := shopify.NewClient(shopify.Options{
			Shop:        opts.shop,
			AccessToken: opts.accessToken,
			APIVersion:  opts.apiVersion,
		})
		if err != nil {
			return errors.Wrap(err, "create shopify client")
		}
		report, err := archive.PurgeSettled(ctx, repo, shopify.NewCatalog(client), archive.PurgeOptions{
			Concurrency: opts.concurrency,
			DryRun:      opts.dryRun,
		})
		if err != nil {
			return errors.Wrap(err, "purge settled")
		}
		slog.Info("purge completed",
			slog.Int("orders", report.Orders),
			slog.Int("settled", report.Settled),
			slog.Int("missing", report.Missing),
			slog.Int("skipped", report.Skipped),
			slog.Int("deleted_keys", report.DeletedKeys),
			slog.Bool("dry_run", opts.dryRun),
		)
	}
	return nil
}

func export(ctx context.Context, path string, repo *postgres.InvoiceRepository) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create archive")
	}
	n, err := archive.Export(ctx, repo, f)
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "export after %d entries", n)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close archive")
	}
	slog.Info("export completed", slog.String("file", path), slog.Int("entries", n))
	return nil
}
