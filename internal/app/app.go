// Package app wires the bridge server together.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/crypto-bridge/internal/domain/invoice"
	"github.com/xenking/crypto-bridge/internal/domain/reconcile"
	"github.com/xenking/crypto-bridge/internal/events"
	"github.com/xenking/crypto-bridge/internal/handler"
	"github.com/xenking/crypto-bridge/internal/ipn"
	"github.com/xenking/crypto-bridge/internal/nowpayments"
	"github.com/xenking/crypto-bridge/internal/shopify"
	"github.com/xenking/crypto-bridge/internal/storage/memory"
	"github.com/xenking/crypto-bridge/internal/storage/postgres"
	"github.com/xenking/crypto-bridge/pkg/health"
	"github.com/xenking/crypto-bridge/pkg/httpmiddleware"
)

const (
	replayCapacity = 100_000
	replayFPRate   = 0.001
)

// Run creates all dependencies, serves HTTP and shuts down gracefully when
// ctx is done. It is the single wiring point of the server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("events", cfg.Events.Driver),
	)
	probes := health.New()
	probes.Register(health.Probe{
		Name:  "goroutines",
		Kind:  health.Liveness,
		Check: health.GoroutineCheck(10_000),
	})

	store, closeStore, err := openStore(ctx, cfg, probes)
	if err != nil {
		return err
	}
	defer closeStore()

	notifier, closeNotifier, err := openNotifier(cfg, lg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			lg.Warn("Close notifier", zap.Error(err))
		}
	}()

	shop, err := shopify.NewClient(shopify.Options{
		Shop:           cfg.Shopify.Shop,
		AccessToken:    cfg.Shopify.AccessToken,
		APIVersion:     cfg.Shopify.APIVersion,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create shopify client")
	}
	issuer, err := nowpayments.NewClient(nowpayments.Options{
		BaseURL:        cfg.NOWPayments.BaseURL,
		APIKey:         cfg.NOWPayments.APIKey,
		CallbackURL:    strings.TrimRight(cfg.AppURL, "/") + "/ipn/nowpayments",
		Timeout:        cfg.NOWPayments.Timeout,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create nowpayments client")
	}

	svc, err := reconcile.NewService(reconcile.Config{
		AppURL:         cfg.AppURL,
		FinalStatuses:  cfg.FinalStatuses(),
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	}, reconcile.Deps{
		Store:    store,
		Catalog:  shopify.NewCatalog(shop),
		Issuer:   issuer,
		Verifier: ipn.NewVerifier(cfg.NOWPayments.IPNSecret),
		Notifier: notifier,
		Replay:   ipn.NewReplayDetector(replayCapacity, replayFPRate),
	})
	if err != nil {
		return errors.Wrap(err, "create reconcile service")
	}

	r := chi.NewRouter()
	routeFinder := httpmiddleware.MakeRouteFinder(r)
	r.Use(
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument("crypto-bridge", routeFinder, m.TracerProvider(), m.MeterProvider()),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:        cfg.RateLimit.Max,
			Window:     cfg.RateLimit.Window,
			TrustProxy: cfg.RateLimit.TrustProxy,
			Skip:       isServerToServer,
		}),
	)
	r.Method(http.MethodGet, "/livez", probes.LiveHandler())
	r.Method(http.MethodGet, "/readyz", probes.ReadyHandler())
	handler.New(handler.Config{
		AppURL:        cfg.AppURL,
		Shop:          cfg.Shopify.Shop,
		WebhookSecret: cfg.Shopify.WebhookSecret,
		CORS: httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{"Content-Type"},
			MaxAge:       86400,
		},
	}, svc).Register(r)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       10 * time.Second,
		// Invoice creation may take up to the issuer timeout.
		WriteTimeout:   cfg.NOWPayments.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return probes.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		<-gctx.Done()
		probes.MarkReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		probes.MarkReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr), zap.String("app_url", cfg.AppURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

// isServerToServer matches callers that retry on their own and must never
// be rate limited: processor notifications, storefront webhooks and probes.
func isServerToServer(r *http.Request) bool {
	p := r.URL.Path
	return strings.HasPrefix(p, "/ipn/") ||
		strings.HasPrefix(p, "/webhooks/") ||
		p == "/livez" || p == "/readyz"
}

func openStore(ctx context.Context, cfg *Config, probes *health.Registry) (invoice.Repository, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		repo := postgres.NewInvoiceRepository(pool)
		probes.Register(health.Probe{
			Name:    "postgres",
			Kind:    health.Readiness,
			Timeout: 5 * time.Second,
			Check:   health.PingCheck("postgres", repo),
		})
		return repo, pool.Close, nil
	default:
		return memory.New(), func() {}, nil
	}
}

func openNotifier(cfg *Config, lg *zap.Logger, m *app.Telemetry) (reconcile.Notifier, func() error, error) {
	switch cfg.Events.Driver {
	case "klaviyo":
		k, err := events.NewKlaviyo(events.KlaviyoOptions{
			Token:          cfg.Events.KlaviyoToken,
			Metric:         cfg.Events.KlaviyoMetric,
			TracerProvider: m.TracerProvider(),
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "create klaviyo notifier")
		}
		return k, noClose, nil
	case "kafka":
		k, err := events.NewKafka(events.KafkaOptions{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.KafkaTopic,
		}, lg.Named("kafka"))
		if err != nil {
			return nil, nil, errors.Wrap(err, "create kafka notifier")
		}
		return k, k.Close, nil
	default:
		return events.Nop{}, noClose, nil
	}
}

func noClose() error { return nil }
