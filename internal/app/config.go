package app

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

var shopDomain = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// Config holds the complete application configuration, loadable from
// environment variables (BRIDGE_ prefix), flags, or YAML config files.
type Config struct {
	Addr   string `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	AppURL string `usage:"Public base URL of this service (BRIDGE_APP_URL or APP_URL)" flag:"app-url"`

	Storage     StorageConfig
	Shopify     ShopifyConfig
	NOWPayments NOWPaymentsConfig `env:"NOWPAYMENTS" flag:"nowpayments" yaml:"nowpayments"`
	Events      EventsConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// StorageConfig selects the mapping store.
type StorageConfig struct {
	Driver      string `default:"memory" usage:"Mapping store driver: memory or postgres"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BRIDGE_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
}

// ShopifyConfig configures the storefront Admin API.
type ShopifyConfig struct {
	Shop          string `usage:"The *.myshopify.com domain (BRIDGE_SHOPIFY_SHOP or SHOP)"`
	AccessToken   string `usage:"Admin API access token"`
	APIVersion    string `default:"2024-10" usage:"Admin API version"`
	WebhookSecret string `usage:"Webhook HMAC secret; verification is skipped when empty"`
}

// NOWPaymentsConfig configures the invoice processor.
type NOWPaymentsConfig struct {
	APIKey        string        `usage:"API key"`
	IPNSecret     string        `usage:"IPN HMAC secret"`
	BaseURL       string        `default:"https://api.nowpayments.io/v1" usage:"API base URL"`
	FinalStatuses string        `default:"finished" usage:"Comma-separated payment statuses that complete an order"`
	Timeout       time.Duration `default:"15s" usage:"Invoice creation timeout"`
}

// EventsConfig selects the marketing event sink.
type EventsConfig struct {
	Driver        string   `default:"none" usage:"Event sink: none, klaviyo or kafka"`
	KlaviyoToken  string   `usage:"Klaviyo public token"`
	KlaviyoMetric string   `default:"Crypto Invoice Created" usage:"Klaviyo event name"`
	KafkaBrokers  []string `usage:"Kafka broker addresses"`
	KafkaTopic    string   `default:"crypto-bridge.invoices" usage:"Kafka topic for invoice events"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
	// TrustProxy keys clients by X-Forwarded-For. Enable only behind a
	// proxy that overwrites or appends the header.
	TrustProxy bool `default:"false" usage:"Key rate limits by X-Forwarded-For set by a trusted proxy" flag:"trust-proxy"`
}

// CORSConfig controls CORS on the order status endpoints.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BRIDGE",
		Files:     []string{"config.yaml", "/etc/crypto-bridge/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps unprefixed platform variables (PORT,
// DATABASE_URL, APP_URL, SHOP) when the prefixed values are absent.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = getenv("DATABASE_URL")
	}
	if c.AppURL == "" {
		c.AppURL = getenv("APP_URL")
	}
	if c.Shopify.Shop == "" {
		c.Shopify.Shop = getenv("SHOP")
	}
	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// FinalStatuses splits NOWPayments.FinalStatuses.
func (c *Config) FinalStatuses() []string {
	var out []string
	for _, s := range strings.Split(c.NOWPayments.FinalStatuses, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.AppURL == "":
		return errors.New("app URL is required: set BRIDGE_APP_URL or APP_URL")
	case c.Shopify.Shop == "":
		return errors.New("shop is required: set BRIDGE_SHOPIFY_SHOP or SHOP")
	case !shopDomain.MatchString(strings.ToLower(strings.TrimSpace(c.Shopify.Shop))):
		return errors.Errorf("shop %q is not a *.myshopify.com domain", c.Shopify.Shop)
	case c.Shopify.AccessToken == "":
		return errors.New("shopify access token is required")
	case c.NOWPayments.APIKey == "":
		return errors.New("nowpayments API key is required")
	case c.NOWPayments.IPNSecret == "":
		return errors.New("nowpayments IPN secret is required")
	}

	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return errors.New("database URL is required for postgres storage: set BRIDGE_STORAGE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case "none", "":
	case "klaviyo":
		if c.Events.KlaviyoToken == "" {
			return errors.New("klaviyo token is required for klaviyo events")
		}
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			return errors.New("kafka brokers are required for kafka events")
		}
	default:
		return errors.Errorf("unknown events driver %q", c.Events.Driver)
	}
	return nil
}
