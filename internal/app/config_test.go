package app

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:   defaultAddr,
		AppURL: "https://bridge.example",
		Storage: StorageConfig{
			Driver: "memory",
		},
		Shopify: ShopifyConfig{
			Shop:        "demo.myshopify.com",
			AccessToken: "shpat",
		},
		NOWPayments: NOWPaymentsConfig{
			APIKey:        "key",
			IPNSecret:     "secret",
			FinalStatuses: "finished",
		},
		Events: EventsConfig{Driver: "none"},
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	env := map[string]string{
		"PORT":         "9000",
		"DATABASE_URL": "postgres://db",
		"APP_URL":      "https://platform.example",
		"SHOP":         "platform.myshopify.com",
	}
	getenv := func(k string) string { return env[k] }

	t.Run("FillsMissing", func(t *testing.T) {
		cfg := Config{Addr: defaultAddr}
		cfg.applyPlatformDefaults(getenv)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
		assert.Equal(t, "postgres://db", cfg.Storage.DatabaseURL)
		assert.Equal(t, "https://platform.example", cfg.AppURL)
		assert.Equal(t, "platform.myshopify.com", cfg.Shopify.Shop)
	})
	t.Run("PrefixedWins", func(t *testing.T) {
		cfg := validConfig()
		cfg.Addr = "127.0.0.1:7000"
		cfg.Storage.DatabaseURL = "postgres://prefixed"
		cfg.applyPlatformDefaults(getenv)
		assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
		assert.Equal(t, "postgres://prefixed", cfg.Storage.DatabaseURL)
		assert.Equal(t, "https://bridge.example", cfg.AppURL)
		assert.Equal(t, "demo.myshopify.com", cfg.Shopify.Shop)
	})
}

func TestValidate(t *testing.T) {
	require.NoError(t, func() error { c := validConfig(); return c.Validate() }())

	for _, tt := range []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"AppURL", func(c *Config) { c.AppURL = "" }, "app URL"},
		{"Shop", func(c *Config) { c.Shopify.Shop = "" }, "shop"},
		{"ShopDomain", func(c *Config) { c.Shopify.Shop = "attacker.example:443" }, "myshopify.com"},
		{"AccessToken", func(c *Config) { c.Shopify.AccessToken = "" }, "access token"},
		{"APIKey", func(c *Config) { c.NOWPayments.APIKey = "" }, "API key"},
		{"IPNSecret", func(c *Config) { c.NOWPayments.IPNSecret = "" }, "IPN secret"},
		{"PostgresURL", func(c *Config) { c.Storage.Driver = "postgres" }, "database URL"},
		{"StorageDriver", func(c *Config) { c.Storage.Driver = "redis" }, "storage driver"},
		{"KlaviyoToken", func(c *Config) { c.Events.Driver = "klaviyo" }, "klaviyo token"},
		{"KafkaBrokers", func(c *Config) { c.Events.Driver = "kafka" }, "kafka brokers"},
		{"EventsDriver", func(c *Config) { c.Events.Driver = "sns" }, "events driver"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFinalStatuses(t *testing.T) {
	cfg := validConfig()
	cfg.NOWPayments.FinalStatuses = " finished, confirmed ,,"
	assert.Equal(t, []string{"finished", "confirmed"}, cfg.FinalStatuses())
}

func TestIsServerToServer(t *testing.T) {
	for path, want := range map[string]bool{
		"/ipn/nowpayments":         true,
		"/ipn/nowpayments/guarded": true,
		"/webhooks/orders-create":  true,
		"/readyz":                  true,
		"/osr/invoice-url":         false,
		"/pay/start":               false,
	} {
		assert.Equal(t, want, isServerToServer(httptest.NewRequest("POST", path, nil)), path)
	}
}
