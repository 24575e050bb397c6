// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Gateway providers.
const (
	ProviderSandbox = "sandbox"
	ProviderStripe  = "stripe"
)

// Config is the settlement service configuration.
type Config struct {
	Env      string
	Port     string
	RunLocal bool

	OrdersTable       string
	CheckoutKeysTable string
	CoursesTable      string
	RevenueTable      string
	CreditsTable      string
	PurchasesTable    string
	CheckoutKeyTTL    time.Duration

	ReconcileQueueURL string
	EventsTopicARN    string
	ReconcileInterval time.Duration

	GatewayProvider     string
	GatewayKeyID        string // public key handed to checkout clients
	GatewaySecretName   string // Secrets Manager name holding the gateway secret, optional
	SandboxSecret       string
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	GatewayTimeout      time.Duration

	RedisAddr       string
	CatalogCacheTTL time.Duration

	MetricsEnabled   bool
	MetricsNamespace string

	CallbackRateLimit float64 // requests per second per client on callback routes
	CallbackBurst     int
	CORSOrigins       []string
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadWith(os.Getenv)
}

// LoadWith builds a Config from lookup. Empty values fall back to defaults.
func LoadWith(lookup func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(lookup(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Env:      env("APP_ENV", "development"),
		Port:     env("PORT", "8080"),
		RunLocal: env("RUN_LOCAL", "false") == "true",

		OrdersTable:       env("ORDERS_TABLE", ""),
		CheckoutKeysTable: env("IDEMPOTENCY_TABLE", ""),
		CoursesTable:      env("COURSES_TABLE", ""),
		RevenueTable:      env("REVENUE_TABLE", ""),
		CreditsTable:      env("REVENUE_CREDITS_TABLE", ""),
		PurchasesTable:    env("PURCHASES_TABLE", ""),

		ReconcileQueueURL: env("RECONCILE_QUEUE_URL", ""),
		EventsTopicARN:    env("ORDER_EVENTS_TOPIC_ARN", ""),

		GatewayProvider:     strings.ToLower(env("GATEWAY_PROVIDER", ProviderSandbox)),
		GatewayKeyID:        env("GATEWAY_KEY_ID", ""),
		GatewaySecretName:   env("GATEWAY_SECRET_NAME", ""),
		SandboxSecret:       env("SANDBOX_GATEWAY_SECRET", ""),
		StripeSecretKey:     env("STRIPE_API_KEY", ""),
		StripeWebhookSecret: env("STRIPE_WEBHOOK_SECRET", ""),
		Currency:            strings.ToUpper(env("CURRENCY", "INR")),

		RedisAddr: env("REDIS_ADDR", ""),

		MetricsEnabled:   env("METRICS_ENABLED", "false") == "true",
		MetricsNamespace: env("METRICS_NAMESPACE", "CourseSettlement"),
	}

	var err error
	if cfg.CheckoutKeyTTL, err = duration(env("IDEMPOTENCY_TTL", "48h")); err != nil {
		return nil, fmt.Errorf("IDEMPOTENCY_TTL: %w", err)
	}
	if cfg.ReconcileInterval, err = duration(env("RECONCILE_INTERVAL", "1m")); err != nil {
		return nil, fmt.Errorf("RECONCILE_INTERVAL: %w", err)
	}
	if cfg.GatewayTimeout, err = duration(env("GATEWAY_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT: %w", err)
	}
	if cfg.CatalogCacheTTL, err = duration(env("CATALOG_CACHE_TTL", "30s")); err != nil {
		return nil, fmt.Errorf("CATALOG_CACHE_TTL: %w", err)
	}
	if cfg.CallbackRateLimit, err = strconv.ParseFloat(env("CALLBACK_RATE_LIMIT", "10"), 64); err != nil {
		return nil, fmt.Errorf("CALLBACK_RATE_LIMIT: %w", err)
	}
	if cfg.CallbackBurst, err = strconv.Atoi(env("CALLBACK_BURST", "20")); err != nil {
		return nil, fmt.Errorf("CALLBACK_BURST: %w", err)
	}
	if origins := env("CORS_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"ORDERS_TABLE":          c.OrdersTable,
		"IDEMPOTENCY_TABLE":     c.CheckoutKeysTable,
		"COURSES_TABLE":         c.CoursesTable,
		"REVENUE_TABLE":         c.RevenueTable,
		"REVENUE_CREDITS_TABLE": c.CreditsTable,
		"PURCHASES_TABLE":       c.PurchasesTable,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.GatewayProvider {
	case ProviderSandbox:
		if c.SandboxSecret == "" && c.GatewaySecretName == "" {
			return fmt.Errorf("sandbox gateway needs SANDBOX_GATEWAY_SECRET or GATEWAY_SECRET_NAME")
		}
	case ProviderStripe:
		if c.StripeSecretKey == "" && c.GatewaySecretName == "" {
			return fmt.Errorf("stripe gateway needs STRIPE_API_KEY or GATEWAY_SECRET_NAME")
		}
	default:
		return fmt.Errorf("unknown GATEWAY_PROVIDER %q", c.GatewayProvider)
	}
	return nil
}

func duration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
