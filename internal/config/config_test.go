package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"ORDERS_TABLE":           "orders",
		"IDEMPOTENCY_TABLE":      "checkout_keys",
		"COURSES_TABLE":          "courses",
		"REVENUE_TABLE":          "instructor_revenue",
		"REVENUE_CREDITS_TABLE":  "revenue_credits",
		"PURCHASES_TABLE":        "purchases",
		"SANDBOX_GATEWAY_SECRET": "shh",
	}
}

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadWith_Defaults(t *testing.T) {
	cfg, err := LoadWith(lookup(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ProviderSandbox, cfg.GatewayProvider)
	assert.Equal(t, "INR", cfg.Currency)
	assert.Equal(t, 48*time.Hour, cfg.CheckoutKeyTTL)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 30*time.Second, cfg.CatalogCacheTTL)
	assert.Equal(t, 10.0, cfg.CallbackRateLimit)
	assert.Equal(t, 20, cfg.CallbackBurst)
	assert.False(t, cfg.MetricsEnabled)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestLoadWith_Overrides(t *testing.T) {
	env := baseEnv()
	env["GATEWAY_PROVIDER"] = "Stripe"
	env["STRIPE_API_KEY"] = "sk_test_123"
	env["CURRENCY"] = "usd"
	env["GATEWAY_TIMEOUT"] = "3s"
	env["METRICS_ENABLED"] = "true"
	env["CORS_ORIGINS"] = "https://a.example, https://b.example,"

	cfg, err := LoadWith(lookup(env))
	require.NoError(t, err)
	assert.Equal(t, ProviderStripe, cfg.GatewayProvider)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadWith_MissingTables(t *testing.T) {
	env := baseEnv()
	delete(env, "ORDERS_TABLE")
	delete(env, "PURCHASES_TABLE")

	_, err := LoadWith(lookup(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ORDERS_TABLE, PURCHASES_TABLE")
}

func TestLoadWith_GatewayCredentials(t *testing.T) {
	env := baseEnv()
	delete(env, "SANDBOX_GATEWAY_SECRET")
	_, err := LoadWith(lookup(env))
	assert.Error(t, err)

	env["GATEWAY_SECRET_NAME"] = "course-settlement/gateway"
	_, err = LoadWith(lookup(env))
	assert.NoError(t, err, "a Secrets Manager name is enough")

	env["GATEWAY_PROVIDER"] = "paypal"
	_, err = LoadWith(lookup(env))
	assert.Error(t, err)
}

func TestLoadWith_BadDuration(t *testing.T) {
	env := baseEnv()
	env["GATEWAY_TIMEOUT"] = "soon"
	_, err := LoadWith(lookup(env))
	assert.ErrorContains(t, err, "GATEWAY_TIMEOUT")
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	for k, v := range baseEnv() {
		t.Setenv(k, v)
	}
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
}
