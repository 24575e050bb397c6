// Package app wires the settlement components from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/aws"
	"github.com/imrishuroy/go-course-settlement/internal/catalog"
	"github.com/imrishuroy/go-course-settlement/internal/config"
	"github.com/imrishuroy/go-course-settlement/internal/gateway"
	"github.com/imrishuroy/go-course-settlement/internal/grants"
	"github.com/imrishuroy/go-course-settlement/internal/idempotency"
	"github.com/imrishuroy/go-course-settlement/internal/ledger"
	"github.com/imrishuroy/go-course-settlement/internal/orders"
	"github.com/imrishuroy/go-course-settlement/internal/settlement"
)

// App holds the wired services.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Orders     *orders.Ledger
	OrderStore *orders.Store
	Revenue    *ledger.Store
	Grants     *grants.Store
	Engine     *settlement.Engine
	Reconciler *settlement.Reconciler
	Metrics    *aws.MetricsClient

	// CatalogCache is nil unless REDIS_ADDR is set.
	CatalogCache *catalog.Cached

	closers []func() error
}

// New builds an App on top of clients.
func New(ctx context.Context, cfg *config.Config, clients *aws.AWSClients, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	gw, err := newGateway(ctx, cfg, clients)
	if err != nil {
		return nil, err
	}
	gw = gateway.WithTimeout(gw, cfg.GatewayTimeout)

	var snapshot catalog.Snapshot = catalog.NewDynamoSnapshot(clients.DynamoDB, cfg.CoursesTable)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, catalog cache will fall through", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		a.CatalogCache = catalog.NewCached(snapshot, rdb, cfg.CatalogCacheTTL, logger.Named("catalog"))
		snapshot = a.CatalogCache
		a.closers = append(a.closers, rdb.Close)
	}

	a.Metrics = aws.NewMetricsClient(clients.CloudWatch, cfg.MetricsNamespace, cfg.MetricsEnabled)
	a.OrderStore = orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	keys := idempotency.NewStore(clients.DynamoDB, cfg.CheckoutKeysTable, cfg.CheckoutKeyTTL)
	a.Revenue = ledger.NewStore(clients.DynamoDB, cfg.RevenueTable, cfg.CreditsTable)
	a.Grants = grants.NewStore(clients.DynamoDB, cfg.PurchasesTable)

	a.Orders = orders.NewLedger(orders.LedgerConfig{
		Orders:   a.OrderStore,
		Keys:     keys,
		Catalog:  snapshot,
		Gateway:  gw,
		Currency: cfg.Currency,
		Metrics:  a.Metrics,
		Logger:   logger.Named("orders"),
	})

	scfg := settlement.Config{
		Orders:  a.OrderStore,
		Keys:    keys,
		Gateway: gw,
		Ledger:  a.Revenue,
		Grants:  a.Grants,
		Metrics: a.Metrics,
		Logger:  logger.Named("settlement"),
	}
	if cfg.ReconcileQueueURL != "" {
		scfg.Queue = aws.NewPublisher(clients.SQS, cfg.ReconcileQueueURL)
	}
	if cfg.EventsTopicARN != "" {
		scfg.Events = aws.NewEventPublisher(clients.SNS, cfg.EventsTopicARN)
	}
	a.Engine = settlement.NewEngine(scfg)
	a.Reconciler = settlement.NewReconciler(scfg)

	return a, nil
}

// Close releases connections opened by New.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newGateway picks the configured provider. A Secrets Manager secret, when named,
// overrides the credential given in the environment.
func newGateway(ctx context.Context, cfg *config.Config, clients *aws.AWSClients) (gateway.Gateway, error) {
	secret := ""
	if cfg.GatewaySecretName != "" {
		v, err := aws.NewSecretsClient(clients.SecretsManager).GetSecret(ctx, cfg.GatewaySecretName)
		if err != nil {
			return nil, fmt.Errorf("load gateway secret: %w", err)
		}
		secret = v
	}

	switch cfg.GatewayProvider {
	case config.ProviderStripe:
		if secret == "" {
			secret = cfg.StripeSecretKey
		}
		return gateway.NewStripe(secret), nil
	case config.ProviderSandbox:
		if secret == "" {
			secret = cfg.SandboxSecret
		}
		return gateway.NewSandbox(secret), nil
	}
	return nil, fmt.Errorf("unknown gateway provider %q", cfg.GatewayProvider)
}
