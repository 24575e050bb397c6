package main

import (
	"context"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/imrishuroy/go-course-settlement/internal/app"
	"github.com/imrishuroy/go-course-settlement/internal/aws"
	"github.com/imrishuroy/go-course-settlement/internal/config"
	"github.com/imrishuroy/go-course-settlement/internal/logging"
	"github.com/imrishuroy/go-course-settlement/internal/orders"
)

type orderLister interface {
	ListAllOrders(ctx context.Context) ([]orders.Order, error)
	ListOrdersForInstructor(ctx context.Context, instructorID string) ([]orders.Sale, error)
}

type balanceReader interface {
	Balance(ctx context.Context, instructorID string) (int64, error)
}

type grantReader interface {
	Owned(ctx context.Context, buyerID string) ([]string, error)
}

type reconciler interface {
	ReconcileOrder(ctx context.Context, orderID string) error
	Sweep(ctx context.Context) (int, error)
	Run(ctx context.Context, interval time.Duration)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

// services is what the subcommands operate on. Catalog is nil without a cache.
type services struct {
	Orders     orderLister
	Balances   balanceReader
	Grants     grantReader
	Reconciler reconciler
	Catalog    cacheInvalidator
	Close      func() error
}

// factory builds services for a command once flags are parsed.
type factory func(ctx context.Context, configFile string) (*services, error)

// loadConfig layers an optional config file and the environment, then hands the
// result to the same loader the service binaries use.
func loadConfig(configFile string) (*config.Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return config.LoadWith(func(key string) string {
		return v.GetString(strings.ToLower(key))
	})
}

func wireServices(ctx context.Context, configFile string) (*services, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return nil, err
	}
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, clients, logger.Named("settlectl"))
	if err != nil {
		return nil, err
	}
	svc := &services{
		Orders:     a.Orders,
		Balances:   a.Revenue,
		Grants:     a.Grants,
		Reconciler: a.Reconciler,
		Close: func() error {
			_ = logger.Sync()
			return a.Close()
		},
	}
	if a.CatalogCache != nil {
		svc.Catalog = a.CatalogCache
	}
	return svc, nil
}
