package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/app"
	"github.com/imrishuroy/go-course-settlement/internal/aws"
	"github.com/imrishuroy/go-course-settlement/internal/config"
	"github.com/imrishuroy/go-course-settlement/internal/handlers"
	"github.com/imrishuroy/go-course-settlement/internal/logging"
)

func setupRouter(cfg *config.Config, svc *app.App, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.RequestLogger(logger))
	// without CORS_ORIGINS the API is same-origin only
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", handlers.HeaderUserID, handlers.HeaderUserRole, "Stripe-Signature"},
			ExposeHeaders:    []string{"Content-Length", logging.HeaderRequestID},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, handlers.HandlerConfig{
		Orders:              svc.Orders,
		Settlement:          svc.Engine,
		GatewayKeyID:        cfg.GatewayKeyID,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		CallbackRateLimit:   cfg.CallbackRateLimit,
		CallbackBurst:       cfg.CallbackBurst,
		Logger:              logger,
	})

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	svc, err := app.New(ctx, cfg, clients, logger)
	if err != nil {
		logger.Fatal("failed to wire services", zap.Error(err))
	}
	defer svc.Close() //nolint:errcheck

	r := setupRouter(cfg, svc, logger)

	// RUN_LOCAL runs a plain HTTP server plus the in-process reconciliation sweep.
	if cfg.RunLocal {
		runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go svc.Reconciler.Run(runCtx, cfg.ReconcileInterval)

		srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logger.Info("running local server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
