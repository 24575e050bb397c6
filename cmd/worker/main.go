package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-course-settlement/internal/app"
	"github.com/imrishuroy/go-course-settlement/internal/aws"
	"github.com/imrishuroy/go-course-settlement/internal/config"
	"github.com/imrishuroy/go-course-settlement/internal/logging"
)

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

	p := NewProcessor(svc.Reconciler, logger.Named("worker"))

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"order_id":"local-order-1","reason":"local"}`
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		resp, err := p.Handle(ctx, event)
		if err != nil {
			logger.Fatal("local handler error", zap.Error(err))
		}
		logger.Info("local run finished", zap.Int("failures", len(resp.BatchItemFailures)))
		return
	}

	lambda.Start(p.Handle)
}
