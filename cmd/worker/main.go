package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"docgraph/application/services"
	"docgraph/infrastructure/config"
	"docgraph/infrastructure/di"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer cleanup()

	if cfg.IsLambda() {
		// an EventBridge schedule invokes one refresh per event
		lambda.Start(func(ctx context.Context, event events.EventBridgeEvent) (*services.RunResult, error) {
			container.Logger.Info("Scheduled refresh",
				zap.String("event_id", event.ID),
				zap.String("detail_type", event.DetailType))
			result, err := refresh(ctx, container)
			_ = container.Logger.Sync()
			return result, err
		})
		return
	}

	interval := cfg.Graph.RefreshInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	container.Logger.Info("Starting refresh worker",
		zap.String("environment", cfg.Environment),
		zap.Duration("interval", interval))

	go runPeriodically(ctx, container, interval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("Shutting down refresh worker...")
	container.GraphService.Abort()
	cancel()

	if err := container.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}
}

func runPeriodically(ctx context.Context, container *di.Container, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := refresh(ctx, container); err != nil && ctx.Err() == nil {
			container.Logger.Error("Refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// refreshInterval is hot-reloadable when a config file is watched
		if next := currentInterval(container, interval); next != interval {
			container.Logger.Info("Refresh interval changed",
				zap.Duration("from", interval),
				zap.Duration("to", next))
			interval = next
			ticker.Reset(interval)
		}
	}
}

func currentInterval(container *di.Container, fallback time.Duration) time.Duration {
	if container.Watcher == nil {
		return fallback
	}
	if interval := container.Watcher.GetCurrent().Graph.RefreshInterval; interval > 0 {
		return interval
	}
	return fallback
}

func refresh(ctx context.Context, container *di.Container) (*services.RunResult, error) {
	result, err := container.GraphService.Refresh(ctx, services.RunOptions{})
	if err != nil {
		return nil, err
	}
	container.Logger.Info("Refresh finished",
		zap.String("run_id", result.RunID),
		zap.String("mode", result.Mode),
		zap.Bool("had_changes", result.HadChanges),
		zap.Int("added", len(result.Added)),
		zap.Int("modified", len(result.Modified)),
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", result.Duration))
	return result, nil
}
