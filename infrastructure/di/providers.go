// Package di wires the application with Google Wire.
package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	awsDynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsEventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/google/wire"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"docgraph/application/ports"
	"docgraph/application/services"
	"docgraph/infrastructure/config"
	"docgraph/infrastructure/messaging"
	"docgraph/infrastructure/messaging/eventbridge"
	"docgraph/infrastructure/messaging/websocket"
	"docgraph/infrastructure/persistence"
	"docgraph/infrastructure/persistence/badger"
	"docgraph/infrastructure/persistence/dynamodb"
	"docgraph/infrastructure/persistence/memory"
	"docgraph/infrastructure/transport"
	"docgraph/interfaces/http/rest"
	"docgraph/internal/observability"
	"docgraph/pkg/errors"
)

// memoryStoreCapacity bounds the in-process store; one key per endpoint
const memoryStoreCapacity = 16

// ConfigProviders provides configuration and logging
var ConfigProviders = wire.NewSet(
	provideLogger,
)

// InfrastructureProviders provides clients, stores and sinks
var InfrastructureProviders = wire.NewSet(
	provideMetrics,
	provideTracer,
	provideAWSConfig,
	provideDynamoDBClient,
	provideEventBridgeClient,
	provideWebSocketClient,
	provideTransport,
	provideSnapshotStore,
	provideEventSink,
	wire.Bind(new(ports.ContentTransport), new(*transport.Client)),
	wire.Bind(new(ports.FolderProvider), new(*transport.Client)),
)

// ApplicationProviders provides the graph services
var ApplicationProviders = wire.NewSet(
	provideScheduler,
	provideGraphService,
)

// InterfaceProviders provides the HTTP surface and the config watcher
var InterfaceProviders = wire.NewSet(
	provideErrorHandler,
	provideRouter,
	provideConfigWatcher,
)

// SuperSet combines all provider sets
var SuperSet = wire.NewSet(
	ConfigProviders,
	InfrastructureProviders,
	ApplicationProviders,
	InterfaceProviders,
	wire.Struct(new(Container), "*"),
)

// provideLogger creates a logger for the environment at the configured level
func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger.With(zap.String("environment", cfg.Environment)), nil
}

// provideMetrics returns nil when metrics are disabled; the collector is
// nil-safe
func provideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.Features.EnableMetrics {
		return nil
	}
	return observability.NewCollector("docgraph")
}

func provideTracer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Features.EnableTracing,
		ServiceName: "docgraph",
		Environment: cfg.Environment,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// provideAWSConfig loads AWS configuration only when a component needs it
func provideAWSConfig(ctx context.Context, cfg *config.Config) (*aws.Config, error) {
	if !needsAWS(cfg) {
		return nil, nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	awsCfg, err := awsConfig.LoadDefaultConfig(loadCtx, awsConfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &awsCfg, nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Snapshot.Backend == config.BackendDynamoDB ||
		cfg.AWS.EventBusName != "" ||
		cfg.AWS.WebSocketEndpoint != ""
}

func provideDynamoDBClient(awsCfg *aws.Config, cfg *config.Config) *awsDynamodb.Client {
	if awsCfg == nil || cfg.Snapshot.Backend != config.BackendDynamoDB {
		return nil
	}
	return awsDynamodb.NewFromConfig(*awsCfg, func(o *awsDynamodb.Options) {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	})
}

func provideEventBridgeClient(awsCfg *aws.Config, cfg *config.Config) *awsEventbridge.Client {
	if awsCfg == nil || cfg.AWS.EventBusName == "" {
		return nil
	}
	return awsEventbridge.NewFromConfig(*awsCfg, func(o *awsEventbridge.Options) {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	})
}

func provideWebSocketClient(awsCfg *aws.Config, cfg *config.Config) *apigatewaymanagementapi.Client {
	if awsCfg == nil || cfg.AWS.WebSocketEndpoint == "" {
		return nil
	}
	endpoint := cfg.AWS.WebSocketEndpoint
	return apigatewaymanagementapi.NewFromConfig(*awsCfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = &endpoint
	})
}

func provideTransport(cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) (*transport.Client, error) {
	return transport.NewClient(transport.Config{
		BaseURL:          cfg.ContentAPI.BaseURL,
		Token:            cfg.ContentAPI.Token,
		Timeout:          cfg.ContentAPI.Timeout,
		RetryMaxAttempts: cfg.ContentAPI.RetryMaxAttempts,
		RetryBaseDelay:   cfg.ContentAPI.RetryBaseDelay,
		FailureRatio:     cfg.ContentAPI.BreakerFailureRatio,
		OpenDuration:     cfg.ContentAPI.BreakerOpenDuration,
	}, logger.Named("transport"), metrics)
}

// provideSnapshotStore builds the configured backend wrapped with metrics
// and logging
func provideSnapshotStore(
	cfg *config.Config,
	client *awsDynamodb.Client,
	logger *zap.Logger,
	metrics *observability.Collector,
) (ports.SnapshotStore, func(), error) {
	var (
		store   ports.SnapshotStore
		cleanup = func() {}
	)

	switch cfg.Snapshot.Backend {
	case config.BackendMemory:
		mem := memory.NewStore(memoryStoreCapacity, cfg.Snapshot.TTL, logger)
		store = mem
		cleanup = func() {
			stats := mem.Stats()
			logger.Info("memory snapshot store closed",
				zap.Int64("items", stats["items"]),
				zap.Int64("hits", stats["hits"]),
				zap.Int64("misses", stats["misses"]),
				zap.Int64("evictions", stats["evictions"]))
		}
	case config.BackendBadger:
		db, err := badger.Open(badger.Config{
			Path:       cfg.Snapshot.BadgerPath,
			TTL:        cfg.Snapshot.TTL,
			GCInterval: 10 * time.Minute,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		store = db
		cleanup = func() {
			if err := db.Close(); err != nil {
				logger.Warn("failed to close snapshot database", zap.Error(err))
			}
		}
	case config.BackendDynamoDB:
		if client == nil {
			return nil, nil, fmt.Errorf("dynamodb snapshot backend requires AWS configuration")
		}
		store = dynamodb.NewStore(client, dynamodb.Config{
			TableName: cfg.Snapshot.TableName,
			TTL:       cfg.Snapshot.TTL,
		}, logger)
	default:
		return nil, nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshot.Backend)
	}

	logger.Info("snapshot store ready", zap.String("backend", cfg.Snapshot.Backend))
	return persistence.NewInstrumentedStore(store, cfg.Snapshot.Backend, metrics, logger), cleanup, nil
}

// provideEventSink fans graph events out to the log and to whichever AWS
// targets are configured
func provideEventSink(
	logger *zap.Logger,
	bus *awsEventbridge.Client,
	gateway *apigatewaymanagementapi.Client,
	cfg *config.Config,
) ports.GraphEventSink {
	sinks := []ports.GraphEventSink{messaging.NewLogSink(logger)}
	if bus != nil {
		sinks = append(sinks, eventbridge.NewSink(bus, cfg.AWS.EventBusName, logger.Named("eventbridge")))
	}
	if gateway != nil {
		sinks = append(sinks, websocket.NewSink(gateway, logger.Named("websocket")))
	}
	return messaging.NewMultiSink(sinks...)
}

func provideScheduler(client ports.ContentTransport, cfg *config.Config, logger *zap.Logger, metrics *observability.Collector) *services.FetchScheduler {
	return services.NewFetchScheduler(client, cfg.Graph.FetchConcurrency, logger.Named("scheduler"), metrics)
}

func provideGraphService(
	client ports.ContentTransport,
	folders ports.FolderProvider,
	store ports.SnapshotStore,
	sink ports.GraphEventSink,
	scheduler *services.FetchScheduler,
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer *observability.TracerProvider,
) *services.GraphService {
	return services.NewGraphService(client, folders, store, sink, scheduler, services.GraphServiceConfig{
		Endpoint:       cfg.ContentAPI.BaseURL,
		IncludeTags:    cfg.Graph.IncludeTags,
		IncludeFolders: cfg.Graph.IncludeFolders,
		SnapshotMaxAge: cfg.Snapshot.MaxAge,
	}, logger.Named("graph"), metrics, tracer)
}

func provideErrorHandler(logger *zap.Logger, cfg *config.Config) *errors.ErrorHandler {
	return errors.NewErrorHandler(logger, cfg.IsDevelopment())
}

func provideRouter(
	service *services.GraphService,
	logger *zap.Logger,
	errorHandler *errors.ErrorHandler,
	metrics *observability.Collector,
	tracer *observability.TracerProvider,
	cfg *config.Config,
) *rest.Router {
	return rest.NewRouter(service, logger, errorHandler, metrics, tracer, rest.RouterConfig{
		EnableCORS:     cfg.Features.EnableCORS,
		EnableMetrics:  cfg.Features.EnableMetrics,
		RequestTimeout: 5 * time.Minute,
	})
}

// provideConfigWatcher returns nil when the configuration has no file. A
// reload pushes the new fetch concurrency into the running scheduler.
func provideConfigWatcher(cfg *config.Config, logger *zap.Logger, scheduler *services.FetchScheduler) (*config.ConfigWatcher, func(), error) {
	if cfg.ConfigFile == "" || cfg.IsLambda() {
		return nil, func() {}, nil
	}
	watcher, err := config.NewConfigWatcher(cfg, logger.Named("config"))
	if err != nil {
		return nil, nil, err
	}
	watcher.OnChange(func(next *config.Config) {
		scheduler.SetLimit(next.Graph.FetchConcurrency)
		logger.Info("fetch concurrency updated", zap.Int("limit", scheduler.Limit()))
	})
	watcher.Start()
	return watcher, watcher.Stop, nil
}
